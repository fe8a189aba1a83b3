package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/notes"
	"github.com/fruitsalade/filebox/internal/process"
	"github.com/fruitsalade/filebox/internal/storage"
)

// errBadRequest marks malformed input caught in the handlers themselves.
var errBadRequest = errors.New("bad request")

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, storage.ErrInvalidPath),
		errors.Is(err, storage.ErrNotADirectory),
		errors.Is(err, notes.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, notes.ErrNotFound),
		errors.Is(err, process.ErrUnknown):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, storage.ErrNameConflict),
		errors.Is(err, notes.ErrDuplicateID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place store errors become responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	s.sendError(w, code, err.Error())
}
