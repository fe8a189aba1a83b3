package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/fruitsalade/filebox/internal/process"
)

func (s *Server) handleListProcessors(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string][]process.Info{"handlers": s.processors.List()})
}

// handleProcess runs /process/{file path}/{processor}.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	tail, err := pathParam(r, "/process/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	i := strings.LastIndex(tail, "/")
	if i <= 0 || i == len(tail)-1 {
		s.writeError(w, r, fmt.Errorf("%w: expected /process/{path}/{handler}", errBadRequest))
		return
	}
	file, name := tail[:i], tail[i+1:]
	if !s.processors.Has(name) {
		s.writeError(w, r, fmt.Errorf("%w: %s", process.ErrUnknown, name))
		return
	}

	f, _, err := s.files.Open(r.Context(), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	result, err := s.processors.Run(r.Context(), name, path.Base(file), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}
