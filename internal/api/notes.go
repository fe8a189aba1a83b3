package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fruitsalade/filebox/internal/notes"
)

func (s *Server) decodeDraft(w http.ResponseWriter, r *http.Request) (notes.Draft, error) {
	var d notes.Draft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&d); err != nil {
		return notes.Draft{}, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return d, nil
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.notes.List(r.Context()))
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	d, err := s.decodeDraft(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.notes.Create(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.notes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	d, err := s.decodeDraft(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.notes.FullUpdate(r.Context(), r.PathValue("id"), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, b)
}

func (s *Server) handlePatchBlock(w http.ResponseWriter, r *http.Request) {
	d, err := s.decodeDraft(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	var b notes.CodeBlock
	if d.OnlyCollapsed() {
		b, err = s.notes.SetCollapsed(r.Context(), id, *d.Collapsed)
	} else {
		b, err = s.notes.PartialUpdate(r.Context(), id, d)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}
