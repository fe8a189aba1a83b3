package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/fruitsalade/filebox/internal/metrics"
	"github.com/fruitsalade/filebox/internal/preview"
	"github.com/fruitsalade/filebox/internal/storage"
)

// Extensions listed by /tfs/.
var textFileExts = []string{".txt", ".py", ".cpp"}

// multipartMemory is how much of an upload is held in memory before
// spilling to disk.
const multipartMemory = 32 << 20

type statusResponse struct {
	Status string `json:"status"`
}

var success = statusResponse{Status: "success"}

type contentEntry struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Path    string  `json:"path"`
	Preview *string `json:"preview"`
}

type uploadResponse struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Preview  *string `json:"preview"`
	Type     string  `json:"type"`
}

type savedTextResponse struct {
	Status  string  `json:"status"`
	Path    string  `json:"path"`
	Preview *string `json:"preview"`
}

type fileEntry struct {
	Filename string  `json:"filename"`
	Type     string  `json:"type"`
	Preview  *string `json:"preview"`
}

type textFileEntry struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// previewURL returns the /preview/ link for rel, or nil when there is no
// preview.
func previewURL(rel string, ok bool) *string {
	if !ok {
		return nil
	}
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	u := "/preview/" + strings.Join(segs, "/")
	return &u
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	if _, err := s.files.CreateFolder(r.Context(), r.FormValue("path")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.Context(), r.FormValue("path")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	dir, err := pathParam(r, "/get-content/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.files.List(r.Context(), dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	content := make([]contentEntry, 0, len(entries))
	for _, e := range entries {
		content = append(content, contentEntry{
			Name:    e.Name,
			Type:    string(e.Kind),
			Path:    e.Path,
			Preview: previewURL(e.Path, e.HasPreview),
		})
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *Server) handleRenameItem(w http.ResponseWriter, r *http.Request) {
	if _, err := s.files.Rename(r.Context(), r.FormValue("old_path"), r.FormValue("new_name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}

func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	if _, err := s.files.Move(r.Context(), r.FormValue("old_path"), r.FormValue("new_path")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r, "/get-file/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveFile(w, r, p, false)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r, "/download/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.Contains(p, "..") {
		s.writeError(w, r, fmt.Errorf("%w: %q contains ..", storage.ErrInvalidPath, p))
		return
	}
	s.serveFile(w, r, p, true)
}

// serveFile streams a stored file with range support, inline or as an
// attachment.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, p string, attachment bool) {
	f, info, err := s.files.Open(r.Context(), p)
	if err != nil {
		metrics.RecordContentDownload(0, false)
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	name := path.Base(p)
	if ct := preview.MediaType(name); ct != preview.UnknownType {
		w.Header().Set("Content-Type", ct)
	}
	if attachment {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
	metrics.RecordContentDownload(info.Size(), true)
}

func (s *Server) handleGetTextFile(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r, "/gtf/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.files.ReadFile(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r, "/save-file/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	content, ok := r.PostForm["content"]
	if !ok || len(content) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: content is required", errBadRequest))
		return
	}
	if _, err := s.files.WriteFile(r.Context(), p, strings.NewReader(content[0])); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, success)
}

func (s *Server) handleSaveText(w http.ResponseWriter, r *http.Request) {
	filename := r.FormValue("filename")
	if filename == "" {
		s.writeError(w, r, fmt.Errorf("%w: filename is required", errBadRequest))
		return
	}
	saved, err := s.files.SaveText(r.Context(), r.FormValue("path"), filename, r.FormValue("text"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, savedTextResponse{
		Status:  "success",
		Path:    saved.Path,
		Preview: previewURL(saved.Path, saved.HasPreview),
	})
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadSize > 0 {
		if r.ContentLength > s.maxUploadSize {
			metrics.RecordContentUpload(0, false)
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		metrics.RecordContentUpload(0, false)
		s.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: file is required", errBadRequest))
		return
	}
	defer file.Close()

	saved, err := s.files.Upload(r.Context(), r.FormValue("path"), header.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, uploadResponse{
		Filename: saved.Name,
		Path:     saved.Path,
		Preview:  previewURL(saved.Path, saved.HasPreview),
		Type:     saved.MediaType,
	})
}

// ─── Listings ───────────────────────────────────────────────────────────────

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.files.ListRootFiles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		files = append(files, fileEntry{
			Filename: e.Name,
			Type:     preview.MediaType(e.Name),
			Preview:  previewURL(e.Path, e.HasPreview),
		})
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleTextFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.files.ListByExtension(r.Context(), textFileExts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]textFileEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, textFileEntry{
			Path: e.Path,
			Name: e.Name,
			Type: strings.TrimPrefix(strings.ToLower(path.Ext(e.Name)), "."),
		})
	}
	s.sendJSON(w, http.StatusOK, out)
}

// ─── Preview ────────────────────────────────────────────────────────────────

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r, "/preview/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	previewPath, ok, err := s.files.Preview(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	f, err := os.Open(previewPath)
	if err != nil {
		// removed between the lookup and now
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Previews keep their source's name but not its format.
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(head[:n]))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", info.ModTime(), f)
}
