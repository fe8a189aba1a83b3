package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filebox/internal/events"
	"github.com/fruitsalade/filebox/internal/notes"
	"github.com/fruitsalade/filebox/internal/preview"
	"github.com/fruitsalade/filebox/internal/storage"
)

type testServer struct {
	handler http.Handler
	uploads string
	server  *Server
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	base := t.TempDir()
	broadcaster := events.NewBroadcaster()
	files, err := storage.New(storage.Options{
		UploadDir:  filepath.Join(base, "uploads"),
		PreviewDir: filepath.Join(base, "previews"),
		Previewer:  preview.New(preview.Options{}),
		Events:     broadcaster,
	})
	require.NoError(t, err)

	srv := NewServer(Deps{
		Files:       files,
		Notes:       notes.New(filepath.Join(base, "code_blocks.json"), broadcaster),
		Broadcaster: broadcaster,
		Webapp: fstest.MapFS{
			"index.html":    {Data: []byte("<html>filebox</html>")},
			"static/app.js": {Data: []byte("'use strict';")},
		},
		MaxUploadSize: maxUpload,
	})
	return &testServer{handler: srv.Handler(), uploads: filepath.Join(base, "uploads"), server: srv}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return ts.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (ts *testServer) postForm(t *testing.T, target string, fields url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(fields.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return ts.do(t, req)
}

func (ts *testServer) sendJSON(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req)
}

func (ts *testServer) upload(t *testing.T, dir, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("path", dir))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestWebapp(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "filebox")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = ts.get(t, "/static/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "use strict")

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/nope").Code)
}

func TestUploadAndList(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.upload(t, "docs", "notes.txt", []byte("hello world"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[uploadResponse](t, rec)
	assert.Equal(t, "notes.txt", up.Filename)
	assert.Equal(t, "docs/notes.txt", up.Path)
	assert.Equal(t, "text/plain", up.Type)
	require.NotNil(t, up.Preview)
	assert.Equal(t, "/preview/docs/notes.txt", *up.Preview)

	rec = ts.get(t, "/get-content/")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[struct {
		Content []contentEntry `json:"content"`
	}](t, rec)
	require.Len(t, root.Content, 1)
	assert.Equal(t, "docs", root.Content[0].Name)
	assert.Equal(t, "folder", root.Content[0].Type)
	assert.Nil(t, root.Content[0].Preview)

	rec = ts.get(t, "/get-content/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[struct {
		Content []contentEntry `json:"content"`
	}](t, rec)
	require.Len(t, docs.Content, 1)
	assert.Equal(t, "docs/notes.txt", docs.Content[0].Path)
	require.NotNil(t, docs.Content[0].Preview)

	rec = ts.get(t, *docs.Content[0].Preview)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestUploadCollisionGetsSuffix(t *testing.T) {
	ts := newTestServer(t, 0)

	for _, want := range []string{"a.txt", "a_1.txt", "a_2.txt"} {
		rec := ts.upload(t, "", "a.txt", []byte("x"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, decode[uploadResponse](t, rec).Filename)
	}
}

func TestUploadImagePreview(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.upload(t, "pics", "red.png", pngBytes(t, 600, 300))
	require.Equal(t, http.StatusOK, rec.Code)
	up := decode[uploadResponse](t, rec)
	assert.Equal(t, "image/png", up.Type)
	require.NotNil(t, up.Preview)

	rec = ts.get(t, *up.Preview)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, _, err := image.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, 64)

	rec := ts.upload(t, "", "big.txt", bytes.Repeat([]byte("x"), 1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusRequestEntityTooLarge, body.Code)

	entries, err := os.ReadDir(ts.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRequiresFile(t *testing.T) {
	ts := newTestServer(t, 0)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("path", ""))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, ts.do(t, req).Code)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusOK, ts.upload(t, "", "file.txt", []byte("x")).Code)
	require.Equal(t, http.StatusOK, ts.postForm(t, "/create-folder/", url.Values{"path": {"dir"}}).Code)

	tests := []struct {
		name string
		rec  func() *httptest.ResponseRecorder
		want int
	}{
		{"traversal in path", func() *httptest.ResponseRecorder { return ts.get(t, "/get-content/..%2Fetc") }, http.StatusBadRequest},
		{"traversal in form", func() *httptest.ResponseRecorder {
			return ts.postForm(t, "/delete-item/", url.Values{"path": {"../x"}})
		}, http.StatusBadRequest},
		{"missing folder", func() *httptest.ResponseRecorder { return ts.get(t, "/get-content/missing") }, http.StatusNotFound},
		{"listing a file", func() *httptest.ResponseRecorder { return ts.get(t, "/get-content/file.txt") }, http.StatusBadRequest},
		{"missing file", func() *httptest.ResponseRecorder { return ts.get(t, "/get-file/missing.txt") }, http.StatusNotFound},
		{"folder as file", func() *httptest.ResponseRecorder { return ts.get(t, "/gtf/dir") }, http.StatusNotFound},
		{"delete missing", func() *httptest.ResponseRecorder {
			return ts.postForm(t, "/delete-item/", url.Values{"path": {"missing"}})
		}, http.StatusNotFound},
		{"folder over file", func() *httptest.ResponseRecorder {
			return ts.postForm(t, "/create-folder/", url.Values{"path": {"file.txt/sub"}})
		}, http.StatusConflict},
		{"rename onto existing", func() *httptest.ResponseRecorder {
			return ts.postForm(t, "/rename-item/", url.Values{"old_path": {"file.txt"}, "new_name": {"dir"}})
		}, http.StatusConflict},
		{"unknown block", func() *httptest.ResponseRecorder { return ts.get(t, "/get-code-block/nope") }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec()
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.want, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestTreeOperations(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusOK, ts.upload(t, "a", "one.txt", []byte("1")).Code)

	rec := ts.postForm(t, "/create-folder/", url.Values{"path": {"b/c"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[statusResponse](t, rec).Status)
	assert.DirExists(t, filepath.Join(ts.uploads, "b", "c"))

	rec = ts.postForm(t, "/rename-item/", url.Values{"old_path": {"a/one.txt"}, "new_name": {"two.txt"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, filepath.Join(ts.uploads, "a", "two.txt"))

	rec = ts.postForm(t, "/move-item/", url.Values{"old_path": {"a/two.txt"}, "new_path": {"b/c/two.txt"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, filepath.Join(ts.uploads, "b", "c", "two.txt"))
	assert.Equal(t, http.StatusOK, ts.get(t, "/preview/b/c/two.txt").Code)

	rec = ts.postForm(t, "/delete-item/", url.Values{"path": {"b"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoDirExists(t, filepath.Join(ts.uploads, "b"))
}

func TestPreviewNoContent(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusOK, ts.upload(t, "", "data.bin", []byte{0, 1, 2}).Code)
	require.Equal(t, http.StatusOK, ts.postForm(t, "/create-folder/", url.Values{"path": {"dir"}}).Code)

	assert.Equal(t, http.StatusNoContent, ts.get(t, "/preview/data.bin").Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/preview/dir").Code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/preview/missing.txt").Code)
}

func TestTextFiles(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, f := range []struct{ dir, name string }{
		{"", "readme.txt"},
		{"src", "main.py"},
		{"src/native", "lib.cpp"},
		{"", "photo.png"},
	} {
		require.Equal(t, http.StatusOK, ts.upload(t, f.dir, f.name, []byte("x")).Code)
	}

	rec := ts.get(t, "/tfs/")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]textFileEntry](t, rec)
	assert.Equal(t, []textFileEntry{
		{Path: "readme.txt", Name: "readme.txt", Type: "txt"},
		{Path: "src/main.py", Name: "main.py", Type: "py"},
		{Path: "src/native/lib.cpp", Name: "lib.cpp", Type: "cpp"},
	}, got)
}

func TestListRootFiles(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusOK, ts.upload(t, "", "top.txt", []byte("x")).Code)
	require.Equal(t, http.StatusOK, ts.upload(t, "nested", "deep.txt", []byte("x")).Code)

	rec := ts.get(t, "/files/")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Files []fileEntry `json:"files"`
	}](t, rec)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "top.txt", got.Files[0].Filename)
	assert.Equal(t, "text/plain", got.Files[0].Type)
}

func TestTextRoundTrip(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.postForm(t, "/st/", url.Values{"path": {"drafts"}, "filename": {"idea"}, "text": {"first"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[savedTextResponse](t, rec)
	assert.Equal(t, "success", saved.Status)
	assert.Equal(t, "drafts/idea.txt", saved.Path)
	require.NotNil(t, saved.Preview)

	rec = ts.get(t, "/gtf/drafts/idea.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = ts.postForm(t, "/save-file/drafts/idea.txt", url.Values{"content": {"second"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second", ts.get(t, "/gtf/drafts/idea.txt").Body.String())
	assert.Equal(t, "second", ts.get(t, "/preview/drafts/idea.txt").Body.String())

	rec = ts.postForm(t, "/save-file/drafts/idea.txt", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.postForm(t, "/st/", url.Values{"text": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, 0)
	require.Equal(t, http.StatusOK, ts.upload(t, "", "report.txt", []byte("0123456789")).Code)

	rec := ts.get(t, "/download/report.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=report.txt`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "0123456789", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/get-file/report.txt", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = ts.do(t, req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/download/..%2Freport.txt").Code)
}

func TestCodeBlocks(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.get(t, "/code-blocks/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.sendJSON(t, http.MethodPost, "/save-code-block/", map[string]any{
		"id": "b1", "title": "Hello", "content": "print(1)",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, notes.CodeBlock{ID: "b1", Title: "Hello", Content: "print(1)"}, decode[notes.CodeBlock](t, rec))

	rec = ts.sendJSON(t, http.MethodPost, "/save-code-block/", map[string]any{
		"id": "b1", "title": "Again", "content": "",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.sendJSON(t, http.MethodPost, "/save-code-block/", map[string]any{"title": "no content"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.sendJSON(t, http.MethodPost, "/save-code-block/", map[string]any{"title": "gen", "content": "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decode[notes.CodeBlock](t, rec).ID, 36)

	rec = ts.sendJSON(t, http.MethodPut, "/update-code-block/b1", map[string]any{
		"title": "Renamed", "content": "print(2)", "collapsed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, notes.CodeBlock{ID: "b1", Title: "Renamed", Content: "print(2)", Collapsed: true}, decode[notes.CodeBlock](t, rec))

	rec = ts.sendJSON(t, http.MethodPatch, "/update-block/b1/", map[string]any{"collapsed": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[notes.CodeBlock](t, rec).Collapsed)

	rec = ts.sendJSON(t, http.MethodPatch, "/update-block/b1", map[string]any{"content": "print(3)"})
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[notes.CodeBlock](t, rec)
	assert.Equal(t, "Renamed", b.Title)
	assert.Equal(t, "print(3)", b.Content)

	rec = ts.get(t, "/get-code-block/b1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, b, decode[notes.CodeBlock](t, rec))

	req := httptest.NewRequest(http.MethodPost, "/save-code-block/", strings.NewReader("{not json"))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, req).Code)

	for range 2 {
		rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/delete-code-block/b1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", decode[statusResponse](t, rec).Status)
	}
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/get-code-block/b1").Code)
	assert.Len(t, decode[[]notes.CodeBlock](t, ts.get(t, "/code-blocks/")), 1)
}

func TestProcessors(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.get(t, "/handlers/")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Handlers []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"handlers"`
	}](t, rec)
	var names []string
	for _, h := range list.Handlers {
		names = append(names, h.Name)
		assert.NotEmpty(t, h.Description)
	}
	assert.Equal(t, []string{"highlight", "markdown", "stats"}, names)

	require.Equal(t, http.StatusOK, ts.upload(t, "code", "hello.txt", []byte("line one\nline two\n")).Code)

	rec = ts.get(t, "/process/code/hello.txt/stats")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 18, stats["file_size"])
	assert.EqualValues(t, 3, stats["line_count"])
	assert.Equal(t, "line one\nline two\n", stats["content_sample"])

	rec = ts.get(t, "/process/code/hello.txt/markdown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["html"], "<p>line one")

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/process/code/hello.txt/nope").Code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/process/code/missing.txt/stats").Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/process/stats").Code)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t, 0)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	form := url.Values{"path": {"live"}}
	post, err := http.PostForm(srv.URL+"/create-folder/", form)
	require.NoError(t, err)
	io.Copy(io.Discard, post.Body)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(5 * time.Second)
	var got []string
	for len(got) < 2 {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if line != "" {
				got = append(got, line)
			}
		case <-deadline:
			t.Fatalf("no event received, got %q", got)
		}
	}
	assert.Equal(t, "event: create", got[0])
	assert.Contains(t, got[1], `"path":"live"`)
}
