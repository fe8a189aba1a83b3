// Package storage implements the file tree behind filebox: path
// validation, the upload directory and its mirrored preview tree.
package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fruitsalade/filebox/internal/events"
	"github.com/fruitsalade/filebox/internal/fsutil"
	"github.com/fruitsalade/filebox/internal/metrics"
	"github.com/fruitsalade/filebox/internal/preview"
)

// maxSuffix bounds the name_N search on upload collisions.
const maxSuffix = 10000

// Kind distinguishes folders from files.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Entry is a file or folder in the upload tree.
type Entry struct {
	Name       string
	Path       string
	Kind       Kind
	Size       int64
	ModTime    time.Time
	HasPreview bool
}

// Saved describes a file written by Upload or SaveText.
type Saved struct {
	Name       string
	Path       string
	MediaType  string
	HasPreview bool
}

// Previewer builds the preview artifact for a stored file.
type Previewer interface {
	Generate(ctx context.Context, src, dst, filename string) preview.Result
}

type noPreviews struct{}

func (noPreviews) Generate(context.Context, string, string, string) preview.Result {
	return preview.Result{Kind: preview.KindNone}
}

// Options configures a Store.
type Options struct {
	UploadDir  string
	PreviewDir string
	Previewer  Previewer        // nil disables previews
	Events     events.Publisher // nil drops events
}

// Store is the upload tree plus its preview mirror.
type Store struct {
	files     *Resolver
	mirror    *mirror
	previewer Previewer
	events    events.Publisher
}

// New creates both roots if needed and returns a Store over them.
func New(opts Options) (*Store, error) {
	if opts.UploadDir == "" || opts.PreviewDir == "" {
		return nil, fmt.Errorf("upload and preview directories are required")
	}
	files, err := NewResolver(opts.UploadDir)
	if err != nil {
		return nil, err
	}
	previews, err := NewResolver(opts.PreviewDir)
	if err != nil {
		return nil, err
	}
	if files.Root() == previews.Root() {
		return nil, fmt.Errorf("upload and preview directories must differ: %s", files.Root())
	}
	for _, dir := range []string{files.Root(), previews.Root()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	s := &Store{
		files:     files,
		mirror:    &mirror{root: previews},
		previewer: opts.Previewer,
		events:    opts.Events,
	}
	if s.previewer == nil {
		s.previewer = noPreviews{}
	}
	if s.events == nil {
		s.events = events.Discard
	}
	return s, nil
}

// List returns the entries of dir, folders first, each group by name.
func (s *Store) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, abs, err := s.files.Resolve(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, statError(rel, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, rel)
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", rel, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if fsutil.IsTemp(d.Name()) {
			continue
		}
		if e, ok := s.entry(joinRel(rel, d.Name())); ok {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	return entries, nil
}

// ListRootFiles returns the files directly under the upload root.
func (s *Store) ListRootFiles(ctx context.Context) ([]Entry, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	files := all[:0]
	for _, e := range all {
		if e.Kind == KindFile {
			files = append(files, e)
		}
	}
	return files, nil
}

// ListByExtension walks the whole tree and returns every file whose
// extension, compared case-insensitively, is one of exts. Results are
// ordered by path.
func (s *Store) ListByExtension(ctx context.Context, exts ...string) ([]Entry, error) {
	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		want[ext] = true
	}

	var out []Entry
	err := filepath.WalkDir(s.files.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || fsutil.IsTemp(d.Name()) {
			return nil
		}
		if !want[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		rel, err := s.files.Rel(p)
		if err != nil {
			return err
		}
		if e, ok := s.entry(rel); ok && e.Kind == KindFile {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk uploads: %w", err)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Path, b.Path) })
	return out, nil
}

// CreateFolder creates the folder at p and any missing parents. New
// segments are sanitized; existing ones are kept as they are. It returns
// the folder's path and succeeds if the folder already exists.
func (s *Store) CreateFolder(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", fmt.Errorf("%w: cannot create the root", ErrInvalidPath)
	}
	rel, err := s.resolveDir(clean)
	if err != nil {
		return "", err
	}
	_, abs, err := s.files.Resolve(rel)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return rel, nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: a file occupies %s", ErrNameConflict, rel)
		}
		return "", fmt.Errorf("create folder %s: %w", rel, err)
	}
	s.publish(events.Event{Type: events.EventCreate, Path: rel, Kind: string(KindFolder)})
	return rel, nil
}

// Open returns the file at p for reading. Folders are reported as
// ErrNotFound. The caller closes the file.
func (s *Store) Open(ctx context.Context, p string) (*os.File, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rel, abs, err := s.files.Resolve(p)
	if err != nil {
		return nil, nil, err
	}
	if rel == "" {
		return nil, nil, fmt.Errorf("%w: the root is a folder", ErrNotFound)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, statError(rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is a folder", ErrNotFound, rel)
	}
	return f, info, nil
}

// ReadFile returns the whole content of the file at p.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f, _, err := s.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// WriteFile replaces or creates the file at p. Its folder must exist.
func (s *Store) WriteFile(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rel, abs, err := s.files.Resolve(p)
	if err != nil {
		return 0, err
	}
	if rel == "" {
		return 0, fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}

	parent, err := os.Stat(filepath.Dir(abs))
	if err != nil {
		return 0, statError(parentRel(rel), err)
	}
	if !parent.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotADirectory, parentRel(rel))
	}

	existed := false
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return 0, fmt.Errorf("%w: a folder occupies %s", ErrNameConflict, rel)
		}
		existed = true
	}

	n, err := fsutil.WriteFileAtomic(abs, r, 0o644)
	metrics.RecordContentUpload(n, err == nil)
	if err != nil {
		return n, err
	}

	s.refreshPreview(ctx, rel, abs)
	typ := events.EventCreate
	if existed {
		typ = events.EventModify
	}
	s.publish(events.Event{Type: typ, Path: rel, Kind: string(KindFile), Size: n})
	return n, nil
}

// Upload stores r as filename in the folder derived from p. An existing
// folder is used as is; otherwise a last segment with an extension names
// a file and its parent is the folder. Missing folders are created. On a
// name clash the stored name gets a _1, _2, ... suffix.
func (s *Store) Upload(ctx context.Context, p, filename string, r io.Reader) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}
	clean, err := Clean(p)
	if err != nil {
		return Saved{}, err
	}
	dir, dirAbs, err := s.ensureDir(s.uploadDir(clean))
	if err != nil {
		return Saved{}, err
	}

	name := SanitizeName(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" {
		return Saved{}, fmt.Errorf("%w: filename %q has no usable characters", ErrInvalidPath, filename)
	}

	f, name, err := reserve(dirAbs, name)
	if err != nil {
		return Saved{}, err
	}
	rel := joinRel(dir, name)
	abs := filepath.Join(dirAbs, name)

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	metrics.RecordContentUpload(n, err == nil)
	if err != nil {
		os.Remove(abs)
		return Saved{}, fmt.Errorf("write %s: %w", rel, err)
	}

	res := s.refreshPreview(ctx, rel, abs)
	s.publish(events.Event{Type: events.EventCreate, Path: rel, Kind: string(KindFile), Size: n})
	return Saved{
		Name:       name,
		Path:       rel,
		MediaType:  preview.MediaType(name),
		HasPreview: res.Available(),
	}, nil
}

// SaveText writes text as a .txt note in dir, creating dir if needed and
// overwriting a note of the same name.
func (s *Store) SaveText(ctx context.Context, dir, filename, text string) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}
	clean, err := Clean(dir)
	if err != nil {
		return Saved{}, err
	}
	dirRel, dirAbs, err := s.ensureDir(clean)
	if err != nil {
		return Saved{}, err
	}

	name := SanitizeName(filename)
	if name == "" {
		return Saved{}, fmt.Errorf("%w: filename %q has no usable characters", ErrInvalidPath, filename)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".txt") {
		name += ".txt"
	}
	rel := joinRel(dirRel, name)
	abs := filepath.Join(dirAbs, name)

	existed := false
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return Saved{}, fmt.Errorf("%w: a folder occupies %s", ErrNameConflict, rel)
		}
		existed = true
	}

	n, err := fsutil.WriteFileAtomic(abs, strings.NewReader(text), 0o644)
	metrics.RecordContentUpload(n, err == nil)
	if err != nil {
		return Saved{}, err
	}

	res := s.refreshPreview(ctx, rel, abs)
	typ := events.EventCreate
	if existed {
		typ = events.EventModify
	}
	s.publish(events.Event{Type: typ, Path: rel, Kind: string(KindFile), Size: n})
	return Saved{
		Name:       name,
		Path:       rel,
		MediaType:  preview.MediaType(name),
		HasPreview: res.Available(),
	}, nil
}

// Rename gives the entry at oldPath a new name in the same folder and
// returns its new path.
func (s *Store) Rename(ctx context.Context, oldPath, newName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, abs, err := s.existing(oldPath)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(newName, "/\\") {
		return "", fmt.Errorf("%w: new name %q is not a single segment", ErrInvalidPath, newName)
	}
	name := SanitizeName(newName)
	if name == "" {
		return "", fmt.Errorf("%w: new name %q has no usable characters", ErrInvalidPath, newName)
	}

	newRel := joinRel(parentRel(rel), name)
	if newRel == rel {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, newRel)
	}
	newAbs := s.files.Abs(newRel)
	if _, err := os.Lstat(newAbs); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, newRel)
	}

	if err := os.Rename(abs, newAbs); err != nil {
		return "", fmt.Errorf("rename %s: %w", rel, err)
	}
	s.mirror.rename(ctx, rel, newRel)
	s.publish(events.Event{Type: events.EventRename, Path: newRel, From: rel})
	return newRel, nil
}

// Move relocates the entry at oldPath to newPath, creating newPath's
// parents, and returns the new path. The last segment of newPath is
// sanitized like any new name.
func (s *Store) Move(ctx context.Context, oldPath, newPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, abs, err := s.existing(oldPath)
	if err != nil {
		return "", err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return "", statError(rel, err)
	}

	dst, err := Clean(newPath)
	if err != nil {
		return "", err
	}
	if dst == "" {
		return "", fmt.Errorf("%w: destination is the root", ErrInvalidPath)
	}
	parent := parentRel(dst)
	if parent != "" {
		if parent, err = s.resolveDir(parent); err != nil {
			return "", err
		}
	}
	name := SanitizeName(path.Base(dst))
	if name == "" {
		return "", fmt.Errorf("%w: destination name %q has no usable characters", ErrInvalidPath, path.Base(dst))
	}
	newRel := joinRel(parent, name)

	if newRel == rel {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, newRel)
	}
	if info.IsDir() && strings.HasPrefix(newRel, rel+"/") {
		return "", fmt.Errorf("%w: cannot move %s into itself", ErrInvalidPath, rel)
	}
	_, newAbs, err := s.files.Resolve(newRel)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(newAbs); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, newRel)
	}

	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return "", fmt.Errorf("create parents of %s: %w", newRel, err)
	}
	if err := os.Rename(abs, newAbs); err != nil {
		return "", fmt.Errorf("move %s: %w", rel, err)
	}
	s.mirror.move(ctx, rel, newRel)
	s.publish(events.Event{Type: events.EventMove, Path: newRel, From: rel})
	return newRel, nil
}

// Delete removes the entry at p, recursively for folders, along with its
// preview.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, abs, err := s.existing(p)
	if err != nil {
		return err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return statError(rel, err)
	}

	kind := KindFile
	if info.IsDir() {
		kind = KindFolder
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	s.mirror.remove(ctx, rel)
	s.publish(events.Event{Type: events.EventDelete, Path: rel, Kind: string(kind)})
	return nil
}

// Preview returns where the preview of the file at p lives and whether it
// exists. Folders never have one.
func (s *Store) Preview(ctx context.Context, p string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	rel, abs, err := s.files.Resolve(p)
	if err != nil {
		return "", false, err
	}
	if rel == "" {
		return "", false, nil
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false, statError(rel, err)
	}
	if info.IsDir() {
		return "", false, nil
	}
	return s.mirror.path(rel), s.mirror.has(rel), nil
}

// existing resolves p and requires a non-root entry to be there.
func (s *Store) existing(p string) (string, string, error) {
	rel, abs, err := s.files.Resolve(p)
	if err != nil {
		return "", "", err
	}
	if rel == "" {
		return "", "", fmt.Errorf("%w: the root cannot be changed", ErrInvalidPath)
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", "", statError(rel, err)
	}
	return rel, abs, nil
}

// resolveDir maps a clean folder path onto the tree. Segments that exist
// as folders keep their names; missing ones are sanitized. A file on the
// way is ErrNameConflict.
func (s *Store) resolveDir(clean string) (string, error) {
	dir := ""
	for _, seg := range strings.Split(clean, "/") {
		name := seg
		info, err := os.Stat(s.files.Abs(joinRel(dir, name)))
		if err != nil {
			name = SanitizeName(seg)
			if name == "" {
				return "", fmt.Errorf("%w: segment %q has no usable characters", ErrInvalidPath, seg)
			}
			info, err = os.Stat(s.files.Abs(joinRel(dir, name)))
		}
		if err == nil && !info.IsDir() {
			return "", fmt.Errorf("%w: a file occupies %s", ErrNameConflict, joinRel(dir, name))
		}
		dir = joinRel(dir, name)
	}
	return dir, nil
}

// ensureDir resolves the clean folder path and creates it.
func (s *Store) ensureDir(clean string) (string, string, error) {
	rel := ""
	if clean != "" {
		var err error
		if rel, err = s.resolveDir(clean); err != nil {
			return "", "", err
		}
	}
	_, abs, err := s.files.Resolve(rel)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("%w: a file occupies %s", ErrNameConflict, rel)
		}
		return "", "", fmt.Errorf("create folder %s: %w", rel, err)
	}
	return rel, abs, nil
}

func (s *Store) uploadDir(clean string) string {
	if clean == "" {
		return ""
	}
	if info, err := os.Stat(s.files.Abs(clean)); err == nil && info.IsDir() {
		return clean
	}
	if path.Ext(path.Base(clean)) != "" {
		return parentRel(clean)
	}
	return clean
}

// refreshPreview drops any stale preview of rel and builds a new one.
func (s *Store) refreshPreview(ctx context.Context, rel, abs string) preview.Result {
	s.mirror.remove(ctx, rel)
	return s.previewer.Generate(ctx, abs, s.mirror.path(rel), path.Base(rel))
}

func (s *Store) entry(rel string) (Entry, bool) {
	info, err := os.Stat(s.files.Abs(rel))
	if err != nil {
		return Entry{}, false
	}
	e := Entry{
		Name:    path.Base(rel),
		Path:    rel,
		ModTime: info.ModTime(),
	}
	switch {
	case info.IsDir():
		e.Kind = KindFolder
	case info.Mode().IsRegular():
		e.Kind = KindFile
		e.Size = info.Size()
		e.HasPreview = s.mirror.has(rel)
	default:
		return Entry{}, false
	}
	return e, true
}

func (s *Store) publish(e events.Event) {
	s.events.Publish(e)
}

// reserve exclusively creates name in dir, or the first free name_N
// variant of it.
func reserve(dir, name string) (*os.File, string, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i <= maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
	}
	return nil, "", fmt.Errorf("%w: no free name for %s", ErrAlreadyExists, name)
}

func sortEntries(entries []Entry) {
	rank := func(k Kind) int {
		if k == KindFolder {
			return 0
		}
		return 1
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(rank(a.Kind), rank(b.Kind)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// statError turns a missing path into ErrNotFound and wraps anything else.
func statError(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return fmt.Errorf("stat %s: %w", rel, err)
}
