package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// asciiFold decomposes compatibility characters and drops whatever is left
// outside ASCII, so "café" becomes "cafe".
var asciiFold = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.Predicate(func(r rune) bool { return r >= utf8.RuneSelf })),
)

// Clean validates a client-supplied relative path and returns it in
// canonical slash form. Backslashes count as separators, empty and "."
// segments are dropped, and "" is the root. Any ".." segment, leading "/"
// or NUL byte is ErrInvalidPath.
func Clean(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidPath)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}

	segs := strings.Split(p, "/")
	parts := segs[:0]
	for _, seg := range segs {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, p)
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/"), nil
}

// DecodePath percent-decodes each segment of a raw URL path parameter.
// An encoded slash inside a segment becomes a separator, which Clean then
// validates like any other.
func DecodePath(raw string) (string, error) {
	segs := strings.Split(raw, "/")
	for i, seg := range segs {
		dec, err := url.PathUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		segs[i] = dec
	}
	return strings.Join(segs, "/"), nil
}

// SanitizeName reduces a single name to characters safe on any
// filesystem: ASCII letters, digits, "_", "." and "-". Whitespace runs
// become "_" and leading or trailing dots and underscores are stripped.
// The result may be empty.
func SanitizeName(name string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}
	folded = strings.NewReplacer("/", " ", "\\", " ").Replace(folded)
	folded = strings.Join(strings.Fields(folded), "_")
	folded = unsafeNameChars.ReplaceAllString(folded, "")
	return strings.Trim(folded, "._")
}

// Resolver maps clean relative paths onto one root directory.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver rooted at the absolute form of root.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Abs joins an already clean relative path onto the root.
func (r *Resolver) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Resolve cleans p and returns both the relative key and the absolute
// path, checking that the result stays inside the root.
func (r *Resolver) Resolve(p string) (string, string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", "", err
	}
	abs := r.Abs(rel)
	back, err := filepath.Rel(r.root, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, p)
	}
	return rel, abs, nil
}

// Rel converts an absolute path under the root back to a relative key.
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, abs, r.root)
	}
	return rel, nil
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentRel(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
