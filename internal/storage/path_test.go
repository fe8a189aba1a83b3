package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{".", ""},
		{"docs", "docs"},
		{"docs/", "docs"},
		{"a//b/./c", "a/b/c"},
		{`a\b`, "a/b"},
		{"..hidden", "..hidden"},
	}
	for _, tt := range tests {
		got, err := Clean(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCleanRejects(t *testing.T) {
	for _, in := range []string{
		"..",
		"../etc",
		"a/../b",
		"a/..",
		"/etc/passwd",
		`\windows`,
		`a\..\b`,
		"a\x00b",
	} {
		_, err := Clean(in)
		assert.ErrorIs(t, err, ErrInvalidPath, "%q", in)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.txt", "report.txt"},
		{"My Report  final.txt", "My_Report_final.txt"},
		{"café.png", "cafe.png"},
		{"ﬁle.txt", "file.txt"},
		{"..hidden_", "hidden"},
		{"a/b", "a_b"},
		{"semi;colon?.md", "semicolon.md"},
		{"日本", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}

func TestDecodePath(t *testing.T) {
	got, err := DecodePath("docs/My%20File.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/My File.txt", got)

	got, err = DecodePath("a%2Fb")
	require.NoError(t, err)
	assert.Equal(t, "a/b", got)

	_, err = DecodePath("bad%zz")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestResolver(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	require.NoError(t, err)

	rel, abs, err := r.Resolve("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", rel)
	assert.Equal(t, filepath.Join(r.Root(), "a", "b.txt"), abs)

	back, err := r.Rel(abs)
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", back)

	_, err = r.Rel(filepath.Dir(r.Root()))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, _, err = r.Resolve("../x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
