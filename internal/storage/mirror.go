package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/metrics"
)

// mirror keeps the preview tree in step with the upload tree. Every method
// is best-effort: failures are logged and counted, never returned, and
// nothing is rolled back on the primary tree.
type mirror struct {
	root *Resolver
}

func (m *mirror) has(rel string) bool {
	info, err := os.Stat(m.root.Abs(rel))
	return err == nil && info.Mode().IsRegular()
}

// relocate moves the preview at from to to, if there is one.
func (m *mirror) relocate(ctx context.Context, op, from, to string) {
	src := m.root.Abs(from)
	dst := m.root.Abs(to)
	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		return
	}

	err := os.RemoveAll(dst)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(dst), 0o755)
	}
	if err == nil {
		err = os.Rename(src, dst)
	}
	if err != nil {
		m.fail(ctx, op, from, err)
	}
}

func (m *mirror) rename(ctx context.Context, from, to string) {
	m.relocate(ctx, "rename", from, to)
}

func (m *mirror) move(ctx context.Context, from, to string) {
	m.relocate(ctx, "move", from, to)
}

// remove deletes the preview at rel, recursively for folders.
func (m *mirror) remove(ctx context.Context, rel string) {
	if rel == "" {
		return
	}
	if err := os.RemoveAll(m.root.Abs(rel)); err != nil {
		m.fail(ctx, "delete", rel, err)
	}
}

// path returns where the preview for rel is written.
func (m *mirror) path(rel string) string {
	return m.root.Abs(rel)
}

func (m *mirror) fail(ctx context.Context, op, rel string, err error) {
	metrics.RecordPreviewMirrorFailure(op)
	logging.WithContext(ctx).Warn("preview mirror failed",
		zap.String("operation", op),
		zap.String("path", rel),
		zap.Error(err),
	)
}
