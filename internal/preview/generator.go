// Package preview derives lightweight previews from stored files: JPEG
// thumbnails for images and wrapped text excerpts for text files.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/fsutil"
	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/metrics"
)

// Kind is the sort of artifact a preview holds.
type Kind string

const (
	KindNone      Kind = "none"
	KindThumbnail Kind = "thumbnail"
	KindText      Kind = "text"
)

// Result describes the outcome of a preview attempt.
type Result struct {
	Kind Kind
	Path string
}

// Available reports whether a preview artifact was written.
func (r Result) Available() bool {
	return r.Kind != KindNone && r.Path != ""
}

// Options tunes generation. Zero fields take the defaults.
type Options struct {
	MaxDim    int
	Quality   int
	TextBytes int
	WrapWidth int
}

// Generator writes previews. It is safe for concurrent use.
type Generator struct {
	opts Options
}

// New returns a Generator with opts applied over the defaults.
func New(opts Options) *Generator {
	if opts.MaxDim <= 0 {
		opts.MaxDim = 300
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.TextBytes <= 0 {
		opts.TextBytes = 2000
	}
	if opts.WrapWidth <= 0 {
		opts.WrapWidth = 80
	}
	return &Generator{opts: opts}
}

// Generate builds the preview of src at dst, picking the kind from
// filename. It never fails: problems are logged and reported as a Result
// with KindNone.
func (g *Generator) Generate(ctx context.Context, src, dst, filename string) Result {
	kind := Classify(filename)
	if kind == KindNone {
		metrics.RecordPreview(string(kind), "skipped", 0)
		return Result{Kind: KindNone}
	}

	start := time.Now()
	err := g.generate(ctx, kind, src, dst)
	if err != nil {
		metrics.RecordPreview(string(kind), "failed", time.Since(start))
		logging.WithContext(ctx).Warn("preview generation failed",
			zap.String("file", filename),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return Result{Kind: KindNone}
	}

	metrics.RecordPreview(string(kind), "generated", time.Since(start))
	return Result{Kind: kind, Path: dst}
}

func (g *Generator) generate(ctx context.Context, kind Kind, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create preview dir: %w", err)
	}

	var data []byte
	switch kind {
	case KindThumbnail:
		b, err := thumbnail(src, g.opts.MaxDim, g.opts.Quality)
		if err != nil {
			return err
		}
		data = b
	case KindText:
		s, err := textExcerpt(src, g.opts.TextBytes, g.opts.WrapWidth)
		if err != nil {
			return err
		}
		data = []byte(s)
	}

	if _, err := fsutil.WriteFileAtomic(dst, bytes.NewReader(data), 0o644); err != nil {
		return err
	}
	return nil
}
