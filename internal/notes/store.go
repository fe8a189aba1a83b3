package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/events"
	"github.com/fruitsalade/filebox/internal/fsutil"
	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/metrics"
)

const lockTimeout = 5 * time.Second

// Store keeps code blocks in a single JSON array file. Every mutation
// re-reads the file and rewrites it whole while holding both an
// in-process mutex and a flock on path+".lock".
type Store struct {
	path   string
	events events.Publisher

	mu sync.Mutex
}

// New returns a Store backed by path. The file need not exist yet.
func New(path string, pub events.Publisher) *Store {
	if pub == nil {
		pub = events.Discard
	}
	return &Store{path: path, events: pub}
}

// Path returns the backing document.
func (s *Store) Path() string {
	return s.path
}

// List returns every block. A missing or unreadable document reads as
// empty.
func (s *Store) List(ctx context.Context) []CodeBlock {
	blocks, err := s.load()
	if err != nil {
		logging.WithContext(ctx).Warn("code blocks unreadable, listing none",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return []CodeBlock{}
	}
	return blocks
}

// Get returns the block with the given id.
func (s *Store) Get(ctx context.Context, id string) (CodeBlock, error) {
	for _, b := range s.List(ctx) {
		if b.ID == id {
			return b, nil
		}
	}
	return CodeBlock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create adds a block, generating its id when the draft has none.
func (s *Store) Create(ctx context.Context, d Draft) (CodeBlock, error) {
	if err := d.validateFull(); err != nil {
		return CodeBlock{}, err
	}
	b := CodeBlock{}
	if d.ID != nil {
		b.ID = *d.ID
	} else {
		b.ID = uuid.NewString()
	}
	d.apply(&b)

	err := s.mutate(ctx, "create", func(blocks []CodeBlock) ([]CodeBlock, error) {
		if indexOf(blocks, b.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, b.ID)
		}
		return append(blocks, b), nil
	})
	if err != nil {
		return CodeBlock{}, err
	}
	s.events.Publish(events.Event{Type: events.EventNoteCreate, NoteID: b.ID})
	return b, nil
}

// FullUpdate replaces title, content and collapsed flag of the block. The
// id stays; an id in the draft is ignored.
func (s *Store) FullUpdate(ctx context.Context, id string, d Draft) (CodeBlock, error) {
	if err := d.validateFull(); err != nil {
		return CodeBlock{}, err
	}
	return s.update(ctx, "full_update", id, func(b *CodeBlock) {
		*b = CodeBlock{ID: b.ID}
		d.apply(b)
	})
}

// PartialUpdate merges the fields present in the draft into the block.
func (s *Store) PartialUpdate(ctx context.Context, id string, d Draft) (CodeBlock, error) {
	if err := d.validatePartial(); err != nil {
		return CodeBlock{}, err
	}
	return s.update(ctx, "partial_update", id, func(b *CodeBlock) {
		d.apply(b)
	})
}

// SetCollapsed changes only the collapsed flag.
func (s *Store) SetCollapsed(ctx context.Context, id string, collapsed bool) (CodeBlock, error) {
	return s.update(ctx, "set_collapsed", id, func(b *CodeBlock) {
		b.Collapsed = collapsed
	})
}

// Delete removes the block if present. Deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	removed := false
	err := s.mutate(ctx, "delete", func(blocks []CodeBlock) ([]CodeBlock, error) {
		i := indexOf(blocks, id)
		if i < 0 {
			return nil, nil
		}
		removed = true
		return append(blocks[:i], blocks[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	if removed {
		s.events.Publish(events.Event{Type: events.EventNoteDelete, NoteID: id})
	}
	return nil
}

func (s *Store) update(ctx context.Context, op, id string, change func(*CodeBlock)) (CodeBlock, error) {
	var out CodeBlock
	err := s.mutate(ctx, op, func(blocks []CodeBlock) ([]CodeBlock, error) {
		i := indexOf(blocks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		change(&blocks[i])
		out = blocks[i]
		return blocks, nil
	})
	if err != nil {
		return CodeBlock{}, err
	}
	s.events.Publish(events.Event{Type: events.EventNoteUpdate, NoteID: id})
	return out, nil
}

// mutate runs fn over the current collection inside the critical section
// and persists what it returns. A nil slice with a nil error leaves the
// document untouched.
func (s *Store) mutate(ctx context.Context, op string, fn func([]CodeBlock) ([]CodeBlock, error)) (err error) {
	defer func() {
		metrics.RecordNoteMutation(op, err == nil)
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create notes dir: %w", err)
	}
	lock, err := fsutil.AcquireFileLockWithTimeout(s.path+".lock", lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer lock.Release()

	blocks, err := s.load()
	if err != nil {
		return err
	}
	next, err := fn(blocks)
	if err != nil || next == nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode code blocks: %w", err)
	}
	if _, err := fsutil.WriteFileAtomic(s.path, bytes.NewReader(data), 0o644); err != nil {
		return err
	}
	return nil
}

// load reads the document. A missing file is an empty collection; one
// that does not parse is ErrCorrupt.
func (s *Store) load() ([]CodeBlock, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []CodeBlock{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []CodeBlock{}, nil
	}

	var blocks []CodeBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if blocks == nil {
		blocks = []CodeBlock{}
	}
	return blocks, nil
}

func indexOf(blocks []CodeBlock, id string) int {
	for i, b := range blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}
