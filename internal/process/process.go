// Package process runs named processors over stored files and returns
// their JSON-ready results.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

// MaxInput is how much of a file a processor sees.
const MaxInput = 1 << 20

var ErrUnknown = errors.New("unknown processor")

// Input is the file handed to a processor.
type Input struct {
	Name      string
	Content   []byte
	Truncated bool
}

// Processor turns file content into a result value.
type Processor interface {
	Name() string
	Description() string
	Process(ctx context.Context, in Input) (any, error)
}

// Info describes a registered processor.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds processors by name.
type Registry struct {
	byName map[string]Processor
}

// NewRegistry returns a registry with the given processors.
func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{byName: make(map[string]Processor, len(procs))}
	for _, p := range procs {
		r.byName[p.Name()] = p
	}
	return r
}

// Default returns the built-in processors.
func Default() *Registry {
	return NewRegistry(Stats{}, NewHighlight(""), NewMarkdown())
}

// List returns the registered processors ordered by name.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, Info{Name: p.Name(), Description: p.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a processor is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Run reads at most MaxInput bytes of src and feeds them to the named
// processor.
func (r *Registry) Run(ctx context.Context, processor, filename string, src io.Reader) (any, error) {
	p, ok := r.byName[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, processor)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(src, MaxInput+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	in := Input{Name: filename, Content: content}
	if len(content) > MaxInput {
		in.Content = content[:MaxInput]
		in.Truncated = true
	}
	return p.Process(ctx, in)
}
