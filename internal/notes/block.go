// Package notes stores code blocks: titled snippets kept together in one
// JSON document.
package notes

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	MaxTitleLength = 256
	MaxIDLength    = 128
)

var (
	ErrNotFound    = errors.New("code block not found")
	ErrDuplicateID = errors.New("code block id already exists")
	ErrInvalid     = errors.New("invalid code block")
	ErrCorrupt     = errors.New("code block document is corrupt")
)

// CodeBlock is one stored note.
type CodeBlock struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Collapsed bool   `json:"collapsed"`
}

// Draft carries the fields a client sent. A nil field was not sent.
type Draft struct {
	ID        *string `json:"id,omitempty"`
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
}

// OnlyCollapsed reports whether the draft changes nothing but the
// collapsed flag.
func (d Draft) OnlyCollapsed() bool {
	return d.Collapsed != nil && d.ID == nil && d.Title == nil && d.Content == nil
}

// validateFull checks a draft used for create or full replacement.
func (d *Draft) validateFull() error {
	return wrapInvalid(validation.ValidateStruct(d,
		validation.Field(&d.ID, validation.When(d.ID != nil,
			validation.By(notBlank),
			validation.Length(1, MaxIDLength),
		)),
		validation.Field(&d.Title, validation.NotNil, validation.Length(0, MaxTitleLength)),
		validation.Field(&d.Content, validation.NotNil),
	))
}

// validatePartial checks a draft merged into an existing block.
func (d *Draft) validatePartial() error {
	return wrapInvalid(validation.ValidateStruct(d,
		validation.Field(&d.Title, validation.Length(0, MaxTitleLength)),
	))
}

func notBlank(value interface{}) error {
	var s string
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil
		}
		s = *v
	case string:
		s = v
	default:
		return nil
	}
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}

func wrapInvalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

// apply merges the non-nil draft fields into b.
func (d Draft) apply(b *CodeBlock) {
	if d.Title != nil {
		b.Title = *d.Title
	}
	if d.Content != nil {
		b.Content = *d.Content
	}
	if d.Collapsed != nil {
		b.Collapsed = *d.Collapsed
	}
}
