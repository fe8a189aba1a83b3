package process

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"

	"github.com/fruitsalade/filebox/internal/preview"
)

const sampleLength = 100

// StatsResult is what the stats processor reports.
type StatsResult struct {
	FileSize      int    `json:"file_size"`
	LineCount     int    `json:"line_count"`
	ContentSample string `json:"content_sample"`
	Truncated     bool   `json:"truncated,omitempty"`
}

// Stats counts characters and lines and returns the opening characters.
type Stats struct{}

func (Stats) Name() string { return "stats" }

func (Stats) Description() string {
	return "Character count, line count and a short sample of a text file"
}

func (Stats) Process(_ context.Context, in Input) (any, error) {
	text := preview.DecodeText(in.Content, in.Truncated)

	sample := text
	if utf8.RuneCountInString(sample) > sampleLength {
		sample = string([]rune(sample)[:sampleLength])
	}
	return StatsResult{
		FileSize:      utf8.RuneCountInString(text),
		LineCount:     strings.Count(text, "\n") + 1,
		ContentSample: sample,
		Truncated:     in.Truncated,
	}, nil
}

// HighlightResult holds highlighted source.
type HighlightResult struct {
	Language string `json:"language"`
	HTML     string `json:"html"`
}

// Highlight renders source code as HTML with inline styles.
type Highlight struct {
	style *chroma.Style
}

// NewHighlight returns a highlighter using the named chroma style. An
// unknown or empty name picks the default style.
func NewHighlight(style string) Highlight {
	if style == "" {
		style = "github"
	}
	return Highlight{style: styles.Get(style)}
}

func (Highlight) Name() string { return "highlight" }

func (Highlight) Description() string {
	return "Syntax-highlighted HTML of a source file"
}

func (h Highlight) Process(_ context.Context, in Input) (any, error) {
	src := preview.DecodeText(in.Content, in.Truncated)

	lexer := lexers.Match(in.Name)
	if lexer == nil {
		lexer = lexers.Analyse(src)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, src)
	if err != nil {
		return nil, fmt.Errorf("tokenise %s: %w", in.Name, err)
	}
	var buf bytes.Buffer
	if err := html.New(html.WithClasses(false)).Format(&buf, h.style, it); err != nil {
		return nil, fmt.Errorf("format %s: %w", in.Name, err)
	}
	return HighlightResult{Language: lexer.Config().Name, HTML: buf.String()}, nil
}

// MarkdownResult holds rendered markdown.
type MarkdownResult struct {
	HTML string `json:"html"`
}

// Markdown renders a markdown document to HTML.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() Markdown {
	return Markdown{md: goldmark.New()}
}

func (Markdown) Name() string { return "markdown" }

func (Markdown) Description() string {
	return "HTML rendering of a markdown document"
}

func (m Markdown) Process(_ context.Context, in Input) (any, error) {
	src := preview.DecodeText(in.Content, in.Truncated)
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", in.Name, err)
	}
	return MarkdownResult{HTML: buf.String()}, nil
}
