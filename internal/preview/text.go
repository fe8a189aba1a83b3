package preview

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kr/text"
	"golang.org/x/text/encoding/unicode"
)

// Lines over the width cost more than any arrangement that fits, so the
// wrapper only exceeds it when a single word does. Words are pre-broken.
const overflowPenalty = 1 << 40

// wrapChunk bounds how many words one WrapWords call sees. Its cost table
// is quadratic in the word count; longer texts are wrapped chunk by chunk.
const wrapChunk = 512

// textExcerpt reads up to limit bytes of src and returns them wrapped to
// width columns.
func textExcerpt(src string, limit, width int) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, int64(limit)))
	if err != nil {
		return "", err
	}
	return Wrap(DecodeText(raw, len(raw) == limit), width), nil
}

// DecodeText decodes b as UTF-8, replacing invalid bytes with U+FFFD.
// When b was cut at a read limit, a trailing partial character is dropped
// instead of being replaced.
func DecodeText(b []byte, truncated bool) string {
	if truncated {
		b = trimPartialRune(b)
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(decoded)
}

// trimPartialRune drops a multi-byte sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start]
		}
		break
	}
	return b
}

// Wrap collapses whitespace in s and fills it into lines of at most width
// runes, splitting words that are longer than a line.
func Wrap(s string, width int) string {
	if width < 1 {
		width = 1
	}
	var words [][]byte
	for _, w := range strings.Fields(s) {
		for utf8.RuneCountInString(w) > width {
			cut := runeOffset(w, width)
			words = append(words, []byte(w[:cut]))
			w = w[cut:]
		}
		words = append(words, []byte(w))
	}
	if len(words) == 0 {
		return ""
	}

	var out [][]byte
	for len(words) > 0 {
		n := min(len(words), wrapChunk)
		for _, line := range text.WrapWords(words[:n], 1, width, overflowPenalty) {
			out = append(out, bytes.Join(line, []byte{' '}))
		}
		words = words[n:]
	}
	return string(bytes.Join(out, []byte{'\n'}))
}

// runeOffset returns the byte offset of the n-th rune in s.
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
