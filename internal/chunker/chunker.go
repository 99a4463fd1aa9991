// Package chunker splits conversation turns into embeddable text spans.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 200
	DefaultMaxSize    = 400
)

// Options configures chunking behavior. Sizes are in runes, not bytes,
// so CJK content chunks the same as Latin content.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk splits a conversation turn into ordered spans. Short turns return a
// single span holding the whole text; no span ever exceeds the input text.
func Chunk(text string, opts Options) []string {
	if opts.TargetSize <= 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if utf8.RuneCountInString(text) <= opts.MaxSize {
		return []string{text}
	}

	sentences := splitSentences(text)

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		t := strings.TrimSpace(current.String())
		if t != "" {
			chunks = append(chunks, t)
		}
		current.Reset()
		currentLen = 0
	}

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if currentLen > 0 && currentLen+n > opts.TargetSize {
			flush()
		}
		// A single sentence longer than MaxSize is hard-split.
		if n > opts.MaxSize {
			flush()
			chunks = append(chunks, hardSplit(s, opts.MaxSize)...)
			continue
		}
		current.WriteString(s)
		currentLen += n
	}
	flush()

	return chunks
}

// sentence terminators for both CJK and Latin punctuation.
var terminators = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true,
	'.': true, '!': true, '?': true, ';': true, '\n': true,
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if terminators[r] {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func hardSplit(s string, max int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		part := strings.TrimSpace(string(runes[:n]))
		if part != "" {
			out = append(out, part)
		}
		runes = runes[n:]
	}
	return out
}
