package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk_EmptyInput(t *testing.T) {
	result := Chunk("", DefaultOptions())
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	text := "今天天气不错，我想出去走走。"
	result := Chunk(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0] != text {
		t.Errorf("expected %q, got %q", text, result[0])
	}
}

func TestChunk_SplitsLongTurns(t *testing.T) {
	sentence := "This is a sentence about something the user said. "
	text := strings.Repeat(sentence, 20) // ~1000 chars

	result := Chunk(text, DefaultOptions())
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	for i, c := range result {
		if utf8.RuneCountInString(c) > DefaultMaxSize {
			t.Errorf("chunk %d exceeds max size: %d runes", i, utf8.RuneCountInString(c))
		}
	}
}

func TestChunk_NoChunkExceedsInput(t *testing.T) {
	text := strings.Repeat("我每天早上七点起床去跑步。", 60)
	result := Chunk(text, DefaultOptions())
	for i, c := range result {
		if len(c) > len(text) {
			t.Errorf("chunk %d longer than input", i)
		}
		if !strings.Contains(text, c) {
			t.Errorf("chunk %d is not a span of the input: %q", i, c)
		}
	}
}

func TestChunk_HardSplitsUnbrokenText(t *testing.T) {
	// No sentence terminators at all.
	text := strings.Repeat("x", 1000)
	opts := Options{TargetSize: 200, MaxSize: 300}
	result := Chunk(text, opts)
	if len(result) < 3 {
		t.Fatalf("expected hard split into >=3 chunks, got %d", len(result))
	}
	for i, c := range result {
		if utf8.RuneCountInString(c) > opts.MaxSize {
			t.Errorf("chunk %d exceeds max size", i)
		}
	}
}

func TestChunk_CJKSplitsOnTerminators(t *testing.T) {
	para := strings.Repeat("我喜欢喝咖啡！", 20) // 140 runes
	text := para + para + para

	opts := Options{TargetSize: 150, MaxSize: 250}
	result := Chunk(text, opts)
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
}
