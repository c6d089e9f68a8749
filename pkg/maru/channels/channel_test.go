package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShortTextPassesThrough(t *testing.T) {
	chunks := SplitMessage("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := "first paragraph\nsecond paragraph\nthird"
	chunks := SplitMessage(text, 20)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %v", chunks)
	}
	if chunks[0] != "first paragraph" {
		t.Errorf("chunks[0] = %q", chunks[0])
	}
	for i, chunk := range chunks {
		if len(chunk) > 20 {
			t.Errorf("chunks[%d] length = %d, over limit", i, len(chunk))
		}
	}
}

func TestSplitMessageFallsBackToSpaces(t *testing.T) {
	text := strings.Repeat("word ", 20) // no newlines
	chunks := SplitMessage(text, 24)
	for i, chunk := range chunks {
		if len(chunk) > 24 {
			t.Errorf("chunks[%d] length = %d", i, len(chunk))
		}
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Errorf("chunks[%d] = %q has boundary spaces", i, chunk)
		}
	}
}

func TestSplitMessageHardCutsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 50)
	chunks := SplitMessage(text, 20)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("joined chunks lost content: %d chars", len(got))
	}
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	// Spaceless Korean text; every hard cut lands mid-rune unless backed up.
	text := strings.Repeat("가", 2000)
	chunks := SplitMessage(text, DefaultMaxMessageLength)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunks[%d] is not valid UTF-8 (len=%d)", i, len(chunk))
		}
		if len(chunk) > DefaultMaxMessageLength {
			t.Errorf("chunks[%d] length = %d, over limit", i, len(chunk))
		}
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("joined chunks lost content: %d bytes of %d", len(got), len(text))
	}
}

func TestTruncateRespectsRuneBoundaries(t *testing.T) {
	text := strings.Repeat("나", 100) // 300 bytes

	got := Truncate(text, 50)
	if !utf8.ValidString(got) {
		t.Errorf("truncated text is not valid UTF-8: %q", got)
	}
	if len(got) != 48 { // 50 is mid-rune; the cut backs up to 48
		t.Errorf("len = %d, want 48", len(got))
	}

	if got := Truncate("short", 100); got != "short" {
		t.Errorf("short text changed: %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("ASCII cut = %q", got)
	}
}

func TestSplitMessageDefaultLimit(t *testing.T) {
	text := strings.Repeat("a", DefaultMaxMessageLength+10)
	chunks := SplitMessage(text, 0)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[0]) != DefaultMaxMessageLength {
		t.Errorf("chunks[0] length = %d", len(chunks[0]))
	}
}
