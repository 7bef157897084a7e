package tail

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTrimBufferKeepsTail(t *testing.T) {
	b := NewTrimBuffer(10)
	b.Append("0123456789")
	b.Append("abc")

	if got := b.String(); got != "3456789abc" {
		t.Fatalf("unexpected contents %q", got)
	}
	if b.Len() != 10 {
		t.Fatalf("expected len 10, got %d", b.Len())
	}
}

func TestTrimBufferKeepsWholeRunes(t *testing.T) {
	b := NewTrimBuffer(4)
	// "é" and "ü" are two bytes each, so a plain 4-byte cut lands inside "é"
	b.Append("abcé")
	b.Append("ü!")

	got := b.String()
	if !utf8.ValidString(got) {
		t.Fatalf("trimmed text is not valid UTF-8: %q", got)
	}
	if got != "ü!" {
		t.Fatalf("unexpected contents %q", got)
	}
}

func TestTrimBufferDefaultLimit(t *testing.T) {
	b := NewTrimBuffer(0)
	b.Append(strings.Repeat("x", DefaultTrimLimit+5))
	if b.Len() != DefaultTrimLimit {
		t.Fatalf("expected %d bytes, got %d", DefaultTrimLimit, b.Len())
	}
}

func TestTrimBufferAsSink(t *testing.T) {
	b := NewTrimBuffer(100)
	sink := b.Sink()
	sink("latest.log", "hello ")
	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := b.String(); got != "hello world" {
		t.Fatalf("unexpected contents %q", got)
	}
}
