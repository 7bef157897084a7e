package tail

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultTrimLimit keeps roughly the last 2MB of text.
const DefaultTrimLimit = 2_000_000

// TrimBuffer is a concurrency-safe text sink that retains at most the trailing
// limit bytes of everything appended to it.
type TrimBuffer struct {
	mu    sync.RWMutex
	buf   strings.Builder
	limit int
}

// NewTrimBuffer creates a buffer bounded to limit bytes.
func NewTrimBuffer(limit int) *TrimBuffer {
	if limit <= 0 {
		limit = DefaultTrimLimit
	}
	return &TrimBuffer{limit: limit}
}

// Append adds text and trims the head if the buffer grew past its limit.
func (b *TrimBuffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.WriteString(text)
	if b.buf.Len() <= b.limit {
		return
	}
	all := b.buf.String()
	cut := len(all) - b.limit
	// never keep half a multi-byte rune
	for cut < len(all) && !utf8.RuneStart(all[cut]) {
		cut++
	}
	b.buf.Reset()
	b.buf.WriteString(all[cut:])
}

// Write implements io.Writer.
func (b *TrimBuffer) Write(p []byte) (int, error) {
	b.Append(string(p))
	return len(p), nil
}

// String returns the retained text.
func (b *TrimBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf.String()
}

// Len returns the number of retained bytes.
func (b *TrimBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf.Len()
}

// Sink adapts the buffer to a tailer sink.
func (b *TrimBuffer) Sink() Sink {
	return func(_ string, chunk string) {
		b.Append(chunk)
	}
}
