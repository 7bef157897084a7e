package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"
)

const (
	DefaultBootBytes = 64_000
	DefaultInterval  = 250 * time.Millisecond
)

// Sink receives chunks of log text. It is called from the goroutine running
// Prime or Follow.
type Sink func(path, chunk string)

// Options tune the priming window and the polling interval.
type Options struct {
	BootBytes int64
	Interval  time.Duration
}

// Tailer follows one or more append-only files.
type Tailer struct {
	paths   []string
	cursors map[string]int64
	sink    Sink
	opts    Options
}

// New creates a tailer over paths. Duplicate paths are tracked once, in the
// order of their first appearance.
func New(paths []string, sink Sink, opts Options) *Tailer {
	if opts.BootBytes <= 0 {
		opts.BootBytes = DefaultBootBytes
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	return &Tailer{
		paths:   unique,
		cursors: make(map[string]int64, len(unique)),
		sink:    sink,
		opts:    opts,
	}
}

// Paths returns the tracked files.
func (t *Tailer) Paths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Cursor returns the byte offset already delivered for path.
func (t *Tailer) Cursor(path string) int64 {
	return t.cursors[path]
}

// Prime delivers the last BootBytes of every existing file, starting at a line
// boundary, and positions each cursor at the current end of file.
func (t *Tailer) Prime() error {
	for _, p := range t.paths {
		chunk, end, err := readWindow(p, t.opts.BootBytes)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				t.cursors[p] = 0
				continue
			}
			return fmt.Errorf("prime %s: %w", p, err)
		}
		if len(chunk) > 0 {
			t.sink(p, string(chunk))
		}
		t.cursors[p] = end
	}
	return nil
}

// Poll reads whatever was appended to each file since the last call.
func (t *Tailer) Poll() {
	for _, p := range t.paths {
		data, next, err := readFrom(p, t.cursors[p])
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("[Tail] Failed to read %s: %v", p, err)
			}
			continue
		}
		t.cursors[p] = next
		if len(data) > 0 {
			t.sink(p, string(data))
		}
	}
}

// Follow polls until ctx is cancelled.
func (t *Tailer) Follow(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Poll()
		}
	}
}

// Run primes and then follows until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.Prime(); err != nil {
		return err
	}
	return t.Follow(ctx)
}

func readWindow(path string, window int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}
	start := end - window
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, 0, err
	}

	r := bufio.NewReader(io.LimitReader(f, end-start))
	if start > 0 {
		// drop the partial first line
		if _, err := r.ReadBytes('\n'); err != nil {
			if err == io.EOF {
				return nil, end, nil
			}
			return nil, 0, err
		}
	}
	chunk, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return chunk, end, nil
}

// readFrom returns bytes after offset and the new cursor. A file that shrank
// below offset was truncated or replaced and is read from the start.
func readFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}
