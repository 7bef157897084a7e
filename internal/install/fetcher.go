package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// UserAgent is sent with every request to the version metadata hosts.
	UserAgent = "mcpanel/interactive-cli"

	downloadChunk   = 64 * 1024
	downloadTimeout = 10 * time.Minute
)

// Fetcher retrieves version metadata and server artifacts.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, v any) error
	// Download streams url into w. progress receives bytes written so far and
	// the advertised length, which is 0 when unknown.
	Download(ctx context.Context, url string, w io.Writer, progress func(done, total int64)) error
}

// HTTPFetcher is the Fetcher used outside tests.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default with a
// download-sized timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &HTTPFetcher{client: client, userAgent: UserAgent}
}

func (f *HTTPFetcher) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

func (f *HTTPFetcher) Download(ctx context.Context, url string, w io.Writer, progress func(done, total int64)) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	pw := &progressWriter{w: w, total: total, fn: progress}
	if _, err := io.CopyBuffer(pw, resp.Body, make([]byte, downloadChunk)); err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return resp, nil
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.done, p.total)
	}
	return n, err
}
