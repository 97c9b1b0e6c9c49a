// Package fetch retrieves blocklist sources over HTTP(S) or from local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// DefaultUserAgent identifies the service to list hosts.
const DefaultUserAgent = "rr-sinkhole/1 (+https://github.com/haukened/rr-sinkhole)"

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// Fetcher opens sources. The per-request timeout bounds the whole exchange,
// body included, and is released when the returned reader is closed.
type Fetcher struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

// New returns a Fetcher with its own client and the given timeout.
func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{},
		Timeout:   timeout,
		UserAgent: DefaultUserAgent,
	}
}

// Open returns the source's content stream. Callers must Close it.
func (f *Fetcher) Open(ctx context.Context, src domain.Source) (io.ReadCloser, error) {
	if src.IsRemote() {
		return f.openHTTP(ctx, src.Location)
	}
	return openFile(src.Location)
}

func (f *Fetcher) openHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if f.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("GET %s: %w", location, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: location, Code: resp.StatusCode, Status: resp.Status}
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func openFile(location string) (io.ReadCloser, error) {
	path := location
	if strings.HasPrefix(strings.ToLower(location), "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", location, err)
		}
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
