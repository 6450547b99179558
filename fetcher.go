package archidex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher retrieves a raw dataset artifact by name, e.g. "page_3.json".
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FetcherFunc allows plain functions to satisfy the Fetcher interface.
type FetcherFunc func(ctx context.Context, name string) ([]byte, error)

// Fetch implements Fetcher by invoking the wrapped function.
func (fn FetcherFunc) Fetch(ctx context.Context, name string) ([]byte, error) {
	return fn(ctx, name)
}

// HTTPFetcher pulls artifacts from a base URL over a pooled client.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher builds a fetcher for baseURL. A zero timeout means the
// caller's context is the only deadline.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	target := f.baseURL + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientFetch, name, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientFetch, name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	default:
		return nil, fmt.Errorf("%w: %s: status %d", ErrTransientFetch, name, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientFetch, name, err)
	}
	return data, nil
}

// FSFetcher reads artifacts from a local directory, for offline use and tests.
type FSFetcher struct {
	dir string
}

func NewFSFetcher(dir string) *FSFetcher {
	return &FSFetcher{dir: dir}
}

func (f *FSFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, filepath.Base(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientFetch, name, err)
	}
	return data, nil
}
