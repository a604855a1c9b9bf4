package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	// maxRedirects caps redirect chains. Providers bounce through shortener
	// domains; anything deeper is a loop.
	maxRedirects = 5

	// maxBodyBytes caps one subscription body. The largest real-world
	// subscriptions are low single-digit megabytes.
	maxBodyBytes = 16 << 20
)

// HTTPStatusError indicates the server responded, but with an unexpected
// HTTP status code. This is a non-network failure.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected status %d from %s", e.StatusCode, e.URL)
}

// Result is the outcome of fetching one subscription URL. Exactly one of
// Body and Err is meaningful.
type Result struct {
	URL      string
	Body     []byte
	Err      error
	Duration time.Duration
}

// Options configure a Fetcher. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration // per-URL budget, default 45s
	Concurrency int           // parallel fetches, default 8
	UserAgent   string

	// TLSVerify enables certificate verification. Off by default: many
	// providers serve subscriptions from self-signed or mismatched hosts.
	TLSVerify bool
}

// Fetcher downloads subscription bodies with bounded parallelism. A failed
// URL never aborts the run; its Result carries the error.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	userAgent   string
}

func New(opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !opts.TLSVerify}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("fetch: more than %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{
		client:      client,
		timeout:     timeout,
		concurrency: concurrency,
		userAgent:   opts.UserAgent,
	}
}

// FetchAll downloads every URL and returns results in input order. There are
// no retries; a transient failure surfaces in that URL's Result and the
// subscription's scores absorb it.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{URL: url, Err: ctx.Err()}
				return
			}
			results[i] = f.fetchOne(ctx, url)
		}(i, url)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			log.Printf("[fetch] %s failed: %v", r.URL, r.Err)
		}
	}
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	body, err := f.download(ctx, url)
	return Result{
		URL:      url,
		Body:     body,
		Err:      err,
		Duration: time.Since(start),
	}
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("fetch: body from %s exceeds %d bytes", url, maxBodyBytes)
	}
	return body, nil
}

// Succeeded reports whether a result carries a usable body.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// IsStatusError reports whether the failure was an HTTP status rejection
// rather than a transport error.
func IsStatusError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr)
}
