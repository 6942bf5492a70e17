package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ipuwatch/pkg/logx"
)

// ErrUnavailable signals that a page could not be fetched after all retry
// attempts. A source check that cannot fetch data must not disturb
// previously stored state, so callers skip the source instead of failing
// the pass.
var ErrUnavailable = errors.New("watch: page unavailable")

const (
	defaultFetchTimeout = 30 * time.Second
	defaultRetryMax     = 2
	defaultRetryDelay   = 2 * time.Second

	// The university servers reject requests without a browser user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// maxBodyBytes caps response reads; the monitored pages are well under this.
	maxBodyBytes = 4 << 20
)

// RetryDisabled as a RetryMax value turns retries off entirely.
const RetryDisabled = -1

// FetchConfig controls transport behavior for one Fetcher.
type FetchConfig struct {
	Timeout time.Duration
	// RetryMax is the number of retries beyond the first attempt. Zero
	// resolves to the default; RetryDisabled makes a single attempt.
	RetryMax   int
	RetryDelay time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultFetchTimeout
	}
	switch {
	case c.RetryMax < 0:
		c.RetryMax = 0
	case c.RetryMax == 0:
		c.RetryMax = defaultRetryMax
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Fetcher retrieves page bodies with fixed-backoff retries.
type Fetcher struct {
	cfg    FetchConfig
	client *http.Client
	log    logx.Logger
}

func NewFetcher(cfg FetchConfig, log logx.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Fetch returns the page body. Responses with status >= 500 count as
// failures; anything below is accepted since the university sites answer
// odd statuses for pages that still carry the listing. On exhausted
// retries it returns an error wrapping ErrUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var last error
	for attempt := 0; attempt <= f.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			f.log.Debug("fetch retry", logx.String("url", url), logx.Int("attempt", attempt+1))
			t := time.NewTimer(f.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-t.C:
			}
		}

		body, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, url, last)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}
