// Package linkcheck probes affiliate URLs for reachability, caching
// results so repeated checks inside the TTL window are free.
package linkcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	systemclock "github.com/voxelpromo/voxelpromo/internal/clock/system"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Result is one link health verdict.
type Result struct {
	URL        string    `json:"url"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Config configures the checker.
type Config struct {
	TTL     time.Duration
	Timeout time.Duration
}

// Checker probes URLs with HEAD, falling back to GET for hosts that
// reject HEAD.
type Checker struct {
	cfg    Config
	client *http.Client
	clock  offer.Clock
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]Result
}

// New builds a Checker.
func New(cfg Config, clock offer.Clock, log *zap.Logger) *Checker {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = systemclock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clock: clock,
		log:   log,
		cache: make(map[string]Result),
	}
}

// Check returns the health verdict for url, probing only when the cached
// result has expired.
func (c *Checker) Check(ctx context.Context, url string) (Result, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if cached, ok := c.cache[url]; ok && now.Sub(cached.CheckedAt) < c.cfg.TTL {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	result := c.probe(ctx, url)
	result.CheckedAt = now

	c.mu.Lock()
	c.cache[url] = result
	c.mu.Unlock()

	return result, nil
}

func (c *Checker) probe(ctx context.Context, url string) Result {
	status, err := c.request(ctx, http.MethodHead, url)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = c.request(ctx, http.MethodGet, url)
	}
	if err != nil {
		c.log.Debug("link probe failed", zap.String("url", url), zap.Error(err))
		return Result{URL: url, Healthy: false, Error: err.Error()}
	}

	// Redirects are fine, affiliate links bounce through trackers.
	healthy := status < http.StatusBadRequest
	return Result{URL: url, Healthy: healthy, StatusCode: status}
}

func (c *Checker) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
