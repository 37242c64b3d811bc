// Package credit implements the daily request quota collaborator. Quota is
// tracked remotely; this package fetches the remaining balance and caches the
// latest snapshot so callers can read it without a round trip.
package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/threadstream/logging"
)

// Snapshot is the remote quota state at the time of the last refresh.
type Snapshot struct {
	Remaining       int       `json:"remaining"`
	MaxLimit        int       `json:"maxLimit"`
	Reset           time.Time `json:"reset"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

// HTTPClient abstracts the HTTP transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure an HTTPService.
type Options struct {
	// HTTPClient performs the requests. Defaults to http.DefaultClient.
	HTTPClient HTTPClient
	// Logger receives refresh failures.
	Logger logging.Logger
}

// HTTPService fetches the remaining credit balance from the quota endpoint
// and caches the last successful snapshot. Safe for concurrent use.
type HTTPService struct {
	url  string
	opts Options

	mu      sync.RWMutex
	snap    *Snapshot
	fetched bool
}

// NewHTTPService creates a credit service polling the given quota endpoint URL.
func NewHTTPService(url string, optFns ...func(o *Options)) *HTTPService {
	opts := Options{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPService{url: url, opts: opts}
}

// Remaining returns the remaining balance from the cached snapshot, fetching
// one first if no refresh has happened yet.
func (s *HTTPService) Remaining(ctx context.Context) (int, error) {
	s.mu.RLock()
	if s.fetched {
		remaining := s.snap.Remaining
		s.mu.RUnlock()
		return remaining, nil
	}
	s.mu.RUnlock()

	if err := s.Refresh(ctx); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Remaining, nil
}

// Snapshot returns a copy of the last fetched quota state, or false if no
// refresh has succeeded yet.
func (s *HTTPService) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.fetched {
		return Snapshot{}, false
	}
	return *s.snap, true
}

// Refresh fetches the current quota state and replaces the cached snapshot.
func (s *HTTPService) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build credit request: %w", err)
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		s.opts.Logger.Warn("credit refresh failed", "error", err)
		return fmt.Errorf("fetch remaining credits: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.opts.Logger.Warn("credit refresh failed", "status_code", resp.StatusCode)
		return fmt.Errorf("fetch remaining credits: unexpected status %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode credit response: %w", err)
	}

	s.mu.Lock()
	s.snap = &snap
	s.fetched = true
	s.mu.Unlock()
	return nil
}
