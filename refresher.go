package devicepair

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenRefresher keeps the stored token fresh in the background, so a host
// that is idle for longer than the token lifetime does not have to pair again.
type TokenRefresher struct {
	client     *Client
	apiBaseURL string
	interval   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTokenRefresher creates a refresher checking the token every interval.
// The interval should be shorter than the client's expiry margin.
func NewTokenRefresher(client *Client, apiBaseURL string, interval time.Duration, logger *slog.Logger) *TokenRefresher {
	if logger == nil {
		logger = client.logger()
	}
	return &TokenRefresher{
		client:     client,
		apiBaseURL: apiBaseURL,
		interval:   interval,
		logger:     logger,
	}
}

// Start launches the refresh loop. It stops when ctx is done or Close is called.
// A refresher runs at most one loop; later calls to Start are ignored.
func (r *TokenRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.logger.Warn("token refresher already started")
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *TokenRefresher) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.check(ctx)
	for {
		select {
		case <-ticker.C:
			r.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *TokenRefresher) check(ctx context.Context) {
	token, err := r.client.GetValidTokenOrRefresh(ctx, r.apiBaseURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("failed to check device token", "error", err)
		return
	}
	if token == nil {
		r.logger.Debug("no valid device token")
		return
	}
	r.logger.Debug("device token valid", "expires_at", token.ExpiresAt)
}

// Close stops the refresh loop and waits for an in-flight check to finish.
func (r *TokenRefresher) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
