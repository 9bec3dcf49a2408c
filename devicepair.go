package devicepair

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultHTTPTimeout  = 2 * time.Second
	defaultPollInterval = 3 * time.Second
	defaultMaxWait      = 5 * time.Minute
	defaultExpiryMargin = 60 * time.Second
)

// New builds a Client persisting its state in store. Hosts are expected to
// build one Client at their composition root and share it.
func New(store Storer, opts ...Option) *Client {
	config := &Config{
		PollInterval: defaultPollInterval,
		MaxWait:      defaultMaxWait,
		ExpiryMargin: defaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(config)
	}

	if config.HTTPClient == nil {
		jar, _ := cookiejar.New(nil)
		config.HTTPClient = &http.Client{
			Timeout: defaultHTTPTimeout,
			Jar:     jar, // register correlates anonymous backend sessions through cookies
		}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Monitor == nil {
		config.Monitor = &NoopMonitor{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}

	return &Client{
		config: config,
		store:  store,
	}
}

type (
	Client struct {
		config *Config
		store  Storer

		// storeMu serializes read-then-write sequences against the store.
		storeMu  sync.Mutex
		refreshG singleflight.Group
	}

	Config struct {
		HTTPClient *http.Client
		Logger     *slog.Logger
		Monitor    Monitor

		// UserAgent feeds the browser label of the device fingerprint.
		UserAgent string

		PollInterval time.Duration
		MaxWait      time.Duration

		// ExpiryMargin is how long before ExpiresAt a token is treated as expired.
		ExpiryMargin time.Duration

		Now   func() time.Time
		Sleep func(ctx context.Context, d time.Duration) error
	}

	Option func(*Config)
)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

func WithMonitor(monitor Monitor) Option {
	return func(c *Config) {
		c.Monitor = monitor
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

func WithMaxWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxWait = d
		}
	}
}

func WithExpiryMargin(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ExpiryMargin = d
		}
	}
}

// WithClock replaces time.Now and the poll sleeper. Intended for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		c.Now = now
		c.Sleep = sleep
	}
}

func (c *Client) Config() Config {
	return *c.config
}

func (c *Client) logger() *slog.Logger {
	return c.config.Logger
}

func (c *Client) now() time.Time {
	return c.config.Now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
