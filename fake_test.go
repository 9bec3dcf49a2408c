package devicepair

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

const testAPI = "https://api.gamma.test"

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	registerOK = `{"deviceId":"dev-1","code":"ABCD-EFGH","expiresAt":"2024-01-01T12:10:00Z"}`
	tokenOK    = `{"token":"tok-1","expiresAt":"2024-01-01T13:00:00Z"}`
	refreshOK  = `{"token":"tok-2","expiresAt":"2024-01-01T14:00:00Z"}`
)

// fakeClock only moves when the client sleeps or a test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// step is one scripted backend reply. A non-nil err fails the round trip.
type step struct {
	status int
	body   string
	err    error
	wait   <-chan struct{}
}

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// fakeBackend is an http.RoundTripper answering from per-path scripts. The
// last step of a script repeats; unscripted paths get 404.
type fakeBackend struct {
	mu       sync.Mutex
	scripts  map[string][]step
	requests []recordedRequest
	received chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		scripts:  map[string][]step{},
		received: make(chan string, 100),
	}
}

func (b *fakeBackend) on(path string, steps ...step) *fakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[path] = append(b.scripts[path], steps...)
	return b
}

func (b *fakeBackend) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   string(body),
	})
	s := step{status: http.StatusNotFound, body: "not found"}
	if script := b.scripts[req.URL.Path]; len(script) > 0 {
		s = script[0]
		if len(script) > 1 {
			b.scripts[req.URL.Path] = script[1:]
		}
	}
	b.mu.Unlock()

	select {
	case b.received <- req.URL.Path:
	default:
	}
	if s.wait != nil {
		<-s.wait
	}
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func (b *fakeBackend) calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (b *fakeBackend) last(path string) recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i].Path == path {
			return b.requests[i]
		}
	}
	return recordedRequest{}
}

type event struct {
	name   string
	detail string
}

type recordingMonitor struct {
	mu     sync.Mutex
	events []event
}

func (m *recordingMonitor) record(name, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{name, detail})
}

func (m *recordingMonitor) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.name
	}
	return names
}

func (m *recordingMonitor) AuditRegistered(ctx context.Context, deviceID string) {
	m.record("registered", deviceID)
}

func (m *recordingMonitor) AuditLinked(ctx context.Context, deviceID string) {
	m.record("linked", deviceID)
}

func (m *recordingMonitor) AuditRefreshed(ctx context.Context) {
	m.record("refreshed", "")
}

func (m *recordingMonitor) AuditRefreshFailed(ctx context.Context, reason string) {
	m.record("refresh_failed", reason)
}

func (m *recordingMonitor) AuditTokenCleared(ctx context.Context) {
	m.record("token_cleared", "")
}

type testEnv struct {
	client  *Client
	store   *MemoryStore
	backend *fakeBackend
	clock   *fakeClock
	monitor *recordingMonitor
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   NewMemoryStore(),
		backend: newFakeBackend(),
		clock:   newFakeClock(),
		monitor: &recordingMonitor{},
	}
	opts = append([]Option{
		WithHTTPClient(&http.Client{Transport: env.backend}),
		WithClock(env.clock.Now, env.clock.Sleep),
		WithMonitor(env.monitor),
		WithUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"),
	}, opts...)
	env.client = New(env.store, opts...)
	return env
}

func (e *testEnv) saveToken(t *testing.T, token string, expiresAt time.Time) {
	t.Helper()
	if err := e.client.SaveToken(context.Background(), DeviceToken{Token: token, ExpiresAt: expiresAt}); err != nil {
		t.Fatal(err)
	}
}

// failingStore fails every operation with err.
type failingStore struct {
	err error
}

func (s failingStore) Load(ctx context.Context, key string) ([]byte, error)     { return nil, s.err }
func (s failingStore) Save(ctx context.Context, key string, value []byte) error { return s.err }
func (s failingStore) Delete(ctx context.Context, key string) error             { return s.err }

// loadFailingStore wraps a Storer and fails loads of a single key.
type loadFailingStore struct {
	Storer
	key string
	err error
}

func (s loadFailingStore) Load(ctx context.Context, key string) ([]byte, error) {
	if key == s.key {
		return nil, s.err
	}
	return s.Storer.Load(ctx, key)
}
