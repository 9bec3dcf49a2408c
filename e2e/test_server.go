// Package e2e provides an in-process pairing backend for end-to-end tests of
// the device pairing client.
package e2e

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestServer is a fake pairing backend. It implements register, exchange and
// refresh, a protected /api/me, and Link to simulate the web session.
type TestServer struct {
	Server *httptest.Server

	CodeTTL  time.Duration
	TokenTTL time.Duration

	secret []byte

	mu       sync.Mutex
	devices  map[string]*device // by device ID
	codes    map[string]string  // code -> device ID
	revoked  map[string]bool    // token ID -> revoked
	calls    map[string]int     // path -> count
	failures map[string][]int   // path -> queued status codes
}

type device struct {
	id          string
	code        string
	fingerprint string
	expiresAt   time.Time
	linked      bool
	exchanged   bool
}

// TestServerOption configures a TestServer.
type TestServerOption func(*TestServer)

func WithCodeTTL(d time.Duration) TestServerOption {
	return func(ts *TestServer) {
		ts.CodeTTL = d
	}
}

func WithTokenTTL(d time.Duration) TestServerOption {
	return func(ts *TestServer) {
		ts.TokenTTL = d
	}
}

func NewTestServer(opts ...TestServerOption) *TestServer {
	ts := &TestServer{
		CodeTTL:  10 * time.Minute,
		TokenTTL: time.Hour,
		secret:   []byte("e2e-signing-secret"),
	}
	for _, opt := range opts {
		opt(ts)
	}
	ts.Reset()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ts.countCalls)

	r.Route("/api/devices", func(r chi.Router) {
		r.Post("/register", ts.handleRegister)
		r.Post("/exchange", ts.handleExchange)
		r.Post("/refresh", ts.handleRefresh)
	})
	r.Get("/api/me", ts.handleMe)

	ts.Server = httptest.NewServer(r)
	return ts
}

func (ts *TestServer) URL() string {
	return ts.Server.URL
}

func (ts *TestServer) Close() {
	ts.Server.Close()
}

// Reset clears all devices, tokens and counters.
func (ts *TestServer) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.devices = map[string]*device{}
	ts.codes = map[string]string{}
	ts.revoked = map[string]bool{}
	ts.calls = map[string]int{}
	ts.failures = map[string][]int{}
}

// Link marks code as linked, as the authenticated web session would.
func (ts *TestServer) Link(code string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id, ok := ts.codes[code]
	if !ok {
		return fmt.Errorf("unknown code %q", code)
	}
	d := ts.devices[id]
	if time.Now().After(d.expiresAt) {
		return errors.New("code expired")
	}
	d.linked = true
	return nil
}

// Calls returns how many requests path has received.
func (ts *TestServer) Calls(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.calls[path]
}

// FailNext makes the next len(statuses) requests to path fail with the given statuses.
func (ts *TestServer) FailNext(path string, statuses ...int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failures[path] = append(ts.failures[path], statuses...)
}

// Fingerprint returns the fingerprint a device registered with.
func (ts *TestServer) Fingerprint(deviceID string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if d, ok := ts.devices[deviceID]; ok {
		return d.fingerprint
	}
	return ""
}

// RevokeAll invalidates every issued token.
func (ts *TestServer) RevokeAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.revoked["*"] = true
}

func (ts *TestServer) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.calls[r.URL.Path]++
		var status int
		if queued := ts.failures[r.URL.Path]; len(queued) > 0 {
			status = queued[0]
			ts.failures[r.URL.Path] = queued[1:]
		}
		ts.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceFingerprint string `json:"device_fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	code, err := ts.generateCode()
	if err != nil {
		ts.mu.Unlock()
		http.Error(w, "generate code", http.StatusInternalServerError)
		return
	}
	d := &device{
		id:          uuid.NewString(),
		code:        code,
		fingerprint: req.DeviceFingerprint,
		expiresAt:   time.Now().Add(ts.CodeTTL).UTC(),
	}
	ts.devices[d.id] = d
	ts.codes[code] = d.id
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":  d.id,
		"code":      d.code,
		"expiresAt": d.expiresAt,
	})
}

func (ts *TestServer) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Code == "" {
		http.Error(w, "deviceId and code are required", http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	d, ok := ts.devices[req.DeviceID]
	switch {
	case !ok || d.code != req.Code:
		ts.mu.Unlock()
		http.Error(w, "unknown device", http.StatusBadRequest)
		return
	case d.exchanged || time.Now().After(d.expiresAt):
		ts.mu.Unlock()
		http.Error(w, "code no longer valid", http.StatusGone)
		return
	case !d.linked:
		ts.mu.Unlock()
		http.Error(w, "not linked yet", http.StatusNotFound)
		return
	}
	d.exchanged = true
	ts.mu.Unlock()

	ts.writeToken(w, d.id)
}

func (ts *TestServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// Expired tokens may be refreshed; only the signature and revocation are checked.
	claims, err := ts.parseBearer(r, jwt.WithoutClaimsValidation())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	ts.writeToken(w, claims.Subject)
}

func (ts *TestServer) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := ts.parseBearer(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":     claims.Subject,
		"content_type": r.Header.Get("Content-Type"),
	})
}

func (ts *TestServer) writeToken(w http.ResponseWriter, deviceID string) {
	expiresAt := time.Now().Add(ts.TokenTTL).UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		http.Error(w, "sign token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     signed,
		"expiresAt": expiresAt,
	})
}

func (ts *TestServer) parseBearer(r *http.Request, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.revoked["*"] || ts.revoked[claims.ID] {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

// generateCode creates a XXXX-XXXX code from an alphabet without vowels or
// look-alike characters. Callers hold ts.mu.
func (ts *TestServer) generateCode() (string, error) {
	const safeAlphabet = "BCDFGHJKLMNPQRSTVWXYZ23456789"
	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		for i := range b {
			b[i] = safeAlphabet[int(b[i])%len(safeAlphabet)]
		}
		code := string(b[:4]) + "-" + string(b[4:])
		if _, taken := ts.codes[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", maxAttempts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
