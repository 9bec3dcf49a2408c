package devicepair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	registerPath = "/api/devices/register"
	exchangePath = "/api/devices/exchange"
	refreshPath  = "/api/devices/refresh"

	maxErrorBody = 512
)

// GetOrRegisterDevice returns the stored pairing session if its code has not
// expired and registers a new one otherwise. Prefer it over RegisterDevice.
func (c *Client) GetOrRegisterDevice(ctx context.Context, apiBaseURL string) (*DeviceInfo, error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	info, err := c.GetStoredDeviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil && !info.Expired(c.now()) {
		return info, nil
	}
	return c.registerDevice(ctx, apiBaseURL)
}

// RegisterDevice always opens a new pairing session on the backend and
// replaces the stored DeviceInfo with it.
func (c *Client) RegisterDevice(ctx context.Context, apiBaseURL string) (*DeviceInfo, error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	return c.registerDevice(ctx, apiBaseURL)
}

func (c *Client) registerDevice(ctx context.Context, apiBaseURL string) (*DeviceInfo, error) {
	id, err := c.installIdentity(ctx)
	if err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(id, BrowserLabel(c.config.UserAgent))

	body := map[string]string{"device_fingerprint": fingerprint}
	resp, err := c.postJSON(ctx, joinURL(apiBaseURL, registerPath), body, "")
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, newStatusError("register", ErrRegistrationFailed, resp.StatusCode, readErrorBody(resp))
	}

	var info DeviceInfo
	if err := decodeResponse(resp, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if err := c.SaveDeviceInfo(ctx, info); err != nil {
		return nil, err
	}

	c.logger().Info("registered device", "expires_at", info.ExpiresAt)
	c.config.Monitor.AuditRegistered(ctx, info.DeviceID)
	return &info, nil
}

// BuildSignInURL returns the web app URL the user opens to link code, in the
// form <webBaseURL>/?source=extension&code=<code>.
func BuildSignInURL(webBaseURL, code string) (string, error) {
	base, err := url.Parse(strings.TrimRight(webBaseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path = base.Path + "/"
	base.RawPath = ""
	// Built by hand because url.Values.Encode sorts keys and source goes first.
	base.RawQuery = "source=extension&code=" + url.QueryEscape(code)
	base.Fragment = ""
	return base.String(), nil
}

// Exchange redeems code for a bearer token. It returns nil, nil while the code
// is still waiting to be linked (404 or 425), and a StatusError matching
// ErrExchangeFailed for any other non-2xx response.
func (c *Client) Exchange(ctx context.Context, apiBaseURL, deviceID, code string) (*DeviceToken, error) {
	body := map[string]string{"deviceId": deviceID, "code": code}
	resp, err := c.postJSON(ctx, joinURL(apiBaseURL, exchangePath), body, "")
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusTooEarly:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case !isSuccess(resp.StatusCode):
		return nil, newStatusError("exchange", ErrExchangeFailed, resp.StatusCode, readErrorBody(resp))
	}

	var token DeviceToken
	if err := decodeResponse(resp, &token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	if err := c.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	// The code is single-use once linked.
	info, err := c.GetStoredDeviceInfo(ctx)
	if err != nil {
		c.logger().Warn("load device info after link", "error", err)
	} else if info != nil && info.Code == code {
		if err := c.store.Delete(ctx, KeyDeviceInfo); err != nil {
			c.logger().Warn("discard linked device info", "error", err)
		}
	}

	c.logger().Info("device linked", "expires_at", token.ExpiresAt)
	c.config.Monitor.AuditLinked(ctx, deviceID)
	return &token, nil
}

// PollOptions bound PollExchangeUntilLinked. Zero values use the client defaults.
type PollOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// PollExchangeUntilLinked calls Exchange every Interval until it yields a
// token or MaxWait has elapsed since polling began, in which case it returns
// nil, nil. Attempts are strictly sequential. Transport errors and bad
// statuses from individual attempts are logged and retried until the
// deadline; only context cancellation ends polling early with an error.
func (c *Client) PollExchangeUntilLinked(ctx context.Context, apiBaseURL, deviceID, code string, opts PollOptions) (*DeviceToken, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = c.config.PollInterval
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = c.config.MaxWait
	}

	start := c.now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		token, err := c.Exchange(ctx, apiBaseURL, deviceID, code)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			c.logger().Warn("exchange attempt failed", "attempt", attempt, "error", err)
		case token != nil:
			return token, nil
		default:
			c.logger().Debug("device not linked yet", "attempt", attempt)
		}

		if c.now().Sub(start) >= maxWait {
			c.logger().Warn("gave up waiting for device link", "attempts", attempt, "max_wait", maxWait)
			return nil, nil
		}
		if err := c.config.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any, bearer string) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.config.HTTPClient.Do(req)
}

func decodeResponse(resp *http.Response, dst any) error {
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response body")
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return validateResponse(dst)
}

func readErrorBody(resp *http.Response) []byte {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return bytes.TrimSpace(b)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
