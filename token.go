package devicepair

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const refreshTimeout = 30 * time.Second

// Refresh trades bearer for a new token. A non-2xx response yields nil, nil so
// callers fall back to pairing again; transport errors are returned.
// The new token is only stored and returned while bearer is still the stored
// token, so a refresh racing ClearToken cannot undo a logout.
func (c *Client) Refresh(ctx context.Context, apiBaseURL, bearer string) (*DeviceToken, error) {
	resp, err := c.postJSON(ctx, joinURL(apiBaseURL, refreshPath), struct{}{}, bearer)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readErrorBody(resp)
		c.logger().Warn("token refresh rejected", "status", resp.StatusCode, "body", string(body))
		c.config.Monitor.AuditRefreshFailed(ctx, fmt.Sprintf("status %d", resp.StatusCode))
		return nil, nil
	}

	var token DeviceToken
	if err := decodeResponse(resp, &token); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	current, err := c.GetStoredToken(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Token != bearer {
		c.logger().Info("discarded refreshed token; stored token changed during refresh")
		return nil, nil
	}
	if err := c.SaveToken(ctx, token); err != nil {
		return nil, err
	}

	c.logger().Info("refreshed device token", "expires_at", token.ExpiresAt)
	c.config.Monitor.AuditRefreshed(ctx)
	return &token, nil
}

// GetValidTokenOrRefresh returns the stored token while it is outside the
// expiry margin and tries to refresh it otherwise. A nil token with a nil
// error means the device is not currently authenticated.
func (c *Client) GetValidTokenOrRefresh(ctx context.Context, apiBaseURL string) (*DeviceToken, error) {
	stored, err := c.GetStoredToken(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if stored.Valid(c.now(), c.config.ExpiryMargin) {
		return stored, nil
	}

	// Concurrent callers share one refresh call per backend. The shared call
	// outlives any single caller's cancellation.
	ch := c.refreshG.DoChan(apiBaseURL, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.Refresh(ctx, apiBaseURL, stored.Token)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		c.logger().Warn("token refresh failed", "error", res.Err)
		c.config.Monitor.AuditRefreshFailed(ctx, res.Err.Error())
		return nil, nil
	}
	token, _ := res.Val.(*DeviceToken)
	if token == nil {
		return nil, nil
	}
	return token, nil
}

// FetchRequest describes a request made through AuthorizedFetch.
// Method defaults to GET.
type FetchRequest struct {
	Method string
	Header http.Header
	Body   io.Reader
}

// AuthorizedFetch sends a request to path on the backend as the paired device.
// It fails with ErrNotAuthenticated instead of sending the request without a
// token. The response is returned as is; the caller must close its body.
func (c *Client) AuthorizedFetch(ctx context.Context, apiBaseURL, path string, fr FetchRequest) (*http.Response, error) {
	token, err := c.GetValidTokenOrRefresh(ctx, apiBaseURL)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotAuthenticated
	}

	method := fr.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, joinURL(apiBaseURL, path), fr.Body)
	if err != nil {
		return nil, err
	}
	for k, vs := range fr.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)

	return c.config.HTTPClient.Do(req)
}

// TokenSource exposes the device token as an oauth2.TokenSource. Token
// returns ErrNotAuthenticated when no valid token can be obtained.
func (c *Client) TokenSource(ctx context.Context, apiBaseURL string) oauth2.TokenSource {
	src := &tokenSource{ctx: ctx, client: c, apiBaseURL: apiBaseURL}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, c.config.ExpiryMargin)
}

// HTTPClient returns an *http.Client that authorizes every request with the
// device token, built on the client's configured transport.
func (c *Client) HTTPClient(ctx context.Context, apiBaseURL string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.config.HTTPClient)
	return oauth2.NewClient(ctx, c.TokenSource(ctx, apiBaseURL))
}

type tokenSource struct {
	ctx        context.Context
	client     *Client
	apiBaseURL string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.client.GetValidTokenOrRefresh(s.ctx, s.apiBaseURL)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken: token.Token,
		TokenType:   "Bearer",
		Expiry:      token.ExpiresAt,
	}, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
