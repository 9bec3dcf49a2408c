package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gammatimetable/devicepair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webBaseURL = "https://web.example.com/"
	chromeUA   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Package-level shared test server
var testServer *TestServer

func TestMain(m *testing.M) {
	testServer = NewTestServer()
	code := m.Run()
	testServer.Close()
	os.Exit(code)
}

func newClient(opts ...devicepair.Option) *devicepair.Client {
	opts = append([]devicepair.Option{
		devicepair.WithPollInterval(20 * time.Millisecond),
		devicepair.WithMaxWait(5 * time.Second),
		devicepair.WithUserAgent(chromeUA),
	}, opts...)
	return devicepair.New(devicepair.NewMemoryStore(), opts...)
}

// linkAfter simulates a user opening the sign-in URL and linking the code.
func linkAfter(t *testing.T, ts *TestServer, delay time.Duration) devicepair.PromptFunc {
	return func(ctx context.Context, signInURL string) error {
		u, err := url.Parse(signInURL)
		if err != nil {
			return err
		}
		assert.Equal(t, "extension", u.Query().Get("source"))
		code := u.Query().Get("code")
		go func() {
			time.Sleep(delay)
			assert.NoError(t, ts.Link(code))
		}()
		return nil
	}
}

func getMe(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	return me
}

func TestE2E_Pair_FullFlow(t *testing.T) {
	testServer.Reset()
	ctx := context.Background()
	client := newClient()

	token, err := client.Pair(ctx, testServer.URL(), webBaseURL, linkAfter(t, testServer, 60*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Token)
	assert.Equal(t, 1, testServer.Calls("/api/devices/register"))
	assert.GreaterOrEqual(t, testServer.Calls("/api/devices/exchange"), 1)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, devicepair.StateLinked, status.State)
	assert.Nil(t, status.Info, "linked code is discarded")

	resp, err := client.AuthorizedFetch(ctx, testServer.URL(), "/api/me", devicepair.FetchRequest{})
	require.NoError(t, err)
	me := getMe(t, resp)
	assert.NotEmpty(t, me["deviceId"])
	assert.Equal(t, "application/json", me["content_type"])

	fingerprint, err := client.ComputeFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fingerprint, testServer.Fingerprint(me["deviceId"]))
}

func TestE2E_Pair_ReusesExistingToken(t *testing.T) {
	testServer.Reset()
	ctx := context.Background()
	client := newClient()

	first, err := client.Pair(ctx, testServer.URL(), webBaseURL, linkAfter(t, testServer, 0))
	require.NoError(t, err)

	second, err := client.Pair(ctx, testServer.URL(), webBaseURL, func(context.Context, string) error {
		t.Fatal("prompt must not be shown when a valid token exists")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, testServer.Calls("/api/devices/register"))
}

func TestE2E_Pair_TimesOut(t *testing.T) {
	testServer.Reset()
	client := newClient(devicepair.WithMaxWait(100 * time.Millisecond))

	_, err := client.Pair(context.Background(), testServer.URL(), webBaseURL, nil)
	assert.ErrorIs(t, err, devicepair.ErrPairingTimedOut)
}

func TestE2E_RefreshBeforeExpiry(t *testing.T) {
	ts := NewTestServer(WithTokenTTL(30 * time.Second))
	defer ts.Close()
	ctx := context.Background()
	// Every 30s token falls inside the 60s margin, so each use refreshes.
	client := newClient(devicepair.WithExpiryMargin(time.Minute))

	paired, err := client.Pair(ctx, ts.URL(), webBaseURL, linkAfter(t, ts, 0))
	require.NoError(t, err)

	resp, err := client.AuthorizedFetch(ctx, ts.URL(), "/api/me", devicepair.FetchRequest{})
	require.NoError(t, err)
	getMe(t, resp)
	assert.Equal(t, 1, ts.Calls("/api/devices/refresh"))

	stored, err := client.GetStoredToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, paired.Token, stored.Token)
}

func TestE2E_RevokedToken(t *testing.T) {
	ts := NewTestServer()
	defer ts.Close()
	ctx := context.Background()
	client := newClient()

	_, err := client.Pair(ctx, ts.URL(), webBaseURL, linkAfter(t, ts, 0))
	require.NoError(t, err)

	ts.RevokeAll()
	resp, err := client.AuthorizedFetch(ctx, ts.URL(), "/api/me", devicepair.FetchRequest{})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, client.ClearToken(ctx))
	_, err = client.AuthorizedFetch(ctx, ts.URL(), "/api/me", devicepair.FetchRequest{})
	assert.ErrorIs(t, err, devicepair.ErrNotAuthenticated)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, devicepair.StateUnregistered, status.State)
}

func TestE2E_CodeIsSingleUse(t *testing.T) {
	testServer.Reset()
	ctx := context.Background()
	client := newClient()

	info, err := client.GetOrRegisterDevice(ctx, testServer.URL())
	require.NoError(t, err)
	require.NoError(t, testServer.Link(info.Code))

	token, err := client.Exchange(ctx, testServer.URL(), info.DeviceID, info.Code)
	require.NoError(t, err)
	require.NotNil(t, token)

	_, err = client.Exchange(ctx, testServer.URL(), info.DeviceID, info.Code)
	var statusErr *devicepair.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
	assert.ErrorIs(t, err, devicepair.ErrExchangeFailed)
}

func TestE2E_PollRecoversFromServerErrors(t *testing.T) {
	testServer.Reset()
	ctx := context.Background()
	client := newClient()

	info, err := client.GetOrRegisterDevice(ctx, testServer.URL())
	require.NoError(t, err)
	testServer.FailNext("/api/devices/exchange", http.StatusBadGateway, http.StatusServiceUnavailable)
	require.NoError(t, testServer.Link(info.Code))

	token, err := client.PollExchangeUntilLinked(ctx, testServer.URL(), info.DeviceID, info.Code, devicepair.PollOptions{})
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, 3, testServer.Calls("/api/devices/exchange"))
}

func TestE2E_RegistrationFailure(t *testing.T) {
	testServer.Reset()
	testServer.FailNext("/api/devices/register", http.StatusInternalServerError)

	_, err := newClient().GetOrRegisterDevice(context.Background(), testServer.URL())
	var statusErr *devicepair.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.ErrorIs(t, err, devicepair.ErrRegistrationFailed)
}

func TestE2E_OAuth2HTTPClient(t *testing.T) {
	testServer.Reset()
	ctx := context.Background()
	client := newClient()

	_, err := client.Pair(ctx, testServer.URL(), webBaseURL, linkAfter(t, testServer, 0))
	require.NoError(t, err)

	resp, err := client.HTTPClient(ctx, testServer.URL()).Get(testServer.URL() + "/api/me")
	require.NoError(t, err)
	me := getMe(t, resp)
	assert.NotEmpty(t, me["deviceId"])
}
