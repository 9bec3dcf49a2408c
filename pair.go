package devicepair

import (
	"context"
	"fmt"
)

// PromptFunc shows the sign-in URL to the user, e.g. by opening a browser tab.
type PromptFunc func(ctx context.Context, signInURL string) error

// Pair runs the whole pairing flow and returns a usable token. An existing
// valid (or refreshable) token short-circuits the flow. When nobody links the
// code before the poll deadline Pair returns ErrPairingTimedOut.
func (c *Client) Pair(ctx context.Context, apiBaseURL, webBaseURL string, prompt PromptFunc) (*DeviceToken, error) {
	token, err := c.GetValidTokenOrRefresh(ctx, apiBaseURL)
	if err != nil {
		return nil, err
	}
	if token != nil {
		return token, nil
	}

	info, err := c.GetOrRegisterDevice(ctx, apiBaseURL)
	if err != nil {
		return nil, err
	}

	signInURL, err := BuildSignInURL(webBaseURL, info.Code)
	if err != nil {
		return nil, fmt.Errorf("build sign-in url: %w", err)
	}
	if prompt != nil {
		if err := prompt(ctx, signInURL); err != nil {
			return nil, fmt.Errorf("prompt: %w", err)
		}
	}

	// Never wait past the code's own expiry.
	opts := PollOptions{MaxWait: c.config.MaxWait}
	if untilExpiry := info.ExpiresAt.Sub(c.now()); untilExpiry > 0 && untilExpiry < opts.MaxWait {
		opts.MaxWait = untilExpiry
	}

	token, err = c.PollExchangeUntilLinked(ctx, apiBaseURL, info.DeviceID, info.Code, opts)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrPairingTimedOut
	}
	return token, nil
}
