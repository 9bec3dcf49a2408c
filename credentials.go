package devicepair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// GetStoredDeviceInfo returns the persisted pairing session, or nil if none is stored.
func (c *Client) GetStoredDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	ok, err := c.loadJSON(ctx, KeyDeviceInfo, &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

func (c *Client) SaveDeviceInfo(ctx context.Context, info DeviceInfo) error {
	return c.saveJSON(ctx, KeyDeviceInfo, info)
}

// GetStoredToken returns the persisted bearer token, or nil if none is stored.
// The token is returned whether or not it has expired.
func (c *Client) GetStoredToken(ctx context.Context) (*DeviceToken, error) {
	var token DeviceToken
	ok, err := c.loadJSON(ctx, KeyDeviceToken, &token)
	if err != nil || !ok {
		return nil, err
	}
	return &token, nil
}

func (c *Client) SaveToken(ctx context.Context, token DeviceToken) error {
	return c.saveJSON(ctx, KeyDeviceToken, token)
}

// ClearToken erases the stored token. Call it on logout or when a protected
// endpoint no longer recognizes the token, then pair again.
func (c *Client) ClearToken(ctx context.Context) error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	if err := c.store.Delete(ctx, KeyDeviceToken); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	c.config.Monitor.AuditTokenCleared(ctx)
	return nil
}

func (c *Client) loadJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.store.Load(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) saveJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
