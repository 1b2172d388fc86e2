package pxclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// APIVersion is the result of api_version.
type APIVersion struct {
	APIVersion      string `json:"api_version"`
	APILevel        int    `json:"api_level"`
	FirmwareVersion string `json:"firmware_version"`
}

// Ping sends api_ping and returns the device's reply string.
func (c *Client) Ping(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "api_ping", nil)
	if err != nil {
		return "", err
	}
	var pong string
	if err := json.Unmarshal(result, &pong); err != nil {
		return string(result), nil
	}
	return pong, nil
}

// Version sends api_version.
func (c *Client) Version(ctx context.Context) (*APIVersion, error) {
	result, err := c.Call(ctx, "api_version", nil)
	if err != nil {
		return nil, err
	}
	var v APIVersion
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, fmt.Errorf("decode api_version result: %w", err)
	}
	return &v, nil
}

// SetupGet reads the configuration subtree at path.
func (c *Client) SetupGet(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Call(ctx, "setup_get", map[string]any{"path": path})
}

// SetupSet writes value at path. Value may be a scalar or an object merged
// into the subtree.
func (c *Client) SetupSet(ctx context.Context, path string, value any) error {
	_, err := c.Call(ctx, "setup_set", map[string]any{"path": path, "value": value})
	return err
}

// SetupGetAll reads the entire device configuration tree.
func (c *Client) SetupGetAll(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "setup_get_all", nil)
}

// StatusGet reads the runtime status subtree at path.
func (c *Client) StatusGet(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Call(ctx, "status_get", map[string]any{"path": path})
}
