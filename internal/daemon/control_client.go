package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ControlClient talks to a running daemon's control server.
type ControlClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewControlClient creates a client for the daemon at addr (host:port).
func NewControlClient(addr string) *ControlClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &ControlClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WithSecret sets the control secret sent with every request.
func (c *ControlClient) WithSecret(secret string) *ControlClient {
	c.secret = secret
	return c
}

// SetCredential hands the daemon a bearer token.
func (c *ControlClient) SetCredential(ctx context.Context, token string) error {
	body, err := json.Marshal(credentialRequest{Token: token})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/credential", body, nil)
}

// ClearCredential removes the daemon's token; it stops syncing and scanning.
func (c *ControlClient) ClearCredential(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/credential", nil, nil)
}

// Status fetches the daemon's status.
func (c *ControlClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ControlClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable (is 'appguard run' running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return nil
}
