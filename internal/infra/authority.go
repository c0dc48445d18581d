package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

const (
	policyPath    = "/api/forbidden-apps"
	alertsPath    = "/api/alerts"
	heartbeatPath = "/api/agent/heartbeat"

	// DefaultRequestTimeout bounds every call to the authority.
	DefaultRequestTimeout = 15 * time.Second

	userAgent = "appguard"
)

// heartbeatPayload is the body of a heartbeat call.
type heartbeatPayload struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// AuthorityClient talks to the remote authority over HTTP+JSON.
// It implements policy fetch, violation reporting and heartbeats.
type AuthorityClient struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewAuthorityClient creates a client whose calls are bounded by timeout.
func NewAuthorityClient(timeout time.Duration) *AuthorityClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &AuthorityClient{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		now:     time.Now,
	}
}

// NewAuthorityClientWithHTTP creates a client around a custom http.Client (for testing).
func NewAuthorityClientWithHTTP(client *http.Client, timeout time.Duration) *AuthorityClient {
	c := NewAuthorityClient(timeout)
	c.client = client
	return c
}

// FetchPolicy returns the authority's current forbidden-application list.
func (c *AuthorityClient) FetchPolicy(ctx context.Context, authorityURL, credential string) ([]domain.PolicyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, authorityURL, policyPath, credential, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch policy: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return nil, &domain.StatusError{Op: "fetch policy", StatusCode: resp.StatusCode}
	}

	var entries []domain.PolicyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode policy: %v", domain.ErrParse, err)
	}
	if entries == nil {
		entries = []domain.PolicyEntry{}
	}
	return entries, nil
}

// ReportViolation submits a single violation record.
func (c *AuthorityClient) ReportViolation(ctx context.Context, authorityURL, credential string, v domain.Violation) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode violation: %v", domain.ErrParse, err)
	}
	return c.post(ctx, authorityURL, alertsPath, credential, body, "report violation")
}

// SendHeartbeat tells the authority this device is alive.
func (c *AuthorityClient) SendHeartbeat(ctx context.Context, authorityURL, credential, deviceID string) error {
	body, err := json.Marshal(heartbeatPayload{
		DeviceID:  deviceID,
		Timestamp: c.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode heartbeat: %v", domain.ErrParse, err)
	}
	return c.post(ctx, authorityURL, heartbeatPath, credential, body, "heartbeat")
}

func (c *AuthorityClient) post(ctx context.Context, authorityURL, path, credential string, body []byte, op string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, authorityURL, path, credential, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNetwork, op, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *AuthorityClient) newRequest(ctx context.Context, method, authorityURL, path, credential string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(authorityURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// drain discards a bounded amount of the body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}

// Ensure AuthorityClient implements the authority-facing interfaces.
var (
	_ domain.PolicyFetcher     = (*AuthorityClient)(nil)
	_ domain.ViolationReporter = (*AuthorityClient)(nil)
	_ domain.HeartbeatSender   = (*AuthorityClient)(nil)
)
