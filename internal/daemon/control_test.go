package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
	"github.com/eliteGoblin/focusd/appguard/internal/infra"
	"github.com/eliteGoblin/focusd/appguard/internal/metrics"
)

// staticStatus implements StatusProvider for testing
type staticStatus struct {
	status Status
}

func (s *staticStatus) Status() Status {
	return s.status
}

func newTestControl(t *testing.T) (*ControlServer, *infra.CredentialStore, *EventBuffer) {
	t.Helper()
	creds := infra.NewCredentialStore()
	events := NewEventBuffer(5)
	status := &staticStatus{status: Status{State: StateIdle, PolicyEntries: 2, ReportedPIDs: 1}}
	m := metrics.New()
	m.RecordSync("authority", 2)
	return NewControlServer("127.0.0.1:0", creds, status, events, m.Handler(), zap.NewNop()), creds, events
}

func TestControlServer_Credential(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		initial    string
		wantStatus int
		wantToken  string
	}{
		{name: "set", method: http.MethodPost, body: `{"token":"abc"}`, wantStatus: http.StatusNoContent, wantToken: "abc"},
		{name: "replace", method: http.MethodPost, body: `{"token":"new"}`, initial: "old", wantStatus: http.StatusNoContent, wantToken: "new"},
		{name: "bad json", method: http.MethodPost, body: `{"token":`, initial: "keep", wantStatus: http.StatusBadRequest, wantToken: "keep"},
		{name: "empty token", method: http.MethodPost, body: `{"token":""}`, initial: "keep", wantStatus: http.StatusBadRequest, wantToken: "keep"},
		{name: "clear", method: http.MethodDelete, initial: "abc", wantStatus: http.StatusNoContent, wantToken: ""},
		{name: "wrong method", method: http.MethodGet, initial: "keep", wantStatus: http.StatusMethodNotAllowed, wantToken: "keep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, creds, _ := newTestControl(t)
			creds.Set(tt.initial)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/credential", strings.NewReader(tt.body))
			if tt.method == http.MethodPost {
				req.Header.Set("Content-Type", "application/json")
			}
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantToken, creds.Get())
		})
	}
}

func TestControlServer_RejectsBrowserRequests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		origin      string
		wantStatus  int
	}{
		{name: "text/plain credential", method: http.MethodPost, path: "/credential", contentType: "text/plain", wantStatus: http.StatusUnsupportedMediaType},
		{name: "form credential", method: http.MethodPost, path: "/credential", contentType: "application/x-www-form-urlencoded", wantStatus: http.StatusUnsupportedMediaType},
		{name: "missing content type", method: http.MethodPost, path: "/credential", wantStatus: http.StatusUnsupportedMediaType},
		{name: "json credential from web page", method: http.MethodPost, path: "/credential", contentType: "application/json", origin: "https://evil.example", wantStatus: http.StatusForbidden},
		{name: "text/plain from web page", method: http.MethodPost, path: "/credential", contentType: "text/plain", origin: "https://evil.example", wantStatus: http.StatusForbidden},
		{name: "clear from web page", method: http.MethodDelete, path: "/credential", origin: "null", wantStatus: http.StatusForbidden},
		{name: "status from web page", method: http.MethodGet, path: "/status", origin: "https://evil.example", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, creds, _ := newTestControl(t)
			creds.Set("keep")

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"token":"attacker"}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "keep", creds.Get())
		})
	}
}

func TestControlServer_Secret(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		path          string
		authorization string
		wantStatus    int
		wantToken     string
	}{
		{name: "set without secret", method: http.MethodPost, path: "/credential", wantStatus: http.StatusUnauthorized, wantToken: "keep"},
		{name: "set with wrong secret", method: http.MethodPost, path: "/credential", authorization: "Bearer wrong", wantStatus: http.StatusUnauthorized, wantToken: "keep"},
		{name: "set with bare secret", method: http.MethodPost, path: "/credential", authorization: "s3cret", wantStatus: http.StatusUnauthorized, wantToken: "keep"},
		{name: "set with secret", method: http.MethodPost, path: "/credential", authorization: "Bearer s3cret", wantStatus: http.StatusNoContent, wantToken: "new"},
		{name: "clear without secret", method: http.MethodDelete, path: "/credential", wantStatus: http.StatusUnauthorized, wantToken: "keep"},
		{name: "status without secret", method: http.MethodGet, path: "/status", wantStatus: http.StatusUnauthorized, wantToken: "keep"},
		{name: "status with secret", method: http.MethodGet, path: "/status", authorization: "Bearer s3cret", wantStatus: http.StatusOK, wantToken: "keep"},
		{name: "metrics stay open", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK, wantToken: "keep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, creds, _ := newTestControl(t)
			srv.WithSecret("s3cret")
			creds.Set("keep")

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"token":"new"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantToken, creds.Get())
		})
	}
}

func TestControlSecret_WriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := WriteControlSecret(dir)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	info, err := os.Stat(ControlSecretPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := ReadControlSecret(dir)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second, err := WriteControlSecret(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = ReadControlSecret(t.TempDir())
	assert.Error(t, err)
}

func TestControlServer_Status(t *testing.T) {
	srv, _, events := newTestControl(t)
	events.PolicyUpdated(2)
	events.ViolationDetected(domain.Violation{AppDetected: "steam", ProcessID: 5})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "idle", raw["state"])
	assert.Equal(t, float64(2), raw["policy_entries"])
	assert.Equal(t, float64(1), raw["reported_pids"])
	recent, ok := raw["recent_events"].([]any)
	require.True(t, ok)
	assert.Len(t, recent, 2)
}

func TestControlServer_Metrics(t *testing.T) {
	srv, _, _ := newTestControl(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "appguard_policy_entries 2")
}

func TestControlServer_MetricsDisabled(t *testing.T) {
	srv := NewControlServer("127.0.0.1:0", infra.NewCredentialStore(), &staticStatus{}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recent_events":[]`)
}

func TestControlClient_RoundTrip(t *testing.T) {
	srv, creds, _ := newTestControl(t)
	srv.WithSecret("s3cret")
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	client := NewControlClient(srv.Addr()).WithSecret("s3cret")
	ctx := context.Background()

	require.NoError(t, client.SetCredential(ctx, "secret"))
	assert.Equal(t, "secret", creds.Get())

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 2, st.PolicyEntries)

	require.NoError(t, client.ClearCredential(ctx))
	assert.Empty(t, creds.Get())

	err = client.SetCredential(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	err = NewControlClient(srv.Addr()).SetCredential(ctx, "stolen")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Empty(t, creds.Get())
}

func TestControlClient_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	_, err := NewControlClient(addr).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}
