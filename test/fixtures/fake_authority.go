package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// FakeAuthority is an in-process compliance authority. It serves a
// configurable policy and records every alert and heartbeat it receives.
type FakeAuthority struct {
	Server *httptest.Server
	Token  string

	mu             sync.Mutex
	policy         []domain.PolicyEntry
	policyDown     bool
	policyRequests int
	alerts         []domain.Violation
	heartbeats     int
}

// NewFakeAuthority starts an authority that accepts only token.
func NewFakeAuthority(token string, policy []domain.PolicyEntry) *FakeAuthority {
	a := &FakeAuthority{Token: token, policy: policy}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/forbidden-apps", a.handlePolicy)
	mux.HandleFunc("POST /api/alerts", a.handleAlert)
	mux.HandleFunc("POST /api/agent/heartbeat", a.handleHeartbeat)
	a.Server = httptest.NewServer(mux)
	return a
}

// URL returns the authority base URL.
func (a *FakeAuthority) URL() string {
	return a.Server.URL
}

// Close shuts the server down.
func (a *FakeAuthority) Close() {
	a.Server.Close()
}

// SetPolicyDown makes the policy endpoint answer 503.
func (a *FakeAuthority) SetPolicyDown(down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policyDown = down
}

// PolicyRequests returns how many policy fetches were received.
func (a *FakeAuthority) PolicyRequests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policyRequests
}

// Alerts returns a copy of the received alerts.
func (a *FakeAuthority) Alerts() []domain.Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Violation, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// AlertsForPID counts alerts for one process.
func (a *FakeAuthority) AlertsForPID(pid int) int {
	n := 0
	for _, v := range a.Alerts() {
		if v.ProcessID == pid {
			n++
		}
	}
	return n
}

// Heartbeats returns how many heartbeats were received.
func (a *FakeAuthority) Heartbeats() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeats
}

func (a *FakeAuthority) authorized(r *http.Request) bool {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == a.Token
}

func (a *FakeAuthority) handlePolicy(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.policyRequests++
	down := a.policyDown
	policy := a.policy
	a.mu.Unlock()

	if !a.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(policy)
}

func (a *FakeAuthority) handleAlert(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var v domain.Violation
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.alerts = append(a.alerts, v)
	a.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (a *FakeAuthority) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	a.mu.Lock()
	a.heartbeats++
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
