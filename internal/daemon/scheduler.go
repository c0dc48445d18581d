// Package daemon implements the monitoring scheduler and its local control surface.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
	"github.com/eliteGoblin/focusd/appguard/internal/metrics"
	"github.com/eliteGoblin/focusd/appguard/internal/policy"
)

// State is the scheduler's current activity.
type State string

const (
	StateWaitingForCredential State = "waiting_for_credential"
	StateIdle                 State = "idle"
	StateSyncing              State = "syncing"
	StateScanning             State = "scanning"
)

var allStates = []string{
	string(StateWaitingForCredential),
	string(StateIdle),
	string(StateSyncing),
	string(StateScanning),
}

// PolicySyncer produces the policy to enforce. It never fails; errors
// surface as a cache or empty fallback in the result.
type PolicySyncer interface {
	Sync(ctx context.Context, authorityURL, credential string) domain.SyncResult
}

// Scanner runs one inspect/match/dedupe/report cycle.
type Scanner interface {
	RunCycle(ctx context.Context, authorityURL, credential, deviceID string, p domain.Policy) *domain.ScanResult
	ReportedCount() int
}

// Settings holds the scheduler's tunables. They can change at runtime
// through UpdateSettings and are read once per tick.
type Settings struct {
	AuthorityURL      string
	SyncInterval      time.Duration // How often to refresh the policy (default 5 min)
	ScanInterval      time.Duration // Sleep between ticks (default 60s)
	CredentialBackoff time.Duration // Sleep while no credential is set (default 10s)
	HeartbeatInterval time.Duration // 0 disables heartbeats
}

// DefaultSettings returns default scheduler settings without an authority URL.
func DefaultSettings() Settings {
	return Settings{
		SyncInterval:      policy.DefaultSyncInterval,
		ScanInterval:      policy.DefaultScanInterval,
		CredentialBackoff: 10 * time.Second,
		HeartbeatInterval: 5 * time.Minute,
	}
}

// Status is a point-in-time view of the scheduler for the control server.
type Status struct {
	State          State      `json:"state"`
	DeviceID       string     `json:"device_id"`
	HasCredential  bool       `json:"has_credential"`
	PolicyEntries  int        `json:"policy_entries"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	LastSyncSource string     `json:"last_sync_source,omitempty"`
	LastScan       *time.Time `json:"last_scan,omitempty"`
	ReportedPIDs   int        `json:"reported_pids"`
}

// Scheduler drives the monitoring loop. One goroutine calls Run; cycles
// never overlap. The credential and the ReportedSet are the only state
// shared with other goroutines.
type Scheduler struct {
	credentials domain.CredentialReader
	syncer      PolicySyncer
	scanner     Scanner
	heartbeat   domain.HeartbeatSender // optional
	observer    domain.Observer        // optional
	metrics     *metrics.Metrics       // optional
	deviceID    string
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	settingsMu sync.Mutex
	settings   Settings

	mu             sync.RWMutex
	state          State
	current        domain.Policy
	lastSync       time.Time
	lastSyncSource domain.SyncSource
	lastScan       time.Time
	lastHeartbeat  time.Time
}

// NewScheduler creates a scheduler in the WaitingForCredential state.
func NewScheduler(
	settings Settings,
	credentials domain.CredentialReader,
	syncer PolicySyncer,
	scanner Scanner,
	deviceID string,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		credentials: credentials,
		syncer:      syncer,
		scanner:     scanner,
		deviceID:    deviceID,
		logger:      logger,
		settings:    settings,
		state:       StateWaitingForCredential,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// WithHeartbeat enables heartbeats through h.
func (s *Scheduler) WithHeartbeat(h domain.HeartbeatSender) *Scheduler {
	s.heartbeat = h
	return s
}

// WithObserver sets the notification consumer.
func (s *Scheduler) WithObserver(o domain.Observer) *Scheduler {
	s.observer = o
	return s
}

// WithMetrics records scheduler state and sync counters in m.
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	s.metrics.SetState(string(StateWaitingForCredential), allStates)
	return s
}

// Run loops until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.String("device_id", s.deviceID))

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopping")
			return err
		}

		wait := s.Tick(ctx)

		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Info("scheduler stopping")
			return err
		}
	}
}

// Tick runs one iteration of the loop and returns how long to sleep
// before the next one.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	settings := s.Settings()

	credential := s.credentials.Get()
	if credential == "" {
		s.setState(StateWaitingForCredential)
		return settings.CredentialBackoff
	}
	s.setState(StateIdle)

	now := s.now()

	if s.syncDue(now, settings.SyncInterval) {
		s.runSync(ctx, settings.AuthorityURL, credential, now)
	}

	if s.heartbeatDue(now, settings.HeartbeatInterval) {
		s.runHeartbeat(ctx, settings.AuthorityURL, credential, now)
	}

	p := s.Policy()
	if !p.IsEmpty() {
		s.setState(StateScanning)
		s.scanner.RunCycle(ctx, settings.AuthorityURL, credential, s.deviceID, p)
		s.mu.Lock()
		s.lastScan = now
		s.mu.Unlock()
	}

	s.setState(StateIdle)
	return settings.ScanInterval
}

func (s *Scheduler) syncDue(now time.Time, interval time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync.IsZero() || now.Sub(s.lastSync) >= interval
}

func (s *Scheduler) heartbeatDue(now time.Time, interval time.Duration) bool {
	if s.heartbeat == nil || interval <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat.IsZero() || now.Sub(s.lastHeartbeat) >= interval
}

// runSync replaces the current policy. lastSync advances even on
// fallback so a failing authority is not retried every tick.
func (s *Scheduler) runSync(ctx context.Context, authorityURL, credential string, now time.Time) {
	s.setState(StateSyncing)

	res := s.syncer.Sync(ctx, authorityURL, credential)

	s.mu.Lock()
	s.current = res.Policy
	s.lastSync = now
	s.lastSyncSource = res.Source
	s.mu.Unlock()

	s.metrics.RecordSync(string(res.Source), res.Policy.Len())

	fields := []zap.Field{
		zap.String("source", string(res.Source)),
		zap.Int("entries", res.Policy.Len()),
	}
	if res.Err != nil {
		s.logger.Warn("policy sync fell back", append(fields, zap.Error(res.Err))...)
	} else {
		s.logger.Info("policy synced", fields...)
	}

	if s.observer != nil {
		s.observer.PolicyUpdated(res.Policy.Len())
	}
}

func (s *Scheduler) runHeartbeat(ctx context.Context, authorityURL, credential string, now time.Time) {
	err := s.heartbeat.SendHeartbeat(ctx, authorityURL, credential, s.deviceID)
	s.metrics.RecordHeartbeat(err)

	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("heartbeat failed", zap.Error(err))
		return
	}
	s.logger.Debug("heartbeat sent")
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.metrics.SetState(string(state), allStates)
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Policy returns a copy of the policy currently enforced.
func (s *Scheduler) Policy() domain.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Settings returns the current settings.
func (s *Scheduler) Settings() Settings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.settings
}

// UpdateSettings replaces the settings; the next tick uses them.
func (s *Scheduler) UpdateSettings(settings Settings) {
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()

	s.logger.Info("scheduler settings updated",
		zap.String("authority_url", settings.AuthorityURL),
		zap.Duration("sync_interval", settings.SyncInterval),
		zap.Duration("scan_interval", settings.ScanInterval),
		zap.Duration("heartbeat_interval", settings.HeartbeatInterval))
}

// Status returns a snapshot for the control server.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := Status{
		State:          s.state,
		DeviceID:       s.deviceID,
		PolicyEntries:  s.current.Len(),
		LastSyncSource: string(s.lastSyncSource),
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		st.LastSync = &t
	}
	if !s.lastScan.IsZero() {
		t := s.lastScan
		st.LastScan = &t
	}
	s.mu.RUnlock()

	st.HasCredential = s.credentials.Get() != ""
	st.ReportedPIDs = s.scanner.ReportedCount()
	return st
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
