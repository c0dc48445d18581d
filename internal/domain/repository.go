package domain

import "context"

// ProcessInspector enumerates running processes.
// Implementation: uses gopsutil for cross-platform support.
type ProcessInspector interface {
	// Snapshot returns every process visible at call time, unfiltered.
	Snapshot(ctx context.Context) ([]ProcessSnapshot, error)
}

// PolicyCache is the durable last-known policy.
// Implementation: JSON file in the user's config directory.
type PolicyCache interface {
	// Save overwrites the cache with policy.
	Save(policy Policy) error

	// Load returns the cached policy, or an empty policy if none exists.
	Load() (Policy, error)

	// Path returns the cache file location.
	Path() string
}

// PolicyFetcher retrieves the current policy from the authority.
type PolicyFetcher interface {
	FetchPolicy(ctx context.Context, authorityURL, credential string) ([]PolicyEntry, error)
}

// ViolationReporter submits a single violation. No retry, no batching.
type ViolationReporter interface {
	ReportViolation(ctx context.Context, authorityURL, credential string, v Violation) error
}

// HeartbeatSender tells the authority the device is alive.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, authorityURL, credential, deviceID string) error
}

// CredentialReader exposes the current bearer credential.
// The empty string means not yet authenticated.
type CredentialReader interface {
	Get() string
}

// Observer receives best-effort lifecycle notifications.
// Implementations must not block.
type Observer interface {
	PolicyUpdated(count int)
	ViolationDetected(v Violation)
}

// ReportJournal keeps a local history of report attempts.
// Implementation: SQLCipher encrypted SQLite database.
type ReportJournal interface {
	// Record appends one report attempt.
	Record(rec ReportRecord) error

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]ReportRecord, error)

	// Counts returns the number of records per status.
	Counts() (map[ReportStatus]int, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

