// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// PolicyEntry is one forbidden-application rule as served by the authority.
type PolicyEntry struct {
	ProcessNamePattern string `json:"process_name"`
	Severity           string `json:"severity"`
}

// Policy is the ordered set of forbidden-application rules.
// A sync replaces it wholesale; entries are never merged.
type Policy struct {
	Entries     []PolicyEntry
	LastUpdated time.Time
}

// Len returns the number of rules.
func (p Policy) Len() int {
	return len(p.Entries)
}

// IsEmpty reports whether the policy has no rules.
func (p Policy) IsEmpty() bool {
	return len(p.Entries) == 0
}

// Clone returns a copy that shares no backing array with p.
func (p Policy) Clone() Policy {
	entries := make([]PolicyEntry, len(p.Entries))
	copy(entries, p.Entries)
	return Policy{Entries: entries, LastUpdated: p.LastUpdated}
}

// ProcessSnapshot is one running process observed during a scan.
type ProcessSnapshot struct {
	PID  int
	Name string
}

// Violation is a running process that matched a policy rule.
type Violation struct {
	DeviceID    string `json:"device_id"`
	AppDetected string `json:"app_detected"`
	Severity    string `json:"severity"`
	ProcessID   int    `json:"process_id"`
}

// SyncSource identifies where a synced policy came from.
type SyncSource string

const (
	SourceAuthority SyncSource = "authority"
	SourceCache     SyncSource = "cache"
	SourceEmpty     SyncSource = "empty"
)

// SyncResult is the outcome of one policy sync.
type SyncResult struct {
	Policy Policy
	Source SyncSource
	Err    error // fetch error that caused a fallback, nil on SourceAuthority
}

// ReportStatus is the outcome of a single violation submission.
type ReportStatus string

const (
	ReportSent   ReportStatus = "sent"
	ReportFailed ReportStatus = "failed"
)

// ReportRecord is one journaled report attempt.
type ReportRecord struct {
	ID          int64
	Violation   Violation
	Status      ReportStatus
	Error       string
	AttemptedAt time.Time
}

// ScanResult captures what happened during a single scan cycle.
type ScanResult struct {
	ProcessesSeen int
	Matched       []Violation
	New           []Violation
	Reported      []Violation
	Failed        []Violation
	Errors        []error
	ExecutedAt    time.Time
	DurationMs    int64
}
