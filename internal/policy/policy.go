// Package policy holds the forbidden-application rules pipeline:
// syncing from the authority with cache fallback, matching processes
// against rules, and suppressing repeat alerts.
package policy

import "time"

const (
	// DefaultSyncInterval is how often the policy is refreshed from the authority.
	DefaultSyncInterval = 5 * time.Minute

	// DefaultScanInterval is how often running processes are inspected.
	DefaultScanInterval = 60 * time.Second
)
