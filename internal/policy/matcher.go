package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// Match evaluates snapshots against the policy.
// A process name matches an entry when it contains the entry's pattern,
// case-insensitively. Output order is snapshot order, then policy order;
// a process matching several entries yields several violations.
func Match(deviceID string, snapshots []domain.ProcessSnapshot, p domain.Policy) []domain.Violation {
	if len(snapshots) == 0 || p.IsEmpty() {
		return nil
	}

	patterns := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		patterns[i] = strings.ToLower(e.ProcessNamePattern)
	}

	var violations []domain.Violation
	for _, s := range snapshots {
		name := strings.ToLower(s.Name)
		for i, pattern := range patterns {
			// strings.Contains treats "" as matching everything
			if pattern == "" {
				continue
			}
			if strings.Contains(name, pattern) {
				violations = append(violations, domain.Violation{
					DeviceID:    deviceID,
					AppDetected: name,
					Severity:    p.Entries[i].Severity,
					ProcessID:   s.PID,
				})
			}
		}
	}
	return violations
}
