// Package infra implements infrastructure concerns (processes, cache, authority, journal).
package infra

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// ProcessInspectorImpl implements domain.ProcessInspector using gopsutil.
type ProcessInspectorImpl struct{}

// NewProcessInspector creates a new process inspector.
func NewProcessInspector() domain.ProcessInspector {
	return &ProcessInspectorImpl{}
}

// Snapshot returns every running process visible to this user.
func (pi *ProcessInspectorImpl) Snapshot(ctx context.Context) ([]domain.ProcessSnapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]domain.ProcessSnapshot, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}
		snapshots = append(snapshots, domain.ProcessSnapshot{
			PID:  int(p.Pid),
			Name: name,
		})
	}

	return snapshots, nil
}

// Ensure ProcessInspectorImpl implements domain.ProcessInspector.
var _ domain.ProcessInspector = (*ProcessInspectorImpl)(nil)
