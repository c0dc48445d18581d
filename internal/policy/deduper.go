package policy

import (
	"sync"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// Deduper remembers which PIDs were already surfaced during this run.
// The set lives only in memory, so a PID reused by the OS after a restart
// is never falsely suppressed.
type Deduper struct {
	mu       sync.Mutex
	reported map[int]struct{}
}

// NewDeduper creates an empty deduper.
func NewDeduper() *Deduper {
	return &Deduper{reported: make(map[int]struct{})}
}

// FilterNew returns the violations whose PID has not been reported yet and
// marks those PIDs as reported. A PID is surfaced once, for the first rule
// it matched in policy order; later matches for it in the same call are
// dropped.
func (d *Deduper) FilterNew(violations []domain.Violation) []domain.Violation {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.Violation
	for _, v := range violations {
		if _, seen := d.reported[v.ProcessID]; seen {
			continue
		}
		d.reported[v.ProcessID] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Contains reports whether pid was already surfaced.
func (d *Deduper) Contains(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.reported[pid]
	return ok
}

// Len returns the number of reported PIDs.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reported)
}

// Clear forgets every reported PID.
func (d *Deduper) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reported = make(map[int]struct{})
}
