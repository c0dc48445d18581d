package daemon

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// DefaultEventCapacity is how many notifications the status endpoint keeps.
const DefaultEventCapacity = 50

// EventType names a notification kind.
type EventType string

const (
	EventPolicyUpdated     EventType = "policy_updated"
	EventViolationDetected EventType = "violation_detected"
)

// Event is one recorded notification.
type Event struct {
	Type      EventType         `json:"type"`
	Time      time.Time         `json:"time"`
	Count     int               `json:"count,omitempty"`
	Violation *domain.Violation `json:"violation,omitempty"`
}

// LogObserver writes notifications to the log.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) PolicyUpdated(count int) {
	o.logger.Info("policy updated", zap.Int("entries", count))
}

func (o *LogObserver) ViolationDetected(v domain.Violation) {
	o.logger.Info("violation detected",
		zap.String("app", v.AppDetected),
		zap.String("severity", v.Severity),
		zap.Int("pid", v.ProcessID))
}

// EventBuffer keeps the most recent notifications in a bounded ring.
type EventBuffer struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	now    func() time.Time
}

// NewEventBuffer creates a buffer holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventBuffer{
		events: make([]Event, capacity),
		now:    time.Now,
	}
}

func (b *EventBuffer) PolicyUpdated(count int) {
	b.add(Event{Type: EventPolicyUpdated, Count: count})
}

func (b *EventBuffer) ViolationDetected(v domain.Violation) {
	b.add(Event{Type: EventViolationDetected, Violation: &v})
}

func (b *EventBuffer) add(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.Time = b.now()
	b.events[b.next] = e
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns the buffered events, oldest first.
func (b *EventBuffer) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]Event, b.next)
		copy(out, b.events[:b.next])
		return out
	}
	out := make([]Event, 0, len(b.events))
	out = append(out, b.events[b.next:]...)
	out = append(out, b.events[:b.next]...)
	return out
}

// MultiObserver fans notifications out to every non-nil observer in order.
type MultiObserver []domain.Observer

// NewMultiObserver drops nil observers.
func NewMultiObserver(observers ...domain.Observer) MultiObserver {
	out := make(MultiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m MultiObserver) PolicyUpdated(count int) {
	for _, o := range m {
		o.PolicyUpdated(count)
	}
}

func (m MultiObserver) ViolationDetected(v domain.Violation) {
	for _, o := range m {
		o.ViolationDetected(v)
	}
}

var (
	_ domain.Observer = (*LogObserver)(nil)
	_ domain.Observer = (*EventBuffer)(nil)
	_ domain.Observer = MultiObserver(nil)
)
