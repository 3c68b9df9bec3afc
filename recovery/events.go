package recovery

import (
	"log/slog"
	"sync"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// EventQueue buffers events on a channel for an external consumer. When the
// buffer is full the event is dropped and counted.
type EventQueue struct {
	ch      chan interfaces.Event
	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewEventQueue buffers up to size events.
func NewEventQueue(size int) *EventQueue {
	return &EventQueue{ch: make(chan interfaces.Event, size)}
}

func (q *EventQueue) Emit(ev interfaces.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped++
		return
	}
	select {
	case q.ch <- ev:
	default:
		q.dropped++
	}
}

// Events is the receive side of the queue. It is closed by Close.
func (q *EventQueue) Events() <-chan interfaces.Event {
	return q.ch
}

func (q *EventQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// EventRecorder keeps every event in memory.
type EventRecorder struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *EventRecorder) Emit(ev interfaces.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *EventRecorder) Events() []interfaces.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interfaces.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type, in emission order.
func (r *EventRecorder) OfType(t interfaces.EventType) []interfaces.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// LogSink writes events as structured log lines.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev interfaces.Event) {
	attrs := []any{"event", string(ev.Type), "userID", ev.UserID}
	if ev.RecoveryID != "" {
		attrs = append(attrs, "recoveryID", ev.RecoveryID)
	}
	if ev.GuardianID != "" {
		attrs = append(attrs, "guardianID", ev.GuardianID)
	}
	switch ev.Type {
	case interfaces.EventSharesDistributed:
		attrs = append(attrs, "guardianCount", ev.GuardianCount, "shareCount", ev.ShareCount)
	case interfaces.EventRecoveryInitiated:
		attrs = append(attrs, "guardianCount", ev.GuardianCount, "requiredThreshold", ev.RequiredThreshold)
	case interfaces.EventGuardianApproved:
		attrs = append(attrs, "approvedCount", ev.ApprovedCount, "requiredThreshold", ev.RequiredThreshold)
	case interfaces.EventGuardianRemoved, interfaces.EventSharesRevoked:
		attrs = append(attrs, "revokedShareCount", ev.RevokedShareCount)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Type == interfaces.EventRecoveryFailed {
		s.log.Warn("recovery event", attrs...)
		return
	}
	s.log.Info("recovery event", attrs...)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []interfaces.EventSink

func (m MultiSink) Emit(ev interfaces.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

type discardSink struct{}

func (discardSink) Emit(interfaces.Event) {}
