package activity

import (
	"strings"
	"sync"
	"time"

	"ai-rivu-backend/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMemoryLimit bounds the in-memory history when no limit is configured
const DefaultMemoryLimit = 10000

// DefaultPendingLimit bounds events awaiting a flush while the backend is down
const DefaultPendingLimit = 50000

// Subscriber receives every appended event, in append order
type Subscriber func(model.ActivityEvent)

// Log is the append-only activity log.
//
// Subscribers run inside the append critical section so that, per identity,
// fold order equals append order. They must not call back into the Log.
type Log struct {
	mu          sync.Mutex
	events      []model.ActivityEvent
	pending     []model.ActivityEvent
	subscribers []Subscriber
	limit       int
	maxPending  int
	now         func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithMemoryLimit bounds the in-memory history. The durable log is unaffected.
func WithMemoryLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithPendingLimit bounds the events awaiting a flush. Past it the oldest
// are dropped.
func WithPendingLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxPending = n
		}
	}
}

// NewLog creates an empty activity log
func NewLog(opts ...Option) *Log {
	l := &Log{
		limit:      DefaultMemoryLimit,
		maxPending: DefaultPendingLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers fn for every subsequent append
func (l *Log) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Append records one event. It never fails the caller: a panicking
// subscriber is logged and the event is still recorded.
func (l *Log) Append(identity string, kind model.ActivityKind, action string, detail map[string]interface{}) model.ActivityEvent {
	if identity == "" {
		identity = model.AnonymousIdentity
	}
	if kind == model.KindUnknown {
		kind = model.ClassifyAction(action)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := model.ActivityEvent{
		ID:        uuid.New().String(),
		Identity:  identity,
		Kind:      kind,
		Action:    action,
		Timestamp: l.now().UTC(),
		Detail:    copyDetail(detail),
	}

	l.events = append(l.events, e)
	if over := len(l.events) - l.limit; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	l.pending = append(l.pending, e)
	l.trimPendingLocked()

	for _, fn := range l.subscribers {
		l.notify(fn, e)
	}

	log.Debug().
		Str("identity", e.Identity).
		Str("action", e.Action).
		Msg("Activity recorded")

	return e
}

func (l *Log) notify(fn Subscriber, e model.ActivityEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_id", e.ID).
				Msg("Activity subscriber panicked")
		}
	}()
	fn(e)
}

// Tail returns up to n most recent events, most recent last
func (l *Log) Tail(n int) []model.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]model.ActivityEvent, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// Filter returns up to limit most recent events matching identity and an
// action substring (either may be empty), most recent last. It also returns
// the total number of matches.
func (l *Log) Filter(identity, action string, limit int) ([]model.ActivityEvent, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []model.ActivityEvent
	for _, e := range l.events {
		if identity != "" && e.Identity != identity {
			continue
		}
		if action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(action)) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]model.ActivityEvent, len(matched))
	copy(out, matched)
	return out, total
}

// Len returns the number of events held in memory
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Pending drains events not yet handed to the durability backend
func (l *Log) Pending() []model.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.pending
	l.pending = nil
	return out
}

// PendingCount returns the number of undrained events
func (l *Log) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Requeue puts back events whose flush failed, ahead of newer ones
func (l *Log) Requeue(events []model.ActivityEvent) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]model.ActivityEvent, 0, len(events)+len(l.pending))
	merged = append(merged, events...)
	merged = append(merged, l.pending...)
	l.pending = merged
	l.trimPendingLocked()
}

func (l *Log) trimPendingLocked() {
	over := len(l.pending) - l.maxPending
	if over <= 0 {
		return
	}
	log.Warn().
		Int("dropped", over).
		Int("limit", l.maxPending).
		Msg("Pending activity full, dropping oldest unflushed events")
	l.pending = append(l.pending[:0:0], l.pending[over:]...)
}

// Restore loads persisted history without notifying subscribers
func (l *Log) Restore(events []model.ActivityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if over := len(events) - l.limit; over > 0 {
		events = events[over:]
	}
	l.events = make([]model.ActivityEvent, len(events))
	copy(l.events, events)
}

func copyDetail(detail map[string]interface{}) map[string]interface{} {
	if detail == nil {
		return nil
	}
	out := make(map[string]interface{}, len(detail))
	for k, v := range detail {
		out[k] = v
	}
	return out
}
