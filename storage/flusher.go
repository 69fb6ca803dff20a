package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai-rivu-backend/metrics"
	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Flush triggers
const (
	TriggerAdmissions = "admissions"
	TriggerInterval   = "interval"
	TriggerShutdown   = "shutdown"
	TriggerManual     = "manual"
)

// WindowSource is the admission controller as seen by the flusher
type WindowSource interface {
	Snapshot(ctx context.Context) (map[string][]int64, error)
	Restore(ctx context.Context, snapshot map[string][]int64) (int, error)
	Cleanup(ctx context.Context) (int, error)
}

// EventSource is the activity log as seen by the flusher
type EventSource interface {
	Pending() []model.ActivityEvent
	Requeue(events []model.ActivityEvent)
	PendingCount() int
	Restore(events []model.ActivityEvent)
}

// StatisticsSource is the statistics aggregator as seen by the flusher
type StatisticsSource interface {
	AllUserStatistics() map[string]*model.UserStatistics
	Restore(stats map[string]*model.UserStatistics)
	Rebuild(events []model.ActivityEvent)
}

// FlusherConfig sets the flush policy
type FlusherConfig struct {
	EveryAdmissions int
	Interval        time.Duration
}

// Flusher moves in-memory governance state to a Backend: after every N
// admissions, on a fixed interval, and once more on shutdown. Failures are
// logged and counted, never returned to request handlers.
type Flusher struct {
	backend Backend
	windows WindowSource
	events  EventSource
	stats   StatisticsSource
	metrics *metrics.Recorder
	cfg     FlusherConfig

	admissions atomic.Int64
	trigger    chan struct{}

	// mu serialises flushes so the activity log is appended in order
	mu        sync.Mutex
	lastFlush time.Time
	lastErr   error
	loadErr   error
}

// NewFlusher creates a flusher
func NewFlusher(backend Backend, windows WindowSource, events EventSource, stats StatisticsSource, m *metrics.Recorder, cfg FlusherConfig) *Flusher {
	if cfg.EveryAdmissions <= 0 {
		cfg.EveryAdmissions = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Flusher{
		backend: backend,
		windows: windows,
		events:  events,
		stats:   stats,
		metrics: m,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// Load restores state from the backend. Statistics are rebuilt from the
// activity log when the backend holds no statistics document.
//
// After a failed Load every Flush returns ErrNotLoaded without writing, so
// the empty in-memory state never replaces what is on disk.
func (f *Flusher) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.backend.Load(ctx)
	if err != nil {
		f.loadErr = fmt.Errorf("failed to load %s backend: %w", f.backend.Name(), err)
		return f.loadErr
	}

	restored, err := f.windows.Restore(ctx, snap.Windows)
	if err != nil {
		f.loadErr = fmt.Errorf("failed to restore windows: %w", err)
		return f.loadErr
	}
	f.loadErr = nil
	f.events.Restore(snap.Events)

	rebuilt := snap.Statistics == nil
	if rebuilt {
		f.stats.Rebuild(snap.Events)
	} else {
		f.stats.Restore(snap.Statistics)
	}

	log.Info().
		Str("backend", f.backend.Name()).
		Int("windows", restored).
		Int("events", len(snap.Events)).
		Bool("statistics_rebuilt", rebuilt).
		Msg("Governance state loaded")
	return nil
}

// RecordAdmission counts one allowed admission and schedules a flush every
// EveryAdmissions admissions. It never blocks.
func (f *Flusher) RecordAdmission(model.AdmissionKey) {
	if f.admissions.Add(1)%int64(f.cfg.EveryAdmissions) != 0 {
		return
	}
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Run flushes on triggers until ctx is done. The caller performs the final
// flush with Flush(TriggerShutdown) after Run returns.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Flush(ctx, TriggerInterval)
		case <-f.trigger:
			f.Flush(ctx, TriggerAdmissions)
		}
	}
}

// Flush writes all three documents concurrently. Events whose append fails
// go back to the activity log for the next flush.
func (f *Flusher) Flush(ctx context.Context, trigger string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()

	if f.loadErr != nil {
		f.finish(trigger, start, fmt.Errorf("%w: %v", ErrNotLoaded, f.loadErr))
		return f.lastErr
	}

	if removed, err := f.windows.Cleanup(ctx); err != nil {
		log.Warn().Err(err).Msg("Window cleanup failed")
	} else if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Expired windows removed")
	}

	windows, err := f.windows.Snapshot(ctx)
	if err != nil {
		f.finish(trigger, start, fmt.Errorf("failed to snapshot windows: %w", err))
		return f.lastErr
	}
	events := f.events.Pending()
	stats := f.stats.AllUserStatistics()

	var windowsErr, eventsErr, statsErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		windowsErr = f.backend.SaveWindows(gctx, windows)
		return windowsErr
	})
	g.Go(func() error {
		eventsErr = f.backend.AppendEvents(gctx, events)
		return eventsErr
	})
	g.Go(func() error {
		statsErr = f.backend.SaveStatistics(gctx, stats)
		return statsErr
	})
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Str("trigger", trigger).Msg("Flush document save failed")
	}

	if eventsErr != nil {
		f.events.Requeue(events)
	}

	var firstErr error
	for _, r := range []struct {
		doc string
		err error
	}{
		{DocWindows, windowsErr},
		{DocActivity, eventsErr},
		{DocStatistics, statsErr},
	} {
		if r.err == nil {
			continue
		}
		f.metrics.PersistenceFailure(f.backend.Name(), r.doc)
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to save %s: %w", r.doc, r.err)
		}
	}

	f.finish(trigger, start, firstErr)
	if firstErr == nil {
		log.Debug().
			Str("trigger", trigger).
			Int("windows", len(windows)).
			Int("events", len(events)).
			Int("identities", len(stats)).
			Dur("took", time.Since(start)).
			Msg("Governance state flushed")
	}
	return firstErr
}

func (f *Flusher) finish(trigger string, start time.Time, err error) {
	f.lastErr = err
	if err == nil {
		f.lastFlush = time.Now()
	} else {
		log.Warn().
			Err(err).
			Str("trigger", trigger).
			Str("backend", f.backend.Name()).
			Msg("Flush failed, keeping in-memory state authoritative")
	}
	f.metrics.Flush(trigger, err, time.Since(start).Seconds())
	f.metrics.BackendHealthy(f.backend.Name(), err == nil)
	f.metrics.PendingEvents(f.events.PendingCount())
}

// Status is a point-in-time view of the flusher for health reporting
type Status struct {
	Backend       string    `json:"backend"`
	LastFlush     time.Time `json:"lastFlush,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	PendingEvents int       `json:"pendingEvents"`
	Admissions    int64     `json:"admissions"`
}

// Status reports the last flush outcome
func (f *Flusher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Status{
		Backend:       f.backend.Name(),
		LastFlush:     f.lastFlush,
		PendingEvents: f.events.PendingCount(),
		Admissions:    f.admissions.Load(),
	}
	if f.lastErr != nil {
		s.LastError = f.lastErr.Error()
	}
	return s
}
