package storage

import (
	"context"
	"fmt"
	"sync"

	"ai-rivu-backend/metrics"
	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxBacklog bounds the events held for an unreachable secondary
const maxBacklog = 50000

// MirrorBackend writes the primary first and then the secondary. Only
// primary failures are returned; a failing secondary is marked degraded and
// its unsent events are retried on the next append.
type MirrorBackend struct {
	primary   Backend
	secondary Backend
	metrics   *metrics.Recorder

	mu       sync.Mutex
	backlog  []model.ActivityEvent
	degraded bool
}

// NewMirrorBackend composes primary and secondary
func NewMirrorBackend(primary, secondary Backend, m *metrics.Recorder) *MirrorBackend {
	return &MirrorBackend{
		primary:   primary,
		secondary: secondary,
		metrics:   m,
	}
}

func (b *MirrorBackend) Name() string {
	return b.primary.Name() + "+" + b.secondary.Name()
}

// Load reads both backends concurrently and prefers the primary. The
// secondary is used only when the primary holds no data at all.
func (b *MirrorBackend) Load(ctx context.Context) (*Snapshot, error) {
	var primary, secondary *Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := b.primary.Load(gctx)
		primary = snap
		return err
	})
	g.Go(func() error {
		snap, err := b.secondary.Load(gctx)
		if err != nil {
			log.Warn().Err(err).Str("backend", b.secondary.Name()).Msg("Secondary backend load failed")
			b.setDegraded(true)
			return nil
		}
		secondary = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if primary.Empty() && !secondary.Empty() {
		log.Info().
			Str("backend", b.secondary.Name()).
			Int("events", len(secondary.Events)).
			Msg("Primary backend empty, restoring from secondary")
		if err := b.backfill(ctx, secondary); err != nil {
			return nil, fmt.Errorf("failed to backfill %s from %s: %w", b.primary.Name(), b.secondary.Name(), err)
		}
		return secondary, nil
	}
	return primary, nil
}

// backfill copies a secondary snapshot into the empty primary so the local
// documents hold the full history from the first flush on.
func (b *MirrorBackend) backfill(ctx context.Context, snap *Snapshot) error {
	if err := b.primary.SaveWindows(ctx, snap.Windows); err != nil {
		return err
	}
	if err := b.primary.AppendEvents(ctx, snap.Events); err != nil {
		return err
	}
	if snap.Statistics != nil {
		if err := b.primary.SaveStatistics(ctx, snap.Statistics); err != nil {
			return err
		}
	}
	return nil
}

func (b *MirrorBackend) SaveWindows(ctx context.Context, windows map[string][]int64) error {
	if err := b.primary.SaveWindows(ctx, windows); err != nil {
		return err
	}
	b.secondaryResult(DocWindows, b.secondary.SaveWindows(ctx, windows))
	return nil
}

func (b *MirrorBackend) SaveStatistics(ctx context.Context, stats map[string]*model.UserStatistics) error {
	if err := b.primary.SaveStatistics(ctx, stats); err != nil {
		return err
	}
	b.secondaryResult(DocStatistics, b.secondary.SaveStatistics(ctx, stats))
	return nil
}

func (b *MirrorBackend) AppendEvents(ctx context.Context, events []model.ActivityEvent) error {
	if err := b.primary.AppendEvents(ctx, events); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := append(b.backlog, events...)
	if len(batch) == 0 {
		return nil
	}
	if err := b.secondary.AppendEvents(ctx, batch); err != nil {
		if over := len(batch) - maxBacklog; over > 0 {
			log.Warn().Int("dropped", over).Msg("Secondary backlog full, dropping oldest events")
			batch = batch[over:]
		}
		b.backlog = batch
		b.markLocked(DocActivity, err)
		return nil
	}
	b.backlog = nil
	b.markLocked(DocActivity, nil)
	return nil
}

// Backlog returns the number of events waiting for the secondary
func (b *MirrorBackend) Backlog() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog)
}

// Degraded reports whether the secondary's last write failed
func (b *MirrorBackend) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

func (b *MirrorBackend) Close() error {
	var g errgroup.Group
	g.Go(b.primary.Close)
	g.Go(b.secondary.Close)
	return g.Wait()
}

func (b *MirrorBackend) secondaryResult(doc string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markLocked(doc, err)
}

func (b *MirrorBackend) markLocked(doc string, err error) {
	if err != nil {
		if !b.degraded {
			log.Warn().
				Err(err).
				Str("backend", b.secondary.Name()).
				Str("document", doc).
				Msg("Secondary backend write failed, continuing with primary only")
		}
		b.degraded = true
		b.metrics.PersistenceFailure(b.secondary.Name(), doc)
		b.metrics.BackendHealthy(b.secondary.Name(), false)
		return
	}
	if b.degraded {
		log.Info().Str("backend", b.secondary.Name()).Msg("Secondary backend recovered")
	}
	b.degraded = false
	b.metrics.BackendHealthy(b.secondary.Name(), true)
}

func (b *MirrorBackend) setDegraded(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.degraded = v
}
