package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"ai-rivu-backend/config"
	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
)

// Limiter names
const (
	LimiterLogin     = "login"
	LimiterGenerate  = "generate"
	LimiterDownload  = "download"
	LimiterAnonymous = "anonymous"
)

// RetentionCeiling bounds how long any timestamp is kept, whatever the
// limiter window.
const RetentionCeiling = 24 * time.Hour

// Limit is a named sliding-window policy
type Limit struct {
	Name   string
	Window time.Duration
	Max    int
}

// DefaultLimits returns the built-in policies
func DefaultLimits() []Limit {
	return []Limit{
		{Name: LimiterLogin, Window: 15 * time.Minute, Max: 8},
		{Name: LimiterGenerate, Window: 15 * time.Minute, Max: 15},
		{Name: LimiterDownload, Window: 5 * time.Minute, Max: 30},
		{Name: LimiterAnonymous, Window: 15 * time.Minute, Max: 200},
	}
}

// LimitsFromConfig overlays configured policies on the defaults
func LimitsFromConfig(cfg map[string]config.LimitConfig) []Limit {
	byName := make(map[string]Limit)
	for _, l := range DefaultLimits() {
		byName[l.Name] = l
	}
	for name, lc := range cfg {
		byName[name] = Limit{Name: name, Window: lc.Window(), Max: lc.Max}
	}

	limits := make([]Limit, 0, len(byName))
	for _, l := range byName {
		limits = append(limits, l)
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].Name < limits[j].Name })
	return limits
}

// Decision is the outcome of one admission attempt
type Decision struct {
	Allowed    bool
	Limiter    string
	Count      int // admissions in the window after this decision
	Max        int
	Window     time.Duration
	RetryAfter time.Duration

	// Degraded is set when the window store failed and the request was let
	// through without being counted.
	Degraded error
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// WindowMinutes returns the window length in minutes
func (d Decision) WindowMinutes() int {
	return int(d.Window / time.Minute)
}

// Remaining returns how many admissions are left in the window
func (d Decision) Remaining() int {
	if d.Count >= d.Max {
		return 0
	}
	return d.Max - d.Count
}

// Message is the caller-facing explanation of a denial
func (d Decision) Message() string {
	return fmt.Sprintf("Too many %s requests. You can make %d requests every %d minutes, please try again in %d minutes.",
		d.Limiter, d.Max, d.WindowMinutes(), int(math.Ceil(d.RetryAfter.Minutes())))
}

// Option configures a Controller
type Option func(*Controller)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithAdmitHook registers a callback run after every allowed admission,
// outside the controller lock.
func WithAdmitHook(fn func(model.AdmissionKey)) Option {
	return func(c *Controller) {
		c.onAdmit = fn
	}
}

// Controller is the sliding-window admission controller
type Controller struct {
	store   WindowStore
	limits  map[string]Limit
	now     func() time.Time
	onAdmit func(model.AdmissionKey)

	// mu serialises read-prune-check-append so concurrent requests cannot
	// both pass a check that should deny the second one.
	mu sync.Mutex
}

// NewController creates a controller over store with the given policies
func NewController(store WindowStore, limits []Limit, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}

	c := &Controller{
		store:  store,
		limits: make(map[string]Limit, len(limits)),
		now:    time.Now,
	}
	for _, l := range limits {
		if l.Window <= 0 || l.Max <= 0 {
			return nil, fmt.Errorf("invalid limit %q: window and max must be > 0", l.Name)
		}
		if l.Window > RetentionCeiling {
			return nil, fmt.Errorf("invalid limit %q: window exceeds retention ceiling", l.Name)
		}
		c.limits[l.Name] = l
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Limit returns the policy for name
func (c *Controller) Limit(name string) (Limit, bool) {
	l, ok := c.limits[name]
	return l, ok
}

// Admit records one admission for identity under limiter, or denies it when
// the window is full.
func (c *Controller) Admit(ctx context.Context, identity, limiter string) (Decision, error) {
	limit, key, err := c.resolve(identity, limiter)
	if err != nil {
		return Decision{}, err
	}

	decision, err := c.admit(ctx, limit, key)
	if err != nil {
		log.Warn().
			Err(err).
			Str("identity", identity).
			Str("limiter", limiter).
			Msg("Window store unavailable, admitting without counting")
		return Decision{
			Allowed:  true,
			Limiter:  limit.Name,
			Max:      limit.Max,
			Window:   limit.Window,
			Degraded: err,
		}, nil
	}

	if decision.Allowed && c.onAdmit != nil {
		c.onAdmit(key)
	}
	return decision, nil
}

func (c *Controller) admit(ctx context.Context, limit Limit, key model.AdmissionKey) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stored, err := c.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	live := prune(stored, now, limit.Window)

	decision := Decision{
		Limiter: limit.Name,
		Max:     limit.Max,
		Window:  limit.Window,
	}

	if len(live) >= limit.Max {
		decision.Count = len(live)
		decision.RetryAfter = limit.Window
		if len(live) != len(stored) {
			if err := c.store.Set(ctx, key, live); err != nil {
				return Decision{}, err
			}
		}
		return decision, nil
	}

	live = append(live, now.UnixMilli())
	if err := c.store.Set(ctx, key, live); err != nil {
		return Decision{}, err
	}
	decision.Allowed = true
	decision.Count = len(live)
	return decision, nil
}

// Peek reports the current window state without admitting
func (c *Controller) Peek(ctx context.Context, identity, limiter string) (Decision, error) {
	limit, key, err := c.resolve(identity, limiter)
	if err != nil {
		return Decision{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	live := prune(stored, c.now(), limit.Window)
	d := Decision{
		Allowed: len(live) < limit.Max,
		Limiter: limit.Name,
		Count:   len(live),
		Max:     limit.Max,
		Window:  limit.Window,
	}
	if !d.Allowed {
		d.RetryAfter = limit.Window
	}
	return d, nil
}

// Snapshot returns every window keyed by AdmissionKey.String(), without
// entries older than the retention ceiling.
func (c *Controller) Snapshot(ctx context.Context) (map[string][]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	out := make(map[string][]int64, len(keys))
	for _, k := range keys {
		ts, err := c.store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if live := prune(ts, now, RetentionCeiling); len(live) > 0 {
			out[k.String()] = live
		}
	}
	return out, nil
}

// Restore loads a persisted snapshot, discarding entries older than the
// retention ceiling. It returns the number of windows restored.
func (c *Controller) Restore(ctx context.Context, snapshot map[string][]int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	restored := 0
	for raw, ts := range snapshot {
		key, err := model.ParseAdmissionKey(raw)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed window key")
			continue
		}
		sorted := append([]int64(nil), ts...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		live := prune(sorted, now, RetentionCeiling)
		if len(live) == 0 {
			continue
		}
		if err := c.store.Set(ctx, key, live); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// Cleanup prunes every window against its limiter window (the retention
// ceiling for unknown limiters) and deletes keys left empty. It returns the
// number of keys deleted.
func (c *Controller) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, k := range keys {
		window := RetentionCeiling
		if l, ok := c.limits[k.Limiter]; ok {
			window = l.Window
		}
		ts, err := c.store.Get(ctx, k)
		if err != nil {
			return removed, err
		}
		live := prune(ts, now, window)
		switch {
		case len(live) == 0:
			if err := c.store.Delete(ctx, k); err != nil {
				return removed, err
			}
			removed++
		case len(live) != len(ts):
			if err := c.store.Set(ctx, k, live); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (c *Controller) resolve(identity, limiter string) (Limit, model.AdmissionKey, error) {
	if identity == "" {
		return Limit{}, model.AdmissionKey{}, ErrMissingIdentity
	}
	limit, ok := c.limits[limiter]
	if !ok {
		return Limit{}, model.AdmissionKey{}, fmt.Errorf("%w: %s", ErrUnknownLimiter, limiter)
	}
	return limit, model.AdmissionKey{Identity: identity, Limiter: limiter}, nil
}

// prune keeps timestamps with now - ts < window. Input is oldest first.
func prune(ts []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.UnixMilli() - window.Milliseconds()
	i := sort.Search(len(ts), func(i int) bool { return ts[i] > cutoff })
	out := make([]int64, len(ts)-i)
	copy(out, ts[i:])
	return out
}
