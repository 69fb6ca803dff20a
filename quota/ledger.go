package quota

import (
	"context"
	"errors"
	"fmt"

	"ai-rivu-backend/config"
	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
)

// ErrorCode distinguishes quota denials from window denials
const ErrorCode = "QUOTA_EXCEEDED"

var ErrQuotaExceeded = errors.New("quota exceeded")

// StatisticsReader reads the counter the ledger enforces
type StatisticsReader interface {
	PapersGenerated(ctx context.Context, identity string) (int, error)
}

// Recorder appends informational events
type Recorder interface {
	Append(identity string, kind model.ActivityKind, action string, detail map[string]interface{}) model.ActivityEvent
}

// Decision is the outcome of a quota check. Callers branch on Allowed, and
// Degraded reports that the check failed open.
type Decision struct {
	Allowed      bool
	Used         int
	Limit        int
	Remaining    int
	Approaching  bool
	ContactEmail string
	Degraded     error
}

// Message is the caller-facing explanation of a denial
func (d Decision) Message() string {
	return fmt.Sprintf("Daily quota of %d papers reached. Contact %s to request more.", d.Limit, d.ContactEmail)
}

// Err returns an *ExceededError for a denial, nil otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Decision: d}
}

// ExceededError carries a quota denial
type ExceededError struct {
	Decision Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d", e.Decision.Used, e.Decision.Limit)
}

func (e *ExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// Ledger enforces a cumulative ceiling on generated papers
type Ledger struct {
	reader       StatisticsReader
	recorder     Recorder
	limit        int
	warnWithin   int
	contactEmail string
}

// NewLedger creates a ledger from configuration
func NewLedger(cfg config.QuotaConfig, reader StatisticsReader, recorder Recorder) *Ledger {
	return &Ledger{
		reader:       reader,
		recorder:     recorder,
		limit:        cfg.Limit,
		warnWithin:   cfg.WarnWithin,
		contactEmail: cfg.ContactEmail,
	}
}

// Limit returns the configured ceiling
func (l *Ledger) Limit() int {
	return l.limit
}

// Check decides whether identity may generate another paper
func (l *Ledger) Check(ctx context.Context, identity string) Decision {
	d := Decision{
		Limit:        l.limit,
		ContactEmail: l.contactEmail,
	}

	used, err := l.reader.PapersGenerated(ctx, identity)
	if err != nil {
		log.Warn().
			Err(err).
			Str("identity", identity).
			Msg("Quota check failed, allowing request")
		l.record(identity, model.KindQuotaCheckFailed, model.ActionQuotaCheckFailed, map[string]interface{}{
			"error": err.Error(),
		})
		d.Allowed = true
		d.Remaining = l.limit
		d.Degraded = err
		return d
	}

	d.Used = used
	if used >= l.limit {
		overage := used - l.limit
		log.Info().
			Str("identity", identity).
			Int("used", used).
			Int("limit", l.limit).
			Msg("Quota exceeded")
		l.record(identity, model.KindQuotaExceeded, model.ActionQuotaExceeded, map[string]interface{}{
			"used":    used,
			"limit":   l.limit,
			"overage": overage,
		})
		return d
	}

	d.Allowed = true
	d.Remaining = l.limit - used
	if used >= l.limit-l.warnWithin {
		d.Approaching = true
		l.record(identity, model.KindQuotaApproaching, model.ActionQuotaApproaching, map[string]interface{}{
			"used":      used,
			"limit":     l.limit,
			"remaining": d.Remaining,
		})
	}
	return d
}

func (l *Ledger) record(identity string, kind model.ActivityKind, action string, detail map[string]interface{}) {
	if l.recorder == nil {
		return
	}
	l.recorder.Append(identity, kind, action, detail)
}
