package storage

import (
	"context"
	"errors"

	"ai-rivu-backend/model"
)

// Document names, used in logs and metrics
const (
	DocWindows    = "windows"
	DocActivity   = "activity"
	DocStatistics = "statistics"
)

var (
	ErrBackendClosed = errors.New("backend closed")
	// ErrNotLoaded is returned by Flush after a failed Load. Persisted state
	// is left untouched until the process restarts with a readable backend.
	ErrNotLoaded = errors.New("persisted state not loaded")
)

// Snapshot is everything a backend persists.
//
// Statistics is nil when no statistics document exists, which tells the
// caller to rebuild from Events.
type Snapshot struct {
	Windows    map[string][]int64
	Events     []model.ActivityEvent
	Statistics map[string]*model.UserStatistics
}

// Empty reports whether the snapshot holds no data at all
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Windows) == 0 && len(s.Events) == 0 && len(s.Statistics) == 0)
}

// Backend persists governance state. Writes happen off the request path.
type Backend interface {
	Name() string

	// Load reads every document. Missing documents are not an error.
	Load(ctx context.Context) (*Snapshot, error)

	// SaveWindows replaces the window snapshot.
	SaveWindows(ctx context.Context, windows map[string][]int64) error

	// AppendEvents appends to the durable activity log in order.
	AppendEvents(ctx context.Context, events []model.ActivityEvent) error

	// SaveStatistics replaces the statistics document.
	SaveStatistics(ctx context.Context, stats map[string]*model.UserStatistics) error

	Close() error
}
