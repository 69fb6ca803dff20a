package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
)

const (
	windowsFile    = "windows.json"
	activityFile   = "activity.jsonl"
	statisticsFile = "user_stats.json"
)

// FileBackend keeps the three documents in a local directory. Windows and
// statistics are rewritten wholesale through a temp file and rename; the
// activity log is appended one JSON object per line.
type FileBackend struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// NewFileBackend creates dir if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Name() string { return "file" }

// Dir returns the data directory
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) Load(ctx context.Context) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &Snapshot{Windows: make(map[string][]int64)}

	if err := readJSON(b.path(windowsFile), &snap.Windows); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", windowsFile).Msg("Windows document unreadable, starting with empty windows")
		snap.Windows = make(map[string][]int64)
	}

	var stats map[string]*model.UserStatistics
	switch err := readJSON(b.path(statisticsFile), &stats); {
	case err == nil:
		if stats == nil {
			stats = make(map[string]*model.UserStatistics)
		}
		snap.Statistics = stats
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.Warn().Err(err).Str("file", statisticsFile).Msg("Statistics document unreadable, will rebuild from activity log")
	}

	events, err := b.readEvents()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", activityFile, err)
	}
	snap.Events = events

	return snap, nil
}

func (b *FileBackend) readEvents() ([]model.ActivityEvent, error) {
	f, err := os.Open(b.path(activityFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []model.ActivityEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e model.ActivityEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// A torn final line after a crash is expected
			log.Warn().Err(err).Int("line", line).Msg("Skipping unreadable activity record")
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

func (b *FileBackend) SaveWindows(ctx context.Context, windows map[string][]int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	if windows == nil {
		windows = map[string][]int64{}
	}
	return writeJSONAtomic(b.path(windowsFile), windows)
}

func (b *FileBackend) SaveStatistics(ctx context.Context, stats map[string]*model.UserStatistics) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	if stats == nil {
		stats = map[string]*model.UserStatistics{}
	}
	return writeJSONAtomic(b.path(statisticsFile), stats)
}

func (b *FileBackend) AppendEvents(ctx context.Context, events []model.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	f, err := os.OpenFile(b.path(activityFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", activityFile, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode activity %s: %w", e.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", activityFile, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", activityFile, err)
	}
	return f.Close()
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name)
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// writeJSONAtomic replaces path so readers see either the old or the new
// document, never a partial one.
func writeJSONAtomic(path string, v interface{}) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
