package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ai-rivu-backend/model"
)

var at = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleEvents() []model.ActivityEvent {
	return []model.ActivityEvent{
		{ID: "1", Identity: "a@example.com", Kind: model.KindLoginSuccess, Action: model.ActionLoginSuccess, Timestamp: at},
		{ID: "2", Identity: "a@example.com", Kind: model.KindPaperGenerated, Action: model.ActionGenerated, Timestamp: at.Add(time.Minute),
			Detail: map[string]interface{}{"subject": "Math"}},
	}
}

func TestFileBackendEmptyDir(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	snap, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !snap.Empty() {
		t.Errorf("Expected empty snapshot, got %+v", snap)
	}
	if snap.Statistics != nil {
		t.Error("Missing statistics document must load as nil")
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	windows := map[string][]int64{"generate:a@example.com": {1, 2, 3}}
	stats := map[string]*model.UserStatistics{"a@example.com": model.NewUserStatistics("a@example.com")}
	stats["a@example.com"].TotalPapersGenerated = 4

	if err := b.SaveWindows(ctx, windows); err != nil {
		t.Fatalf("SaveWindows failed: %v", err)
	}
	if err := b.SaveStatistics(ctx, stats); err != nil {
		t.Fatalf("SaveStatistics failed: %v", err)
	}
	events := sampleEvents()
	if err := b.AppendEvents(ctx, events[:1]); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}
	if err := b.AppendEvents(ctx, events[1:]); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}

	snap, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := snap.Windows["generate:a@example.com"]; len(got) != 3 || got[2] != 3 {
		t.Errorf("Unexpected windows: %v", snap.Windows)
	}
	if snap.Statistics["a@example.com"].TotalPapersGenerated != 4 {
		t.Errorf("Unexpected statistics: %+v", snap.Statistics["a@example.com"])
	}
	if len(snap.Events) != 2 || snap.Events[0].ID != "1" || snap.Events[1].ID != "2" {
		t.Fatalf("Expected events in append order, got %v", snap.Events)
	}
	if snap.Events[1].Detail["subject"] != "Math" {
		t.Errorf("Expected detail to survive, got %v", snap.Events[1].Detail)
	}
}

func TestFileBackendSkipsTornLine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, _ := NewFileBackend(dir)

	if err := b.AppendEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, activityFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open activity file: %v", err)
	}
	f.WriteString(`{"id":"3","identity":"a@exa`)
	f.Close()

	snap, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(snap.Events) != 2 {
		t.Errorf("Expected torn record to be skipped, got %d events", len(snap.Events))
	}
}

func TestFileBackendCorruptStatisticsRebuilds(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFileBackend(dir)
	if err := os.WriteFile(filepath.Join(dir, statisticsFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	snap, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Corrupt statistics must not fail the load: %v", err)
	}
	if snap.Statistics != nil {
		t.Error("Expected nil statistics so the caller rebuilds")
	}
}

func TestFileBackendRewriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, _ := NewFileBackend(dir)

	for i := 0; i < 3; i++ {
		if err := b.SaveWindows(ctx, map[string][]int64{"login:x": {int64(i)}}); err != nil {
			t.Fatalf("SaveWindows failed: %v", err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != windowsFile {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only %s, got %v", windowsFile, names)
	}
}

func TestFileBackendClosed(t *testing.T) {
	b, _ := NewFileBackend(t.TempDir())
	b.Close()

	if err := b.SaveWindows(context.Background(), nil); err != ErrBackendClosed {
		t.Errorf("Expected ErrBackendClosed, got %v", err)
	}
}
