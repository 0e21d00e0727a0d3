package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"workrecord/api/internal/store"
)

type fakeEngine struct {
	mu        sync.Mutex
	healthy   bool
	searchFn  func(ctx context.Context, q Query) ([]Result, int, error)
	indexed   [][]DrawingRecord
	indexedCh chan struct{}
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return nil, 0, nil
}

func (f *fakeEngine) IndexDrawings(records []DrawingRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, records)
	f.mu.Unlock()
	if f.indexedCh != nil {
		f.indexedCh <- struct{}{}
	}
	return nil
}

func TestServiceUsesEngineWhenHealthy(t *testing.T) {
	local, _ := newTestIndex(t, sampleIndex)
	engine := &fakeEngine{
		healthy: true,
		searchFn: func(_ context.Context, q Query) ([]Result, int, error) {
			if q.Limit != defaultLimit {
				t.Fatalf("expected normalized limit, got %d", q.Limit)
			}
			return []Result{{DrawingNumber: "REMOTE-1"}}, 1, nil
		},
	}
	svc := NewService(engine, local, nil)

	resp := svc.Search(context.Background(), Query{Text: "shaft"})
	if resp.Source != SourceMeili || resp.Total != 1 || resp.Results[0].DrawingNumber != "REMOTE-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Query != "shaft" {
		t.Fatalf("expected query echo, got %q", resp.Query)
	}
}

func TestServiceFallsBackToLocalIndex(t *testing.T) {
	local, _ := newTestIndex(t, sampleIndex)
	engine := &fakeEngine{
		healthy: true,
		searchFn: func(context.Context, Query) ([]Result, int, error) {
			return nil, 0, errors.New("connection refused")
		},
	}
	svc := NewService(engine, local, nil)

	resp := svc.Search(context.Background(), Query{Text: "shaft"})
	if resp.Source != SourceLocal || resp.Total != 1 || resp.Results[0].DrawingNumber != "DRW-002" {
		t.Fatalf("unexpected response %+v", resp)
	}

	unhealthy := NewService(&fakeEngine{healthy: false}, local, nil)
	if resp := unhealthy.Search(context.Background(), Query{}); resp.Source != SourceLocal || resp.Total != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}

	noEngine := NewService(nil, local, nil)
	if resp := noEngine.Search(context.Background(), Query{}); resp.Source != SourceLocal {
		t.Fatalf("unexpected source %q", resp.Source)
	}
}

func TestServiceSearchNeverReturnsNilResults(t *testing.T) {
	local, _ := newTestIndex(t, `{"drawings": [`)
	resp := NewService(nil, local, nil).Search(context.Background(), Query{})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("expected empty results on load failure, got %+v", resp)
	}
}

func TestServiceIndexNormalizesMachineTypes(t *testing.T) {
	local, _ := newTestIndex(t, sampleIndex)
	index, err := NewService(nil, local, nil).Index(context.Background())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	want := []string{`["machining"]`, `["turning"]`, `["yokonaka","radial"]`}
	for i, entry := range index.Drawings {
		if string(entry.MachineType) != want[i] {
			t.Fatalf("drawing %d: expected %s, got %s", i, want[i], entry.MachineType)
		}
	}
}

func TestServiceIndexMissingFile(t *testing.T) {
	local, _ := newTestIndex(t, "")
	if _, err := NewService(nil, local, nil).Index(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceReindexPushesRecords(t *testing.T) {
	local, _ := newTestIndex(t, sampleIndex)
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, local, nil)

	count, err := svc.Reindex(context.Background())
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 drawings, got %d", count)
	}
	if len(engine.indexed) != 1 || len(engine.indexed[0]) != 3 {
		t.Fatalf("expected one batch of 3 records, got %v", engine.indexed)
	}
	first := engine.indexed[0][0]
	if first.ID != recordID("DRW-001") || len(first.MachineTypes) != 1 || first.MachineTypes[0] != "machining" {
		t.Fatalf("unexpected record %+v", first)
	}
	if engine.indexed[0][2].Keywords == nil {
		t.Fatal("keywords must encode as an array")
	}
}

func TestServiceIndexEntriesIsAsync(t *testing.T) {
	local, _ := newTestIndex(t, sampleIndex)
	engine := &fakeEngine{healthy: true, indexedCh: make(chan struct{}, 1)}
	svc := NewService(engine, local, nil)

	entries, err := local.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	svc.IndexEntries(entries)

	select {
	case <-engine.indexedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected records to be pushed")
	}
}

func TestRecordIDIsStableAndSafe(t *testing.T) {
	id := recordID("図面/001 A")
	if id != recordID("図面/001 A") {
		t.Fatal("record id must be deterministic")
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("unexpected character %q in %s", r, id)
		}
	}
}
