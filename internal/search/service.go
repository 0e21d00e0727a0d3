package search

import (
	"context"
	"errors"
	"fmt"

	"workrecord/api/internal/logger"
	"workrecord/api/internal/store"
)

const (
	SourceMeili = "meilisearch"
	SourceLocal = "local"
)

// Engine is an external index that can also receive drawing records.
type Engine interface {
	Searcher
	IndexDrawings(records []DrawingRecord) error
}

// Service is the facade that tries the external engine first and falls back
// to the in-memory search-index.json.
type Service struct {
	engine Engine
	local  *LocalIndex
	log    *logger.Logger
}

// NewService creates a search service. engine may be nil when Meilisearch is not configured.
func NewService(engine Engine, local *LocalIndex, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{engine: engine, local: local, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.log.Warn("meilisearch error, falling back to local index", "error", err)
	}

	results, total, err := s.local.Search(ctx, q)
	if err != nil {
		s.log.Error("local search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: SourceLocal}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceLocal}
}

// Index returns the search index with every machineType member normalized.
func (s *Service) Index(ctx context.Context) (*store.SearchIndex, error) {
	index, err := s.local.loader.LoadSearchIndex(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load search index: %w", err)
	}
	normalized := *index
	normalized.Drawings = make([]store.DrawingEntry, len(index.Drawings))
	for i, entry := range index.Drawings {
		normalized.Drawings[i] = NormalizeEntry(entry)
	}
	return &normalized, nil
}

// Reindex reloads search-index.json and pushes every drawing to the engine.
// It returns the number of drawings read.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	entries, err := s.local.Reload(ctx)
	if err != nil {
		return 0, err
	}
	if s.engine == nil || !s.engine.Healthy() {
		return len(entries), nil
	}
	if err := s.engine.IndexDrawings(recordsFromEntries(entries)); err != nil {
		return len(entries), fmt.Errorf("index drawings: %w", err)
	}
	return len(entries), nil
}

// IndexEntries pushes entries to the engine (fire-and-forget).
func (s *Service) IndexEntries(entries []store.DrawingEntry) {
	if s.engine == nil || !s.engine.Healthy() || len(entries) == 0 {
		return
	}
	records := recordsFromEntries(entries)
	go func() {
		if err := s.engine.IndexDrawings(records); err != nil {
			s.log.Error("index drawings", "count", len(records), "error", err)
		}
	}()
}

// Watch follows search-index.json and re-pushes it to the engine on change.
func (s *Service) Watch(ctx context.Context) error {
	return s.local.Watch(ctx, s.IndexEntries)
}

func recordsFromEntries(entries []store.DrawingEntry) []DrawingRecord {
	records := make([]DrawingRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, recordFromEntry(entry))
	}
	return records
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
