package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"workrecord/api/internal/logger"
	"workrecord/api/internal/store"
)

const reloadDebounce = 300 * time.Millisecond

// IndexLoader reads the catalog-wide drawing listing.
type IndexLoader interface {
	LoadSearchIndex(ctx context.Context) (*store.SearchIndex, error)
}

// LocalIndex serves searches from search-index.json held in memory. The
// cached copy is refreshed by Reload or by Watch when the file changes.
type LocalIndex struct {
	loader IndexLoader
	path   string
	log    *logger.Logger

	mu      sync.RWMutex
	entries []store.DrawingEntry
	loaded  bool
}

func NewLocalIndex(loader IndexLoader, path string, log *logger.Logger) *LocalIndex {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalIndex{loader: loader, path: path, log: log}
}

// Reload replaces the cached entries. A missing index file yields an empty index.
func (l *LocalIndex) Reload(ctx context.Context) ([]store.DrawingEntry, error) {
	index, err := l.loader.LoadSearchIndex(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load search index: %w", err)
	}
	entries := []store.DrawingEntry{}
	if index != nil {
		entries = index.Drawings
	}
	l.mu.Lock()
	l.entries = entries
	l.loaded = true
	l.mu.Unlock()
	return entries, nil
}

// Entries returns the cached entries, loading them on first use.
func (l *LocalIndex) Entries(ctx context.Context) ([]store.DrawingEntry, error) {
	l.mu.RLock()
	if l.loaded {
		entries := l.entries
		l.mu.RUnlock()
		return entries, nil
	}
	l.mu.RUnlock()
	return l.Reload(ctx)
}

func (l *LocalIndex) Healthy() bool {
	return true
}

func (l *LocalIndex) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, 0, err
	}

	terms := strings.Fields(foldWidth(q.Text))
	var matched []Result
	for _, entry := range entries {
		if q.CompanyID != "" && entry.CompanyID != q.CompanyID {
			continue
		}
		if q.ProductID != "" && entry.ProductID != q.ProductID {
			continue
		}
		types := NormalizeMachineTypesJSON(entry.MachineType)
		if len(q.MachineTypes) > 0 && !overlaps(types, q.MachineTypes) {
			continue
		}
		if !matchesTerms(entry, terms) {
			continue
		}
		matched = append(matched, resultFromEntry(entry))
	}

	total := len(matched)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

// Watch reloads the index whenever the file is written, created or renamed
// into place, and hands the fresh entries to onChange. It returns when ctx ends.
func (l *LocalIndex) Watch(ctx context.Context, onChange func([]store.DrawingEntry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic writers replace the file, which drops a file watch.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	l.log.Info("search index watch started", "path", l.path)

	target := filepath.Clean(l.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				pending = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("search index watch error", "error", err)
		case <-pending:
			pending = nil
			entries, err := l.Reload(ctx)
			if err != nil {
				l.log.Error("search index reload failed", "path", l.path, "error", err)
				continue
			}
			l.log.Info("search index reloaded", "drawings", len(entries))
			if onChange != nil {
				onChange(entries)
			}
		}
	}
}

func overlaps(have, want []MachineType) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func matchesTerms(entry store.DrawingEntry, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	fields := []string{entry.DrawingNumber, entry.Title, entry.CompanyName, entry.ProductName, entry.Category}
	fields = append(fields, entry.Keywords...)
	haystack := foldWidth(strings.Join(fields, " "))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}
