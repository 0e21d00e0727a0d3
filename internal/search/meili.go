package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"workrecord/api/internal/logger"
)

const idxDrawings = "portal_drawings"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the drawings index.
// An unreachable server leaves the client unhealthy; the health loop retries.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.Nop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxDrawings, PrimaryKey: "id"}); err != nil {
		m.log.Debug("create index (may already exist)", "index", idxDrawings, "error", err)
	}

	index := m.client.Index(idxDrawings)
	filterable := []interface{}{"machineTypes", "companyId", "productId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "index", idxDrawings, "error", err)
	}
	searchable := []string{"drawingNumber", "title", "companyName", "productName", "category", "keywords"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "index", idxDrawings, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = q.normalized()

	req := &meili.SearchRequest{
		IndexUID:              idxDrawings,
		Query:                 q.Text,
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := []Result{}
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// meiliFilters builds an AND list; the inner slice for machine types is an OR group.
func meiliFilters(q Query) []interface{} {
	var filters []interface{}
	if len(q.MachineTypes) > 0 {
		group := make([]string, 0, len(q.MachineTypes))
		for _, t := range q.MachineTypes {
			group = append(group, fmt.Sprintf("machineTypes = %q", string(t)))
		}
		filters = append(filters, group)
	}
	if q.CompanyID != "" {
		filters = append(filters, fmt.Sprintf("companyId = %q", q.CompanyID))
	}
	if q.ProductID != "" {
		filters = append(filters, fmt.Sprintf("productId = %q", q.ProductID))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		DrawingNumber: decodeString(hit, "drawingNumber"),
		Title:         decodeString(hit, "title"),
		CompanyID:     decodeString(hit, "companyId"),
		CompanyName:   decodeString(hit, "companyName"),
		ProductID:     decodeString(hit, "productId"),
		ProductName:   decodeString(hit, "productName"),
		Category:      decodeString(hit, "category"),
		Snippet:       decodeFormattedString(hit, "title"),
		MachineTypes:  []MachineType{},
	}
	if raw, ok := hit["machineTypes"]; ok {
		r.MachineTypes = NormalizeMachineTypesJSON(raw)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// IndexDrawings replaces the stored records for the given drawings.
func (m *Meili) IndexDrawings(records []DrawingRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDrawings).AddDocuments(records, nil)
	return err
}

// recordID derives a Meilisearch-safe primary key. Drawing numbers may
// contain characters outside [A-Za-z0-9_-].
func recordID(drawingNumber string) string {
	sum := sha1.Sum([]byte(drawingNumber))
	return hex.EncodeToString(sum[:])
}
