package search

import (
	"context"
	"encoding/json"

	"workrecord/api/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Result is a single drawing hit returned to the caller.
type Result struct {
	DrawingNumber string        `json:"drawingNumber"`
	Title         string        `json:"title"`
	CompanyID     string        `json:"companyId,omitempty"`
	CompanyName   string        `json:"companyName,omitempty"`
	ProductID     string        `json:"productId,omitempty"`
	ProductName   string        `json:"productName,omitempty"`
	Category      string        `json:"category,omitempty"`
	MachineTypes  []MachineType `json:"machineType"`
	Snippet       string        `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	MachineTypes []MachineType // empty = any
	CompanyID    string
	ProductID    string
	Limit        int
	Offset       int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a drawing search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// DrawingRecord is the data pushed to the external index for one drawing.
type DrawingRecord struct {
	ID            string   `json:"id"`
	DrawingNumber string   `json:"drawingNumber"`
	Title         string   `json:"title"`
	CompanyID     string   `json:"companyId"`
	CompanyName   string   `json:"companyName"`
	ProductID     string   `json:"productId"`
	ProductName   string   `json:"productName"`
	Category      string   `json:"category"`
	MachineTypes  []string `json:"machineTypes"`
	Keywords      []string `json:"keywords"`
}

// NormalizeEntry returns a copy of entry whose machineType member holds canonical keys.
func NormalizeEntry(entry store.DrawingEntry) store.DrawingEntry {
	entry.MachineType = MachineTypesJSON(NormalizeMachineTypesJSON(entry.MachineType))
	return entry
}

// MachineTypesJSON encodes canonical keys as a JSON array.
func MachineTypesJSON(types []MachineType) json.RawMessage {
	encoded, err := json.Marshal(machineTypeStrings(types))
	if err != nil {
		return json.RawMessage("[]")
	}
	return encoded
}

func recordFromEntry(entry store.DrawingEntry) DrawingRecord {
	return DrawingRecord{
		ID:            recordID(entry.DrawingNumber),
		DrawingNumber: entry.DrawingNumber,
		Title:         entry.Title,
		CompanyID:     entry.CompanyID,
		CompanyName:   entry.CompanyName,
		ProductID:     entry.ProductID,
		ProductName:   entry.ProductName,
		Category:      entry.Category,
		MachineTypes:  machineTypeStrings(NormalizeMachineTypesJSON(entry.MachineType)),
		Keywords:      nonNilStrings(entry.Keywords),
	}
}

func resultFromEntry(entry store.DrawingEntry) Result {
	return Result{
		DrawingNumber: entry.DrawingNumber,
		Title:         entry.Title,
		CompanyID:     entry.CompanyID,
		CompanyName:   entry.CompanyName,
		ProductID:     entry.ProductID,
		ProductName:   entry.ProductName,
		Category:      entry.Category,
		MachineTypes:  NormalizeMachineTypesJSON(entry.MachineType),
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
