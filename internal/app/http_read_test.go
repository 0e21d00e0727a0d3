package app

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"workrecord/api/internal/search"
)

const sampleSearchIndex = `{
  "drawings": [
    {"drawingNumber": "DRW-100", "title": "Bracket", "companyId": "c-1", "companyName": "Meikou",
     "productId": "p-1", "productName": "Arm", "category": "bracket",
     "machineType": "マシニングセンタ, MC", "keywords": ["bracket", "arm"], "legacyCode": "B-1"},
    {"drawingNumber": "DRW-200", "title": "Shaft", "companyId": "c-2", "companyName": "Toyoda",
     "productId": "p-2", "productName": "Spindle", "category": "shaft",
     "machineType": ["turning", "lathe"], "keywords": ["shaft"]}
  ],
  "metadata": {"totalDrawings": 2, "version": "1.0"}
}`

func TestWorkInstructionNormalizesMachineType(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeDocument(t, "work-instructions/drawing-DRW-100/instruction.json", seededInstruction)

	rr := env.do(t, http.MethodGet, "/api/work-instructions/DRW-100", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Metadata struct {
			MachineType []string `json:"machineType"`
			Revision    string   `json:"revision"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"machining"}, payload.Metadata.MachineType); diff != "" {
		t.Fatalf("machineType mismatch (-want +got):\n%s", diff)
	}
	if payload.Metadata.Revision != "C" {
		t.Fatal("unknown metadata members must be passed through")
	}

	if rr := env.do(t, http.MethodGet, "/api/work-instructions/DRW-404", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing instruction: expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/work-instructions/..", nil, nil); rr.Code != http.StatusBadRequest && rr.Code != http.StatusNotFound {
		t.Fatalf("traversal must be rejected, got %d", rr.Code)
	}
}

func TestSearchIndexNormalizesEveryDrawing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeDocument(t, "search-index.json", sampleSearchIndex)

	rr := env.do(t, http.MethodGet, "/api/search-index", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Drawings []struct {
			DrawingNumber string   `json:"drawingNumber"`
			MachineType   []string `json:"machineType"`
			LegacyCode    string   `json:"legacyCode"`
		} `json:"drawings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(payload.Drawings) != 2 {
		t.Fatalf("expected 2 drawings, got %d", len(payload.Drawings))
	}
	if diff := cmp.Diff([]string{"machining"}, payload.Drawings[0].MachineType); diff != "" {
		t.Fatalf("first drawing (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"turning"}, payload.Drawings[1].MachineType); diff != "" {
		t.Fatalf("second drawing (-want +got):\n%s", diff)
	}
	if payload.Drawings[0].LegacyCode != "B-1" {
		t.Fatal("unknown drawing members must be passed through")
	}
}

func TestSearchIndexMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodGet, "/api/search-index", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSearchFallsBackToLocalIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeDocument(t, "search-index.json", sampleSearchIndex)

	cases := []struct {
		query string
		want  []string
	}{
		{"/api/search?q=bracket", []string{"DRW-100"}},
		{"/api/search?machineType=lathe", []string{"DRW-200"}},
		{"/api/search?companyId=c-1&machineType=turning", []string{}},
		{"/api/search", []string{"DRW-100", "DRW-200"}},
		{"/api/search?limit=1&offset=1", []string{"DRW-200"}},
	}
	for _, tc := range cases {
		rr := env.do(t, http.MethodGet, tc.query, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.query, rr.Code)
		}
		var payload search.Response
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse: %v", err)
		}
		if payload.Source != search.SourceLocal {
			t.Fatalf("%s: expected local source, got %q", tc.query, payload.Source)
		}
		got := []string{}
		for _, r := range payload.Results {
			got = append(got, r.DrawingNumber)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", tc.query, diff)
		}
	}
}

func TestCompanies(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := decodeMap(t, env.do(t, http.MethodGet, "/api/companies", nil, nil))
	if list, ok := payload["companies"].([]any); !ok || len(list) != 0 {
		t.Fatalf("missing catalog should be empty, got %v", payload)
	}

	env.writeDocument(t, "companies.json", `{"companies":[{"id":"c-1","name":"Meikou","products":[]}]}`)
	payload = decodeMap(t, env.do(t, http.MethodGet, "/api/companies", nil, nil))
	if list, _ := payload["companies"].([]any); len(list) != 1 {
		t.Fatalf("expected one company, got %v", payload)
	}
}
