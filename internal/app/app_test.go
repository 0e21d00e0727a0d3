package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/auth"
	"workrecord/api/internal/authpw"
	"workrecord/api/internal/contribution"
	"workrecord/api/internal/search"
	"workrecord/api/internal/session"
	"workrecord/api/internal/store"
)

const testPassword = "correct-horse"

var testNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(event audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Action)
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (o *countingObserver) ObserveRequest(_ string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

type testEnv struct {
	root     string
	files    *store.FileStore
	emitter  *recordingEmitter
	auditLog *audit.FileSink
	observer *countingObserver
	service  *Service
	server   *HTTPServer
}

func newTestEnv(t *testing.T, checks map[string]Check) *testEnv {
	t.Helper()
	root := t.TempDir()
	files := store.NewFileStore(root)
	clock := func() time.Time { return testNow }
	emitter := &recordingEmitter{}

	manager := attachment.NewManager(attachment.NewLocalBlobs(root), files, nil, attachment.WithClock(clock))
	ids := 0
	repo := contribution.NewRepository(files, manager, emitter, nil,
		contribution.WithClock(clock),
		contribution.WithIDGenerator(func() string {
			ids++
			return "contrib_" + string(rune('a'+ids-1))
		}),
	)
	local := search.NewLocalIndex(files, files.SearchIndexPath(), nil)
	passwords, err := authpw.NewService(testPassword, "")
	if err != nil {
		t.Fatalf("password service: %v", err)
	}
	auditLog := audit.NewFileSink(filepath.Join(root, "audit"))

	svc := New(Dependencies{
		Files:         files,
		Contributions: repo,
		Attachments:   manager,
		Search:        search.NewService(nil, local, nil),
		Audit:         emitter,
		AuditLog:      auditLog,
		Tokens:        auth.NewIssuer("test-secret", time.Hour),
		Passwords:     passwords,
		Sessions:      session.NewMemoryStore(),
		Checks:        checks,
	})
	observer := &countingObserver{}
	server := NewHTTPServer(svc, nil, HTTPOptions{CORSOrigin: "*", MaxUploadBytes: 1 << 20, Metrics: observer})
	return &testEnv{
		root:     root,
		files:    files,
		emitter:  emitter,
		auditLog: auditLog,
		observer: observer,
		service:  svc,
		server:   server,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	header := http.Header{"Content-Type": {"application/json"}}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return e.do(t, method, path, bytes.NewBufferString(body), header)
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rr := e.doJSON(t, http.MethodPost, "/api/auth/login", `{"password":"`+testPassword+`"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func (e *testEnv) writeDocument(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

func (e *testEnv) loadContributions(t *testing.T, drawingNumber string) *store.ContributionDocument {
	t.Helper()
	doc, err := e.files.LoadContributions(context.Background(), drawingNumber)
	if err != nil {
		t.Fatalf("load contributions: %v", err)
	}
	return doc
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

type formFile struct {
	field       string
	name        string
	contentType string
	data        string
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		header.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte(f.data)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func failingCheck(context.Context) error {
	return errors.New("connection refused")
}

const seededContributions = `{
  "drawingNumber": "DRW-100",
  "contributions": [
    {"id": "c1", "userId": "u1", "userName": "Tanaka", "timestamp": "2024-05-01T08:00:00.000Z",
     "type": "image", "targetSection": "step", "stepNumber": 2, "status": "active",
     "content": {"text": "clamp here", "files": [
       {"fileName": "1714550400000_clamp.jpg", "originalFileName": "clamp.jpg", "fileType": "image",
        "mimeType": "image/jpeg", "fileSize": 4, "filePath": "images/1714550400000_clamp.jpg"}]}},
    {"id": "c2", "userId": "u2", "userName": "Sato", "timestamp": "2024-05-02T08:00:00.000Z",
     "type": "comment", "targetSection": "general", "status": "merged",
     "content": {"text": "ok"}}
  ],
  "metadata": {"totalContributions": 2, "mergedCount": 1, "lastUpdated": "2024-05-02T08:00:00.000Z", "version": "1.0"}
}`

func (e *testEnv) seedContributions(t *testing.T) {
	t.Helper()
	e.writeDocument(t, "work-instructions/drawing-DRW-100/contributions/contributions.json", seededContributions)
	e.writeDocument(t, "work-instructions/drawing-DRW-100/contributions/images/1714550400000_clamp.jpg", "jpeg")
}
