package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/auth"
	"workrecord/api/internal/contribution"
	"workrecord/api/internal/logger"
	"workrecord/api/internal/rbac"
	"workrecord/api/internal/search"
	"workrecord/api/internal/store"
)

const multipartMemory = 32 << 20

// requestObserver receives one observation per completed request.
type requestObserver interface {
	ObserveRequest(method string, status int)
}

type HTTPOptions struct {
	CORSOrigin     string
	MaxUploadBytes int64
	Metrics        requestObserver
	MetricsHandler http.Handler
}

type HTTPServer struct {
	service        *Service
	log            *logger.Logger
	corsOrigin     string
	maxUploadBytes int64
	metrics        requestObserver
	metricsHandler http.Handler
}

func NewHTTPServer(service *Service, log *logger.Logger, opts HTTPOptions) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &HTTPServer{
		service:        service,
		log:            log,
		corsOrigin:     opts.CORSOrigin,
		maxUploadBytes: opts.MaxUploadBytes,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metricsHandler != nil {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results, ready := s.service.Ready(ctx)
		checks := make(map[string]any, len(results))
		for name, err := range results {
			if err != nil {
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Auth routes
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Logout(r.Context(), session, actorFromRequest(r, session)); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		session, err := s.service.SessionFromToken(r.Context(), bearerToken(r))
		if err != nil {
			session = Session{Role: rbac.RoleViewer}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": session.Authenticated,
			"role":          session.Role,
		})
		return
	}

	// Public catalog reads
	if r.Method == http.MethodGet && r.URL.Path == "/api/companies" {
		catalog, err := s.service.Companies(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, catalog)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/search-index" {
		index, err := s.service.SearchIndex(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, index)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), searchQuery(r)))
		return
	}
	if len(parts) == 3 && parts[1] == "work-instructions" && r.Method == http.MethodGet {
		doc, err := s.service.Instruction(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if len(parts) == 3 && parts[1] == "contributions" {
		s.handleContributions(w, r, parts[2])
		return
	}

	if parts[1] == "admin" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !s.service.Can(session.Role, rbac.ActionManage) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleAdmin(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleContributions(w http.ResponseWriter, r *http.Request, drawingNumber string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.service.Contributions(r.Context(), drawingNumber)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPost:
		s.handleSubmitContribution(w, r, drawingNumber)
	case http.MethodPatch:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !s.service.Can(session.Role, rbac.ActionModerate) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handlePatchContribution(w, r, session, drawingNumber)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSubmitContribution(w http.ResponseWriter, r *http.Request, drawingNumber string) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	stepNumber, err := optionalInt(r.FormValue("stepNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "stepNumber must be an integer", nil)
		return
	}
	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["files[]"]...)
	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sub := contribution.Submission{
		UserID:        r.FormValue("userId"),
		UserName:      r.FormValue("userName"),
		Type:          store.ContributionType(r.FormValue("type")),
		TargetSection: store.TargetSection(r.FormValue("targetSection")),
		StepNumber:    stepNumber,
		Text:          r.FormValue("text"),
		Files:         uploads,
	}
	created, metadata, err := s.service.SubmitContribution(r.Context(), drawingNumber, sub, &audit.Actor{IP: clientIP(r)})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"contribution": created,
		"metadata":     metadata,
	})
}

func (s *HTTPServer) handlePatchContribution(w http.ResponseWriter, r *http.Request, session Session, drawingNumber string) {
	var body struct {
		Action            string  `json:"action"`
		ContributionID    *string `json:"contributionId"`
		ContributionIndex *int    `json:"contributionIndex"`
		Status            string  `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	actor := actorFromRequest(r, session)

	switch body.Action {
	case "updateStatus":
		id := ""
		if body.ContributionID != nil {
			id = *body.ContributionID
		}
		metadata, err := s.service.UpdateContributionStatus(r.Context(), drawingNumber, id, store.ContributionStatus(body.Status), actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"message":  fmt.Sprintf("Contribution status updated to %s", body.Status),
			"metadata": metadata,
		})
	case "delete":
		target, err := contribution.ParseTarget(body.ContributionID, body.ContributionIndex)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		metadata, err := s.service.DeleteContribution(r.Context(), drawingNumber, target, actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"message":  "Contribution deleted",
			"metadata": metadata,
		})
	case "":
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "action is required", nil)
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("unknown action %q", body.Action), nil)
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, claims, err := s.service.Login(r.Context(), body.Password, &audit.Actor{IP: clientIP(r)})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": claims.ExpiresAt().Format(time.RFC3339),
	})
}

// handleAdmin serves /api/admin/... for an authorized admin session.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	actor := actorFromRequest(r, session)

	if len(parts) == 1 && parts[0] == "audit" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		month, events, err := s.service.AuditLog(r.Context(), r.URL.Query().Get("month"), limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"month": month, "events": events})
		return
	}

	if len(parts) == 2 && parts[0] == "search" && parts[1] == "reindex" && r.Method == http.MethodPost {
		count, err := s.service.Reindex(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "indexed": count})
		return
	}

	if len(parts) == 3 && parts[0] == "drawings" && parts[2] == "instruction" && r.Method == http.MethodPut {
		var doc store.Instruction
		if err := decodeBody(r, &doc); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReplaceInstruction(r.Context(), parts[1], &doc, actor); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if len(parts) == 3 && parts[0] == "drawings" && parts[2] == "files" {
		switch r.Method {
		case http.MethodPost:
			s.handleUploadInstructionFile(w, r, actor, parts[1])
			return
		case http.MethodDelete:
			var body struct {
				StepNumber  *int   `json:"stepNumber"`
				FileType    string `json:"fileType"`
				FileName    string `json:"fileName"`
				MachineType string `json:"machineType"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.StepNumber == nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "stepNumber is required", nil)
				return
			}
			target := attachment.StepFile{
				DrawingNumber: parts[1],
				StepNumber:    *body.StepNumber,
				FileType:      body.FileType,
				MachineType:   body.MachineType,
				FileName:      body.FileName,
			}
			if err := s.service.DeleteInstructionFile(r.Context(), target, actor); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUploadInstructionFile(w http.ResponseWriter, r *http.Request, actor *audit.Actor, drawingNumber string) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	stepNumber, err := optionalInt(r.FormValue("stepNumber"))
	if err != nil || stepNumber == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "stepNumber must be an integer", nil)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "exactly one file is required", nil)
		return
	}
	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	target := attachment.StepFile{
		DrawingNumber: drawingNumber,
		StepNumber:    *stepNumber,
		FileType:      r.FormValue("fileType"),
		MachineType:   r.FormValue("machineType"),
	}
	result, err := s.service.UploadInstructionFile(r.Context(), target, uploads[0], actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "file": result})
}

func (s *HTTPServer) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the size limit", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return false
	}
	return true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, errTokenRevoked) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail writes the mapped error response. Server errors are logged with their cause.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, writer.status)
		}
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Actor-Id, X-Actor-Name")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	return auth.BearerToken(r.Header.Get("Authorization"))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// actorFromRequest combines the session subject with the optional
// X-Actor-Id / X-Actor-Name headers sent by the admin panel.
func actorFromRequest(r *http.Request, session Session) *audit.Actor {
	actor := &audit.Actor{
		ID:   strings.TrimSpace(r.Header.Get("X-Actor-Id")),
		Name: strings.TrimSpace(r.Header.Get("X-Actor-Name")),
		IP:   clientIP(r),
	}
	if actor.ID == "" {
		actor.ID = session.Subject
	}
	return actor
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func searchQuery(r *http.Request) search.Query {
	values := r.URL.Query()
	q := search.Query{
		Text:      strings.TrimSpace(values.Get("q")),
		CompanyID: values.Get("companyId"),
		ProductID: values.Get("productId"),
	}
	q.Limit, _ = strconv.Atoi(values.Get("limit"))
	q.Offset, _ = strconv.Atoi(values.Get("offset"))
	for _, raw := range values["machineType"] {
		q.MachineTypes = append(q.MachineTypes, search.NormalizeMachineTypes(raw)...)
	}
	return q
}

func optionalInt(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// openUploads opens every part. The returned func closes whatever was opened.
func openUploads(headers []*multipart.FileHeader) ([]attachment.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	uploads := make([]attachment.Upload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %s: %w", header.Filename, err)
		}
		opened = append(opened, f)
		uploads = append(uploads, attachment.Upload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}
