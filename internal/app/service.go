package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/auth"
	"workrecord/api/internal/authpw"
	"workrecord/api/internal/contribution"
	"workrecord/api/internal/logger"
	"workrecord/api/internal/rbac"
	"workrecord/api/internal/search"
	"workrecord/api/internal/session"
	"workrecord/api/internal/store"
)

const (
	adminSubject      = "admin"
	defaultAuditLimit = 100
)

var errTokenRevoked = errors.New("token revoked")

// Session is the caller identity resolved from the Authorization header.
// Requests without a token are unauthenticated viewers.
type Session struct {
	Authenticated bool
	Subject       string
	Role          rbac.Role
	JTI           string
	ExpiresAt     time.Time
}

// Check is a named readiness probe.
type Check func(ctx context.Context) error

// Dependencies are the collaborators a Service is assembled from. AuditLog,
// Sessions and Checks are optional.
type Dependencies struct {
	Files         *store.FileStore
	Contributions *contribution.Repository
	Attachments   *attachment.Manager
	Search        *search.Service
	Audit         audit.Emitter
	AuditLog      *audit.FileSink
	Tokens        *auth.Issuer
	Passwords     *authpw.Service
	Sessions      session.Store
	Checks        map[string]Check
	Logger        *logger.Logger
}

type Service struct {
	files         *store.FileStore
	contributions *contribution.Repository
	attachments   *attachment.Manager
	search        *search.Service
	audit         audit.Emitter
	auditLog      *audit.FileSink
	tokens        *auth.Issuer
	passwords     *authpw.Service
	sessions      session.Store
	checks        map[string]Check
	log           *logger.Logger
	now           func() time.Time
}

func New(deps Dependencies) *Service {
	s := &Service{
		files:         deps.Files,
		contributions: deps.Contributions,
		attachments:   deps.Attachments,
		search:        deps.Search,
		audit:         deps.Audit,
		auditLog:      deps.AuditLog,
		tokens:        deps.Tokens,
		passwords:     deps.Passwords,
		sessions:      deps.Sessions,
		checks:        map[string]Check{},
		log:           deps.Logger,
		now:           time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.sessions == nil {
		s.sessions = session.NewMemoryStore()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.checks["dataDir"] = s.files.Ping
	for name, check := range deps.Checks {
		s.checks[name] = check
	}
	return s
}

// Ready runs every readiness probe and returns the failures by name.
func (s *Service) Ready(ctx context.Context) (map[string]error, bool) {
	results := make(map[string]error, len(s.checks))
	ok := true
	for name, check := range s.checks {
		err := check(ctx)
		results[name] = err
		if err != nil {
			ok = false
		}
	}
	return results, ok
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) Login(ctx context.Context, password string, actor *audit.Actor) (string, auth.Claims, error) {
	if s.passwords == nil {
		return "", auth.Claims{}, authpw.ErrNotConfigured
	}
	if err := s.passwords.Verify(password); err != nil {
		if errors.Is(err, authpw.ErrInvalidPassword) {
			s.log.Warn("admin login failed", "ip", actorIP(actor))
			s.audit.Emit(audit.Event{Action: audit.ActionAdminLoginFailed, Target: adminSubject, Actor: actor})
		}
		return "", auth.Claims{}, err
	}
	token, claims, err := s.tokens.Issue(adminSubject, string(rbac.RoleAdmin))
	if err != nil {
		return "", auth.Claims{}, err
	}
	s.audit.Emit(audit.Event{Action: audit.ActionAdminLogin, Target: adminSubject, Actor: actor})
	return token, claims, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{Role: rbac.RoleViewer}, nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, errTokenRevoked
	}
	return Session{
		Authenticated: true,
		Subject:       claims.Sub,
		Role:          rbac.Normalize(claims.Role),
		JTI:           claims.JTI,
		ExpiresAt:     claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, actor *audit.Actor) error {
	if !sess.Authenticated {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.audit.Emit(audit.Event{Action: audit.ActionAdminLogout, Target: sess.Subject, Actor: actor})
	return nil
}

func (s *Service) Companies(ctx context.Context) (*store.Catalog, error) {
	catalog, err := s.files.LoadCatalog(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &store.Catalog{Companies: []store.Company{}}, nil
	}
	return catalog, err
}

func (s *Service) SearchIndex(ctx context.Context) (*store.SearchIndex, error) {
	return s.search.Index(ctx)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.search.Reindex(ctx)
}

// Instruction loads instruction.json with metadata.machineType reduced to canonical keys.
func (s *Service) Instruction(ctx context.Context, drawingNumber string) (*store.Instruction, error) {
	doc, err := s.files.LoadInstruction(ctx, drawingNumber)
	if err != nil {
		return nil, err
	}
	doc.Metadata.MachineType = search.MachineTypesJSON(search.NormalizeMachineTypesJSON(doc.Metadata.MachineType))
	return doc, nil
}

// ReplaceInstruction overwrites instruction.json. The document must name the same drawing.
func (s *Service) ReplaceInstruction(ctx context.Context, drawingNumber string, doc *store.Instruction, actor *audit.Actor) error {
	if err := store.ValidateDrawingNumber(drawingNumber); err != nil {
		return err
	}
	if doc.Metadata.DrawingNumber != drawingNumber {
		return domainError(http.StatusBadRequest, "BAD_REQUEST", "metadata.drawingNumber must match the drawing in the path", nil)
	}
	if err := s.files.SaveInstruction(ctx, drawingNumber, doc); err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	s.audit.Emit(audit.Event{Action: audit.ActionInstructionUpdate, Target: drawingNumber, Actor: actor})
	return nil
}

func (s *Service) UploadInstructionFile(ctx context.Context, target attachment.StepFile, upload attachment.Upload, actor *audit.Actor) (attachment.UploadResult, error) {
	result, err := s.attachments.UploadInstructionFile(ctx, target, upload)
	if err != nil {
		return attachment.UploadResult{}, err
	}
	target.FileName = result.FileName
	s.audit.Emit(audit.Event{
		Action:   audit.ActionInstructionFileUpload,
		Target:   target.DrawingNumber,
		Actor:    actor,
		Metadata: stepFileMetadata(target),
	})
	return result, nil
}

func (s *Service) DeleteInstructionFile(ctx context.Context, target attachment.StepFile, actor *audit.Actor) error {
	if err := s.attachments.DeleteInstructionFile(ctx, target); err != nil {
		return err
	}
	s.audit.Emit(audit.Event{
		Action:   audit.ActionInstructionFileDelete,
		Target:   target.DrawingNumber,
		Actor:    actor,
		Metadata: stepFileMetadata(target),
	})
	return nil
}

func (s *Service) Contributions(ctx context.Context, drawingNumber string) (*store.ContributionDocument, error) {
	return s.contributions.Get(ctx, drawingNumber)
}

func (s *Service) SubmitContribution(ctx context.Context, drawingNumber string, sub contribution.Submission, actor *audit.Actor) (*store.Contribution, store.ContributionMetadata, error) {
	return s.contributions.Submit(ctx, drawingNumber, sub, actor)
}

func (s *Service) UpdateContributionStatus(ctx context.Context, drawingNumber, contributionID string, status store.ContributionStatus, actor *audit.Actor) (store.ContributionMetadata, error) {
	return s.contributions.UpdateStatus(ctx, drawingNumber, contributionID, status, actor)
}

func (s *Service) DeleteContribution(ctx context.Context, drawingNumber string, target contribution.Target, actor *audit.Actor) (store.ContributionMetadata, error) {
	return s.contributions.Delete(ctx, drawingNumber, target, actor)
}

// AuditLog reads back one month of the audit file, newest first. An empty
// month means the current one.
func (s *Service) AuditLog(ctx context.Context, month string, limit int) (string, []audit.Event, error) {
	if month == "" {
		month = audit.CurrentMonth(s.now())
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if s.auditLog == nil {
		return month, []audit.Event{}, nil
	}
	events, err := s.auditLog.ReadMonth(ctx, month, limit)
	if err != nil {
		return month, nil, err
	}
	return month, events, nil
}

func stepFileMetadata(target attachment.StepFile) map[string]any {
	meta := map[string]any{
		"stepNumber": target.StepNumber,
		"fileType":   target.FileType,
		"fileName":   target.FileName,
	}
	if target.MachineType != "" {
		meta["machineType"] = string(search.NormalizeMachineType(target.MachineType))
	}
	return meta
}

func actorIP(actor *audit.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.IP
}
