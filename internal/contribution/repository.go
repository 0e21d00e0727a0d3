package contribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/logger"
	"workrecord/api/internal/store"
	"workrecord/api/internal/util"
)

var (
	ErrNotFound   = errors.New("contribution not found")
	ErrBadRequest = errors.New("invalid contribution request")
)

// DocumentStore loads and saves whole contributions.json documents.
type DocumentStore interface {
	LoadContributions(ctx context.Context, drawingNumber string) (*store.ContributionDocument, error)
	SaveContributions(ctx context.Context, drawingNumber string, doc *store.ContributionDocument) error
}

// Attachments stores and removes the media files a contribution references.
type Attachments interface {
	StoreContributionFile(ctx context.Context, drawingNumber string, upload attachment.Upload) (store.AttachedFile, error)
	DeleteAttachedFiles(ctx context.Context, drawingNumber string, contribution store.Contribution) attachment.CleanupReport
	DiscardContributionFiles(ctx context.Context, drawingNumber string, files []store.AttachedFile)
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithIDGenerator(next func() string) Option {
	return func(r *Repository) { r.newID = next }
}

// WithRecorder receives one call per mutation with the action and "ok" or "error".
func WithRecorder(record func(action, result string)) Option {
	return func(r *Repository) { r.record = record }
}

// Repository implements the contribution lifecycle for one drawing at a time.
// Each mutation loads the whole document, changes it in memory and saves it back.
type Repository struct {
	docs   DocumentStore
	files  Attachments
	audit  audit.Emitter
	log    *logger.Logger
	now    func() time.Time
	newID  func() string
	record func(action, result string)
}

func NewRepository(docs DocumentStore, files Attachments, emitter audit.Emitter, log *logger.Logger, opts ...Option) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	r := &Repository{
		docs:   docs,
		files:  files,
		audit:  emitter,
		log:    log,
		now:    time.Now,
		newID:  func() string { return util.NewID("contrib") },
		record: func(string, string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the drawing's document, or an empty one when none exists yet.
func (r *Repository) Get(ctx context.Context, drawingNumber string) (*store.ContributionDocument, error) {
	doc, err := r.docs.LoadContributions(ctx, drawingNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.NewContributionDocument(drawingNumber, r.now()), nil
		}
		return nil, loadError(err)
	}
	return doc, nil
}

// Submission is a new contribution as received from a client.
type Submission struct {
	UserID        string
	UserName      string
	Type          store.ContributionType
	TargetSection store.TargetSection
	StepNumber    *int
	Text          string
	Files         []attachment.Upload
}

// Validate checks a submission before any file is written.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.UserID) == "" || strings.TrimSpace(s.UserName) == "" {
		return fmt.Errorf("%w: userId and userName are required", ErrBadRequest)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrBadRequest, s.Type)
	}
	if !s.TargetSection.Valid() {
		return fmt.Errorf("%w: unknown targetSection %q", ErrBadRequest, s.TargetSection)
	}
	if s.TargetSection == store.SectionStep && (s.StepNumber == nil || *s.StepNumber < 1) {
		return fmt.Errorf("%w: stepNumber is required for step contributions", ErrBadRequest)
	}
	if strings.TrimSpace(s.Text) == "" && len(s.Files) == 0 {
		return fmt.Errorf("%w: text or at least one file is required", ErrBadRequest)
	}
	return nil
}

// Submit stores the submission's files, appends an active contribution and
// saves the document, creating it when the drawing has none. Files already
// written are removed again if a later step fails.
func (r *Repository) Submit(ctx context.Context, drawingNumber string, sub Submission, actor *audit.Actor) (*store.Contribution, store.ContributionMetadata, error) {
	c, meta, err := r.submit(ctx, drawingNumber, sub, actor)
	r.observe(audit.ActionContributionCreate, err)
	return c, meta, err
}

func (r *Repository) submit(ctx context.Context, drawingNumber string, sub Submission, actor *audit.Actor) (*store.Contribution, store.ContributionMetadata, error) {
	if err := store.ValidateDrawingNumber(drawingNumber); err != nil {
		return nil, store.ContributionMetadata{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := sub.Validate(); err != nil {
		return nil, store.ContributionMetadata{}, err
	}

	doc, err := r.Get(ctx, drawingNumber)
	if err != nil {
		return nil, store.ContributionMetadata{}, err
	}

	stored := make([]store.AttachedFile, 0, len(sub.Files))
	for _, upload := range sub.Files {
		file, err := r.files.StoreContributionFile(ctx, drawingNumber, upload)
		if err != nil {
			r.files.DiscardContributionFiles(ctx, drawingNumber, stored)
			if errors.Is(err, attachment.ErrUnsupported) || errors.Is(err, attachment.ErrUnsafePath) {
				return nil, store.ContributionMetadata{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
			}
			return nil, store.ContributionMetadata{}, err
		}
		stored = append(stored, file)
	}

	now := r.now()
	c := store.Contribution{
		ID:            r.newID(),
		UserID:        strings.TrimSpace(sub.UserID),
		UserName:      strings.TrimSpace(sub.UserName),
		Timestamp:     store.FormatTime(now),
		Type:          sub.Type,
		TargetSection: sub.TargetSection,
		Status:        store.StatusActive,
		Content:       store.ContributionContent{Text: sub.Text},
	}
	if sub.TargetSection == store.SectionStep {
		step := *sub.StepNumber
		c.StepNumber = &step
	}
	if len(stored) > 0 {
		c.Content.Files = stored
	}

	doc.Contributions = append(doc.Contributions, c)
	doc.Recompute(now)
	if err := r.docs.SaveContributions(ctx, drawingNumber, doc); err != nil {
		r.files.DiscardContributionFiles(ctx, drawingNumber, stored)
		return nil, store.ContributionMetadata{}, fmt.Errorf("save contributions: %w", err)
	}

	r.audit.Emit(audit.Event{
		Action: audit.ActionContributionCreate,
		Target: targetName(drawingNumber, c.ID),
		Actor:  actorOrUser(actor, c),
		Metadata: map[string]any{
			"type":          c.Type,
			"targetSection": c.TargetSection,
			"stepNumber":    c.StepNumber,
			"files":         filePaths(c),
		},
	})
	return &c, doc.Metadata, nil
}

// UpdateStatus sets the status of the first contribution with the given id.
// A drawing without a document yields ErrNotFound and nothing is created.
func (r *Repository) UpdateStatus(ctx context.Context, drawingNumber, contributionID string, status store.ContributionStatus, actor *audit.Actor) (store.ContributionMetadata, error) {
	meta, err := r.updateStatus(ctx, drawingNumber, contributionID, status, actor)
	r.observe(audit.ActionContributionUpdateStatus, err)
	return meta, err
}

func (r *Repository) updateStatus(ctx context.Context, drawingNumber, contributionID string, status store.ContributionStatus, actor *audit.Actor) (store.ContributionMetadata, error) {
	if contributionID == "" {
		return store.ContributionMetadata{}, fmt.Errorf("%w: contributionId is required", ErrBadRequest)
	}
	if status == "" {
		return store.ContributionMetadata{}, fmt.Errorf("%w: status is required", ErrBadRequest)
	}
	if !status.Valid() {
		return store.ContributionMetadata{}, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status)
	}

	doc, err := r.load(ctx, drawingNumber)
	if err != nil {
		return store.ContributionMetadata{}, err
	}
	i, err := ByID(contributionID).resolve(doc.Contributions)
	if err != nil {
		return store.ContributionMetadata{}, err
	}

	previous := doc.Contributions[i].Status
	doc.Contributions[i].Status = status
	doc.Recompute(r.now())
	if err := r.docs.SaveContributions(ctx, drawingNumber, doc); err != nil {
		return store.ContributionMetadata{}, fmt.Errorf("save contributions: %w", err)
	}

	r.audit.Emit(audit.Event{
		Action: audit.ActionContributionUpdateStatus,
		Target: targetName(drawingNumber, contributionID),
		Actor:  actor,
		Metadata: map[string]any{
			"previousStatus": previous,
			"newStatus":      status,
		},
	})
	return doc.Metadata, nil
}

// Delete removes the addressed contribution. Attached files are cleaned up
// first on a best-effort basis; the document save that follows is what
// decides success.
func (r *Repository) Delete(ctx context.Context, drawingNumber string, target Target, actor *audit.Actor) (store.ContributionMetadata, error) {
	meta, err := r.delete(ctx, drawingNumber, target, actor)
	r.observe(audit.ActionContributionDelete, err)
	return meta, err
}

func (r *Repository) delete(ctx context.Context, drawingNumber string, target Target, actor *audit.Actor) (store.ContributionMetadata, error) {
	doc, err := r.load(ctx, drawingNumber)
	if err != nil {
		return store.ContributionMetadata{}, err
	}
	i, err := target.resolve(doc.Contributions)
	if err != nil {
		return store.ContributionMetadata{}, err
	}
	removed := doc.Contributions[i]

	report := r.files.DeleteAttachedFiles(ctx, drawingNumber, removed)
	if len(report.Failed) > 0 {
		r.log.Warn("contribution files left behind", "drawing", drawingNumber, "contribution", removed.ID, "failed", report.Failed)
	}

	remaining := make([]store.Contribution, 0, len(doc.Contributions)-1)
	remaining = append(remaining, doc.Contributions[:i]...)
	remaining = append(remaining, doc.Contributions[i+1:]...)
	doc.Contributions = remaining
	doc.Recompute(r.now())
	if err := r.docs.SaveContributions(ctx, drawingNumber, doc); err != nil {
		if len(report.Deleted) > 0 {
			r.log.Error("contribution files deleted but document not saved", "drawing", drawingNumber, "contribution", removed.ID, "files", report.Deleted)
		}
		return store.ContributionMetadata{}, fmt.Errorf("save contributions: %w", err)
	}

	r.audit.Emit(audit.Event{
		Action: audit.ActionContributionDelete,
		Target: targetName(drawingNumber, removed.ID),
		Actor:  actor,
		Metadata: map[string]any{
			"addressedBy":   target.String(),
			"contribution":  summary(removed),
			"missingFiles":  report.Missing,
			"failedCleanup": report.Failed,
		},
	})
	return doc.Metadata, nil
}

// load reads an existing document; absence is ErrNotFound.
func (r *Repository) load(ctx context.Context, drawingNumber string) (*store.ContributionDocument, error) {
	doc, err := r.docs.LoadContributions(ctx, drawingNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no contributions for drawing %s", ErrNotFound, drawingNumber)
		}
		return nil, loadError(err)
	}
	return doc, nil
}

func (r *Repository) observe(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.record(action, result)
}

func loadError(err error) error {
	if errors.Is(err, store.ErrInvalidDrawingNumber) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return fmt.Errorf("load contributions: %w", err)
}

func targetName(drawingNumber, contributionID string) string {
	if contributionID == "" {
		return drawingNumber
	}
	return drawingNumber + ":" + contributionID
}

func actorOrUser(actor *audit.Actor, c store.Contribution) *audit.Actor {
	if actor != nil && (actor.ID != "" || actor.Name != "") {
		return actor
	}
	out := &audit.Actor{ID: c.UserID, Name: c.UserName}
	if actor != nil {
		out.IP = actor.IP
	}
	return out
}

func summary(c store.Contribution) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"type":          c.Type,
		"targetSection": c.TargetSection,
		"stepNumber":    c.StepNumber,
		"userId":        c.UserID,
		"userName":      c.UserName,
		"status":        c.Status,
		"files":         filePaths(c),
	}
}

func filePaths(c store.Contribution) []string {
	paths := make([]string, 0, len(c.Content.Files))
	for _, f := range c.Content.Files {
		paths = append(paths, f.FilePath)
	}
	return paths
}
