package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"workrecord/api/internal/logger"
	"workrecord/api/internal/store"
)

var (
	ErrNotFound    = errors.New("attachment not found")
	ErrBadRequest  = errors.New("invalid attachment request")
	ErrUnsafePath  = errors.New("unsafe attachment path")
	ErrUnsupported = errors.New("unsupported media type")
)

// InstructionStore loads and saves a drawing's instruction.json.
type InstructionStore interface {
	LoadInstruction(ctx context.Context, drawingNumber string) (*store.Instruction, error)
	SaveInstruction(ctx context.Context, drawingNumber string, doc *store.Instruction) error
}

type counter interface {
	Inc()
}

type Option func(*Manager)

// WithClock overrides time.Now for generated file names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCleanupFailures counts best-effort deletions that failed for reasons other than absence.
func WithCleanupFailures(c counter) Option {
	return func(m *Manager) { m.failures = c }
}

// Manager places media for contributions and instruction steps and removes it again.
type Manager struct {
	blobs        BlobStore
	instructions InstructionStore
	log          *logger.Logger
	now          func() time.Time
	failures     counter
}

func NewManager(blobs BlobStore, instructions InstructionStore, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{blobs: blobs, instructions: instructions, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ContributionKey is the blob key of a file referenced from contributions.json.
func (m *Manager) ContributionKey(drawingNumber, relativeFilePath string) (string, error) {
	if err := store.ValidateDrawingNumber(drawingNumber); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	rel, err := cleanRelative(relativeFilePath)
	if err != nil {
		return "", err
	}
	return path.Join(store.DrawingKey(drawingNumber), store.ContributionsDir, rel), nil
}

// StoragePathFor resolves a contribution file to its storage location.
func (m *Manager) StoragePathFor(drawingNumber, relativeFilePath string) (string, error) {
	key, err := m.ContributionKey(drawingNumber, relativeFilePath)
	if err != nil {
		return "", err
	}
	return m.blobs.Locate(key), nil
}

// CleanupReport lists what DeleteAttachedFiles did with each referenced file.
type CleanupReport struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
	Failed  []string `json:"failed"`
}

// DeleteAttachedFiles removes every file listed in contribution.content.files.
// Missing files are recorded, other failures are logged; neither stops the loop.
// Legacy imagePath/videoPath values are not touched.
func (m *Manager) DeleteAttachedFiles(ctx context.Context, drawingNumber string, contribution store.Contribution) CleanupReport {
	report := CleanupReport{Deleted: []string{}, Missing: []string{}, Failed: []string{}}
	for _, file := range contribution.Content.Files {
		key, err := m.ContributionKey(drawingNumber, file.FilePath)
		if err != nil {
			m.cleanupFailed("refusing to delete attachment", drawingNumber, file.FilePath, err)
			report.Failed = append(report.Failed, file.FilePath)
			continue
		}
		err = m.blobs.Remove(ctx, key)
		switch {
		case err == nil:
			report.Deleted = append(report.Deleted, file.FilePath)
		case errors.Is(err, ErrNotFound):
			m.log.Warn("attachment already absent", "drawing", drawingNumber, "path", file.FilePath)
			report.Missing = append(report.Missing, file.FilePath)
		default:
			m.cleanupFailed("delete attachment failed", drawingNumber, file.FilePath, err)
			report.Failed = append(report.Failed, file.FilePath)
		}
	}
	return report
}

func (m *Manager) cleanupFailed(msg, drawingNumber, filePath string, err error) {
	m.log.Error(msg, "drawing", drawingNumber, "path", filePath, "error", err)
	if m.failures != nil {
		m.failures.Inc()
	}
}

// Upload is one incoming file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// StoreContributionFile writes a submitted file under the drawing's contributions
// directory and describes it for content.files. Only image/* and video/* are accepted.
func (m *Manager) StoreContributionFile(ctx context.Context, drawingNumber string, upload Upload) (store.AttachedFile, error) {
	fileType := mediaKind(upload.ContentType)
	if fileType == "" {
		return store.AttachedFile{}, fmt.Errorf("%w: %q", ErrUnsupported, upload.ContentType)
	}
	name := GenerateFileName(m.now(), upload.FileName)
	rel := path.Join(fileType+"s", name)
	key, err := m.ContributionKey(drawingNumber, rel)
	if err != nil {
		return store.AttachedFile{}, err
	}
	if err := m.blobs.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return store.AttachedFile{}, fmt.Errorf("store contribution file: %w", err)
	}
	return store.AttachedFile{
		FileName:         name,
		OriginalFileName: upload.FileName,
		FileType:         fileType,
		MimeType:         upload.ContentType,
		FileSize:         upload.Size,
		FilePath:         rel,
	}, nil
}

// DiscardContributionFiles removes files stored for a submission that was not saved.
func (m *Manager) DiscardContributionFiles(ctx context.Context, drawingNumber string, files []store.AttachedFile) {
	m.DeleteAttachedFiles(ctx, drawingNumber, store.Contribution{Content: store.ContributionContent{Files: files}})
}

func mediaKind(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	}
	return ""
}
