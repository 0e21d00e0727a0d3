package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound             = errors.New("document not found")
	ErrInvalidDrawingNumber = errors.New("invalid drawing number")
)

const (
	InstructionsDir   = "work-instructions"
	ContributionsDir  = "contributions"
	contributionsFile = "contributions.json"
	instructionFile   = "instruction.json"
	searchIndexFile   = "search-index.json"
	catalogFile       = "companies.json"
	drawingDirPrefix  = "drawing-"
	documentFileMode  = 0o644
	documentDirMode   = 0o755
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FileStore reads and writes whole JSON documents under a data root.
// There is no locking: concurrent saves to one drawing's document race and
// the last rename wins.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Root() string {
	return s.root
}

// ValidateDrawingNumber rejects identifiers that could escape the drawing directory.
func ValidateDrawingNumber(drawingNumber string) error {
	trimmed := strings.TrimSpace(drawingNumber)
	if trimmed == "" || trimmed != drawingNumber {
		return ErrInvalidDrawingNumber
	}
	if trimmed == "." || strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, `/\`) || strings.ContainsRune(trimmed, 0) {
		return ErrInvalidDrawingNumber
	}
	return nil
}

// DrawingKey is the slash-separated location of a drawing relative to the data root.
func DrawingKey(drawingNumber string) string {
	return path.Join(InstructionsDir, drawingDirPrefix+drawingNumber)
}

// DrawingDir is <root>/work-instructions/drawing-<n>.
func (s *FileStore) DrawingDir(drawingNumber string) string {
	return filepath.Join(s.root, filepath.FromSlash(DrawingKey(drawingNumber)))
}

// ContributionsDir is the directory holding contributions.json and its attached files.
func (s *FileStore) ContributionsDir(drawingNumber string) string {
	return filepath.Join(s.DrawingDir(drawingNumber), ContributionsDir)
}

func (s *FileStore) LoadContributions(ctx context.Context, drawingNumber string) (*ContributionDocument, error) {
	if err := ValidateDrawingNumber(drawingNumber); err != nil {
		return nil, err
	}
	var doc ContributionDocument
	if err := readDocument(ctx, filepath.Join(s.ContributionsDir(drawingNumber), contributionsFile), &doc); err != nil {
		return nil, err
	}
	if doc.Contributions == nil {
		doc.Contributions = []Contribution{}
	}
	if doc.DrawingNumber == "" {
		doc.DrawingNumber = drawingNumber
	}
	return &doc, nil
}

func (s *FileStore) SaveContributions(ctx context.Context, drawingNumber string, doc *ContributionDocument) error {
	if err := ValidateDrawingNumber(drawingNumber); err != nil {
		return err
	}
	return writeDocument(ctx, filepath.Join(s.ContributionsDir(drawingNumber), contributionsFile), doc)
}

func (s *FileStore) LoadInstruction(ctx context.Context, drawingNumber string) (*Instruction, error) {
	if err := ValidateDrawingNumber(drawingNumber); err != nil {
		return nil, err
	}
	var doc Instruction
	if err := readDocument(ctx, filepath.Join(s.DrawingDir(drawingNumber), instructionFile), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) SaveInstruction(ctx context.Context, drawingNumber string, doc *Instruction) error {
	if err := ValidateDrawingNumber(drawingNumber); err != nil {
		return err
	}
	return writeDocument(ctx, filepath.Join(s.DrawingDir(drawingNumber), instructionFile), doc)
}

func (s *FileStore) SearchIndexPath() string {
	return filepath.Join(s.root, searchIndexFile)
}

func (s *FileStore) LoadSearchIndex(ctx context.Context) (*SearchIndex, error) {
	var index SearchIndex
	if err := readDocument(ctx, s.SearchIndexPath(), &index); err != nil {
		return nil, err
	}
	if index.Drawings == nil {
		index.Drawings = []DrawingEntry{}
	}
	return &index, nil
}

func (s *FileStore) LoadCatalog(ctx context.Context) (*Catalog, error) {
	var catalog Catalog
	if err := readDocument(ctx, filepath.Join(s.root, catalogFile), &catalog); err != nil {
		return nil, err
	}
	if catalog.Companies == nil {
		catalog.Companies = []Company{}
	}
	return &catalog, nil
}

// Ping reports whether the data root is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", s.root)
	}
	return nil
}

func readDocument(ctx context.Context, path string, target any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeDocument replaces the whole file. The temp-file rename keeps a reader
// from observing a half-written document; it does not serialize writers.
func writeDocument(ctx context.Context, path string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, documentDirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, documentFileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
