package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"workrecord/api/internal/search"
	"workrecord/api/internal/store"
)

var mediaFileTypes = map[string]bool{"images": true, "videos": true, "programs": true}

// StepFile addresses one media entry of an instruction: the overview (step 0)
// or a work step, optionally inside a machine-specific step list.
type StepFile struct {
	DrawingNumber string
	StepNumber    int
	FileType      string // images, videos or programs
	MachineType   string
	FileName      string
}

// UploadResult describes a stored instruction file.
type UploadResult struct {
	FileName string `json:"fileName"`
	Folder   string `json:"folder"`
	Path     string `json:"path"`
}

// UploadInstructionFile stores a file in the step's media folder and appends its
// name to the matching array of instruction.json. The step is resolved before
// anything is written.
func (m *Manager) UploadInstructionFile(ctx context.Context, target StepFile, upload Upload) (UploadResult, error) {
	folder, err := validateStepFile(target)
	if err != nil {
		return UploadResult{}, err
	}
	doc, list, err := m.loadMediaList(ctx, target)
	if err != nil {
		return UploadResult{}, err
	}

	name := GenerateFileName(m.now(), upload.FileName)
	key := path.Join(store.DrawingKey(target.DrawingNumber), target.FileType, folder, name)
	if err := m.blobs.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return UploadResult{}, fmt.Errorf("store instruction file: %w", err)
	}

	*list = append(*list, name)
	if err := m.instructions.SaveInstruction(ctx, target.DrawingNumber, doc); err != nil {
		if rmErr := m.blobs.Remove(ctx, key); rmErr != nil && !errors.Is(rmErr, ErrNotFound) {
			m.cleanupFailed("remove orphaned upload failed", target.DrawingNumber, key, rmErr)
		}
		return UploadResult{}, fmt.Errorf("save instruction: %w", err)
	}

	m.log.Info("instruction file uploaded", "drawing", target.DrawingNumber, "folder", folder, "file", name)
	return UploadResult{FileName: name, Folder: folder, Path: m.blobs.Locate(key)}, nil
}

// DeleteInstructionFile unlinks the file (best-effort) and removes its name from instruction.json.
func (m *Manager) DeleteInstructionFile(ctx context.Context, target StepFile) error {
	folder, err := validateStepFile(target)
	if err != nil {
		return err
	}
	if listedName(target.FileName) != nil {
		return fmt.Errorf("%w: invalid fileName", ErrBadRequest)
	}
	doc, list, err := m.loadMediaList(ctx, target)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(*list))
	for _, name := range *list {
		if name != target.FileName {
			kept = append(kept, name)
		}
	}
	if len(kept) == len(*list) {
		return fmt.Errorf("%w: %s is not listed", ErrNotFound, target.FileName)
	}

	key := path.Join(store.DrawingKey(target.DrawingNumber), target.FileType, folder, target.FileName)
	if err := m.blobs.Remove(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			m.log.Warn("instruction file already absent", "drawing", target.DrawingNumber, "key", key)
		} else {
			m.cleanupFailed("delete instruction file failed", target.DrawingNumber, key, err)
		}
	}

	*list = kept
	if err := m.instructions.SaveInstruction(ctx, target.DrawingNumber, doc); err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	return nil
}

func validateStepFile(target StepFile) (string, error) {
	if err := store.ValidateDrawingNumber(target.DrawingNumber); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !mediaFileTypes[target.FileType] {
		return "", fmt.Errorf("%w: fileType must be images, videos or programs", ErrBadRequest)
	}
	return StepFolder(target.StepNumber, target.MachineType)
}

// loadMediaList returns the document and a pointer into the array the target names.
func (m *Manager) loadMediaList(ctx context.Context, target StepFile) (*store.Instruction, *[]string, error) {
	doc, err := m.instructions.LoadInstruction(ctx, target.DrawingNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: no instruction for drawing %s", ErrNotFound, target.DrawingNumber)
		}
		return nil, nil, fmt.Errorf("load instruction: %w", err)
	}
	if target.StepNumber == 0 {
		return doc, doc.Overview.MediaList(target.FileType), nil
	}

	steps := doc.WorkSteps
	if strings.TrimSpace(target.MachineType) != "" {
		steps = doc.WorkStepsByMachine[string(search.NormalizeMachineType(target.MachineType))]
	}
	index := target.StepNumber - 1
	if index >= len(steps) {
		return nil, nil, fmt.Errorf("%w: step %d does not exist", ErrNotFound, target.StepNumber)
	}
	return doc, steps[index].MediaList(target.FileType), nil
}
