package attachment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workrecord/api/internal/store"
)

const sampleInstruction = `{
  "metadata": {"drawingNumber": "DRW-1", "title": "Bracket", "machineType": "マシニング", "reviewer": "sato"},
  "overview": {"description": "Bracket machining", "images": ["existing.jpg"]},
  "workSteps": [
    {"stepNumber": 1, "title": "Setup", "images": []},
    {"stepNumber": 2, "title": "Rough cut", "videos": ["cut.mp4"]}
  ],
  "workStepsByMachine": {
    "turning": [{"stepNumber": 1, "title": "Chuck"}]
  }
}`

func seedInstruction(t *testing.T, fs *store.FileStore) {
	t.Helper()
	writeFile(t, filepath.Join(fs.DrawingDir("DRW-1"), "instruction.json"))
	if err := os.WriteFile(filepath.Join(fs.DrawingDir("DRW-1"), "instruction.json"), []byte(sampleInstruction), 0o644); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}
}

func upload(name string) Upload {
	return Upload{FileName: name, ContentType: "image/png", Size: 4, Body: strings.NewReader("data")}
}

func TestUploadInstructionFileToOverview(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	seedInstruction(t, fs)
	ctx := context.Background()

	res, err := mgr.UploadInstructionFile(ctx, StepFile{DrawingNumber: "DRW-1", StepNumber: 0, FileType: "images"}, upload("top view.png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Folder != "overview" || res.FileName != "1700000000000_top_view.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(fs.DrawingDir("DRW-1"), "images", "overview", res.FileName)); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	doc, err := fs.LoadInstruction(ctx, "DRW-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Overview.Images) != 2 || doc.Overview.Images[1] != res.FileName {
		t.Fatalf("overview images not patched: %v", doc.Overview.Images)
	}
	if _, ok := doc.Metadata.Extra["reviewer"]; !ok {
		t.Fatal("unknown metadata fields must survive the rewrite")
	}
}

func TestUploadInstructionFileToSteps(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	seedInstruction(t, fs)
	ctx := context.Background()

	res, err := mgr.UploadInstructionFile(ctx, StepFile{DrawingNumber: "DRW-1", StepNumber: 2, FileType: "videos"}, upload("cut2.mp4"))
	if err != nil {
		t.Fatalf("upload legacy step: %v", err)
	}
	if res.Folder != "step_02" {
		t.Fatalf("unexpected folder %q", res.Folder)
	}

	res, err = mgr.UploadInstructionFile(ctx, StepFile{DrawingNumber: "DRW-1", StepNumber: 1, FileType: "programs", MachineType: "旋盤"}, upload("O1234.nc"))
	if err != nil {
		t.Fatalf("upload machine step: %v", err)
	}
	if res.Folder != "step_01_turning" {
		t.Fatalf("unexpected folder %q", res.Folder)
	}

	doc, err := fs.LoadInstruction(ctx, "DRW-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := doc.WorkSteps[1].Videos; len(got) != 2 || got[0] != "cut.mp4" {
		t.Fatalf("step 2 videos not patched: %v", got)
	}
	if got := doc.WorkStepsByMachine["turning"][0].Programs; len(got) != 1 || got[0] != res.FileName {
		t.Fatalf("machine step programs not patched: %v", got)
	}
}

func TestUploadInstructionFileRejectsBeforeWriting(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	seedInstruction(t, fs)
	ctx := context.Background()

	cases := []struct {
		name   string
		target StepFile
		want   error
	}{
		{name: "unknown step", target: StepFile{DrawingNumber: "DRW-1", StepNumber: 5, FileType: "images"}, want: ErrNotFound},
		{name: "unknown machine list", target: StepFile{DrawingNumber: "DRW-1", StepNumber: 1, FileType: "images", MachineType: "radial"}, want: ErrNotFound},
		{name: "bad file type", target: StepFile{DrawingNumber: "DRW-1", StepNumber: 1, FileType: "docs"}, want: ErrBadRequest},
		{name: "negative step", target: StepFile{DrawingNumber: "DRW-1", StepNumber: -1, FileType: "images"}, want: ErrBadRequest},
		{name: "missing instruction", target: StepFile{DrawingNumber: "DRW-9", StepNumber: 0, FileType: "images"}, want: ErrNotFound},
		{name: "bad drawing", target: StepFile{DrawingNumber: "../x", StepNumber: 0, FileType: "images"}, want: ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.UploadInstructionFile(ctx, tc.target, upload("a.png"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(fs.DrawingDir("DRW-1"), "images")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no media directory should have been created, stat err=%v", err)
	}
}

func TestDeleteInstructionFile(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	seedInstruction(t, fs)
	ctx := context.Background()

	media := filepath.Join(fs.DrawingDir("DRW-1"), "images", "overview", "existing.jpg")
	writeFile(t, media)

	target := StepFile{DrawingNumber: "DRW-1", StepNumber: 0, FileType: "images", FileName: "existing.jpg"}
	if err := mgr.DeleteInstructionFile(ctx, target); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(media); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("media should be gone, stat err=%v", err)
	}
	doc, err := fs.LoadInstruction(ctx, "DRW-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Overview.Images) != 0 {
		t.Fatalf("file name should be filtered out: %v", doc.Overview.Images)
	}

	if err := mgr.DeleteInstructionFile(ctx, target); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unlisted file, got %v", err)
	}
}

func TestDeleteInstructionFileWithMissingMedia(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	seedInstruction(t, fs)
	ctx := context.Background()

	target := StepFile{DrawingNumber: "DRW-1", StepNumber: 2, FileType: "videos", FileName: "cut.mp4"}
	if err := mgr.DeleteInstructionFile(ctx, target); err != nil {
		t.Fatalf("delete with missing media: %v", err)
	}
	doc, err := fs.LoadInstruction(ctx, "DRW-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.WorkSteps[1].Videos) != 0 {
		t.Fatalf("file name should be filtered out: %v", doc.WorkSteps[1].Videos)
	}

	for _, name := range []string{"../cut.mp4", "..", "a/b.mp4", `a\b.mp4`, "cut\x00.mp4", ""} {
		bad := StepFile{DrawingNumber: "DRW-1", StepNumber: 2, FileType: "videos", FileName: name}
		if err := mgr.DeleteInstructionFile(ctx, bad); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest for %q, got %v", name, err)
		}
	}
}

func TestDeleteInstructionFileWithLegacyName(t *testing.T) {
	mgr, fs, _ := newLocalManager(t)
	ctx := context.Background()
	legacy := `{"metadata": {"drawingNumber": "DRW-1"}, "overview": {"images": ["図面 (1).png", "keep.png"]}, "workSteps": []}`
	writeFile(t, filepath.Join(fs.DrawingDir("DRW-1"), "instruction.json"))
	if err := os.WriteFile(filepath.Join(fs.DrawingDir("DRW-1"), "instruction.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}
	media := filepath.Join(fs.DrawingDir("DRW-1"), "images", "overview", "図面 (1).png")
	writeFile(t, media)

	target := StepFile{DrawingNumber: "DRW-1", StepNumber: 0, FileType: "images", FileName: "図面 (1).png"}
	if err := mgr.DeleteInstructionFile(ctx, target); err != nil {
		t.Fatalf("delete legacy name: %v", err)
	}
	if _, err := os.Stat(media); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("legacy media should be gone, stat err=%v", err)
	}
	doc, err := fs.LoadInstruction(ctx, "DRW-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Overview.Images) != 1 || doc.Overview.Images[0] != "keep.png" {
		t.Fatalf("only the legacy name should be filtered out: %v", doc.Overview.Images)
	}
}
