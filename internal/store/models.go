package store

import (
	"encoding/json"
	"time"
)

// ISOTimeLayout matches the millisecond UTC timestamps already present in stored documents.
const ISOTimeLayout = "2006-01-02T15:04:05.000Z07:00"

const ContributionsVersion = "1.0"

func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOTimeLayout)
}

type ContributionType string

const (
	TypeComment      ContributionType = "comment"
	TypeImage        ContributionType = "image"
	TypeVideo        ContributionType = "video"
	TypeNearMiss     ContributionType = "nearmiss"
	TypeTroubleshoot ContributionType = "troubleshoot"
)

func (t ContributionType) Valid() bool {
	switch t {
	case TypeComment, TypeImage, TypeVideo, TypeNearMiss, TypeTroubleshoot:
		return true
	}
	return false
}

type TargetSection string

const (
	SectionOverview TargetSection = "overview"
	SectionStep     TargetSection = "step"
	SectionGeneral  TargetSection = "general"
)

func (s TargetSection) Valid() bool {
	switch s {
	case SectionOverview, SectionStep, SectionGeneral:
		return true
	}
	return false
}

type ContributionStatus string

const (
	StatusActive   ContributionStatus = "active"
	StatusMerged   ContributionStatus = "merged"
	StatusArchived ContributionStatus = "archived"
)

func (s ContributionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusMerged, StatusArchived:
		return true
	}
	return false
}

type AttachedFile struct {
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName"`
	FileType         string `json:"fileType"`
	MimeType         string `json:"mimeType"`
	FileSize         int64  `json:"fileSize"`
	// FilePath is relative to the drawing's contributions directory.
	FilePath string      `json:"filePath"`
	Extra    extraFields `json:"-"`
}

type ContributionContent struct {
	Text  string         `json:"text,omitempty"`
	Files []AttachedFile `json:"files,omitempty"`
	// Single-file fields from older documents. Kept on rewrite, never set by new submissions.
	ImagePath string      `json:"imagePath,omitempty"`
	VideoPath string      `json:"videoPath,omitempty"`
	Extra     extraFields `json:"-"`
}

type Contribution struct {
	ID            string              `json:"id"`
	UserID        string              `json:"userId"`
	UserName      string              `json:"userName"`
	Timestamp     string              `json:"timestamp"`
	Type          ContributionType    `json:"type"`
	TargetSection TargetSection       `json:"targetSection"`
	StepNumber    *int                `json:"stepNumber,omitempty"`
	Status        ContributionStatus  `json:"status"`
	Content       ContributionContent `json:"content"`
	Extra         extraFields         `json:"-"`
}

type ContributionMetadata struct {
	TotalContributions int         `json:"totalContributions"`
	MergedCount        int         `json:"mergedCount"`
	LastUpdated        string      `json:"lastUpdated"`
	Version            string      `json:"version"`
	Extra              extraFields `json:"-"`
}

type ContributionDocument struct {
	DrawingNumber string               `json:"drawingNumber"`
	Contributions []Contribution       `json:"contributions"`
	Metadata      ContributionMetadata `json:"metadata"`
	Extra         extraFields          `json:"-"`
}

func NewContributionDocument(drawingNumber string, now time.Time) *ContributionDocument {
	doc := &ContributionDocument{
		DrawingNumber: drawingNumber,
		Contributions: []Contribution{},
	}
	doc.Recompute(now)
	return doc
}

// Recompute derives every metadata field from the contribution list.
func (d *ContributionDocument) Recompute(now time.Time) {
	if d.Contributions == nil {
		d.Contributions = []Contribution{}
	}
	merged := 0
	for _, c := range d.Contributions {
		if c.Status == StatusMerged {
			merged++
		}
	}
	d.Metadata.TotalContributions = len(d.Contributions)
	d.Metadata.MergedCount = merged
	d.Metadata.LastUpdated = FormatTime(now)
	if d.Metadata.Version == "" {
		d.Metadata.Version = ContributionsVersion
	}
}

func (f *AttachedFile) UnmarshalJSON(data []byte) error {
	type plain AttachedFile
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*f = AttachedFile(v)
	f.Extra = extra
	return nil
}

func (f AttachedFile) MarshalJSON() ([]byte, error) {
	type plain AttachedFile
	return encodeWithExtra(plain(f), f.Extra)
}

func (c *ContributionContent) UnmarshalJSON(data []byte) error {
	type plain ContributionContent
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*c = ContributionContent(v)
	c.Extra = extra
	return nil
}

func (c ContributionContent) MarshalJSON() ([]byte, error) {
	type plain ContributionContent
	return encodeWithExtra(plain(c), c.Extra)
}

func (c *Contribution) UnmarshalJSON(data []byte) error {
	type plain Contribution
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*c = Contribution(v)
	c.Extra = extra
	return nil
}

func (c Contribution) MarshalJSON() ([]byte, error) {
	type plain Contribution
	return encodeWithExtra(plain(c), c.Extra)
}

func (m *ContributionMetadata) UnmarshalJSON(data []byte) error {
	type plain ContributionMetadata
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*m = ContributionMetadata(v)
	m.Extra = extra
	return nil
}

func (m ContributionMetadata) MarshalJSON() ([]byte, error) {
	type plain ContributionMetadata
	return encodeWithExtra(plain(m), m.Extra)
}

func (d *ContributionDocument) UnmarshalJSON(data []byte) error {
	type plain ContributionDocument
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*d = ContributionDocument(v)
	d.Extra = extra
	return nil
}

func (d ContributionDocument) MarshalJSON() ([]byte, error) {
	type plain ContributionDocument
	return encodeWithExtra(plain(d), d.Extra)
}

// Instruction is the per-drawing work-instruction document (instruction.json).
type Instruction struct {
	Metadata           InstructionMetadata   `json:"metadata"`
	Overview           Overview              `json:"overview"`
	WorkSteps          []WorkStep            `json:"workSteps,omitempty"`
	WorkStepsByMachine map[string][]WorkStep `json:"workStepsByMachine,omitempty"`
	Extra              extraFields           `json:"-"`
}

type InstructionMetadata struct {
	DrawingNumber string `json:"drawingNumber"`
	Title         string `json:"title,omitempty"`
	CompanyID     string `json:"companyId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	// MachineType is kept raw: legacy documents hold a free-text string, newer ones an array.
	MachineType   json.RawMessage `json:"machineType,omitempty"`
	Difficulty    string          `json:"difficulty,omitempty"`
	EstimatedTime string          `json:"estimatedTime,omitempty"`
	CreatedDate   string          `json:"createdDate,omitempty"`
	UpdatedDate   string          `json:"updatedDate,omitempty"`
	Author        string          `json:"author,omitempty"`
	Extra         extraFields     `json:"-"`
}

type Overview struct {
	Description     string      `json:"description,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
	PreparationTime string      `json:"preparationTime,omitempty"`
	ProcessingTime  string      `json:"processingTime,omitempty"`
	Images          []string    `json:"images,omitempty"`
	Videos          []string    `json:"videos,omitempty"`
	Programs        []string    `json:"programs,omitempty"`
	Extra           extraFields `json:"-"`
}

type WorkStep struct {
	StepNumber           int         `json:"stepNumber"`
	Title                string      `json:"title,omitempty"`
	Description          string      `json:"description,omitempty"`
	DetailedInstructions []string    `json:"detailedInstructions,omitempty"`
	Images               []string    `json:"images,omitempty"`
	Videos               []string    `json:"videos,omitempty"`
	Programs             []string    `json:"programs,omitempty"`
	TimeRequired         string      `json:"timeRequired,omitempty"`
	WarningLevel         string      `json:"warningLevel,omitempty"`
	Extra                extraFields `json:"-"`
}

// MediaList returns a pointer to the named media array ("images", "videos", "programs").
func (o *Overview) MediaList(fileType string) *[]string {
	switch fileType {
	case "images":
		return &o.Images
	case "videos":
		return &o.Videos
	case "programs":
		return &o.Programs
	}
	return nil
}

func (w *WorkStep) MediaList(fileType string) *[]string {
	switch fileType {
	case "images":
		return &w.Images
	case "videos":
		return &w.Videos
	case "programs":
		return &w.Programs
	}
	return nil
}

func (i *Instruction) UnmarshalJSON(data []byte) error {
	type plain Instruction
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*i = Instruction(v)
	i.Extra = extra
	return nil
}

func (i Instruction) MarshalJSON() ([]byte, error) {
	type plain Instruction
	return encodeWithExtra(plain(i), i.Extra)
}

func (m *InstructionMetadata) UnmarshalJSON(data []byte) error {
	type plain InstructionMetadata
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*m = InstructionMetadata(v)
	m.Extra = extra
	return nil
}

func (m InstructionMetadata) MarshalJSON() ([]byte, error) {
	type plain InstructionMetadata
	return encodeWithExtra(plain(m), m.Extra)
}

func (o *Overview) UnmarshalJSON(data []byte) error {
	type plain Overview
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*o = Overview(v)
	o.Extra = extra
	return nil
}

func (o Overview) MarshalJSON() ([]byte, error) {
	type plain Overview
	return encodeWithExtra(plain(o), o.Extra)
}

func (w *WorkStep) UnmarshalJSON(data []byte) error {
	type plain WorkStep
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*w = WorkStep(v)
	w.Extra = extra
	return nil
}

func (w WorkStep) MarshalJSON() ([]byte, error) {
	type plain WorkStep
	return encodeWithExtra(plain(w), w.Extra)
}

// SearchIndex mirrors search-index.json, the catalog-wide drawing listing.
type SearchIndex struct {
	Drawings []DrawingEntry      `json:"drawings"`
	Metadata SearchIndexMetadata `json:"metadata"`
}

type SearchIndexMetadata struct {
	TotalDrawings int    `json:"totalDrawings"`
	LastUpdated   string `json:"lastUpdated,omitempty"`
	Version       string `json:"version,omitempty"`
}

type DrawingEntry struct {
	DrawingNumber string          `json:"drawingNumber"`
	Title         string          `json:"title,omitempty"`
	CompanyID     string          `json:"companyId,omitempty"`
	CompanyName   string          `json:"companyName,omitempty"`
	ProductID     string          `json:"productId,omitempty"`
	ProductName   string          `json:"productName,omitempty"`
	Category      string          `json:"category,omitempty"`
	MachineType   json.RawMessage `json:"machineType,omitempty"`
	Keywords      []string        `json:"keywords,omitempty"`
	Difficulty    string          `json:"difficulty,omitempty"`
	EstimatedTime string          `json:"estimatedTime,omitempty"`
	Extra         extraFields     `json:"-"`
}

func (e *DrawingEntry) UnmarshalJSON(data []byte) error {
	type plain DrawingEntry
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*e = DrawingEntry(v)
	e.Extra = extra
	return nil
}

func (e DrawingEntry) MarshalJSON() ([]byte, error) {
	type plain DrawingEntry
	return encodeWithExtra(plain(e), e.Extra)
}

// Catalog mirrors companies.json.
type Catalog struct {
	Companies []Company `json:"companies"`
}

type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ShortName   string    `json:"shortName,omitempty"`
	Description string    `json:"description,omitempty"`
	Products    []Product `json:"products"`
}

type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	DrawingCount int    `json:"drawingCount"`
}
