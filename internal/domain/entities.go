// Package domain defines the core entities, state machines, and ports of the
// assessment pipeline. It stays free of adapter imports so that the worker and
// coordinator can be tested against in-memory fakes.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrTransitionRejected  = errors.New("transition rejected")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrBlobUnavailable     = errors.New("blob unavailable")
	ErrDetectorUnavailable = errors.New("detector unavailable")
	ErrQuotaDenied         = errors.New("quota denied")
	ErrRateLimited         = errors.New("rate limited")
	ErrInternal            = errors.New("internal error")
)

// FileType enumerates supported upload formats.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
	FileTypePNG  FileType = "png"
	FileTypeJPG  FileType = "jpg"
)

// Extractable reports whether the core pipeline can pull text out of this
// format. Images are stored but never extracted.
func (f FileType) Extractable() bool {
	switch f {
	case FileTypePDF, FileTypeDOCX, FileTypeTXT:
		return true
	}
	return false
}

// Valid reports whether f is one of the known formats.
func (f FileType) Valid() bool {
	switch f {
	case FileTypePDF, FileTypeDOCX, FileTypeTXT, FileTypePNG, FileTypeJPG:
		return true
	}
	return false
}

// Plan enumerates subscription tiers.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanSchools Plan = "schools"
)

// Result labels surfaced to the UI.
const (
	LabelAIGenerated  = "AI Generated"
	LabelHumanWritten = "Human Written"
	LabelUndetermined = "Undetermined"
	LabelError        = "Error"
)

// Document is the metadata row for one uploaded file. A document is owned by
// exactly one teacher; every non-admin read is scoped by OwnerID.
type Document struct {
	ID               string
	OwnerID          string
	OriginalFilename string
	BlobPath         string
	FileType         FileType
	StudentID        *string
	AssignmentID     *string
	BatchID          *string
	Priority         int
	Status           DocumentStatus
	CharacterCount   *int
	WordCount        *int
	Score            *float64
	IsDeleted        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ParagraphResult is one per-paragraph sub-score returned by the detection
// service and persisted verbatim on the result.
type ParagraphResult struct {
	Text        string  `json:"paragraph"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result is the detection output for one document (1:1 with an active document).
type Result struct {
	ID              string
	DocumentID      string
	OwnerID         string
	Status          ResultStatus
	Score           *float64
	Label           *string
	AIGenerated     *bool
	HumanGenerated  *bool
	Paragraphs      []ParagraphResult
	ErrorMessage    *string
	ResultTimestamp time.Time
	IsDeleted       bool
}

// Task is one unit of work in the assessment queue.
type Task struct {
	ID          string
	DocumentID  string
	OwnerID     string
	Priority    int
	Attempts    int
	Status      TaskStatus
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetterTask is a sidelined task excluded from normal claims.
type DeadLetterTask struct {
	Task
	Reason      string
	SidelinedAt time.Time
}

// Batch groups the documents of one multi-file upload.
type Batch struct {
	ID             string
	OwnerID        string
	TotalFiles     int
	CompletedFiles int
	FailedFiles    int
	Status         BatchStatus
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BatchDocumentCounts is the per-status aggregation the coordinator derives a
// batch rollup from.
type BatchDocumentCounts struct {
	Completed  int
	Failed     int
	Processing int
}

// TeacherUsage carries a teacher's plan and current-cycle counters. Counters
// reset when CycleAnchor rolls into a new month; the rollover is applied
// lazily on read.
type TeacherUsage struct {
	OwnerID            string
	Plan               Plan
	WordsUsed          int64
	CharactersUsed     int64
	DocumentsProcessed int64
	CycleAnchor        time.Time
}

// Detection is the mapped response of the remote AI-detection service.
type Detection struct {
	AIGenerated    bool
	HumanGenerated bool
	Paragraphs     []ParagraphResult
}

// DocumentEvent is published on terminal document transitions.
type DocumentEvent struct {
	DocumentID string         `json:"document_id"`
	OwnerID    string         `json:"owner_id"`
	Status     DocumentStatus `json:"status"`
	Score      *float64       `json:"score,omitempty"`
	At         time.Time      `json:"at"`
}

// UsageStats is the aggregate surface consumed by reports.
type UsageStats struct {
	DocumentCount   int64
	TotalWords      int64
	TotalCharacters int64
	// All-time extras; zero for ranged periods.
	CurrentDocuments        int64
	DeletedDocuments        int64
	TotalProcessedDocuments int64
}

// Context is an alias so usecases read as domain code; adapters pass
// context.Context straight through.
type Context = context.Context
