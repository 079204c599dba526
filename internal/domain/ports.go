package domain

import "time"

// Repositories (ports)

// TaskRepository is the durable queue. ClaimNext must be atomic with respect
// to concurrent workers; a claimed task stays invisible until its lease
// (AvailableAt) elapses.
type TaskRepository interface {
	Enqueue(ctx Context, documentID, ownerID string, priority int) (string, error)
	// ClaimNext leases the highest-priority eligible task, incrementing its
	// attempt counter. Tasks whose incremented attempts exceed maxAttempts are
	// sidelined to the dead-letter store instead of being returned.
	// Returns ErrNotFound when the queue is empty.
	ClaimNext(ctx Context, lease time.Duration, maxAttempts int) (Task, error)
	Complete(ctx Context, taskID string) error
	Defer(ctx Context, taskID string, delay time.Duration, reason string) error
	DeadLetter(ctx Context, t Task, reason string) error
	ListDeadLetters(ctx Context, limit int) ([]DeadLetterTask, error)
	GetDeadLetter(ctx Context, taskID string) (DeadLetterTask, error)
	PruneDeadLetters(ctx Context, olderThan time.Time) (int64, error)
}

// DocumentUpdate carries the optional fields of a status transition.
type DocumentUpdate struct {
	Score          *float64
	WordCount      *int
	CharacterCount *int
}

// DocumentRepository persists documents, owner-scoped. UpdateStatus rejects
// edges outside the transition table with ErrTransitionRejected.
type DocumentRepository interface {
	Create(ctx Context, d Document) (string, error)
	Get(ctx Context, id, ownerID string) (Document, error)
	UpdateStatus(ctx Context, id, ownerID string, status DocumentStatus, upd DocumentUpdate) error
	UpdateCounts(ctx Context, id, ownerID string, wordCount, characterCount int) error
	// SoftDelete marks the document deleted and returns its blob path so the
	// caller can release storage.
	SoftDelete(ctx Context, id, ownerID string) (string, error)
	UsageStats(ctx Context, ownerID string, from, to time.Time) (UsageStats, error)
	AllTimeStats(ctx Context, ownerID string) (UsageStats, error)
}

// ResultUpdate carries the optional fields of a result transition.
// ClearOutcome wipes score/label/paragraphs, used by reprocess.
type ResultUpdate struct {
	Score          *float64
	Label          *string
	Paragraphs     []ParagraphResult
	ErrorMessage   *string
	AIGenerated    *bool
	HumanGenerated *bool
	ClearOutcome   bool
}

// ResultRepository persists results, 1:1 with active documents.
type ResultRepository interface {
	Create(ctx Context, documentID, ownerID string) (string, error)
	GetByDocument(ctx Context, documentID, ownerID string) (Result, error)
	Update(ctx Context, resultID, ownerID string, status ResultStatus, upd ResultUpdate) error
	SoftDeleteByDocument(ctx Context, documentID, ownerID string) error
}

// BatchRepository persists batches and the per-batch document aggregation the
// coordinator consumes.
type BatchRepository interface {
	Create(ctx Context, b Batch) (string, error)
	Get(ctx Context, id, ownerID string) (Batch, error)
	ListActive(ctx Context, limit int) ([]Batch, error)
	CountDocuments(ctx Context, batchID string) (BatchDocumentCounts, error)
	UpdateRollup(ctx Context, id string, completed, failed int, status BatchStatus) error
}

// TeacherRepository stores plans and cycle counters.
type TeacherRepository interface {
	EnsureTeacher(ctx Context, ownerID string, plan Plan) error
	GetUsage(ctx Context, ownerID string) (TeacherUsage, error)
	ResetCycle(ctx Context, ownerID string, anchor time.Time) error
	RecordUsage(ctx Context, ownerID string, words, characters, documents int64) error
}

// External collaborators (ports)

// BlobStore is an opaque object store addressed by string path.
type BlobStore interface {
	Upload(ctx Context, name string, data []byte) (string, error)
	Download(ctx Context, path string) ([]byte, error)
	Delete(ctx Context, path string) error
}

// TextExtractor converts raw bytes into plain text for a supported file type.
type TextExtractor interface {
	Extract(ctx Context, data []byte, fileType FileType) (string, error)
}

// Detector calls the remote AI-detection endpoint.
type Detector interface {
	Detect(ctx Context, text string) (Detection, error)
}

// EventPublisher emits lifecycle events on terminal document transitions.
// Implementations must never fail the pipeline; errors are advisory.
type EventPublisher interface {
	PublishDocumentStatus(ctx Context, ev DocumentEvent) error
}

// Admission is the outcome of a quota check.
type Admission struct {
	Allowed bool
	Plan    Plan
	Reason  string
}

// QuotaLedger decides admission and records usage after success.
type QuotaLedger interface {
	// Admit is prospective: it compares current counters plus this document
	// against the owner's plan limits. Exactly at the limit is admitted.
	Admit(ctx Context, ownerID string, wordCount, characterCount int) (Admission, error)
	// RecordUsage increments cycle counters. Never called for denied tasks
	// nor for the schools plan.
	RecordUsage(ctx Context, ownerID string, wordCount, characterCount int) error
}
