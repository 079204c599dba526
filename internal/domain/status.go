package domain

import "fmt"

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentUploaded      DocumentStatus = "uploaded"
	DocumentQueued        DocumentStatus = "queued"
	DocumentProcessing    DocumentStatus = "processing"
	DocumentCompleted     DocumentStatus = "completed"
	DocumentError         DocumentStatus = "error"
	DocumentLimitExceeded DocumentStatus = "limit_exceeded"
	DocumentDeleted       DocumentStatus = "deleted"
)

// documentTransitions is the allowed-edge table. Soft delete is allowed from
// any state and handled separately.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentUploaded:      {DocumentQueued, DocumentProcessing, DocumentError},
	DocumentQueued:        {DocumentProcessing, DocumentError},
	DocumentProcessing:    {DocumentCompleted, DocumentError, DocumentLimitExceeded},
	DocumentCompleted:     {DocumentQueued},
	DocumentError:         {DocumentQueued, DocumentProcessing},
	DocumentLimitExceeded: {DocumentQueued},
}

// CanTransition reports whether s → to is a legal edge.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if to == DocumentDeleted {
		return true
	}
	if s == to {
		return true
	}
	for _, t := range documentTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is one a UI can treat as final.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentCompleted, DocumentError, DocumentLimitExceeded, DocumentDeleted:
		return true
	}
	return false
}

// ResultStatus is the lifecycle state of a result.
type ResultStatus string

const (
	ResultPending    ResultStatus = "pending"
	ResultProcessing ResultStatus = "processing"
	ResultCompleted  ResultStatus = "completed"
	ResultFailed     ResultStatus = "failed"
	ResultDeleted    ResultStatus = "deleted"
)

var resultTransitions = map[ResultStatus][]ResultStatus{
	ResultPending:    {ResultProcessing, ResultFailed},
	ResultProcessing: {ResultCompleted, ResultFailed},
	ResultCompleted:  {ResultPending},
	ResultFailed:     {ResultPending, ResultProcessing},
}

// CanTransition reports whether s → to is a legal edge.
func (s ResultStatus) CanTransition(to ResultStatus) bool {
	if to == ResultDeleted {
		return true
	}
	if s == to {
		return true
	}
	for _, t := range resultTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// TaskStatus is the queue state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskRetrying   TaskStatus = "retrying"
	TaskDeadLetter TaskStatus = "dead_letter"
)

// BatchStatus is the aggregate state of a multi-file upload.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchUploading  BatchStatus = "uploading"
	BatchValidating BatchStatus = "validating"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
	BatchError      BatchStatus = "error"
)

// ActiveBatchStatuses are the states the coordinator reconciles.
var ActiveBatchStatuses = []BatchStatus{
	BatchQueued, BatchProcessing, BatchPartial, BatchUploading, BatchValidating,
}

// DeriveBatchStatus computes the rollup status from member document counts.
func DeriveBatchStatus(total int, c BatchDocumentCounts) BatchStatus {
	if c.Completed+c.Failed >= total {
		if c.Failed == 0 {
			return BatchCompleted
		}
		return BatchPartial
	}
	if c.Processing > 0 || c.Completed > 0 || c.Failed > 0 {
		return BatchProcessing
	}
	return BatchQueued
}

// TransitionError builds the rejection error for an illegal edge.
func TransitionError(entity string, from, to fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrTransitionRejected, entity, from, to)
}

func (s DocumentStatus) String() string { return string(s) }
func (s ResultStatus) String() string   { return string(s) }
func (s TaskStatus) String() string     { return string(s) }
func (s BatchStatus) String() string    { return string(s) }
