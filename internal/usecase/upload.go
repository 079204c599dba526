package usecase

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// UploadRequest is one file submitted for assessment.
type UploadRequest struct {
	OwnerID          string
	OriginalFilename string
	Data             []byte
	StudentID        *string
	AssignmentID     *string
	BatchID          *string
	Priority         int
}

// UploadService handles intake: blob persistence, document and result rows,
// and queueing the assessment task. Rows are written before the task is
// enqueued so a task always references an existing document.
type UploadService struct {
	documents domain.DocumentRepository
	results   domain.ResultRepository
	tasks     domain.TaskRepository
	batches   domain.BatchRepository
	teachers  domain.TeacherRepository
	blobs     domain.BlobStore
	events    domain.EventPublisher
}

// NewUploadService constructs an UploadService.
func NewUploadService(
	documents domain.DocumentRepository,
	results domain.ResultRepository,
	tasks domain.TaskRepository,
	batches domain.BatchRepository,
	teachers domain.TeacherRepository,
	blobs domain.BlobStore,
	events domain.EventPublisher,
) *UploadService {
	return &UploadService{
		documents: documents,
		results:   results,
		tasks:     tasks,
		batches:   batches,
		teachers:  teachers,
		blobs:     blobs,
		events:    events,
	}
}

// Upload stores one file and queues it for assessment. Returns the new
// document id. Image uploads are stored but left in UPLOADED; only
// extractable types get a task.
func (s *UploadService) Upload(ctx domain.Context, req UploadRequest) (string, error) {
	fileType, err := fileTypeFromName(req.OriginalFilename)
	if err != nil {
		return "", err
	}
	if len(req.Data) == 0 {
		return "", fmt.Errorf("op=upload: %w: empty file", domain.ErrInvalidArgument)
	}

	if err := s.teachers.EnsureTeacher(ctx, req.OwnerID, domain.PlanFree); err != nil {
		return "", err
	}

	blobPath, err := s.blobs.Upload(ctx, req.OriginalFilename, req.Data)
	if err != nil {
		return "", fmt.Errorf("op=upload: %w", err)
	}

	docID, err := s.documents.Create(ctx, domain.Document{
		OwnerID:          req.OwnerID,
		OriginalFilename: req.OriginalFilename,
		BlobPath:         blobPath,
		FileType:         fileType,
		StudentID:        req.StudentID,
		AssignmentID:     req.AssignmentID,
		BatchID:          req.BatchID,
		Priority:         req.Priority,
		Status:           domain.DocumentUploaded,
	})
	if err != nil {
		return "", err
	}
	if _, err := s.results.Create(ctx, docID, req.OwnerID); err != nil {
		return "", err
	}

	if !fileType.Extractable() {
		return docID, nil
	}

	if err := s.documents.UpdateStatus(ctx, docID, req.OwnerID, domain.DocumentQueued, domain.DocumentUpdate{}); err != nil {
		return "", err
	}
	if _, err := s.tasks.Enqueue(ctx, docID, req.OwnerID, req.Priority); err != nil {
		// The document exists but cannot be worked; flip it to ERROR so the
		// owner sees a terminal state instead of a stuck QUEUED.
		if stErr := s.documents.UpdateStatus(ctx, docID, req.OwnerID, domain.DocumentError, domain.DocumentUpdate{}); stErr != nil {
			slog.Error("failed to mark document after enqueue failure",
				slog.String("document_id", docID), slog.Any("error", stErr))
		}
		return "", fmt.Errorf("op=upload.enqueue: %w", err)
	}
	observability.EnqueueTask()
	s.publish(ctx, domain.DocumentEvent{
		DocumentID: docID,
		OwnerID:    req.OwnerID,
		Status:     domain.DocumentQueued,
		At:         time.Now().UTC(),
	})
	return docID, nil
}

// CreateBatch registers a batch expecting totalFiles uploads. A batch with
// zero files can never finish, so it is created FAILED outright.
func (s *UploadService) CreateBatch(ctx domain.Context, ownerID string, totalFiles, priority int) (string, error) {
	if totalFiles < 0 {
		return "", fmt.Errorf("op=upload.create_batch: %w: negative total_files", domain.ErrInvalidArgument)
	}
	status := domain.BatchQueued
	if totalFiles == 0 {
		status = domain.BatchFailed
	}
	return s.batches.Create(ctx, domain.Batch{
		OwnerID:    ownerID,
		TotalFiles: totalFiles,
		Status:     status,
		Priority:   priority,
	})
}

// GetBatch returns a batch scoped to its owner.
func (s *UploadService) GetBatch(ctx domain.Context, batchID, ownerID string) (domain.Batch, error) {
	return s.batches.Get(ctx, batchID, ownerID)
}

// UploadToBatch stores the files of one batch. Per-file failures do not abort
// the rest; each failed slot is registered as an ERROR document so the batch
// rollup still reaches total_files and settles as PARTIAL.
func (s *UploadService) UploadToBatch(ctx domain.Context, ownerID, batchID string, files []UploadRequest) ([]string, error) {
	batch, err := s.batches.Get(ctx, batchID, ownerID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for i := range files {
		files[i].OwnerID = ownerID
		files[i].BatchID = &batch.ID
		files[i].Priority = batch.Priority
		id, err := s.Upload(ctx, files[i])
		if err != nil {
			slog.Error("batch file upload failed",
				slog.String("batch_id", batchID),
				slog.String("filename", files[i].OriginalFilename),
				slog.Any("error", err))
			if slotErr := s.failSlot(ctx, batch, files[i].OriginalFilename, err); slotErr != nil {
				slog.Error("failed to register failed batch slot",
					slog.String("batch_id", batchID),
					slog.String("filename", files[i].OriginalFilename),
					slog.Any("error", slotErr))
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FailBatchSlot records a batch member that never made it into storage, for
// callers that reject files before upload. Without a document row the batch
// count can never reach total_files and the batch would stay PROCESSING.
func (s *UploadService) FailBatchSlot(ctx domain.Context, ownerID, batchID, filename string, cause error) error {
	batch, err := s.batches.Get(ctx, batchID, ownerID)
	if err != nil {
		return err
	}
	return s.failSlot(ctx, batch, filename, cause)
}

// failSlot creates the ERROR document and FAILED result standing in for a
// batch member that could not be ingested.
func (s *UploadService) failSlot(ctx domain.Context, batch domain.Batch, filename string, cause error) error {
	fileType, err := fileTypeFromName(filename)
	if err != nil {
		// Keep the raw extension so the owner can see what was rejected.
		fileType = domain.FileType(strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."))
	}
	docID, err := s.documents.Create(ctx, domain.Document{
		OwnerID:          batch.OwnerID,
		OriginalFilename: filename,
		FileType:         fileType,
		BatchID:          &batch.ID,
		Priority:         batch.Priority,
		Status:           domain.DocumentError,
	})
	if err != nil {
		return err
	}
	resID, err := s.results.Create(ctx, docID, batch.OwnerID)
	if err != nil {
		return err
	}
	label := domain.LabelError
	msg := cause.Error()
	if err := s.results.Update(ctx, resID, batch.OwnerID, domain.ResultFailed, domain.ResultUpdate{
		Label:        &label,
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	s.publish(ctx, domain.DocumentEvent{
		DocumentID: docID,
		OwnerID:    batch.OwnerID,
		Status:     domain.DocumentError,
		At:         time.Now().UTC(),
	})
	return nil
}

func (s *UploadService) publish(ctx domain.Context, ev domain.DocumentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDocumentStatus(ctx, ev); err != nil {
		slog.Warn("document event publish failed",
			slog.String("document_id", ev.DocumentID), slog.Any("error", err))
	}
}

func fileTypeFromName(name string) (domain.FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "jpeg" {
		ext = "jpg"
	}
	ft := domain.FileType(ext)
	if !ft.Valid() {
		return "", fmt.Errorf("op=upload: %w: %q", domain.ErrUnsupportedFileType, ext)
	}
	return ft, nil
}
