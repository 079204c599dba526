package usecase

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// ResultService reads documents and their detection results and handles
// owner-initiated deletion.
type ResultService struct {
	documents domain.DocumentRepository
	results   domain.ResultRepository
	blobs     domain.BlobStore
	events    domain.EventPublisher
}

// NewResultService constructs a ResultService.
func NewResultService(
	documents domain.DocumentRepository,
	results domain.ResultRepository,
	blobs domain.BlobStore,
	events domain.EventPublisher,
) *ResultService {
	return &ResultService{documents: documents, results: results, blobs: blobs, events: events}
}

// GetDocument returns one active document, scoped to the owner.
func (s *ResultService) GetDocument(ctx domain.Context, documentID, ownerID string) (domain.Document, error) {
	return s.documents.Get(ctx, documentID, ownerID)
}

// GetResult returns the active result for a document.
func (s *ResultService) GetResult(ctx domain.Context, documentID, ownerID string) (domain.Result, error) {
	if _, err := s.documents.Get(ctx, documentID, ownerID); err != nil {
		return domain.Result{}, err
	}
	return s.results.GetByDocument(ctx, documentID, ownerID)
}

// Delete soft-deletes a document and its result, then releases the blob.
// Each step is its own atomic unit; later failures are logged and tolerated
// so a half-deleted document still reads as deleted.
func (s *ResultService) Delete(ctx domain.Context, documentID, ownerID string) error {
	blobPath, err := s.documents.SoftDelete(ctx, documentID, ownerID)
	if err != nil {
		return err
	}
	if err := s.results.SoftDeleteByDocument(ctx, documentID, ownerID); err != nil {
		slog.Error("result soft delete failed after document delete",
			slog.String("document_id", documentID), slog.Any("error", err))
	}
	if blobPath != "" {
		if err := s.blobs.Delete(ctx, blobPath); err != nil {
			slog.Error("blob delete failed after document delete",
				slog.String("document_id", documentID),
				slog.String("blob_path", blobPath), slog.Any("error", err))
		}
	}
	if s.events != nil {
		if err := s.events.PublishDocumentStatus(ctx, domain.DocumentEvent{
			DocumentID: documentID,
			OwnerID:    ownerID,
			Status:     domain.DocumentDeleted,
			At:         time.Now().UTC(),
		}); err != nil {
			slog.Warn("document event publish failed",
				slog.String("document_id", documentID), slog.Any("error", err))
		}
	}
	return nil
}
