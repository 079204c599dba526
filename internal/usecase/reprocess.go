package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// ReprocessService handles the owner-initiated reset and reprocess flows and
// the operator-initiated dead-letter requeue.
type ReprocessService struct {
	documents domain.DocumentRepository
	results   domain.ResultRepository
	tasks     domain.TaskRepository
	events    domain.EventPublisher
}

// NewReprocessService constructs a ReprocessService.
func NewReprocessService(
	documents domain.DocumentRepository,
	results domain.ResultRepository,
	tasks domain.TaskRepository,
	events domain.EventPublisher,
) *ReprocessService {
	return &ReprocessService{documents: documents, results: results, tasks: tasks, events: events}
}

// Reset forces a document into ERROR and its result into FAILED without
// enqueueing new work. Used to stop polling on a document stuck in a
// non-terminal state.
func (s *ReprocessService) Reset(ctx domain.Context, documentID, ownerID string) error {
	if err := s.documents.UpdateStatus(ctx, documentID, ownerID, domain.DocumentError, domain.DocumentUpdate{}); err != nil {
		return err
	}
	res, err := s.results.GetByDocument(ctx, documentID, ownerID)
	if err != nil {
		return err
	}
	msg := "manually reset by owner"
	label := domain.LabelError
	if err := s.results.Update(ctx, res.ID, ownerID, domain.ResultFailed, domain.ResultUpdate{
		Label:        &label,
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	s.publish(ctx, documentID, ownerID, domain.DocumentError)
	return nil
}

// Reprocess returns a document to the queue: document QUEUED with its score
// cleared, result PENDING with the previous outcome cleared, and a fresh task
// with zero attempts.
func (s *ReprocessService) Reprocess(ctx domain.Context, documentID, ownerID string) error {
	doc, err := s.documents.Get(ctx, documentID, ownerID)
	if err != nil {
		return err
	}
	if err := s.documents.UpdateStatus(ctx, documentID, ownerID, domain.DocumentQueued, domain.DocumentUpdate{}); err != nil {
		return err
	}
	res, err := s.results.GetByDocument(ctx, documentID, ownerID)
	if err != nil {
		return err
	}
	if err := s.results.Update(ctx, res.ID, ownerID, domain.ResultPending, domain.ResultUpdate{ClearOutcome: true}); err != nil {
		return err
	}
	if _, err := s.tasks.Enqueue(ctx, documentID, ownerID, doc.Priority); err != nil {
		return fmt.Errorf("op=reprocess.enqueue: %w", err)
	}
	observability.EnqueueTask()
	s.publish(ctx, documentID, ownerID, domain.DocumentQueued)
	return nil
}

// RequeueDeadLetter revives one sidelined task as a fresh reprocess of its
// document. Dead letters never revive on their own.
func (s *ReprocessService) RequeueDeadLetter(ctx domain.Context, taskID string) error {
	dl, err := s.tasks.GetDeadLetter(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.Reprocess(ctx, dl.DocumentID, dl.OwnerID); err != nil {
		return err
	}
	slog.Info("dead-letter task requeued",
		slog.String("task_id", taskID),
		slog.String("document_id", dl.DocumentID))
	return nil
}

func (s *ReprocessService) publish(ctx domain.Context, documentID, ownerID string, status domain.DocumentStatus) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDocumentStatus(ctx, domain.DocumentEvent{
		DocumentID: documentID,
		OwnerID:    ownerID,
		Status:     status,
		At:         time.Now().UTC(),
	}); err != nil {
		slog.Warn("document event publish failed",
			slog.String("document_id", documentID), slog.Any("error", err))
	}
}
