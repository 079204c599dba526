// Package assessor runs the assessment worker: it leases queued tasks and
// drives each one end-to-end through extraction, quota admission, detection,
// and the coupled document/result state updates.
package assessor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
	"github.com/fairyhunter13/ai-essay-detector/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-essay-detector/pkg/textx"
)

// Deferral reasons recorded on tasks; they surface in last_error and metrics.
const (
	reasonProcessingUpdateFailed = "DB_UPDATE_PROCESSING_FAILED"
	reasonResultUpdateFailed     = "DB_UPDATE_RESULT_FAILED"
	reasonBlobFailure            = "BLOB_FAILURE"
	reasonExtractionFailure      = "EXTRACTION_FAILURE"
	reasonDetectorFailure        = "DETECTOR_FAILURE"
	reasonDetectorRateLimited    = "DETECTOR_RATE_LIMITED"
	reasonPersistFailure         = "PERSIST_FAILURE"
)

// detectorBucket is the limiter key shared by all workers.
const detectorBucket = "detector"

// Config bounds the worker loop.
type Config struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// Worker consumes assessment tasks. Multiple Workers may run concurrently in
// one or more processes; the lease on available_at is the only coordination.
type Worker struct {
	tasks     domain.TaskRepository
	documents domain.DocumentRepository
	results   domain.ResultRepository
	quota     domain.QuotaLedger
	blobs     domain.BlobStore
	extractor domain.TextExtractor
	detector  domain.Detector
	events    domain.EventPublisher
	limiter   ratelimiter.Limiter
	cfg       Config
}

// New constructs a Worker. The limiter and events publisher may be nil.
func New(
	tasks domain.TaskRepository,
	documents domain.DocumentRepository,
	results domain.ResultRepository,
	quota domain.QuotaLedger,
	blobs domain.BlobStore,
	extractor domain.TextExtractor,
	detector domain.Detector,
	events domain.EventPublisher,
	limiter ratelimiter.Limiter,
	cfg Config,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = cfg.PollInterval
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	return &Worker{
		tasks:     tasks,
		documents: documents,
		results:   results,
		quota:     quota,
		blobs:     blobs,
		extractor: extractor,
		detector:  detector,
		events:    events,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// Run drains the queue until the context is cancelled. Shutdown is honored at
// loop boundaries: the in-flight task finishes or its lease expires.
func (w *Worker) Run(ctx domain.Context) {
	slog.Info("assessment worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Duration("lease_duration", w.cfg.LeaseDuration),
		slog.Int("max_attempts", w.cfg.MaxAttempts))
	for {
		if ctx.Err() != nil {
			slog.Info("assessment worker stopped")
			return
		}
		task, err := w.tasks.ClaimNext(ctx, w.cfg.LeaseDuration, w.cfg.MaxAttempts)
		if errors.Is(err, domain.ErrNotFound) {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		if err != nil {
			// Queue unavailable; treat as no work and retry next cycle.
			slog.Error("task claim failed", slog.Any("error", err))
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		observability.ClaimTask()
		w.step(ctx, task)
	}
}

// step runs one claimed task end-to-end. It never returns an error: every
// failure is classified and resolved as complete, defer, or dead-letter.
func (w *Worker) step(ctx domain.Context, task domain.Task) {
	log := slog.With(
		slog.String("task_id", task.ID),
		slog.String("document_id", task.DocumentID),
		slog.Int("attempts", task.Attempts))

	doc, err := w.documents.Get(ctx, task.DocumentID, task.OwnerID)
	if errors.Is(err, domain.ErrNotFound) {
		// Document removed after enqueue; nothing left to assess.
		log.Info("document missing, dropping task")
		w.complete(ctx, task, "document_missing", log)
		return
	}
	if err != nil {
		w.deferTask(ctx, task, reasonProcessingUpdateFailed, err, log)
		return
	}

	if err := w.documents.UpdateStatus(ctx, task.DocumentID, task.OwnerID, domain.DocumentProcessing, domain.DocumentUpdate{}); err != nil {
		w.deferTask(ctx, task, reasonProcessingUpdateFailed, err, log)
		return
	}

	result, err := w.ensureResult(ctx, task)
	if err != nil {
		w.markDocumentError(ctx, task, log)
		w.deferTask(ctx, task, reasonResultUpdateFailed, err, log)
		return
	}
	if err := w.results.Update(ctx, result.ID, task.OwnerID, domain.ResultProcessing, domain.ResultUpdate{}); err != nil {
		w.deferTask(ctx, task, reasonResultUpdateFailed, err, log)
		return
	}

	text, wordCount, characterCount, terminal, err := w.extract(ctx, task, doc)
	if err != nil {
		if terminal {
			w.failTerminal(ctx, task, result, err.Error(), log)
			return
		}
		reason := reasonExtractionFailure
		if errors.Is(err, domain.ErrBlobUnavailable) {
			reason = reasonBlobFailure
		}
		w.markDocumentError(ctx, task, log)
		w.deferTask(ctx, task, reason, err, log)
		return
	}

	// Counts are always persisted before any admission decision.
	if err := w.documents.UpdateCounts(ctx, task.DocumentID, task.OwnerID, wordCount, characterCount); err != nil {
		w.deferTask(ctx, task, reasonPersistFailure, err, log)
		return
	}

	admission, err := w.quota.Admit(ctx, task.OwnerID, wordCount, characterCount)
	if err != nil {
		w.markDocumentError(ctx, task, log)
		w.deferTask(ctx, task, reasonPersistFailure, err, log)
		return
	}
	if !admission.Allowed {
		w.failQuotaDenied(ctx, task, result, admission.Reason, log)
		return
	}

	if w.limiter != nil {
		allowed, retryAfter, _ := w.limiter.Allow(ctx, detectorBucket, 1)
		if !allowed {
			delay := retryAfter
			if delay <= 0 {
				delay = w.backoff(task.Attempts)
			}
			log.Info("detector rate limited", slog.Duration("retry_after", delay))
			observability.DeferTask(reasonDetectorRateLimited)
			if err := w.tasks.Defer(ctx, task.ID, delay, reasonDetectorRateLimited); err != nil {
				log.Error("task defer failed", slog.Any("error", err))
			}
			return
		}
	}

	detection, err := w.detector.Detect(ctx, text)
	if err != nil {
		msg := err.Error()
		label := domain.LabelError
		if uErr := w.results.Update(ctx, result.ID, task.OwnerID, domain.ResultFailed, domain.ResultUpdate{
			Label:        &label,
			ErrorMessage: &msg,
		}); uErr != nil {
			log.Error("result update failed after detector error", slog.Any("error", uErr))
		}
		w.markDocumentError(ctx, task, log)
		w.deferTask(ctx, task, reasonDetectorFailure, err, log)
		return
	}

	score, label := mapOutcome(detection)
	aiGen, humanGen := detection.AIGenerated, detection.HumanGenerated
	if err := w.results.Update(ctx, result.ID, task.OwnerID, domain.ResultCompleted, domain.ResultUpdate{
		Score:          score,
		Label:          &label,
		Paragraphs:     detection.Paragraphs,
		AIGenerated:    &aiGen,
		HumanGenerated: &humanGen,
	}); err != nil {
		w.deferTask(ctx, task, reasonPersistFailure, err, log)
		return
	}
	if err := w.documents.UpdateStatus(ctx, task.DocumentID, task.OwnerID, domain.DocumentCompleted, domain.DocumentUpdate{Score: score}); err != nil {
		w.deferTask(ctx, task, reasonPersistFailure, err, log)
		return
	}
	if score != nil {
		observability.ObserveScore(*score)
	}

	w.complete(ctx, task, "completed", log)

	// Usage is recorded exactly once, after the task is finished, and never
	// for the unlimited plan.
	if admission.Plan != domain.PlanSchools {
		if err := w.quota.RecordUsage(ctx, task.OwnerID, wordCount, characterCount); err != nil {
			log.Error("usage recording failed", slog.Any("error", err))
		}
	}
	w.publish(ctx, task, domain.DocumentCompleted, score)
	log.Info("document assessed", slog.String("label", label), slog.Int("word_count", wordCount))
}

// ensureResult loads the document's result, creating a pending one if the
// upload path never got that far.
func (w *Worker) ensureResult(ctx domain.Context, task domain.Task) (domain.Result, error) {
	result, err := w.results.GetByDocument(ctx, task.DocumentID, task.OwnerID)
	if errors.Is(err, domain.ErrNotFound) {
		id, createErr := w.results.Create(ctx, task.DocumentID, task.OwnerID)
		if createErr != nil {
			return domain.Result{}, createErr
		}
		return domain.Result{ID: id, DocumentID: task.DocumentID, OwnerID: task.OwnerID, Status: domain.ResultPending}, nil
	}
	return result, err
}

// extract downloads the blob and produces sanitized text plus counts.
// terminal=true marks failures that retrying cannot fix.
func (w *Worker) extract(ctx domain.Context, task domain.Task, doc domain.Document) (text string, wordCount, characterCount int, terminal bool, err error) {
	if !doc.FileType.Extractable() {
		return "", 0, 0, true, fmt.Errorf("op=worker.extract: %w: %s", domain.ErrUnsupportedFileType, doc.FileType)
	}
	data, err := w.blobs.Download(ctx, doc.BlobPath)
	if err != nil {
		// A blob that no longer exists can never be assessed; only transient
		// store failures are worth retrying.
		if errors.Is(err, domain.ErrNotFound) {
			return "", 0, 0, true, err
		}
		return "", 0, 0, false, err
	}
	text, err = w.extractor.Extract(ctx, data, doc.FileType)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedFileType) {
			return "", 0, 0, true, err
		}
		return "", 0, 0, false, err
	}
	return text, textx.WordCount(text), textx.CharacterCount(text), false, nil
}

// mapOutcome turns the detection verdict into a document score and label.
func mapOutcome(d domain.Detection) (*float64, string) {
	switch {
	case d.AIGenerated:
		score := 1.0
		return &score, domain.LabelAIGenerated
	case d.HumanGenerated:
		score := 0.0
		return &score, domain.LabelHumanWritten
	default:
		return nil, domain.LabelUndetermined
	}
}

// failTerminal resolves a task whose failure retrying cannot fix: document
// ERROR, result FAILED, task consumed.
func (w *Worker) failTerminal(ctx domain.Context, task domain.Task, result domain.Result, message string, log *slog.Logger) {
	label := domain.LabelError
	if err := w.results.Update(ctx, result.ID, task.OwnerID, domain.ResultFailed, domain.ResultUpdate{
		Label:        &label,
		ErrorMessage: &message,
	}); err != nil {
		log.Error("result update failed on terminal error", slog.Any("error", err))
	}
	w.markDocumentError(ctx, task, log)
	w.complete(ctx, task, "terminal_error", log)
	w.publish(ctx, task, domain.DocumentError, nil)
	log.Warn("task failed terminally", slog.String("message", message))
}

// failQuotaDenied resolves an admission denial: document LIMIT_EXCEEDED,
// result FAILED carrying the deny reason, task consumed, no retry.
func (w *Worker) failQuotaDenied(ctx domain.Context, task domain.Task, result domain.Result, reason string, log *slog.Logger) {
	label := domain.LabelError
	if err := w.results.Update(ctx, result.ID, task.OwnerID, domain.ResultFailed, domain.ResultUpdate{
		Label:        &label,
		ErrorMessage: &reason,
	}); err != nil {
		log.Error("result update failed on quota denial", slog.Any("error", err))
	}
	if err := w.documents.UpdateStatus(ctx, task.DocumentID, task.OwnerID, domain.DocumentLimitExceeded, domain.DocumentUpdate{}); err != nil {
		log.Error("document update failed on quota denial", slog.Any("error", err))
	}
	w.complete(ctx, task, "quota_denied", log)
	w.publish(ctx, task, domain.DocumentLimitExceeded, nil)
	log.Info("task denied by quota", slog.String("reason", reason))
}

// deferTask returns a task to the queue with exponential backoff. A task at
// the attempt ceiling is still deferred; the next claim sidelines it. Only
// attempts strictly over the ceiling dead-letter here.
func (w *Worker) deferTask(ctx domain.Context, task domain.Task, reason string, cause error, log *slog.Logger) {
	if task.Attempts > w.cfg.MaxAttempts {
		observability.DeadLetterTask()
		if err := w.tasks.DeadLetter(ctx, task, fmt.Sprintf("%s: %v", reason, cause)); err != nil {
			log.Error("dead-letter failed", slog.Any("error", err))
		}
		log.Warn("task dead-lettered", slog.String("reason", reason), slog.Any("cause", cause))
		return
	}
	delay := w.backoff(task.Attempts)
	observability.DeferTask(reason)
	if err := w.tasks.Defer(ctx, task.ID, delay, fmt.Sprintf("%s: %v", reason, cause)); err != nil {
		log.Error("task defer failed", slog.Any("error", err))
		return
	}
	log.Info("task deferred",
		slog.String("reason", reason),
		slog.Duration("delay", delay),
		slog.Any("cause", cause))
}

func (w *Worker) complete(ctx domain.Context, task domain.Task, outcome string, log *slog.Logger) {
	observability.FinishTask(outcome)
	if err := w.tasks.Complete(ctx, task.ID); err != nil {
		log.Error("task complete failed", slog.Any("error", err))
	}
}

func (w *Worker) markDocumentError(ctx domain.Context, task domain.Task, log *slog.Logger) {
	if err := w.documents.UpdateStatus(ctx, task.DocumentID, task.OwnerID, domain.DocumentError, domain.DocumentUpdate{}); err != nil {
		log.Error("document error update failed", slog.Any("error", err))
	}
}

// backoff computes min(base << attempts, cap).
func (w *Worker) backoff(attempts int) time.Duration {
	delay := w.cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if delay > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return delay
}

func (w *Worker) publish(ctx domain.Context, task domain.Task, status domain.DocumentStatus, score *float64) {
	if w.events == nil {
		return
	}
	if err := w.events.PublishDocumentStatus(ctx, domain.DocumentEvent{
		DocumentID: task.DocumentID,
		OwnerID:    task.OwnerID,
		Status:     status,
		Score:      score,
		At:         time.Now().UTC(),
	}); err != nil {
		slog.Warn("document event publish failed",
			slog.String("document_id", task.DocumentID), slog.Any("error", err))
	}
}

func (w *Worker) sleep(ctx domain.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
