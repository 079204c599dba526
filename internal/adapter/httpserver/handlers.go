package httpserver

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-essay-detector/internal/config"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
	"github.com/fairyhunter13/ai-essay-detector/internal/usecase"
)

// ownerHeader carries the authenticated teacher id, set by the auth layer in
// front of this service.
const ownerHeader = "X-Owner-Id"

// Server bundles the handlers with their dependencies.
type Server struct {
	cfg       config.Config
	uploads   *usecase.UploadService
	results   *usecase.ResultService
	reprocess *usecase.ReprocessService
	stats     *usecase.StatsService
	tasks     domain.TaskRepository
	validate  *validator.Validate
	ready     func(domain.Context) error
}

// NewServer constructs a Server. ready is probed by /readyz; nil means always
// ready.
func NewServer(
	cfg config.Config,
	uploads *usecase.UploadService,
	results *usecase.ResultService,
	reprocess *usecase.ReprocessService,
	stats *usecase.StatsService,
	tasks domain.TaskRepository,
	ready func(domain.Context) error,
) *Server {
	return &Server{
		cfg:       cfg,
		uploads:   uploads,
		results:   results,
		reprocess: reprocess,
		stats:     stats,
		tasks:     tasks,
		validate:  validator.New(),
		ready:     ready,
	}
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
			Code: "UNAUTHENTICATED", Message: "missing " + ownerHeader + " header",
		}})
		return "", false
	}
	return owner, true
}

// allowedMIMEs are the sniffed content types accepted for upload. DOCX files
// sniff as zip before deep inspection, so both are listed.
var allowedMIMEs = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/zip",
	"text/plain",
	"image/png",
	"image/jpeg",
}

func sniffAllowed(data []byte) bool {
	mt := mimetype.Detect(data)
	for _, allowed := range allowedMIMEs {
		if mt.Is(allowed) {
			return true
		}
	}
	return false
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = 20
	}
	return int64(mb) << 20
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func optionalField(r *http.Request, name string) *string {
	v := r.FormValue(name)
	if v == "" {
		return nil
	}
	return &v
}

// UploadHandler accepts one file (multipart field "file") and queues it.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
		if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		_, fh, err := r.FormFile("file")
		if err != nil {
			writeError(w, fmt.Errorf("%w: missing file field", domain.ErrInvalidArgument))
			return
		}
		data, err := readMultipartFile(fh)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		if !sniffAllowed(data) {
			writeError(w, fmt.Errorf("%w: content does not match a supported format", domain.ErrUnsupportedFileType))
			return
		}
		priority, _ := strconv.Atoi(r.FormValue("priority"))

		docID, err := s.uploads.Upload(r.Context(), usecase.UploadRequest{
			OwnerID:          owner,
			OriginalFilename: fh.Filename,
			Data:             data,
			StudentID:        optionalField(r, "student_id"),
			AssignmentID:     optionalField(r, "assignment_id"),
			Priority:         priority,
		})
		if err != nil {
			LoggerFrom(r).Error("upload failed", slog.Any("error", err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": docID})
	}
}

// CreateBatchHandler accepts several files (multipart field "files") and
// queues them under one batch.
func (s *Server) CreateBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
		if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		var headers []*multipart.FileHeader
		if r.MultipartForm != nil {
			headers = r.MultipartForm.File["files"]
		}
		priority, _ := strconv.Atoi(r.FormValue("priority"))

		batchID, err := s.uploads.CreateBatch(r.Context(), owner, len(headers), priority)
		if err != nil {
			writeError(w, err)
			return
		}
		var files []usecase.UploadRequest
		for _, fh := range headers {
			data, err := readMultipartFile(fh)
			if err != nil {
				LoggerFrom(r).Error("batch file read failed",
					slog.String("filename", fh.Filename), slog.Any("error", err))
				s.failBatchSlot(r, owner, batchID, fh.Filename,
					fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
				continue
			}
			if !sniffAllowed(data) {
				LoggerFrom(r).Warn("batch file rejected by content sniff",
					slog.String("filename", fh.Filename))
				s.failBatchSlot(r, owner, batchID, fh.Filename,
					fmt.Errorf("%w: content does not match a supported format", domain.ErrUnsupportedFileType))
				continue
			}
			files = append(files, usecase.UploadRequest{
				OriginalFilename: fh.Filename,
				Data:             data,
			})
		}
		ids, err := s.uploads.UploadToBatch(r.Context(), owner, batchID, files)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"batch_id":     batchID,
			"document_ids": ids,
		})
	}
}

// failBatchSlot registers a rejected batch member so the batch rollup can
// still reach its total_files count.
func (s *Server) failBatchSlot(r *http.Request, owner, batchID, filename string, cause error) {
	if err := s.uploads.FailBatchSlot(r.Context(), owner, batchID, filename, cause); err != nil {
		LoggerFrom(r).Error("failed to register rejected batch file",
			slog.String("batch_id", batchID),
			slog.String("filename", filename),
			slog.Any("error", err))
	}
}

type documentResponse struct {
	ID               string   `json:"id"`
	OriginalFilename string   `json:"original_filename"`
	FileType         string   `json:"file_type"`
	StudentID        *string  `json:"student_id,omitempty"`
	AssignmentID     *string  `json:"assignment_id,omitempty"`
	BatchID          *string  `json:"batch_id,omitempty"`
	Priority         int      `json:"priority"`
	Status           string   `json:"status"`
	CharacterCount   *int     `json:"character_count,omitempty"`
	WordCount        *int     `json:"word_count,omitempty"`
	Score            *float64 `json:"score,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func toDocumentResponse(d domain.Document) documentResponse {
	return documentResponse{
		ID:               d.ID,
		OriginalFilename: d.OriginalFilename,
		FileType:         string(d.FileType),
		StudentID:        d.StudentID,
		AssignmentID:     d.AssignmentID,
		BatchID:          d.BatchID,
		Priority:         d.Priority,
		Status:           string(d.Status),
		CharacterCount:   d.CharacterCount,
		WordCount:        d.WordCount,
		Score:            d.Score,
		CreatedAt:        d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// GetDocumentHandler returns one document's metadata and status.
func (s *Server) GetDocumentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		doc, err := s.results.GetDocument(r.Context(), chi.URLParam(r, "id"), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

type resultResponse struct {
	ID             string                   `json:"id"`
	DocumentID     string                   `json:"document_id"`
	Status         string                   `json:"status"`
	Score          *float64                 `json:"score,omitempty"`
	Label          *string                  `json:"label,omitempty"`
	AIGenerated    *bool                    `json:"ai_generated,omitempty"`
	HumanGenerated *bool                    `json:"human_generated,omitempty"`
	Paragraphs     []domain.ParagraphResult `json:"paragraph_results"`
	ErrorMessage   *string                  `json:"error_message,omitempty"`
	Timestamp      string                   `json:"result_timestamp"`
}

// ResultHandler returns the detection result for one document.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		res, err := s.results.GetResult(r.Context(), chi.URLParam(r, "id"), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		paragraphs := res.Paragraphs
		if paragraphs == nil {
			paragraphs = []domain.ParagraphResult{}
		}
		writeJSON(w, http.StatusOK, resultResponse{
			ID:             res.ID,
			DocumentID:     res.DocumentID,
			Status:         string(res.Status),
			Score:          res.Score,
			Label:          res.Label,
			AIGenerated:    res.AIGenerated,
			HumanGenerated: res.HumanGenerated,
			Paragraphs:     paragraphs,
			ErrorMessage:   res.ErrorMessage,
			Timestamp:      res.ResultTimestamp.UTC().Format(time.RFC3339),
		})
	}
}

// GetBatchHandler returns a batch with its rollup counters.
func (s *Server) GetBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		b, err := s.uploads.GetBatch(r.Context(), chi.URLParam(r, "id"), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              b.ID,
			"total_files":     b.TotalFiles,
			"completed_files": b.CompletedFiles,
			"failed_files":    b.FailedFiles,
			"status":          string(b.Status),
		})
	}
}

// ReprocessHandler requeues a document for a fresh assessment.
func (s *Server) ReprocessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		if err := s.reprocess.Reprocess(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// ResetHandler forces a stuck document into a terminal error state.
func (s *Server) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		if err := s.reprocess.Reset(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
	}
}

// DeleteDocumentHandler soft-deletes a document and its result.
func (s *Server) DeleteDocumentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		if err := s.results.Delete(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type statsQuery struct {
	Period string `validate:"required,oneof=daily weekly monthly all-time"`
}

// StatsHandler returns usage aggregates for the owner.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		q := statsQuery{Period: r.URL.Query().Get("period")}
		if q.Period == "" {
			q.Period = string(usecase.PeriodMonthly)
		}
		if err := s.validate.Struct(q); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		var target *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, fmt.Errorf("%w: invalid date %q", domain.ErrInvalidArgument, raw))
				return
			}
			target = &parsed
		}
		stats, err := s.stats.Usage(r.Context(), owner, usecase.StatsPeriod(q.Period), target)
		if err != nil {
			writeError(w, err)
			return
		}
		body := map[string]any{
			"document_count":   stats.DocumentCount,
			"total_words":      stats.TotalWords,
			"total_characters": stats.TotalCharacters,
		}
		if usecase.StatsPeriod(q.Period) == usecase.PeriodAllTime {
			body["current_documents"] = stats.CurrentDocuments
			body["deleted_documents"] = stats.DeletedDocuments
			body["total_processed_documents"] = stats.TotalProcessedDocuments
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// ListDeadLettersHandler returns sidelined tasks for operators.
func (s *Server) ListDeadLettersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.tasks.ListDeadLetters(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(items))
		for _, d := range items {
			out = append(out, map[string]any{
				"task_id":      d.ID,
				"document_id":  d.DocumentID,
				"owner_id":     d.OwnerID,
				"attempts":     d.Attempts,
				"last_error":   d.LastError,
				"reason":       d.Reason,
				"sidelined_at": d.SidelinedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
	}
}

// RequeueDeadLetterHandler revives one sidelined task.
func (s *Server) RequeueDeadLetterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.reprocess.RequeueDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// ReadyzHandler probes the dependencies injected at construction.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
