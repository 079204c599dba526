package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// DocumentRepo persists documents. All reads and writes are scoped by owner;
// illegal status transitions are rejected here rather than trusting callers.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

const documentColumns = `id, owner_id, original_filename, blob_path, file_type, student_id, assignment_id, batch_id,
	priority, status, character_count, word_count, score, is_deleted, created_at, updated_at`

func scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	err := row.Scan(&d.ID, &d.OwnerID, &d.OriginalFilename, &d.BlobPath, &d.FileType, &d.StudentID,
		&d.AssignmentID, &d.BatchID, &d.Priority, &d.Status, &d.CharacterCount, &d.WordCount,
		&d.Score, &d.IsDeleted, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Create inserts a new document and returns its id (generates one if empty).
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "documents"),
	)
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = domain.DocumentUploaded
	}
	q := `INSERT INTO documents (id, owner_id, original_filename, blob_path, file_type, student_id, assignment_id, batch_id,
		priority, status, upload_timestamp, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now(),now())`
	_, err := r.Pool.Exec(ctx, q, id, d.OwnerID, d.OriginalFilename, d.BlobPath, d.FileType,
		d.StudentID, d.AssignmentID, d.BatchID, d.Priority, d.Status)
	if err != nil {
		return "", fmt.Errorf("op=document.create: %w", err)
	}
	return id, nil
}

// Get loads an active document by id, scoped to the owner.
func (r *DocumentRepo) Get(ctx domain.Context, id, ownerID string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Get")
	defer span.End()
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id=$1 AND owner_id=$2 AND is_deleted=false`
	d, err := scanDocument(r.Pool.QueryRow(ctx, q, id, ownerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=document.get: %w", err)
	}
	return d, nil
}

// UpdateStatus transitions a document, stamping updated_at. The transition
// table is enforced with a guarded update: the WHERE clause pins the status
// read above, so a concurrent transition makes this call fail with
// ErrTransitionRejected instead of silently clobbering.
func (r *DocumentRepo) UpdateStatus(ctx domain.Context, id, ownerID string, status domain.DocumentStatus, upd domain.DocumentUpdate) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("document.status", string(status)))

	cur, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(status) {
		return domain.TransitionError("document", cur.Status, status)
	}

	// Returning to the queue clears the previous outcome.
	clearScore := status == domain.DocumentQueued
	q := `UPDATE documents SET
		status=$4,
		score=CASE WHEN $5 THEN NULL ELSE COALESCE($6, score) END,
		word_count=COALESCE($7, word_count),
		character_count=COALESCE($8, character_count),
		updated_at=now()
	WHERE id=$1 AND owner_id=$2 AND status=$3 AND is_deleted=false`
	tag, err := r.Pool.Exec(ctx, q, id, ownerID, cur.Status, status, clearScore, upd.Score, upd.WordCount, upd.CharacterCount)
	if err != nil {
		return fmt.Errorf("op=document.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TransitionError("document", cur.Status, status)
	}
	return nil
}

// UpdateCounts persists extraction counts without touching the status. Counts
// are written before any admission decision so analytics see them even for
// denied documents.
func (r *DocumentRepo) UpdateCounts(ctx domain.Context, id, ownerID string, wordCount, characterCount int) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateCounts")
	defer span.End()
	q := `UPDATE documents SET word_count=$3, character_count=$4, updated_at=now()
	WHERE id=$1 AND owner_id=$2 AND is_deleted=false`
	tag, err := r.Pool.Exec(ctx, q, id, ownerID, wordCount, characterCount)
	if err != nil {
		return fmt.Errorf("op=document.update_counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=document.update_counts: %w", domain.ErrNotFound)
	}
	return nil
}

// SoftDelete marks a document deleted and returns its blob path so the caller
// can release storage. One statement, so it is atomic on its own.
func (r *DocumentRepo) SoftDelete(ctx domain.Context, id, ownerID string) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.SoftDelete")
	defer span.End()
	q := `UPDATE documents SET is_deleted=true, status=$3, updated_at=now()
	WHERE id=$1 AND owner_id=$2 AND is_deleted=false
	RETURNING blob_path`
	var blobPath string
	if err := r.Pool.QueryRow(ctx, q, id, ownerID, domain.DocumentDeleted).Scan(&blobPath); err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("op=document.soft_delete: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=document.soft_delete: %w", err)
	}
	return blobPath, nil
}

// UsageStats aggregates non-deleted documents uploaded within [from, to).
func (r *DocumentRepo) UsageStats(ctx domain.Context, ownerID string, from, to time.Time) (domain.UsageStats, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UsageStats")
	defer span.End()
	q := `SELECT COUNT(*), COALESCE(SUM(word_count),0), COALESCE(SUM(character_count),0)
	FROM documents
	WHERE owner_id=$1 AND is_deleted=false AND upload_timestamp >= $2 AND upload_timestamp < $3`
	var s domain.UsageStats
	if err := r.Pool.QueryRow(ctx, q, ownerID, from, to).Scan(&s.DocumentCount, &s.TotalWords, &s.TotalCharacters); err != nil {
		return domain.UsageStats{}, fmt.Errorf("op=document.usage_stats: %w", err)
	}
	return s, nil
}

// AllTimeStats aggregates across the owner's full history, including deletion
// counters. A document counts as processed once extraction persisted counts.
func (r *DocumentRepo) AllTimeStats(ctx domain.Context, ownerID string) (domain.UsageStats, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.AllTimeStats")
	defer span.End()
	q := `SELECT
		COUNT(*) FILTER (WHERE is_deleted=false),
		COALESCE(SUM(word_count) FILTER (WHERE is_deleted=false),0),
		COALESCE(SUM(character_count) FILTER (WHERE is_deleted=false),0),
		COUNT(*) FILTER (WHERE is_deleted=true),
		COUNT(*) FILTER (WHERE word_count IS NOT NULL)
	FROM documents WHERE owner_id=$1`
	var s domain.UsageStats
	if err := r.Pool.QueryRow(ctx, q, ownerID).Scan(
		&s.DocumentCount, &s.TotalWords, &s.TotalCharacters, &s.DeletedDocuments, &s.TotalProcessedDocuments,
	); err != nil {
		return domain.UsageStats{}, fmt.Errorf("op=document.all_time_stats: %w", err)
	}
	s.CurrentDocuments = s.DocumentCount
	return s, nil
}
