package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// ResultRepo persists detection results, 1:1 with active documents.
// Paragraph results are stored verbatim as jsonb.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

// Create inserts a pending result for a document and returns its id.
func (r *ResultRepo) Create(ctx domain.Context, documentID, ownerID string) (string, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Create")
	defer span.End()
	id := uuid.New().String()
	q := `INSERT INTO results (id, document_id, owner_id, status, paragraph_results, result_timestamp)
	VALUES ($1,$2,$3,$4,'[]'::jsonb,now())`
	_, err := r.Pool.Exec(ctx, q, id, documentID, ownerID, domain.ResultPending)
	if err != nil {
		return "", fmt.Errorf("op=result.create: %w", err)
	}
	return id, nil
}

// GetByDocument loads the active result for a document, scoped to the owner.
func (r *ResultRepo) GetByDocument(ctx domain.Context, documentID, ownerID string) (domain.Result, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.GetByDocument")
	defer span.End()
	q := `SELECT id, document_id, owner_id, status, score, label, ai_generated, human_generated,
		paragraph_results, error_message, result_timestamp, is_deleted
	FROM results WHERE document_id=$1 AND owner_id=$2 AND is_deleted=false`
	var res domain.Result
	var paragraphs []byte
	row := r.Pool.QueryRow(ctx, q, documentID, ownerID)
	if err := row.Scan(&res.ID, &res.DocumentID, &res.OwnerID, &res.Status, &res.Score, &res.Label,
		&res.AIGenerated, &res.HumanGenerated, &paragraphs, &res.ErrorMessage, &res.ResultTimestamp, &res.IsDeleted); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Result{}, fmt.Errorf("op=result.get_by_document: %w", domain.ErrNotFound)
		}
		return domain.Result{}, fmt.Errorf("op=result.get_by_document: %w", err)
	}
	if len(paragraphs) > 0 {
		if err := json.Unmarshal(paragraphs, &res.Paragraphs); err != nil {
			return domain.Result{}, fmt.Errorf("op=result.get_by_document: %w", err)
		}
	}
	return res, nil
}

// Update transitions a result and persists the outcome fields. Illegal edges
// are rejected with ErrTransitionRejected via a status-pinned update.
func (r *ResultRepo) Update(ctx domain.Context, resultID, ownerID string, status domain.ResultStatus, upd domain.ResultUpdate) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Update")
	defer span.End()

	var cur domain.ResultStatus
	row := r.Pool.QueryRow(ctx, `SELECT status FROM results WHERE id=$1 AND owner_id=$2 AND is_deleted=false`, resultID, ownerID)
	if err := row.Scan(&cur); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=result.update: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=result.update: %w", err)
	}
	if !cur.CanTransition(status) {
		return domain.TransitionError("result", cur, status)
	}

	var paragraphs any
	if upd.Paragraphs != nil {
		b, err := json.Marshal(upd.Paragraphs)
		if err != nil {
			return fmt.Errorf("op=result.update: %w", err)
		}
		paragraphs = b
	}

	q := `UPDATE results SET
		status=$4,
		score=CASE WHEN $5 THEN NULL ELSE COALESCE($6, score) END,
		label=CASE WHEN $5 THEN NULL ELSE COALESCE($7, label) END,
		ai_generated=CASE WHEN $5 THEN NULL ELSE COALESCE($8, ai_generated) END,
		human_generated=CASE WHEN $5 THEN NULL ELSE COALESCE($9, human_generated) END,
		paragraph_results=CASE WHEN $5 THEN '[]'::jsonb ELSE COALESCE($10, paragraph_results) END,
		error_message=CASE WHEN $5 THEN NULL ELSE COALESCE($11, error_message) END,
		result_timestamp=now()
	WHERE id=$1 AND owner_id=$2 AND status=$3 AND is_deleted=false`
	tag, err := r.Pool.Exec(ctx, q, resultID, ownerID, cur, status, upd.ClearOutcome,
		upd.Score, upd.Label, upd.AIGenerated, upd.HumanGenerated, paragraphs, upd.ErrorMessage)
	if err != nil {
		return fmt.Errorf("op=result.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TransitionError("result", cur, status)
	}
	return nil
}

// SoftDeleteByDocument marks the active result of a document deleted. Its own
// atomic unit; the caller pairs it with the document soft delete and logs
// partial failures.
func (r *ResultRepo) SoftDeleteByDocument(ctx domain.Context, documentID, ownerID string) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.SoftDeleteByDocument")
	defer span.End()
	q := `UPDATE results SET is_deleted=true, status=$3 WHERE document_id=$1 AND owner_id=$2 AND is_deleted=false`
	if _, err := r.Pool.Exec(ctx, q, documentID, ownerID, domain.ResultDeleted); err != nil {
		return fmt.Errorf("op=result.soft_delete: %w", err)
	}
	return nil
}
