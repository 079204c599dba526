package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// BatchRepo persists batches and the document aggregation the coordinator
// derives rollups from.
type BatchRepo struct{ Pool PgxPool }

// NewBatchRepo constructs a BatchRepo with the given pool.
func NewBatchRepo(p PgxPool) *BatchRepo { return &BatchRepo{Pool: p} }

// Create inserts a new batch and returns its id.
func (r *BatchRepo) Create(ctx domain.Context, b domain.Batch) (string, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Create")
	defer span.End()
	id := b.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO batches (id, owner_id, total_files, completed_files, failed_files, status, priority, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`
	_, err := r.Pool.Exec(ctx, q, id, b.OwnerID, b.TotalFiles, b.CompletedFiles, b.FailedFiles, b.Status, b.Priority)
	if err != nil {
		return "", fmt.Errorf("op=batch.create: %w", err)
	}
	return id, nil
}

// Get loads a batch by id, scoped to the owner.
func (r *BatchRepo) Get(ctx domain.Context, id, ownerID string) (domain.Batch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Get")
	defer span.End()
	q := `SELECT id, owner_id, total_files, completed_files, failed_files, status, priority, created_at, updated_at
	FROM batches WHERE id=$1 AND owner_id=$2`
	var b domain.Batch
	row := r.Pool.QueryRow(ctx, q, id, ownerID)
	if err := row.Scan(&b.ID, &b.OwnerID, &b.TotalFiles, &b.CompletedFiles, &b.FailedFiles, &b.Status, &b.Priority, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Batch{}, fmt.Errorf("op=batch.get: %w", domain.ErrNotFound)
		}
		return domain.Batch{}, fmt.Errorf("op=batch.get: %w", err)
	}
	return b, nil
}

// ListActive returns batches the coordinator still reconciles, oldest first.
func (r *BatchRepo) ListActive(ctx domain.Context, limit int) ([]domain.Batch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.ListActive")
	defer span.End()
	if limit <= 0 {
		limit = 200
	}
	statuses := make([]string, 0, len(domain.ActiveBatchStatuses))
	for _, s := range domain.ActiveBatchStatuses {
		statuses = append(statuses, string(s))
	}
	q := `SELECT id, owner_id, total_files, completed_files, failed_files, status, priority, created_at, updated_at
	FROM batches WHERE status = ANY($1) ORDER BY created_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("op=batch.list_active: %w", err)
	}
	defer rows.Close()
	var out []domain.Batch
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.TotalFiles, &b.CompletedFiles, &b.FailedFiles, &b.Status, &b.Priority, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=batch.list_active: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountDocuments aggregates member documents by status. Limit-exceeded
// documents count as failed: they are terminal without a score.
func (r *BatchRepo) CountDocuments(ctx domain.Context, batchID string) (domain.BatchDocumentCounts, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.CountDocuments")
	defer span.End()
	q := `SELECT status, COUNT(*) FROM documents WHERE batch_id=$1 AND is_deleted=false GROUP BY status`
	rows, err := r.Pool.Query(ctx, q, batchID)
	if err != nil {
		return domain.BatchDocumentCounts{}, fmt.Errorf("op=batch.count_documents: %w", err)
	}
	defer rows.Close()
	var c domain.BatchDocumentCounts
	for rows.Next() {
		var status domain.DocumentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.BatchDocumentCounts{}, fmt.Errorf("op=batch.count_documents: %w", err)
		}
		switch status {
		case domain.DocumentCompleted:
			c.Completed += n
		case domain.DocumentError, domain.DocumentLimitExceeded:
			c.Failed += n
		case domain.DocumentProcessing:
			c.Processing += n
		}
	}
	return c, rows.Err()
}

// UpdateRollup persists the derived counters and status.
func (r *BatchRepo) UpdateRollup(ctx domain.Context, id string, completed, failed int, status domain.BatchStatus) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.UpdateRollup")
	defer span.End()
	q := `UPDATE batches SET completed_files=$2, failed_files=$3, status=$4, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, completed, failed, status); err != nil {
		return fmt.Errorf("op=batch.update_rollup: %w", err)
	}
	return nil
}
