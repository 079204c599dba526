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

// TaskRepo is the durable assessment queue backed by the tasks table.
// Claim atomicity comes from a single UPDATE over a SKIP LOCKED subselect, so
// concurrent workers never lease the same row.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

// Enqueue inserts a pending task eligible immediately. The store does not
// dedupe; callers dedupe by document id where required.
func (r *TaskRepo) Enqueue(ctx domain.Context, documentID, ownerID string, priority int) (string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Enqueue")
	defer span.End()
	id := uuid.New().String()
	q := `INSERT INTO tasks (id, document_id, owner_id, priority, attempts, status, available_at, created_at, updated_at)
	VALUES ($1,$2,$3,$4,0,$5,now(),now(),now())`
	_, err := r.Pool.Exec(ctx, q, id, documentID, ownerID, priority, domain.TaskPending)
	if err != nil {
		return "", fmt.Errorf("op=task.enqueue: %w", err)
	}
	return id, nil
}

// claimSQL leases the highest-priority eligible task in one statement.
// IN_PROGRESS rows whose available_at elapsed are deliberately claimable
// again: that is the crash-recovery path for workers that died mid-task.
const claimSQL = `
UPDATE tasks SET
	status = $2,
	available_at = now() + make_interval(secs => $1),
	attempts = attempts + 1,
	updated_at = now()
WHERE id = (
	SELECT id FROM tasks
	WHERE status IN ('pending','in_progress','retrying')
	  AND available_at <= now()
	ORDER BY priority DESC, created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, document_id, owner_id, priority, attempts, status, available_at, COALESCE(last_error,''), created_at, updated_at`

// ClaimNext leases one task for the given duration, incrementing attempts.
// Rows whose incremented attempts exceed maxAttempts are sidelined to the
// dead-letter table and the claim is retried, so callers only ever see live
// work. Returns ErrNotFound when the queue is empty.
func (r *TaskRepo) ClaimNext(ctx domain.Context, lease time.Duration, maxAttempts int) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ClaimNext")
	defer span.End()
	for {
		var t domain.Task
		row := r.Pool.QueryRow(ctx, claimSQL, lease.Seconds(), domain.TaskInProgress)
		err := row.Scan(&t.ID, &t.DocumentID, &t.OwnerID, &t.Priority, &t.Attempts, &t.Status,
			&t.AvailableAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.claim: %w", domain.ErrNotFound)
		}
		if err != nil {
			return domain.Task{}, fmt.Errorf("op=task.claim: %w", err)
		}
		if t.Attempts > maxAttempts {
			span.SetAttributes(attribute.String("task.dead_lettered", t.ID))
			if err := r.DeadLetter(ctx, t, fmt.Sprintf("attempts %d exceeded max %d", t.Attempts, maxAttempts)); err != nil {
				return domain.Task{}, err
			}
			continue
		}
		return t, nil
	}
}

// Complete removes a finished task from the queue.
func (r *TaskRepo) Complete(ctx domain.Context, taskID string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Complete")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	return nil
}

// Defer returns a task to the queue for a later retry. Attempts are kept
// as-is; only claims increment them.
func (r *TaskRepo) Defer(ctx domain.Context, taskID string, delay time.Duration, reason string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Defer")
	defer span.End()
	q := `UPDATE tasks SET status=$2, available_at = now() + make_interval(secs => $3), last_error=$4, updated_at=now() WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, taskID, domain.TaskRetrying, delay.Seconds(), reason)
	if err != nil {
		return fmt.Errorf("op=task.defer: %w", err)
	}
	return nil
}

// DeadLetter moves a task out of the active queue into the sideline table.
// Insert and delete run in one transaction so the row cannot be lost.
func (r *TaskRepo) DeadLetter(ctx domain.Context, t domain.Task, reason string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.DeadLetter")
	defer span.End()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=task.dead_letter: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ins := `INSERT INTO tasks_dead_letter (id, document_id, owner_id, priority, attempts, last_error, reason, created_at, sidelined_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, ins, t.ID, t.DocumentID, t.OwnerID, t.Priority, t.Attempts, t.LastError, reason, t.CreatedAt); err != nil {
		return fmt.Errorf("op=task.dead_letter: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, t.ID); err != nil {
		return fmt.Errorf("op=task.dead_letter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=task.dead_letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns sidelined tasks, newest first.
func (r *TaskRepo) ListDeadLetters(ctx domain.Context, limit int) ([]domain.DeadLetterTask, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ListDeadLetters")
	defer span.End()
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, document_id, owner_id, priority, attempts, COALESCE(last_error,''), reason, created_at, sidelined_at
	FROM tasks_dead_letter ORDER BY sidelined_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=task.list_dead_letters: %w", err)
	}
	defer rows.Close()
	var out []domain.DeadLetterTask
	for rows.Next() {
		var d domain.DeadLetterTask
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.OwnerID, &d.Priority, &d.Attempts, &d.LastError, &d.Reason, &d.CreatedAt, &d.SidelinedAt); err != nil {
			return nil, fmt.Errorf("op=task.list_dead_letters: %w", err)
		}
		d.Status = domain.TaskDeadLetter
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDeadLetter loads one sidelined task by id.
func (r *TaskRepo) GetDeadLetter(ctx domain.Context, taskID string) (domain.DeadLetterTask, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.GetDeadLetter")
	defer span.End()
	q := `SELECT id, document_id, owner_id, priority, attempts, COALESCE(last_error,''), reason, created_at, sidelined_at
	FROM tasks_dead_letter WHERE id=$1`
	var d domain.DeadLetterTask
	row := r.Pool.QueryRow(ctx, q, taskID)
	if err := row.Scan(&d.ID, &d.DocumentID, &d.OwnerID, &d.Priority, &d.Attempts, &d.LastError, &d.Reason, &d.CreatedAt, &d.SidelinedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.DeadLetterTask{}, fmt.Errorf("op=task.get_dead_letter: %w", domain.ErrNotFound)
		}
		return domain.DeadLetterTask{}, fmt.Errorf("op=task.get_dead_letter: %w", err)
	}
	d.Status = domain.TaskDeadLetter
	return d, nil
}

// PruneDeadLetters removes sidelined tasks older than the cutoff.
func (r *TaskRepo) PruneDeadLetters(ctx domain.Context, olderThan time.Time) (int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.PruneDeadLetters")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM tasks_dead_letter WHERE sidelined_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("op=task.prune_dead_letters: %w", err)
	}
	return tag.RowsAffected(), nil
}
