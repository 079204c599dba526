package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// TeacherRepo persists per-teacher plans and cycle usage counters.
type TeacherRepo struct{ Pool PgxPool }

// NewTeacherRepo constructs a TeacherRepo with the given pool.
func NewTeacherRepo(p PgxPool) *TeacherRepo { return &TeacherRepo{Pool: p} }

// EnsureTeacher creates the teacher row if it does not exist yet. Existing
// rows keep their plan; upgrades go through a dedicated flow, not uploads.
func (r *TeacherRepo) EnsureTeacher(ctx domain.Context, ownerID string, plan domain.Plan) error {
	tracer := otel.Tracer("repo.teachers")
	ctx, span := tracer.Start(ctx, "teachers.EnsureTeacher")
	defer span.End()
	q := `INSERT INTO teachers (id, plan, words_used_current_cycle, characters_used_current_cycle, documents_processed_current_cycle, cycle_anchor, created_at, updated_at)
	VALUES ($1,$2,0,0,0,date_trunc('month', now()),now(),now())
	ON CONFLICT (id) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, ownerID, plan); err != nil {
		return fmt.Errorf("op=teacher.ensure: %w", err)
	}
	return nil
}

// GetUsage returns the teacher's plan and current-cycle counters.
func (r *TeacherRepo) GetUsage(ctx domain.Context, ownerID string) (domain.TeacherUsage, error) {
	tracer := otel.Tracer("repo.teachers")
	ctx, span := tracer.Start(ctx, "teachers.GetUsage")
	defer span.End()
	q := `SELECT id, plan, words_used_current_cycle, characters_used_current_cycle, documents_processed_current_cycle, cycle_anchor
	FROM teachers WHERE id=$1`
	var u domain.TeacherUsage
	row := r.Pool.QueryRow(ctx, q, ownerID)
	if err := row.Scan(&u.OwnerID, &u.Plan, &u.WordsUsed, &u.CharactersUsed, &u.DocumentsProcessed, &u.CycleAnchor); err != nil {
		if err == pgx.ErrNoRows {
			return domain.TeacherUsage{}, fmt.Errorf("op=teacher.get_usage: %w", domain.ErrNotFound)
		}
		return domain.TeacherUsage{}, fmt.Errorf("op=teacher.get_usage: %w", err)
	}
	return u, nil
}

// ResetCycle zeroes the usage counters and moves the anchor forward. The
// anchor is pinned in the WHERE clause so two racing resets collapse into one.
func (r *TeacherRepo) ResetCycle(ctx domain.Context, ownerID string, anchor time.Time) error {
	tracer := otel.Tracer("repo.teachers")
	ctx, span := tracer.Start(ctx, "teachers.ResetCycle")
	defer span.End()
	q := `UPDATE teachers SET
		words_used_current_cycle=0,
		characters_used_current_cycle=0,
		documents_processed_current_cycle=0,
		cycle_anchor=$2,
		updated_at=now()
	WHERE id=$1 AND cycle_anchor < $2`
	if _, err := r.Pool.Exec(ctx, q, ownerID, anchor); err != nil {
		return fmt.Errorf("op=teacher.reset_cycle: %w", err)
	}
	return nil
}

// RecordUsage atomically adds to the cycle counters.
func (r *TeacherRepo) RecordUsage(ctx domain.Context, ownerID string, words, characters, documents int64) error {
	tracer := otel.Tracer("repo.teachers")
	ctx, span := tracer.Start(ctx, "teachers.RecordUsage")
	defer span.End()
	q := `UPDATE teachers SET
		words_used_current_cycle = words_used_current_cycle + $2,
		characters_used_current_cycle = characters_used_current_cycle + $3,
		documents_processed_current_cycle = documents_processed_current_cycle + $4,
		updated_at=now()
	WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, ownerID, words, characters, documents)
	if err != nil {
		return fmt.Errorf("op=teacher.record_usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=teacher.record_usage: %w", domain.ErrNotFound)
	}
	return nil
}
