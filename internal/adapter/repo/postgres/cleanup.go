package postgres

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// CleanupService hard-deletes rows that outlived the retention window:
// soft-deleted documents and results past the retention age, and dead-letter
// tasks past the sideline age.
type CleanupService struct {
	pool      PgxPool
	tasks     *TaskRepo
	retention time.Duration
	dlqMaxAge time.Duration
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(pool PgxPool, tasks *TaskRepo, retention, dlqMaxAge time.Duration) *CleanupService {
	return &CleanupService{pool: pool, tasks: tasks, retention: retention, dlqMaxAge: dlqMaxAge}
}

// Run performs one cleanup sweep and logs what it removed.
func (s *CleanupService) Run(ctx domain.Context) error {
	tracer := otel.Tracer("repo.cleanup")
	ctx, span := tracer.Start(ctx, "cleanup.Run")
	defer span.End()

	cutoff := time.Now().Add(-s.retention)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM results WHERE is_deleted=true AND result_timestamp < $1`, cutoff)
	if err != nil {
		slog.Error("cleanup: delete results failed", slog.Any("error", err))
		return err
	}
	results := tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM documents WHERE is_deleted=true AND updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("cleanup: delete documents failed", slog.Any("error", err))
		return err
	}
	documents := tag.RowsAffected()

	deadLetters, err := s.tasks.PruneDeadLetters(ctx, time.Now().Add(-s.dlqMaxAge))
	if err != nil {
		slog.Error("cleanup: prune dead letters failed", slog.Any("error", err))
		return err
	}

	if documents > 0 || results > 0 || deadLetters > 0 {
		slog.Info("cleanup sweep finished",
			slog.Int64("documents", documents),
			slog.Int64("results", results),
			slog.Int64("dead_letters", deadLetters))
	}
	return nil
}

// RunPeriodic sweeps on the given interval until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx domain.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				slog.Error("cleanup sweep failed", slog.Any("error", err))
			}
		}
	}
}
