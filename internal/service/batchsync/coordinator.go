// Package batchsync reconciles batch rollups from member document states.
//
// The coordinator never touches tasks; it only observes the document statuses
// the worker produces and derives each active batch's aggregate.
package batchsync

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// Coordinator periodically recomputes active batch rollups.
type Coordinator struct {
	batches  domain.BatchRepository
	interval time.Duration
}

// New constructs a Coordinator with the given reconcile interval.
func New(batches domain.BatchRepository, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Coordinator{batches: batches, interval: interval}
}

// Run reconciles on a ticker until the context is cancelled.
func (c *Coordinator) Run(ctx domain.Context) {
	slog.Info("batch coordinator started", slog.Duration("interval", c.interval))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("batch coordinator stopped")
			return
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil {
				slog.Error("batch reconcile pass failed", slog.Any("error", err))
			}
		}
	}
}

// Reconcile runs one pass over all active batches. Per-batch failures do not
// abort the pass.
func (c *Coordinator) Reconcile(ctx domain.Context) error {
	batches, err := c.batches.ListActive(ctx, 0)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if err := c.reconcileOne(ctx, b); err != nil {
			slog.Error("batch reconcile failed",
				slog.String("batch_id", b.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (c *Coordinator) reconcileOne(ctx domain.Context, b domain.Batch) error {
	counts, err := c.batches.CountDocuments(ctx, b.ID)
	if err != nil {
		return err
	}
	status := domain.DeriveBatchStatus(b.TotalFiles, counts)
	if status == b.Status && counts.Completed == b.CompletedFiles && counts.Failed == b.FailedFiles {
		return nil
	}
	if err := c.batches.UpdateRollup(ctx, b.ID, counts.Completed, counts.Failed, status); err != nil {
		return err
	}
	observability.BatchRollupsTotal.Inc()
	slog.Info("batch rollup updated",
		slog.String("batch_id", b.ID),
		slog.Int("completed", counts.Completed),
		slog.Int("failed", counts.Failed),
		slog.String("status", string(status)))
	return nil
}
