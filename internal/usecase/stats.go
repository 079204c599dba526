package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// StatsPeriod selects the aggregation window for usage reports.
type StatsPeriod string

// Supported aggregation windows.
const (
	PeriodDaily   StatsPeriod = "daily"
	PeriodWeekly  StatsPeriod = "weekly"
	PeriodMonthly StatsPeriod = "monthly"
	PeriodAllTime StatsPeriod = "all-time"
)

// StatsService produces usage aggregates for reports.
type StatsService struct {
	documents domain.DocumentRepository
}

// NewStatsService constructs a StatsService.
func NewStatsService(documents domain.DocumentRepository) *StatsService {
	return &StatsService{documents: documents}
}

// Usage aggregates the owner's documents over the requested period. The
// target date defaults to today; weekly windows start on Monday.
func (s *StatsService) Usage(ctx domain.Context, ownerID string, period StatsPeriod, target *time.Time) (domain.UsageStats, error) {
	if period == PeriodAllTime {
		return s.documents.AllTimeStats(ctx, ownerID)
	}

	day := time.Now().UTC()
	if target != nil {
		day = target.UTC()
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var from, to time.Time
	switch period {
	case PeriodDaily:
		from, to = day, day.AddDate(0, 0, 1)
	case PeriodWeekly:
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		from = day.AddDate(0, 0, -(weekday - 1))
		to = from.AddDate(0, 0, 7)
	case PeriodMonthly:
		from = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, 0)
	default:
		return domain.UsageStats{}, fmt.Errorf("op=stats.usage: %w: unknown period %q", domain.ErrInvalidArgument, period)
	}
	return s.documents.UsageStats(ctx, ownerID, from, to)
}
