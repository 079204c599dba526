// Package usecase contains the application services behind the HTTP surface
// and the worker: upload intake, quota admission, result retrieval, reprocess
// flows, and usage reporting.
package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// PlanLimits carries the monthly word and character budget of one plan.
// Zero or negative values mean unlimited for that dimension.
type PlanLimits struct {
	Words      int64
	Characters int64
}

// QuotaService implements domain.QuotaLedger against the teachers table.
// Cycle counters roll over lazily: the first admission check in a new month
// resets them before comparing.
type QuotaService struct {
	teachers domain.TeacherRepository
	limits   map[domain.Plan]PlanLimits
}

// NewQuotaService constructs a QuotaService with per-plan limits.
func NewQuotaService(teachers domain.TeacherRepository, limits map[domain.Plan]PlanLimits) *QuotaService {
	return &QuotaService{teachers: teachers, limits: limits}
}

// Admit decides whether a document of the given size may be processed.
// The check is prospective: current usage plus this document against the
// limit, with landing exactly on the limit still admitted. The word limit is
// checked before the character limit so denial reasons are deterministic.
func (s *QuotaService) Admit(ctx domain.Context, ownerID string, wordCount, characterCount int) (domain.Admission, error) {
	usage, err := s.usageWithRollover(ctx, ownerID)
	if err != nil {
		return domain.Admission{}, err
	}

	if usage.Plan == domain.PlanSchools {
		return domain.Admission{Allowed: true, Plan: usage.Plan}, nil
	}

	limits, ok := s.limits[usage.Plan]
	if !ok {
		return domain.Admission{}, fmt.Errorf("op=quota.admit: no limits configured for plan %q", usage.Plan)
	}

	if limits.Words > 0 && usage.WordsUsed+int64(wordCount) > limits.Words {
		observability.QuotaDenied("word")
		return domain.Admission{
			Plan: usage.Plan,
			Reason: fmt.Sprintf("monthly word limit exceeded: %d used + %d requested > %d allowed",
				usage.WordsUsed, wordCount, limits.Words),
		}, nil
	}
	if limits.Characters > 0 && usage.CharactersUsed+int64(characterCount) > limits.Characters {
		observability.QuotaDenied("character")
		return domain.Admission{
			Plan: usage.Plan,
			Reason: fmt.Sprintf("monthly character limit exceeded: %d used + %d requested > %d allowed",
				usage.CharactersUsed, characterCount, limits.Characters),
		}, nil
	}
	return domain.Admission{Allowed: true, Plan: usage.Plan}, nil
}

// RecordUsage adds one processed document's counts to the owner's cycle.
func (s *QuotaService) RecordUsage(ctx domain.Context, ownerID string, wordCount, characterCount int) error {
	return s.teachers.RecordUsage(ctx, ownerID, int64(wordCount), int64(characterCount), 1)
}

// usageWithRollover reads the owner's usage, creating the row for unknown
// owners and resetting counters whose anchor predates the current month.
func (s *QuotaService) usageWithRollover(ctx domain.Context, ownerID string) (domain.TeacherUsage, error) {
	usage, err := s.teachers.GetUsage(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := s.teachers.EnsureTeacher(ctx, ownerID, domain.PlanFree); err != nil {
			return domain.TeacherUsage{}, err
		}
		usage, err = s.teachers.GetUsage(ctx, ownerID)
		if err != nil {
			return domain.TeacherUsage{}, err
		}
	} else if err != nil {
		return domain.TeacherUsage{}, err
	}

	monthStart := currentMonthStart()
	if usage.CycleAnchor.Before(monthStart) {
		if err := s.teachers.ResetCycle(ctx, ownerID, monthStart); err != nil {
			return domain.TeacherUsage{}, err
		}
		usage.WordsUsed = 0
		usage.CharactersUsed = 0
		usage.DocumentsProcessed = 0
		usage.CycleAnchor = monthStart
	}
	return usage, nil
}

func currentMonthStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
