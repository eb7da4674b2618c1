package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/metrics"
	"github.com/mandaact/backend/internal/models"
	"github.com/mandaact/backend/internal/timezone"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CatalogCache holds the read-mostly achievement catalog between
// evaluations. A miss or a cache failure falls back to the repository.
type CatalogCache interface {
	GetAchievements(ctx context.Context) ([]models.Achievement, bool)
	SetAchievements(ctx context.Context, list []models.Achievement)
}

// ── Needed Statistics ───────────────────────────────────

type statNeed uint8

const (
	needStreak statNeed = 1 << iota
	needCompletion
	needGoals
	needTotalChecks
	needChecks
	needMonthChecks
)

// needsFor reports which statistics evaluating c requires.
func needsFor(c models.UnlockCondition) statNeed {
	switch c.(type) {
	case models.StreakCondition, models.MonthlyStreakCondition:
		return needStreak
	case models.PerfectDayCondition, models.PerfectWeekCondition,
		models.PerfectMonthCondition, models.MonthlyCompletionCondition:
		return needCompletion
	case models.TotalChecksCondition:
		return needTotalChecks
	case models.BalancedCondition:
		return needGoals
	case models.TimePatternCondition, models.WeekendCompletionCondition:
		return needChecks
	case models.PerfectWeekInMonthCondition:
		return needMonthChecks
	default:
		return 0
	}
}

// progressNeedsFor is needsFor restricted to kinds with a progress readout.
func progressNeedsFor(c models.UnlockCondition) statNeed {
	switch c.(type) {
	case models.StreakCondition, models.MonthlyStreakCondition, models.TotalChecksCondition,
		models.PerfectWeekCondition, models.PerfectMonthCondition, models.MonthlyCompletionCondition:
		return needsFor(c)
	default:
		return 0
	}
}

// badgeStats is computed once per evaluation and shared by every condition.
type badgeStats struct {
	now         time.Time
	streak      models.StreakStats
	completion  models.CompletionStats
	goals       []models.GoalProgress
	totalChecks int
	checks      []models.CheckEvent

	// This month's checks of active actions, and the active action count.
	monthChecks  []models.CheckEvent
	monthActions int
}

// collectStats runs the queries for need concurrently.
func (s *Service) collectStats(ctx context.Context, userID uuid.UUID, need statNeed, now time.Time) (*badgeStats, error) {
	st := &badgeStats{now: now}
	g, ctx := errgroup.WithContext(ctx)

	if need&needStreak != 0 {
		g.Go(func() error {
			streak, err := s.StreakStats(ctx, userID, now)
			if err != nil {
				return fmt.Errorf("streak stats: %w", err)
			}
			st.streak = *streak
			return nil
		})
	}
	if need&needCompletion != 0 {
		g.Go(func() error {
			c, err := s.CompletionStats(ctx, userID, now)
			if err != nil {
				return fmt.Errorf("completion stats: %w", err)
			}
			st.completion = *c
			return nil
		})
	}
	if need&needGoals != 0 {
		g.Go(func() error {
			goals, err := s.GoalProgress(ctx, userID, now)
			if err != nil {
				return fmt.Errorf("goal progress: %w", err)
			}
			st.goals = goals
			return nil
		})
	}
	if need&needTotalChecks != 0 {
		g.Go(func() error {
			n, err := s.repo.CountChecks(ctx, userID)
			if err != nil {
				return fmt.Errorf("count checks: %w", err)
			}
			st.totalChecks = n
			return nil
		})
	}
	if need&needChecks != 0 {
		g.Go(func() error {
			checks, err := s.repo.ListChecks(ctx, userID)
			if err != nil {
				return fmt.Errorf("list checks: %w", err)
			}
			st.checks = checks
			return nil
		})
	}
	if need&needMonthChecks != 0 {
		g.Go(func() error {
			actions, err := s.repo.ActiveActions(ctx, userID)
			if err != nil {
				return fmt.Errorf("active actions: %w", err)
			}
			start, end, _ := s.tz.MonthBounds(now)
			checks, err := s.repo.ListChecksInRange(ctx, userID, start, end)
			if err != nil {
				return fmt.Errorf("list month checks: %w", err)
			}
			active := make(map[uuid.UUID]bool, len(actions))
			for _, a := range actions {
				active[a.ActionID] = true
			}
			for _, c := range checks {
				if active[c.ActionID] {
					st.monthChecks = append(st.monthChecks, c)
				}
			}
			st.monthActions = len(actions)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

// ── Predicates ──────────────────────────────────────────

// evaluate decides c against precomputed stats. It performs no I/O.
func evaluate(c models.UnlockCondition, st *badgeStats, tz *timezone.Normalizer) bool {
	switch c := c.(type) {
	case models.StreakCondition:
		return st.streak.Current >= c.Days || st.streak.Longest >= c.Days
	case models.MonthlyStreakCondition:
		return st.streak.Current >= c.Days
	case models.PerfectDayCondition:
		return st.completion.TotalActions > 0 && st.completion.Today.Percentage == 100
	case models.PerfectWeekCondition:
		return st.completion.TotalActions > 0 && st.completion.Week.Percentage >= c.Threshold
	case models.PerfectMonthCondition:
		return st.completion.TotalActions > 0 && st.completion.Month.Percentage >= c.Threshold
	case models.MonthlyCompletionCondition:
		return st.completion.TotalActions > 0 && st.completion.Month.Percentage >= c.Threshold
	case models.TotalChecksCondition:
		return st.totalChecks >= c.Count
	case models.BalancedCondition:
		if len(st.goals) == 0 {
			return false
		}
		for _, g := range st.goals {
			if g.WeeklyPercentage < c.Threshold {
				return false
			}
		}
		return true
	case models.TimePatternCondition:
		if len(st.checks) == 0 {
			return false
		}
		morning := 0
		for _, ch := range st.checks {
			if isMorning(tz.Hour(ch.CheckedAt)) {
				morning++
			}
		}
		return float64(morning)/float64(len(st.checks))*100 >= float64(c.Threshold)
	case models.WeekendCompletionCondition:
		var weekend, weekday int
		for _, ch := range st.checks {
			if wd := tz.Weekday(ch.CheckedAt); wd == time.Saturday || wd == time.Sunday {
				weekend++
			} else {
				weekday++
			}
		}
		if weekday == 0 {
			return false
		}
		return float64(weekend)/2 > float64(weekday)/5
	case models.PerfectWeekInMonthCondition:
		return perfectWeekInMonth(st, tz)
	default:
		return false
	}
}

// perfectWeekInMonth splits the month into 7-day chunks from the 1st and
// reports whether any chunk that has fully elapsed reached 100%.
func perfectWeekInMonth(st *badgeStats, tz *timezone.Normalizer) bool {
	if st.monthActions == 0 {
		return false
	}
	monthStart, monthEnd, _ := tz.MonthBounds(st.now)
	local := tz.In(monthStart)
	target := st.monthActions * 7

	for k := 0; ; k++ {
		start := local.AddDate(0, 0, 7*k).UTC()
		end := local.AddDate(0, 0, 7*(k+1)).UTC()
		if end.After(monthEnd) || end.After(st.now) {
			return false
		}
		n := 0
		for _, c := range st.monthChecks {
			if !c.CheckedAt.Before(start) && c.CheckedAt.Before(end) {
				n++
			}
		}
		if n >= target {
			return true
		}
	}
}

// ── Evaluation ──────────────────────────────────────────

func (s *Service) loadCatalog(ctx context.Context) ([]models.Achievement, error) {
	if s.catalog != nil {
		if list, ok := s.catalog.GetAchievements(ctx); ok {
			return list, nil
		}
	}
	list, err := s.repo.ActiveAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	if s.catalog != nil {
		s.catalog.SetAchievements(ctx, list)
	}
	return list, nil
}

// CheckAndUnlockAchievements evaluates every locked achievement and unlocks
// those whose condition now holds, awarding their XP. An achievement whose
// unlock or award fails is logged and left out of the result.
func (s *Service) CheckAndUnlockAchievements(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Achievement, error) {
	started := time.Now()
	defer func() { metrics.BadgeEvaluationLatency.Observe(time.Since(started).Seconds()) }()

	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.repo.UnlockedAchievementIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked achievements: %w", err)
	}

	var pending []models.Achievement
	var need statNeed
	for _, a := range catalog {
		if unlocked[a.ID] || a.UnlockCondition == nil {
			continue
		}
		pending = append(pending, a)
		need |= needsFor(a.UnlockCondition)
	}
	newly := []models.Achievement{}
	if len(pending) == 0 {
		return newly, nil
	}

	st, err := s.collectStats(ctx, userID, need, now)
	if err != nil {
		return nil, err
	}

	for _, a := range pending {
		if !evaluate(a.UnlockCondition, st, s.tz) {
			continue
		}
		if err := s.unlock(ctx, userID, a, now); err != nil {
			if errors.Is(err, ErrAlreadyUnlocked) {
				continue
			}
			metrics.BadgeFailures.Inc()
			s.log.Warn("achievement skipped",
				zap.Stringer("user_id", userID),
				zap.String("achievement", a.Key),
				zap.Error(err),
			)
			continue
		}
		newly = append(newly, a)
	}
	return newly, nil
}

func (s *Service) unlock(ctx context.Context, userID uuid.UUID, a models.Achievement, now time.Time) error {
	err := s.repo.InsertUnlock(ctx, &models.UserAchievementUnlock{
		ID:            uuid.New(),
		UserID:        userID,
		AchievementID: a.ID,
		UnlockedAt:    now.UTC(),
	})
	if err != nil {
		return err
	}
	metrics.BadgeUnlocks.WithLabelValues(a.Key).Inc()

	if a.XPReward > 0 {
		reward := a.XPReward
		if _, _, err := s.awardXP(ctx, userID, now, "badge", func(*models.UserLevelLedger) int64 { return reward }); err != nil {
			return fmt.Errorf("award %d xp: %w", reward, err)
		}
	}
	return nil
}

// ── Progress ────────────────────────────────────────────

// CalculateBadgeProgress reports progress toward c. Conditions built on
// comparisons or compound checks return nil.
func CalculateBadgeProgress(c models.UnlockCondition, st *badgeStats) *models.BadgeProgress {
	var current, target int
	switch c := c.(type) {
	case models.StreakCondition:
		current, target = max(st.streak.Current, st.streak.Longest), c.Days
	case models.TotalChecksCondition:
		current, target = st.totalChecks, c.Count
	case models.PerfectWeekCondition:
		if st.completion.Week.Percentage >= c.Threshold {
			current = 1
		}
		target = 1
	case models.PerfectMonthCondition:
		current, target = st.completion.Month.Percentage, c.Threshold
	case models.MonthlyCompletionCondition:
		current, target = st.completion.Month.Percentage, c.Threshold
	case models.MonthlyStreakCondition:
		current, target = st.streak.Current, c.Days
	default:
		return nil
	}
	return &models.BadgeProgress{
		Current:         current,
		Target:          target,
		ProgressPercent: min(percent(current, target), 100),
	}
}

// AchievementStatuses lists the catalog with the user's unlock state and,
// where available, progress.
func (s *Service) AchievementStatuses(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.AchievementStatus, error) {
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.repo.UnlockedAchievementIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked achievements: %w", err)
	}

	var need statNeed
	for _, a := range catalog {
		need |= progressNeedsFor(a.UnlockCondition)
	}
	st, err := s.collectStats(ctx, userID, need, now)
	if err != nil {
		return nil, err
	}

	out := make([]models.AchievementStatus, 0, len(catalog))
	for _, a := range catalog {
		out = append(out, models.AchievementStatus{
			Achievement: a,
			Unlocked:    unlocked[a.ID],
			Progress:    CalculateBadgeProgress(a.UnlockCondition, st),
		})
	}
	return out, nil
}
