package gamification

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/models"
	"github.com/mandaact/backend/internal/timezone"
)

const (
	DefaultHeatmapDays = 365
	maxHeatmapDays     = 3 * 365
)

// ── Streak ──────────────────────────────────────────────

// StreakStats derives the current and longest streak from the user's full
// check history.
func (s *Service) StreakStats(ctx context.Context, userID uuid.UUID, now time.Time) (*models.StreakStats, error) {
	checks, err := s.repo.ListChecks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	stats := computeStreak(checks, s.tz, now)
	return &stats, nil
}

func computeStreak(checks []models.CheckEvent, tz *timezone.Normalizer, now time.Time) models.StreakStats {
	var stats models.StreakStats
	if len(checks) == 0 {
		return stats
	}

	// Latest instant per local date.
	latest := make(map[string]time.Time)
	for _, c := range checks {
		d := tz.LocalDate(c.CheckedAt)
		if t, ok := latest[d]; !ok || c.CheckedAt.After(t) {
			latest[d] = c.CheckedAt
		}
	}
	dates := make([]string, 0, len(latest))
	for d := range latest {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	last := latest[dates[0]]
	stats.LastCheckAt = &last

	today := tz.LocalDate(now)
	yesterday, _ := tz.AddDays(today, -1)
	if dates[0] == today || dates[0] == yesterday {
		cur := dates[0]
		for {
			if _, ok := latest[cur]; !ok {
				break
			}
			stats.Current++
			prev, err := tz.AddDays(cur, -1)
			if err != nil {
				break
			}
			cur = prev
		}
	}

	// Dates are newest first, so a run only replaces the best on a strictly
	// longer length and ties keep the more recent run.
	bestLen, bestEnd := 0, ""
	runLen, runEnd := 1, dates[0]
	for i := 1; i <= len(dates); i++ {
		if i < len(dates) {
			if gap, err := timezone.DaysBetween(dates[i], dates[i-1]); err == nil && gap == 1 {
				runLen++
				continue
			}
		}
		if runLen > bestLen {
			bestLen, bestEnd = runLen, runEnd
		}
		if i < len(dates) {
			runLen, runEnd = 1, dates[i]
		}
	}
	stats.Longest = bestLen
	end := latest[bestEnd]
	stats.LongestStreakEnd = &end

	return stats
}

// ── Completion ──────────────────────────────────────────

func percent(n, d int) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(d) * 100))
}

func actionIDs(actions []models.ActiveAction) []uuid.UUID {
	ids := make([]uuid.UUID, len(actions))
	for i, a := range actions {
		ids[i] = a.ActionID
	}
	return ids
}

// CompletionStats reports today, this week (from Sunday) and this month
// completion against the user's active actions.
func (s *Service) CompletionStats(ctx context.Context, userID uuid.UUID, now time.Time) (*models.CompletionStats, error) {
	actions, err := s.repo.ActiveActions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active actions: %w", err)
	}
	total := len(actions)
	stats := &models.CompletionStats{TotalActions: total}
	if total == 0 {
		return stats, nil
	}
	ids := actionIDs(actions)

	dayStart := s.tz.StartOfDay(now)
	weekStart, weekEnd := s.tz.WeekBounds(now)
	monthStart, monthEnd, monthDays := s.tz.MonthBounds(now)

	periods := []struct {
		out        *models.PeriodCompletion
		start, end time.Time
		days       int
	}{
		{&stats.Today, dayStart, dayStart.Add(24 * time.Hour), 1},
		{&stats.Week, weekStart, weekEnd, 7},
		{&stats.Month, monthStart, monthEnd, monthDays},
	}
	for _, p := range periods {
		n, err := s.repo.CountChecksInRange(ctx, userID, ids, p.start, p.end)
		if err != nil {
			return nil, fmt.Errorf("count checks: %w", err)
		}
		*p.out = models.PeriodCompletion{
			Checked:    n,
			Total:      total * p.days,
			Percentage: percent(n, total*p.days),
		}
	}
	return stats, nil
}

// ── Goal Progress ───────────────────────────────────────

// GoalProgress summarises this week's activity per sub-goal of the active
// structure, in structure order.
func (s *Service) GoalProgress(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.GoalProgress, error) {
	actions, err := s.repo.ActiveActions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active actions: %w", err)
	}
	if len(actions) == 0 {
		return []models.GoalProgress{}, nil
	}

	weekStart, weekEnd := s.tz.WeekBounds(now)
	checks, err := s.repo.ListChecksInRange(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("list week checks: %w", err)
	}
	return goalProgress(actions, checks, s.tz.LocalDate(now), s.tz), nil
}

func goalProgress(actions []models.ActiveAction, weekChecks []models.CheckEvent, today string, tz *timezone.Normalizer) []models.GoalProgress {
	index := make(map[uuid.UUID]int)
	owner := make(map[uuid.UUID]int)
	var out []models.GoalProgress

	for _, a := range actions {
		i, ok := index[a.SubGoalID]
		if !ok {
			i = len(out)
			index[a.SubGoalID] = i
			out = append(out, models.GoalProgress{
				SubGoalID:      a.SubGoalID,
				SubGoalTitle:   a.SubGoalTitle,
				Position:       a.SubGoalPosition,
				MandalartID:    a.MandalartID,
				MandalartTitle: a.MandalartTitle,
			})
		}
		out[i].TotalActions++
		owner[a.ActionID] = i
	}

	for _, c := range weekChecks {
		i, ok := owner[c.ActionID]
		if !ok {
			continue
		}
		out[i].CheckedThisWeek++
		if tz.LocalDate(c.CheckedAt) == today {
			out[i].CheckedToday++
		}
	}

	for i := range out {
		out[i].WeeklyPercentage = percent(out[i].CheckedThisWeek, out[i].TotalActions*7)
	}
	return out
}

// ── Patterns ────────────────────────────────────────────

// Patterns analyses the full history by local weekday and time of day.
func (s *Service) Patterns(ctx context.Context, userID uuid.UUID) (*models.PatternsResponse, error) {
	checks, err := s.repo.ListChecks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	return &models.PatternsResponse{
		Weekday: weekdayPattern(checks, s.tz),
		Time:    timePattern(checks, s.tz),
	}, nil
}

func weekdayPattern(checks []models.CheckEvent, tz *timezone.Normalizer) *models.WeekdayPattern {
	if len(checks) == 0 {
		return nil
	}

	days := make([]models.DayCount, 7)
	for wd := range days {
		days[wd] = models.DayCount{Weekday: time.Weekday(wd), Name: time.Weekday(wd).String()}
	}
	for _, c := range checks {
		days[tz.Weekday(c.CheckedAt)].Count++
	}

	best, worst := days[0], days[0]
	for _, d := range days[1:] {
		if d.Count > best.Count {
			best = d
		}
		if d.Count < worst.Count {
			worst = d
		}
	}
	return &models.WeekdayPattern{BestDay: best, WorstDay: worst, AllDays: days}
}

// Time periods by local hour: morning [5,12), afternoon [12,18),
// evening [18,22), night otherwise.
func isMorning(hour int) bool { return hour >= 5 && hour < 12 }

func timePattern(checks []models.CheckEvent, tz *timezone.Normalizer) *models.TimePattern {
	if len(checks) == 0 {
		return nil
	}

	var morning, afternoon, evening, night int
	for _, c := range checks {
		switch h := tz.Hour(c.CheckedAt); {
		case isMorning(h):
			morning++
		case h >= 12 && h < 18:
			afternoon++
		case h >= 18 && h < 22:
			evening++
		default:
			night++
		}
	}

	n := len(checks)
	return &models.TimePattern{
		Morning:   models.PeriodCount{Count: morning, Percentage: percent(morning, n)},
		Afternoon: models.PeriodCount{Count: afternoon, Percentage: percent(afternoon, n)},
		Evening:   models.PeriodCount{Count: evening, Percentage: percent(evening, n)},
		Night:     models.PeriodCount{Count: night, Percentage: percent(night, n)},
	}
}

// ── Heatmap ─────────────────────────────────────────────

// Heatmap returns one entry per local date for the last days days, oldest
// first, ending today.
func (s *Service) Heatmap(ctx context.Context, userID uuid.UUID, days int, now time.Time) ([]models.HeatmapDay, error) {
	if days <= 0 {
		days = DefaultHeatmapDays
	}
	if days > maxHeatmapDays {
		days = maxHeatmapDays
	}

	actions, err := s.repo.ActiveActions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active actions: %w", err)
	}

	today := s.tz.LocalDate(now)
	first, err := s.tz.AddDays(today, -(days - 1))
	if err != nil {
		return nil, err
	}
	start, _, err := s.tz.DayBounds(first)
	if err != nil {
		return nil, err
	}
	_, end, err := s.tz.DayBounds(today)
	if err != nil {
		return nil, err
	}

	checks, err := s.repo.ListChecksInRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	active := make(map[uuid.UUID]bool, len(actions))
	for _, id := range actionIDs(actions) {
		active[id] = true
	}
	counts := make(map[string]int)
	for _, c := range checks {
		if active[c.ActionID] {
			counts[s.tz.LocalDate(c.CheckedAt)]++
		}
	}

	out := make([]models.HeatmapDay, 0, days)
	for i := 0; i < days; i++ {
		d, err := s.tz.AddDays(first, i)
		if err != nil {
			return nil, err
		}
		out = append(out, models.HeatmapDay{
			Date:       d,
			Count:      counts[d],
			Percentage: percent(counts[d], len(actions)),
		})
	}
	return out, nil
}
