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
)

type Service struct {
	repo    Repository
	tz      *timezone.Normalizer
	log     *zap.Logger
	catalog CatalogCache
}

// NewService wires the engine. catalog may be nil, in which case the
// achievement catalog is read from repo on every evaluation.
func NewService(repo Repository, tz *timezone.Normalizer, log *zap.Logger, catalog CatalogCache) *Service {
	return &Service{repo: repo, tz: tz, log: log.Named("gamification"), catalog: catalog}
}

// Now returns the engine clock in UTC.
func (s *Service) Now() time.Time { return s.tz.Now() }

func outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return verr.Code
	default:
		return "error"
	}
}

// ── Check / Uncheck ─────────────────────────────────────

// Check records that userID completed actionID at now and awards
// BaseXPPerCheck scaled by the active multipliers.
func (s *Service) Check(ctx context.Context, userID, actionID uuid.UUID, now time.Time) (res *models.CheckResult, err error) {
	started := time.Now()
	defer func() {
		metrics.Checks.WithLabelValues("check", outcome(err)).Inc()
		metrics.CheckLatency.WithLabelValues("check").Observe(time.Since(started).Seconds())
	}()

	today := s.tz.LocalDate(now)
	start, end, err := s.tz.DayBounds(today)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.LatestCheckInRange(ctx, userID, actionID, start, end)
	if err != nil {
		return nil, fmt.Errorf("find today's check: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyCheckedToday
	}

	// The comeback lookup only sees checks strictly before now, so planning
	// the multiplier ahead of the insert yields the same value and lets the
	// award be stored on the row. Grants are written only once it lands.
	mults, dueComeback, err := s.planMultipliers(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("active multipliers: %w", err)
	}
	mult := Combine(mults)
	xp := ApplyMultiplier(BaseXPPerCheck, mult)

	ev := &models.CheckEvent{
		ID:        uuid.New(),
		ActionID:  actionID,
		UserID:    userID,
		CheckedAt: now.UTC(),
		LocalDate: today,
		XPAwarded: xp,
	}
	if err := s.repo.InsertCheck(ctx, ev); err != nil {
		return nil, err
	}

	if dueComeback > 0 {
		if _, err := s.grantComeback(ctx, userID, dueComeback, now); err != nil {
			s.log.Warn("comeback activation failed", zap.Stringer("user_id", userID), zap.Error(err))
		}
	}

	ledger, oldLevel, err := s.awardXP(ctx, userID, now, "check", func(*models.UserLevelLedger) int64 { return xp })
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}

	s.triggerPerfectWeek(ctx, userID, now)

	return &models.CheckResult{
		CheckEvent: *ev,
		XPAwarded:  xp,
		Multiplier: mult,
		NewTotalXP: ledger.TotalXP,
		NewLevel:   ledger.CurrentLevel,
		LeveledUp:  ledger.CurrentLevel > oldLevel,
	}, nil
}

// Uncheck removes today's check of actionID and refunds the XP it awarded.
func (s *Service) Uncheck(ctx context.Context, userID, actionID uuid.UUID, now time.Time) (res *models.UncheckResponse, err error) {
	started := time.Now()
	defer func() {
		metrics.Checks.WithLabelValues("uncheck", outcome(err)).Inc()
		metrics.CheckLatency.WithLabelValues("uncheck").Observe(time.Since(started).Seconds())
	}()

	start, end, err := s.tz.DayBounds(s.tz.LocalDate(now))
	if err != nil {
		return nil, err
	}

	ev, err := s.repo.LatestCheckInRange(ctx, userID, actionID, start, end)
	if err != nil {
		return nil, fmt.Errorf("find today's check: %w", err)
	}
	if ev == nil {
		return nil, ErrNoCheckToday
	}

	if err := s.repo.DeleteCheck(ctx, ev.ID); err != nil {
		return nil, err
	}

	refund := ev.XPAwarded
	if refund <= 0 {
		// Rows written before awards were stored.
		mults, _, err := s.planMultipliers(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("active multipliers: %w", err)
		}
		refund = ApplyMultiplier(BaseXPPerCheck, Combine(mults))
	}

	ledger, _, err := s.awardXP(ctx, userID, now, "", func(*models.UserLevelLedger) int64 { return -refund })
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}
	metrics.XPRefunded.Add(float64(refund))

	return &models.UncheckResponse{
		XPRefunded: refund,
		NewTotalXP: ledger.TotalXP,
		NewLevel:   ledger.CurrentLevel,
	}, nil
}

// triggerPerfectWeek attempts the perfect-week grant after a check. Failures
// are logged; the check itself already succeeded.
func (s *Service) triggerPerfectWeek(ctx context.Context, userID uuid.UUID, now time.Time) {
	stats, err := s.CompletionStats(ctx, userID, now)
	if err != nil {
		s.log.Warn("perfect week check failed", zap.Stringer("user_id", userID), zap.Error(err))
		return
	}
	if _, err := s.ActivatePerfectWeek(ctx, userID, stats.Week.Percentage, now); err != nil {
		s.log.Warn("perfect week activation failed", zap.Stringer("user_id", userID), zap.Error(err))
	}
}

// ── Ledger ──────────────────────────────────────────────

// awardXP applies delta(ledger) to the user's total under the ledger row
// lock, clamping at zero and recomputing the level. A level-up that crosses
// a milestone activates the milestone multiplier. source labels positive
// awards in metrics and may be empty.
func (s *Service) awardXP(ctx context.Context, userID uuid.UUID, now time.Time, source string, delta func(*models.UserLevelLedger) int64) (*models.UserLevelLedger, int, error) {
	var oldLevel int
	var applied int64
	ledger, err := s.repo.UpdateLedger(ctx, userID, func(l *models.UserLevelLedger) error {
		oldLevel = l.CurrentLevel
		applied = delta(l)
		total := l.TotalXP + applied
		if total < 0 {
			total = 0
		}
		l.TotalXP = total
		l.CurrentLevel = LevelFromXP(total)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if source != "" && applied > 0 {
		metrics.XPAwarded.WithLabelValues(source).Add(float64(applied))
	}

	if ledger.CurrentLevel > oldLevel {
		metrics.LevelUps.Inc()
		s.log.Info("level up",
			zap.Stringer("user_id", userID),
			zap.Int("from", oldLevel),
			zap.Int("to", ledger.CurrentLevel),
		)
		if m, ok := CrossedMilestone(oldLevel, ledger.CurrentLevel); ok {
			if _, err := s.ActivateLevelMilestone(ctx, userID, m, now); err != nil {
				s.log.Warn("milestone activation failed",
					zap.Stringer("user_id", userID), zap.Int("level", m), zap.Error(err))
			}
		}
	}
	return ledger, oldLevel, nil
}

// Level returns the user's ledger with progress toward the next level.
func (s *Service) Level(ctx context.Context, userID uuid.UUID) (*models.LevelResponse, error) {
	ledger, err := s.repo.GetOrCreateLedger(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return &models.LevelResponse{Ledger: *ledger, Progress: Progress(ledger.TotalXP)}, nil
}

// ── Perfect Day ─────────────────────────────────────────

// ClaimPerfectDay awards PerfectDayXP once per local day when every active
// action has been checked today.
func (s *Service) ClaimPerfectDay(ctx context.Context, userID uuid.UUID, now time.Time) (*models.PerfectDayResult, error) {
	today := s.tz.LocalDate(now)
	res := &models.PerfectDayResult{Date: today}

	actions, err := s.repo.ActiveActions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active actions: %w", err)
	}
	res.TotalActions = len(actions)
	if res.TotalActions == 0 {
		return res, nil
	}

	start, end, err := s.tz.DayBounds(today)
	if err != nil {
		return nil, err
	}
	res.CompletedActions, err = s.repo.CountChecksInRange(ctx, userID, actionIDs(actions), start, end)
	if err != nil {
		return nil, fmt.Errorf("count today's checks: %w", err)
	}
	res.IsPerfectDay = res.CompletedActions >= res.TotalActions
	if !res.IsPerfectDay {
		return res, nil
	}

	_, _, err = s.awardXP(ctx, userID, now, "perfect_day", func(l *models.UserLevelLedger) int64 {
		if l.LastPerfectDayDate != nil && *l.LastPerfectDayDate == today {
			res.AlreadyAwarded = true
			return 0
		}
		l.LastPerfectDayDate = &today
		return PerfectDayXP
	})
	if err != nil {
		return nil, fmt.Errorf("award perfect day: %w", err)
	}
	if !res.AlreadyAwarded {
		res.XPAwarded = PerfectDayXP
	}
	return res, nil
}
