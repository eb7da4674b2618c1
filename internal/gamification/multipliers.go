package gamification

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/metrics"
	"github.com/mandaact/backend/internal/models"
	"go.uber.org/zap"
)

const (
	WeekendMultiplier = 1.5

	ComebackMultiplier = 1.5
	ComebackGapDays    = 3
	ComebackDuration   = 3 * 24 * time.Hour

	LevelMilestoneMultiplier = 2.0
	LevelMilestoneDuration   = 7 * 24 * time.Hour

	PerfectWeekMultiplier = 2.0
	PerfectWeekDuration   = 7 * 24 * time.Hour
	PerfectWeekThreshold  = 80
)

// ── Active Multipliers ──────────────────────────────────

// ActiveMultipliers lists every multiplier that applies to an XP award made
// at now. A comeback grant is created here when the user's previous check
// is at least ComebackGapDays old.
func (s *Service) ActiveMultipliers(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Multiplier, error) {
	mults, dueComeback, err := s.planMultipliers(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if dueComeback == 0 {
		return mults, nil
	}

	rec, err := s.grantComeback(ctx, userID, dueComeback, now)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		for i := range mults {
			if mults[i].Type == models.BonusComeback {
				mults[i] = grantMultiplier(rec, now)
			}
		}
	}
	return mults, nil
}

// planMultipliers computes the multipliers for an award at now without
// storing anything. A non-zero dueComeback is the days-away count of a
// comeback grant that applies but has not been stored yet.
func (s *Service) planMultipliers(ctx context.Context, userID uuid.UUID, now time.Time) (mults []models.Multiplier, dueComeback int, err error) {
	if wd := s.tz.Weekday(now); wd == time.Saturday || wd == time.Sunday {
		mults = append(mults, models.Multiplier{Type: models.BonusWeekend, Multiplier: WeekendMultiplier})
	}

	comeback, err := s.repo.ActiveBonus(ctx, userID, models.BonusComeback, now)
	if err != nil {
		return nil, 0, fmt.Errorf("active comeback bonus: %w", err)
	}
	if comeback != nil {
		mults = append(mults, grantMultiplier(comeback, now))
	} else {
		daysAway, err := s.daysAway(ctx, userID, now)
		if err != nil {
			return nil, 0, err
		}
		if daysAway >= ComebackGapDays {
			dueComeback = daysAway
			expires := now.UTC().Add(ComebackDuration)
			mults = append(mults, models.Multiplier{
				Type:          models.BonusComeback,
				Multiplier:    ComebackMultiplier,
				ExpiresAt:     &expires,
				DaysRemaining: daysRemaining(now, expires),
			})
		}
	}

	for _, t := range []models.BonusType{models.BonusLevelMilestone, models.BonusPerfectWeek} {
		b, err := s.repo.ActiveBonus(ctx, userID, t, now)
		if err != nil {
			return nil, 0, fmt.Errorf("active %s bonus: %w", t, err)
		}
		if b != nil {
			mults = append(mults, grantMultiplier(b, now))
		}
	}

	return mults, dueComeback, nil
}

// Combine sums the multipliers. With none active the result is 1.0.
func Combine(mults []models.Multiplier) float64 {
	if len(mults) == 0 {
		return 1.0
	}
	total := 0.0
	for _, m := range mults {
		total += m.Multiplier
	}
	return total
}

// Multipliers returns the active multipliers with their combined scalar.
func (s *Service) Multipliers(ctx context.Context, userID uuid.UUID, now time.Time) (*models.MultipliersResponse, error) {
	mults, err := s.ActiveMultipliers(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if mults == nil {
		mults = []models.Multiplier{}
	}
	return &models.MultipliersResponse{Multipliers: mults, Combined: Combine(mults)}, nil
}

func grantMultiplier(b *models.BonusXPRecord, now time.Time) models.Multiplier {
	expires := b.ExpiresAt
	return models.Multiplier{
		Type:          b.BonusType,
		Multiplier:    b.Multiplier,
		ExpiresAt:     &expires,
		DaysRemaining: daysRemaining(now, expires),
	}
}

func daysRemaining(now, expires time.Time) int {
	if !expires.After(now) {
		return 0
	}
	return int(math.Ceil(expires.Sub(now).Hours() / 24))
}

// ── Comeback ────────────────────────────────────────────

// daysAway returns whole days since the user's previous check, or 0 when
// there is none.
func (s *Service) daysAway(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	last, err := s.repo.LatestCheckBefore(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("latest check: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	return int(math.Floor(now.Sub(last.CheckedAt).Hours() / 24)), nil
}

// grantComeback stores the comeback grant for a return after daysAway days.
// When a concurrent activation won, the active record is returned instead.
func (s *Service) grantComeback(ctx context.Context, userID uuid.UUID, daysAway int, now time.Time) (*models.BonusXPRecord, error) {
	rec, err := s.activate(ctx, userID, models.BonusComeback, ComebackMultiplier, ComebackDuration, now,
		map[string]any{"days_away": daysAway})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return s.repo.ActiveBonus(ctx, userID, models.BonusComeback, now)
	}
	return rec, nil
}

// ── Timed Grants ────────────────────────────────────────

// ActivateLevelMilestone grants the milestone multiplier for reaching level.
// It is a no-op while any milestone grant is still active.
func (s *Service) ActivateLevelMilestone(ctx context.Context, userID uuid.UUID, level int, now time.Time) (bool, error) {
	rec, err := s.activate(ctx, userID, models.BonusLevelMilestone, LevelMilestoneMultiplier, LevelMilestoneDuration, now,
		map[string]any{"level": level})
	return rec != nil, err
}

// ActivatePerfectWeek grants the perfect-week multiplier when weekPercent
// reaches PerfectWeekThreshold.
func (s *Service) ActivatePerfectWeek(ctx context.Context, userID uuid.UUID, weekPercent int, now time.Time) (bool, error) {
	if weekPercent < PerfectWeekThreshold {
		return false, nil
	}
	rec, err := s.activate(ctx, userID, models.BonusPerfectWeek, PerfectWeekMultiplier, PerfectWeekDuration, now,
		map[string]any{"week_percentage": weekPercent})
	return rec != nil, err
}

// activate stores a new grant unless one of the same type is active. It
// returns nil when nothing was stored.
func (s *Service) activate(ctx context.Context, userID uuid.UUID, t models.BonusType, mult float64, d time.Duration, now time.Time, meta map[string]any) (*models.BonusXPRecord, error) {
	rec := &models.BonusXPRecord{
		ID:          uuid.New(),
		UserID:      userID,
		BonusType:   t,
		Multiplier:  mult,
		ActivatedAt: now.UTC(),
		ExpiresAt:   now.UTC().Add(d),
		Metadata:    meta,
	}

	stored, err := s.repo.ActivateBonus(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("activate %s bonus: %w", t, err)
	}
	if !stored {
		return nil, nil
	}

	metrics.BonusActivations.WithLabelValues(string(t)).Inc()
	s.log.Info("bonus activated",
		zap.Stringer("user_id", userID),
		zap.String("type", string(t)),
		zap.Float64("multiplier", mult),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}
