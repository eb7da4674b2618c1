package gamification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/models"
)

// Repository is the persistence contract the engine runs against. Store is
// the PostgreSQL implementation.
type Repository interface {
	// LatestCheckInRange returns the newest check of actionID by userID with
	// checked_at in [start, end), or nil.
	LatestCheckInRange(ctx context.Context, userID, actionID uuid.UUID, start, end time.Time) (*models.CheckEvent, error)
	// InsertCheck returns ErrAlreadyCheckedToday when the user already has a
	// check for the action on ev.LocalDate, and ErrActionNotFound when the
	// action is unknown or belongs to another user's goal structure.
	InsertCheck(ctx context.Context, ev *models.CheckEvent) error
	DeleteCheck(ctx context.Context, id uuid.UUID) error
	// LatestCheckBefore returns the user's newest check strictly before t, or nil.
	LatestCheckBefore(ctx context.Context, userID uuid.UUID, t time.Time) (*models.CheckEvent, error)
	// ListChecks returns every check of the user, newest first.
	ListChecks(ctx context.Context, userID uuid.UUID) ([]models.CheckEvent, error)
	ListChecksInRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]models.CheckEvent, error)
	CountChecks(ctx context.Context, userID uuid.UUID) (int, error)
	// CountChecksInRange counts checks of the given actions in [start, end).
	CountChecksInRange(ctx context.Context, userID uuid.UUID, actionIDs []uuid.UUID, start, end time.Time) (int, error)

	// ActiveActions lists the actions of the user's active goal structures.
	ActiveActions(ctx context.Context, userID uuid.UUID) ([]models.ActiveAction, error)

	GetOrCreateLedger(ctx context.Context, userID uuid.UUID) (*models.UserLevelLedger, error)
	// UpdateLedger runs fn on the user's ledger row under a row lock and
	// persists the result.
	UpdateLedger(ctx context.Context, userID uuid.UUID, fn func(*models.UserLevelLedger) error) (*models.UserLevelLedger, error)

	// ActiveBonus returns the user's unexpired grant of bonusType at now, or nil.
	ActiveBonus(ctx context.Context, userID uuid.UUID, bonusType models.BonusType, now time.Time) (*models.BonusXPRecord, error)
	// ActivateBonus stores rec unless a grant of the same type is still
	// active at rec.ActivatedAt. It reports whether rec was stored.
	ActivateBonus(ctx context.Context, rec *models.BonusXPRecord) (bool, error)
	PruneExpiredBonuses(ctx context.Context, before time.Time) (int64, error)

	ActiveAchievements(ctx context.Context) ([]models.Achievement, error)
	UnlockedAchievementIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error)
	// InsertUnlock returns ErrAlreadyUnlocked on a duplicate (user, achievement).
	InsertUnlock(ctx context.Context, u *models.UserAchievementUnlock) error
}
