package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ── Core Records ──────────────────────────────────────────

// CheckEvent is one completion of one action by one user. LocalDate is the
// user-local calendar day of CheckedAt and backs the one-check-per-day
// unique constraint.
type CheckEvent struct {
	ID        uuid.UUID `json:"id"`
	ActionID  uuid.UUID `json:"action_id"`
	UserID    uuid.UUID `json:"user_id"`
	CheckedAt time.Time `json:"checked_at"`
	LocalDate string    `json:"local_date"`
	XPAwarded int64     `json:"xp_awarded"`
	Note      *string   `json:"note,omitempty"`
}

type UserLevelLedger struct {
	UserID             uuid.UUID `json:"user_id"`
	TotalXP            int64     `json:"total_xp"`
	CurrentLevel       int       `json:"current_level"`
	LastPerfectDayDate *string   `json:"last_perfect_day_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type BonusType string

const (
	BonusWeekend        BonusType = "weekend"
	BonusComeback       BonusType = "comeback"
	BonusLevelMilestone BonusType = "level_milestone"
	BonusPerfectWeek    BonusType = "perfect_week"
)

// BonusXPRecord is a time-boxed multiplier grant. Weekend bonuses are never
// stored.
type BonusXPRecord struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	BonusType   BonusType      `json:"bonus_type"`
	Multiplier  float64        `json:"multiplier"`
	ActivatedAt time.Time      `json:"activated_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ActiveAt reports whether the grant still applies at now.
func (b BonusXPRecord) ActiveAt(now time.Time) bool {
	return !now.After(b.ExpiresAt)
}

type Achievement struct {
	ID              uuid.UUID       `json:"id"`
	Key             string          `json:"key"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	XPReward        int64           `json:"xp_reward"`
	UnlockCondition UnlockCondition `json:"-"`
	DisplayOrder    int             `json:"display_order"`
	IsActive        bool            `json:"is_active"`
	IsRepeatable    bool            `json:"is_repeatable"`
}

type achievementJSON struct {
	achievementAlias
	UnlockCondition json.RawMessage `json:"unlock_condition"`
}

type achievementAlias Achievement

func (a Achievement) MarshalJSON() ([]byte, error) {
	cond, err := EncodeCondition(a.UnlockCondition)
	if err != nil {
		return nil, fmt.Errorf("achievement %s: %w", a.Key, err)
	}
	return json.Marshal(achievementJSON{achievementAlias: achievementAlias(a), UnlockCondition: cond})
}

func (a *Achievement) UnmarshalJSON(data []byte) error {
	var aux achievementJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cond, err := DecodeCondition(aux.UnlockCondition)
	if err != nil {
		return fmt.Errorf("achievement %s: %w", aux.Key, err)
	}
	*a = Achievement(aux.achievementAlias)
	a.UnlockCondition = cond
	return nil
}

type UserAchievementUnlock struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	AchievementID uuid.UUID `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// ActiveAction is one action of the user's active goal structure, joined
// with the sub-goal and mandalart that own it.
type ActiveAction struct {
	ActionID        uuid.UUID `json:"action_id"`
	SubGoalID       uuid.UUID `json:"sub_goal_id"`
	SubGoalTitle    string    `json:"sub_goal_title"`
	SubGoalPosition int       `json:"sub_goal_position"`
	MandalartID     uuid.UUID `json:"mandalart_id"`
	MandalartTitle  string    `json:"mandalart_title"`
}

// ── Computed Values ───────────────────────────────────────

type Multiplier struct {
	Type          BonusType  `json:"type"`
	Multiplier    float64    `json:"multiplier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining int        `json:"days_remaining,omitempty"`
}

type LevelProgress struct {
	CurrentLevel        int   `json:"current_level"`
	CurrentLevelFloorXP int64 `json:"current_level_floor_xp"`
	NextLevelFloorXP    int64 `json:"next_level_floor_xp"`
	XPIntoLevel         int64 `json:"xp_into_level"`
	PercentToNext       int   `json:"percent_to_next"`
}

type StreakStats struct {
	Current          int        `json:"current"`
	Longest          int        `json:"longest"`
	LastCheckAt      *time.Time `json:"last_check_at"`
	LongestStreakEnd *time.Time `json:"longest_streak_end"`
}

type PeriodCompletion struct {
	Checked    int `json:"checked"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type CompletionStats struct {
	TotalActions int              `json:"total_actions"`
	Today        PeriodCompletion `json:"today"`
	Week         PeriodCompletion `json:"week"`
	Month        PeriodCompletion `json:"month"`
}

type GoalProgress struct {
	SubGoalID        uuid.UUID `json:"sub_goal_id"`
	SubGoalTitle     string    `json:"sub_goal_title"`
	Position         int       `json:"position"`
	MandalartID      uuid.UUID `json:"mandalart_id"`
	MandalartTitle   string    `json:"mandalart_title"`
	TotalActions     int       `json:"total_actions"`
	CheckedToday     int       `json:"checked_today"`
	CheckedThisWeek  int       `json:"checked_this_week"`
	WeeklyPercentage int       `json:"weekly_percentage"`
}

type BadgeProgress struct {
	Current         int `json:"current"`
	Target          int `json:"target"`
	ProgressPercent int `json:"progress_percent"`
}

type DayCount struct {
	Weekday time.Weekday `json:"weekday"`
	Name    string       `json:"name"`
	Count   int          `json:"count"`
}

type PeriodCount struct {
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

type WeekdayPattern struct {
	BestDay  DayCount   `json:"best_day"`
	WorstDay DayCount   `json:"worst_day"`
	AllDays  []DayCount `json:"all_days"`
}

type TimePattern struct {
	Morning   PeriodCount `json:"morning"`
	Afternoon PeriodCount `json:"afternoon"`
	Evening   PeriodCount `json:"evening"`
	Night     PeriodCount `json:"night"`
}

type HeatmapDay struct {
	Date       string `json:"date"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// ── Response Types ────────────────────────────────────────

type CheckResult struct {
	CheckEvent CheckEvent `json:"check_event"`
	XPAwarded  int64      `json:"xp_awarded"`
	Multiplier float64    `json:"multiplier"`
	NewTotalXP int64      `json:"new_total_xp"`
	NewLevel   int        `json:"new_level"`
	LeveledUp  bool       `json:"leveled_up"`
}

type CheckResponse struct {
	CheckResult
	AchievementsUnlocked []Achievement `json:"achievements_unlocked"`
}

type UncheckResponse struct {
	XPRefunded int64 `json:"xp_refunded"`
	NewTotalXP int64 `json:"new_total_xp"`
	NewLevel   int   `json:"new_level"`
}

type LevelResponse struct {
	Ledger   UserLevelLedger `json:"ledger"`
	Progress LevelProgress   `json:"progress"`
}

type MultipliersResponse struct {
	Multipliers []Multiplier `json:"multipliers"`
	Combined    float64      `json:"combined"`
}

type AchievementStatus struct {
	Achievement Achievement    `json:"achievement"`
	Unlocked    bool           `json:"unlocked"`
	Progress    *BadgeProgress `json:"progress,omitempty"`
}

type PerfectDayResult struct {
	Date             string `json:"date"`
	IsPerfectDay     bool   `json:"is_perfect_day"`
	TotalActions     int    `json:"total_actions"`
	CompletedActions int    `json:"completed_actions"`
	XPAwarded        int64  `json:"xp_awarded"`
	AlreadyAwarded   bool   `json:"already_awarded"`
}

type PatternsResponse struct {
	Weekday *WeekdayPattern `json:"weekday"`
	Time    *TimePattern    `json:"time"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
