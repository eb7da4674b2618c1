package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ConditionKind is the "type" tag of a stored unlock condition.
type ConditionKind string

const (
	KindStreak             ConditionKind = "streak"
	KindPerfectDay         ConditionKind = "perfect_day"
	KindPerfectWeek        ConditionKind = "perfect_week"
	KindPerfectMonth       ConditionKind = "perfect_month"
	KindTotalChecks        ConditionKind = "total_checks"
	KindBalanced           ConditionKind = "balanced"
	KindTimePattern        ConditionKind = "time_pattern"
	KindWeekendCompletion  ConditionKind = "weekend_completion"
	KindMonthlyCompletion  ConditionKind = "monthly_completion"
	KindPerfectWeekInMonth ConditionKind = "perfect_week_in_month"
	KindMonthlyStreak      ConditionKind = "monthly_streak"
)

// UnlockCondition is the closed set of achievement unlock rules. Only the
// types in this file implement it.
type UnlockCondition interface {
	Kind() ConditionKind
	isUnlockCondition()
}

type StreakCondition struct{ Days int }

type PerfectDayCondition struct{}

type PerfectWeekCondition struct{ Threshold int }

type PerfectMonthCondition struct{ Threshold int }

type TotalChecksCondition struct{ Count int }

type BalancedCondition struct{ Threshold int }

// TimePatternCondition requires Threshold percent of all checks to fall in
// the local morning (05:00–11:59).
type TimePatternCondition struct{ Threshold int }

type WeekendCompletionCondition struct{}

type MonthlyCompletionCondition struct{ Threshold int }

type PerfectWeekInMonthCondition struct{}

type MonthlyStreakCondition struct{ Days int }

func (StreakCondition) Kind() ConditionKind             { return KindStreak }
func (PerfectDayCondition) Kind() ConditionKind         { return KindPerfectDay }
func (PerfectWeekCondition) Kind() ConditionKind        { return KindPerfectWeek }
func (PerfectMonthCondition) Kind() ConditionKind       { return KindPerfectMonth }
func (TotalChecksCondition) Kind() ConditionKind        { return KindTotalChecks }
func (BalancedCondition) Kind() ConditionKind           { return KindBalanced }
func (TimePatternCondition) Kind() ConditionKind        { return KindTimePattern }
func (WeekendCompletionCondition) Kind() ConditionKind  { return KindWeekendCompletion }
func (MonthlyCompletionCondition) Kind() ConditionKind  { return KindMonthlyCompletion }
func (PerfectWeekInMonthCondition) Kind() ConditionKind { return KindPerfectWeekInMonth }
func (MonthlyStreakCondition) Kind() ConditionKind      { return KindMonthlyStreak }

func (StreakCondition) isUnlockCondition()             {}
func (PerfectDayCondition) isUnlockCondition()         {}
func (PerfectWeekCondition) isUnlockCondition()        {}
func (PerfectMonthCondition) isUnlockCondition()       {}
func (TotalChecksCondition) isUnlockCondition()        {}
func (BalancedCondition) isUnlockCondition()           {}
func (TimePatternCondition) isUnlockCondition()        {}
func (WeekendCompletionCondition) isUnlockCondition()  {}
func (MonthlyCompletionCondition) isUnlockCondition()  {}
func (PerfectWeekInMonthCondition) isUnlockCondition() {}
func (MonthlyStreakCondition) isUnlockCondition()      {}

// Default parameters applied when a stored condition omits them.
const (
	DefaultPerfectWeekThreshold       = 80
	DefaultPerfectMonthThreshold      = 90
	DefaultBalancedThreshold          = 60
	DefaultTimePatternThreshold       = 70
	DefaultMonthlyCompletionThreshold = 90
	DefaultMonthlyStreakDays          = 30
)

var ErrUnknownCondition = errors.New("unknown unlock condition type")

// conditionWire is the JSON shape stored in achievements.unlock_condition.
type conditionWire struct {
	Type      ConditionKind `json:"type"`
	Days      int           `json:"days,omitempty"`
	Count     int           `json:"count,omitempty"`
	Threshold int           `json:"threshold,omitempty"`
}

// DecodeCondition parses a stored unlock condition and fills in defaults.
func DecodeCondition(data []byte) (UnlockCondition, error) {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode unlock condition: %w", err)
	}

	switch w.Type {
	case KindStreak:
		if w.Days <= 0 {
			return nil, fmt.Errorf("streak condition: days must be positive, got %d", w.Days)
		}
		return StreakCondition{Days: w.Days}, nil
	case KindPerfectDay:
		return PerfectDayCondition{}, nil
	case KindPerfectWeek:
		return PerfectWeekCondition{Threshold: orDefault(w.Threshold, DefaultPerfectWeekThreshold)}, nil
	case KindPerfectMonth:
		return PerfectMonthCondition{Threshold: orDefault(w.Threshold, DefaultPerfectMonthThreshold)}, nil
	case KindTotalChecks:
		if w.Count <= 0 {
			return nil, fmt.Errorf("total_checks condition: count must be positive, got %d", w.Count)
		}
		return TotalChecksCondition{Count: w.Count}, nil
	case KindBalanced:
		return BalancedCondition{Threshold: orDefault(w.Threshold, DefaultBalancedThreshold)}, nil
	case KindTimePattern:
		return TimePatternCondition{Threshold: orDefault(w.Threshold, DefaultTimePatternThreshold)}, nil
	case KindWeekendCompletion:
		return WeekendCompletionCondition{}, nil
	case KindMonthlyCompletion:
		return MonthlyCompletionCondition{Threshold: orDefault(w.Threshold, DefaultMonthlyCompletionThreshold)}, nil
	case KindPerfectWeekInMonth:
		return PerfectWeekInMonthCondition{}, nil
	case KindMonthlyStreak:
		return MonthlyStreakCondition{Days: orDefault(w.Days, DefaultMonthlyStreakDays)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, w.Type)
}

// EncodeCondition renders c in the stored JSON shape.
func EncodeCondition(c UnlockCondition) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil unlock condition")
	}
	w := conditionWire{Type: c.Kind()}
	switch v := c.(type) {
	case StreakCondition:
		w.Days = v.Days
	case PerfectWeekCondition:
		w.Threshold = v.Threshold
	case PerfectMonthCondition:
		w.Threshold = v.Threshold
	case TotalChecksCondition:
		w.Count = v.Count
	case BalancedCondition:
		w.Threshold = v.Threshold
	case TimePatternCondition:
		w.Threshold = v.Threshold
	case MonthlyCompletionCondition:
		w.Threshold = v.Threshold
	case MonthlyStreakCondition:
		w.Days = v.Days
	case PerfectDayCondition, WeekendCompletionCondition, PerfectWeekInMonthCondition:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCondition, c)
	}
	return json.Marshal(w)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
