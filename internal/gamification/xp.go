package gamification

import (
	"fmt"
	"math"

	"github.com/mandaact/backend/internal/models"
)

// BaseXPPerCheck is the XP for one check before multipliers.
const BaseXPPerCheck = 10

// PerfectDayXP is awarded once per local day when every active action is
// checked.
const PerfectDayXP = 50

// LevelFromXP maps total XP to a level using a hybrid curve: two fast
// fixed steps, a power-1.7 stretch for levels 3-5 and a logarithmic tail
// from level 6.
func LevelFromXP(xp int64) int {
	if xp < 0 {
		panic(fmt.Sprintf("gamification: negative xp %d", xp))
	}
	switch {
	case xp < 100:
		return 1
	case xp < 400:
		return 2
	case xp < 2500:
		level := int(math.Floor(math.Pow(float64(xp-400)/100, 1/1.7))) + 3
		// The power segment would climb past 5 before 2500 XP.
		if level > 5 {
			level = 5
		}
		return level
	default:
		return int(math.Floor(math.Log(float64(xp-2500)/150+1)*8)) + 6
	}
}

// XPThresholdForLevel returns the smallest total XP at which LevelFromXP
// reports level (0 for level 1 and below).
func XPThresholdForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	t := thresholdEstimate(level)
	// Float floors can land one step either side of the true boundary.
	for LevelFromXP(t) < level {
		t++
	}
	for t > 0 && LevelFromXP(t-1) >= level {
		t--
	}
	return t
}

func thresholdEstimate(level int) int64 {
	switch {
	case level == 2:
		return 100
	case level <= 5:
		return int64(math.Floor(math.Pow(float64(level-3), 1.7)*100)) + 400
	default:
		return int64(math.Floor((math.Exp(float64(level-6)/8)-1)*150)) + 2500
	}
}

// Progress describes where totalXP sits inside its level.
func Progress(totalXP int64) models.LevelProgress {
	level := LevelFromXP(totalXP)
	floor := XPThresholdForLevel(level)
	next := XPThresholdForLevel(level + 1)
	into := totalXP - floor

	pct := 0
	if span := next - floor; span > 0 {
		pct = int(math.Round(float64(into) / float64(span) * 100))
	}

	return models.LevelProgress{
		CurrentLevel:        level,
		CurrentLevelFloorXP: floor,
		NextLevelFloorXP:    next,
		XPIntoLevel:         into,
		PercentToNext:       pct,
	}
}

// ApplyMultiplier floors base × multiplier.
func ApplyMultiplier(base int64, multiplier float64) int64 {
	return int64(math.Floor(float64(base) * multiplier))
}

// milestoneLevels grant the level-milestone bonus on arrival.
var milestoneLevels = []int{5, 10, 15, 20, 25, 30}

// CrossedMilestone returns the highest milestone level in (oldLevel,
// newLevel], if any.
func CrossedMilestone(oldLevel, newLevel int) (int, bool) {
	crossed, ok := 0, false
	for _, m := range milestoneLevels {
		if m > oldLevel && m <= newLevel {
			crossed, ok = m, true
		}
	}
	return crossed, ok
}
