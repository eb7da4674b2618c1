package gamification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/models"
)

// memStore is an in-memory Repository mirroring the constraints of the
// Postgres schema.
type memStore struct {
	mu           sync.Mutex
	checks       []models.CheckEvent
	ledgers      map[uuid.UUID]*models.UserLevelLedger
	bonuses      []models.BonusXPRecord
	achievements []models.Achievement
	unlocks      []models.UserAchievementUnlock
	actions      map[uuid.UUID][]models.ActiveAction

	// failUnlock makes InsertUnlock fail for the listed achievement ids.
	failUnlock map[uuid.UUID]bool
	// listCalls counts full-history scans.
	listCalls int
}

func newMemStore() *memStore {
	return &memStore{
		ledgers:    make(map[uuid.UUID]*models.UserLevelLedger),
		actions:    make(map[uuid.UUID][]models.ActiveAction),
		failUnlock: make(map[uuid.UUID]bool),
	}
}

var _ Repository = (*memStore)(nil)

// addActions gives the user n actions spread over one sub-goal of one
// active mandalart and returns their ids.
func (m *memStore) addActions(userID uuid.UUID, subGoal string, n int) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	mandalart := uuid.New()
	if existing := m.actions[userID]; len(existing) > 0 {
		mandalart = existing[0].MandalartID
	}
	sg := uuid.New()
	pos := len(m.actions[userID])

	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		m.actions[userID] = append(m.actions[userID], models.ActiveAction{
			ActionID:        ids[i],
			SubGoalID:       sg,
			SubGoalTitle:    subGoal,
			SubGoalPosition: pos,
			MandalartID:     mandalart,
			MandalartTitle:  "Goals",
		})
	}
	return ids
}

func (m *memStore) LatestCheckInRange(_ context.Context, userID, actionID uuid.UUID, start, end time.Time) (*models.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.CheckEvent
	for i := range m.checks {
		c := m.checks[i]
		if c.UserID != userID || c.ActionID != actionID || c.CheckedAt.Before(start) || !c.CheckedAt.Before(end) {
			continue
		}
		if latest == nil || c.CheckedAt.After(latest.CheckedAt) {
			latest = &c
		}
	}
	return latest, nil
}

func (m *memStore) InsertCheck(_ context.Context, ev *models.CheckEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := false
	for _, a := range m.actions[ev.UserID] {
		if a.ActionID == ev.ActionID {
			known = true
		}
	}
	if !known {
		return ErrActionNotFound
	}
	for _, c := range m.checks {
		if c.ActionID == ev.ActionID && c.UserID == ev.UserID && c.LocalDate == ev.LocalDate {
			return ErrAlreadyCheckedToday
		}
	}
	m.checks = append(m.checks, *ev)
	return nil
}

func (m *memStore) DeleteCheck(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.checks {
		if c.ID == id {
			m.checks = append(m.checks[:i], m.checks[i+1:]...)
			return nil
		}
	}
	return ErrNoCheckToday
}

func (m *memStore) LatestCheckBefore(_ context.Context, userID uuid.UUID, t time.Time) (*models.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.CheckEvent
	for i := range m.checks {
		c := m.checks[i]
		if c.UserID != userID || !c.CheckedAt.Before(t) {
			continue
		}
		if latest == nil || c.CheckedAt.After(latest.CheckedAt) {
			latest = &c
		}
	}
	return latest, nil
}

func (m *memStore) ListChecks(_ context.Context, userID uuid.UUID) ([]models.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.filterChecks(userID, time.Time{}, time.Time{}), nil
}

func (m *memStore) ListChecksInRange(_ context.Context, userID uuid.UUID, start, end time.Time) ([]models.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterChecks(userID, start, end), nil
}

func (m *memStore) filterChecks(userID uuid.UUID, start, end time.Time) []models.CheckEvent {
	var out []models.CheckEvent
	for _, c := range m.checks {
		if c.UserID != userID {
			continue
		}
		if !start.IsZero() && (c.CheckedAt.Before(start) || !c.CheckedAt.Before(end)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	return out
}

func (m *memStore) CountChecks(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filterChecks(userID, time.Time{}, time.Time{})), nil
}

func (m *memStore) CountChecksInRange(_ context.Context, userID uuid.UUID, actionIDs []uuid.UUID, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(actionIDs))
	for _, id := range actionIDs {
		wanted[id] = true
	}
	n := 0
	for _, c := range m.filterChecks(userID, start, end) {
		if wanted[c.ActionID] {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ActiveActions(_ context.Context, userID uuid.UUID) ([]models.ActiveAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ActiveAction(nil), m.actions[userID]...), nil
}

func (m *memStore) ledger(userID uuid.UUID) *models.UserLevelLedger {
	l, ok := m.ledgers[userID]
	if !ok {
		now := time.Now().UTC()
		l = &models.UserLevelLedger{UserID: userID, CurrentLevel: 1, CreatedAt: now, UpdatedAt: now}
		m.ledgers[userID] = l
	}
	return l
}

func (m *memStore) GetOrCreateLedger(_ context.Context, userID uuid.UUID) (*models.UserLevelLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.ledger(userID)
	return &cp, nil
}

func (m *memStore) UpdateLedger(_ context.Context, userID uuid.UUID, fn func(*models.UserLevelLedger) error) (*models.UserLevelLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.ledger(userID)
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()
	*m.ledgers[userID] = cp
	return &cp, nil
}

func (m *memStore) ActiveBonus(_ context.Context, userID uuid.UUID, bonusType models.BonusType, now time.Time) (*models.BonusXPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.bonuses) - 1; i >= 0; i-- {
		b := m.bonuses[i]
		if b.UserID == userID && b.BonusType == bonusType && b.ActiveAt(now) {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *memStore) ActivateBonus(_ context.Context, rec *models.BonusXPRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bonuses {
		if b.UserID == rec.UserID && b.BonusType == rec.BonusType && b.ActiveAt(rec.ActivatedAt) {
			return false, nil
		}
	}
	m.bonuses = append(m.bonuses, *rec)
	return true, nil
}

func (m *memStore) PruneExpiredBonuses(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.bonuses[:0]
	var n int64
	for _, b := range m.bonuses {
		if b.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, b)
	}
	m.bonuses = kept
	return n, nil
}

func (m *memStore) ActiveAchievements(context.Context) ([]models.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Achievement
	for _, a := range m.achievements {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) UnlockedAchievementIDs(_ context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID]bool)
	for _, u := range m.unlocks {
		if u.UserID == userID {
			out[u.AchievementID] = true
		}
	}
	return out, nil
}

func (m *memStore) InsertUnlock(_ context.Context, u *models.UserAchievementUnlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUnlock[u.AchievementID] {
		return storeErr("insert unlock", errors.New("connection reset"))
	}
	for _, x := range m.unlocks {
		if x.UserID == u.UserID && x.AchievementID == u.AchievementID {
			return ErrAlreadyUnlocked
		}
	}
	m.unlocks = append(m.unlocks, *u)
	return nil
}

// addAchievement registers an active achievement and returns it.
func (m *memStore) addAchievement(key string, xp int64, cond models.UnlockCondition) models.Achievement {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := models.Achievement{
		ID:              uuid.New(),
		Key:             key,
		Title:           key,
		XPReward:        xp,
		UnlockCondition: cond,
		DisplayOrder:    len(m.achievements),
		IsActive:        true,
	}
	m.achievements = append(m.achievements, a)
	return a
}

// seedCheck records a check directly, bypassing the engine.
func (m *memStore) seedCheck(userID, actionID uuid.UUID, at time.Time, localDate string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, models.CheckEvent{
		ID:        uuid.New(),
		ActionID:  actionID,
		UserID:    userID,
		CheckedAt: at.UTC(),
		LocalDate: localDate,
	})
}
