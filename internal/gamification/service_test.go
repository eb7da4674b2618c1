package gamification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/models"
	"github.com/mandaact/backend/internal/timezone"
	"go.uber.org/zap"
)

// kst returns the UTC instant of a +09:00 wall-clock time.
func kst(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, timezone.FixedKST()).UTC()
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	tz := timezone.New(timezone.FixedKST())
	return NewService(store, tz, zap.NewNop(), nil), store
}

// 2025-11-12 is a Wednesday, 2025-11-15 a Saturday.
var (
	wednesday = kst(2025, time.November, 12, 10)
	saturday  = kst(2025, time.November, 15, 10)
)

func TestCheckThenUncheck_RestoresLedger(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	res, err := svc.Check(ctx, user, action, wednesday)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.XPAwarded != BaseXPPerCheck || res.NewTotalXP != BaseXPPerCheck {
		t.Errorf("Check awarded %d (total %d), want %d", res.XPAwarded, res.NewTotalXP, BaseXPPerCheck)
	}

	un, err := svc.Uncheck(ctx, user, action, wednesday.Add(time.Hour))
	if err != nil {
		t.Fatalf("Uncheck: %v", err)
	}
	if un.XPRefunded != BaseXPPerCheck {
		t.Errorf("XPRefunded = %d, want %d", un.XPRefunded, BaseXPPerCheck)
	}
	if un.NewTotalXP != 0 || un.NewLevel != 1 {
		t.Errorf("after uncheck total=%d level=%d, want 0 and 1", un.NewTotalXP, un.NewLevel)
	}
	if n, _ := store.CountChecks(ctx, user); n != 0 {
		t.Errorf("CountChecks = %d after uncheck, want 0", n)
	}
}

func TestCheck_DuplicateSameLocalDay(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	if _, err := svc.Check(ctx, user, action, wednesday); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	_, err := svc.Check(ctx, user, action, wednesday.Add(5*time.Hour))
	if !errors.Is(err, ErrAlreadyCheckedToday) {
		t.Fatalf("second Check error = %v, want ErrAlreadyCheckedToday", err)
	}

	l, _ := store.GetOrCreateLedger(ctx, user)
	if l.TotalXP != BaseXPPerCheck {
		t.Errorf("TotalXP = %d after rejected check, want %d", l.TotalXP, BaseXPPerCheck)
	}
}

func TestCheck_NextLocalDayAllowed(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	// 23:00 and 01:00 KST fall on different local days but the same UTC day.
	if _, err := svc.Check(ctx, user, action, kst(2025, time.November, 12, 23)); err != nil {
		t.Fatalf("Check 23:00: %v", err)
	}
	if _, err := svc.Check(ctx, user, action, kst(2025, time.November, 13, 1)); err != nil {
		t.Fatalf("Check 01:00 next day: %v", err)
	}
}

func TestCheck_UnknownAction(t *testing.T) {
	svc, store := newTestService()
	user := uuid.New()
	store.addActions(user, "Health", 1)

	_, err := svc.Check(context.Background(), user, uuid.New(), wednesday)
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("Check error = %v, want ErrActionNotFound", err)
	}
}

func TestCheck_RejectedLeavesNoComebackGrant(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]
	store.seedCheck(user, action, wednesday.Add(-7*24*time.Hour), "2025-11-05")

	if _, err := svc.Check(ctx, user, uuid.New(), wednesday); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("Check error = %v, want ErrActionNotFound", err)
	}
	if len(store.bonuses) != 0 {
		t.Fatalf("rejected check stored %d bonus grants, want 0", len(store.bonuses))
	}

	res, err := svc.Check(ctx, user, action, wednesday)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.XPAwarded != 15 {
		t.Errorf("XPAwarded = %d, want 15 with the comeback bonus", res.XPAwarded)
	}
	if len(store.bonuses) != 1 || store.bonuses[0].BonusType != models.BonusComeback {
		t.Errorf("bonuses = %+v, want one comeback grant", store.bonuses)
	}
}

func TestCheck_OtherUsersAction(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	action := store.addActions(owner, "Health", 1)[0]
	store.addActions(other, "Study", 1)

	if _, err := svc.Check(ctx, other, action, wednesday); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("Check error = %v, want ErrActionNotFound", err)
	}
	if n, _ := store.CountChecks(ctx, other); n != 0 {
		t.Errorf("CountChecks = %d, want 0", n)
	}
	lvl, err := svc.Level(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if lvl.Ledger.TotalXP != 0 {
		t.Errorf("TotalXP = %d, want 0", lvl.Ledger.TotalXP)
	}
}

func TestUncheck_NoCheckToday(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	if _, err := svc.Check(ctx, user, action, wednesday.Add(-24*time.Hour)); err != nil {
		t.Fatalf("Check yesterday: %v", err)
	}
	_, err := svc.Uncheck(ctx, user, action, wednesday)
	if !errors.Is(err, ErrNoCheckToday) {
		t.Fatalf("Uncheck error = %v, want ErrNoCheckToday", err)
	}
}

func TestCheck_WeekendPlusComebackIsAdditive(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	actions := store.addActions(user, "Health", 2)

	// Last check four days before Saturday.
	store.seedCheck(user, actions[0], kst(2025, time.November, 11, 9), "2025-11-11")

	res, err := svc.Check(ctx, user, actions[1], saturday)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Multiplier != 3.0 {
		t.Errorf("Multiplier = %v, want 3.0", res.Multiplier)
	}
	if res.XPAwarded != 30 {
		t.Errorf("XPAwarded = %d, want 30", res.XPAwarded)
	}
}

func TestCheck_SaturdayScenario(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	actions := store.addActions(user, "Health", 5)

	var last *models.CheckResult
	for i, a := range actions {
		res, err := svc.Check(ctx, user, a, saturday.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if res.XPAwarded != 15 {
			t.Errorf("check %d awarded %d, want 15", i, res.XPAwarded)
		}
		last = res
	}
	if last.NewTotalXP != 75 || last.NewLevel != 1 {
		t.Errorf("total=%d level=%d, want 75 and 1", last.NewTotalXP, last.NewLevel)
	}
}

func TestUncheck_RefundsStoredAward(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	if _, err := svc.Check(ctx, user, action, wednesday); err != nil {
		t.Fatalf("Check: %v", err)
	}
	// Pretend the check was awarded under a bonus that has since lapsed.
	store.mu.Lock()
	store.checks[0].XPAwarded = 25
	store.mu.Unlock()
	if _, err := store.UpdateLedger(ctx, user, func(l *models.UserLevelLedger) error {
		l.TotalXP = 25
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	un, err := svc.Uncheck(ctx, user, action, wednesday)
	if err != nil {
		t.Fatalf("Uncheck: %v", err)
	}
	if un.XPRefunded != 25 || un.NewTotalXP != 0 {
		t.Errorf("refund=%d total=%d, want 25 and 0", un.XPRefunded, un.NewTotalXP)
	}
}

func TestUncheck_LegacyRowRecomputes(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	store.seedCheck(user, action, saturday, "2025-11-15")

	un, err := svc.Uncheck(ctx, user, action, saturday.Add(time.Hour))
	if err != nil {
		t.Fatalf("Uncheck: %v", err)
	}
	if un.XPRefunded != 15 {
		t.Errorf("XPRefunded = %d, want 15 (weekend recompute)", un.XPRefunded)
	}
	if un.NewTotalXP != 0 {
		t.Errorf("NewTotalXP = %d, want clamp to 0", un.NewTotalXP)
	}
}

func TestCheck_LevelUpActivatesMilestone(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	actions := store.addActions(user, "Health", 2)

	if _, err := store.UpdateLedger(ctx, user, func(l *models.UserLevelLedger) error {
		l.TotalXP = 720
		l.CurrentLevel = LevelFromXP(720)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Check(ctx, user, actions[0], wednesday)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.LeveledUp || res.NewLevel != 5 {
		t.Fatalf("LeveledUp=%v NewLevel=%d, want true and 5", res.LeveledUp, res.NewLevel)
	}

	b, _ := store.ActiveBonus(ctx, user, models.BonusLevelMilestone, wednesday)
	if b == nil {
		t.Fatal("milestone bonus not active after reaching level 5")
	}
	if b.Multiplier != LevelMilestoneMultiplier {
		t.Errorf("milestone multiplier = %v, want %v", b.Multiplier, LevelMilestoneMultiplier)
	}

	res, err = svc.Check(ctx, user, actions[1], wednesday.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if res.XPAwarded != 20 {
		t.Errorf("XPAwarded under milestone = %d, want 20", res.XPAwarded)
	}
}

func TestCheck_PerfectWeekTrigger(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	action := store.addActions(user, "Health", 1)[0]

	// Sunday 9th through Thursday 13th.
	for d := 9; d <= 13; d++ {
		store.seedCheck(user, action, kst(2025, time.November, d, 8), time.Date(2025, time.November, d, 0, 0, 0, 0, time.UTC).Format(timezone.DateLayout))
	}

	friday := kst(2025, time.November, 14, 8)
	if _, err := svc.Check(ctx, user, action, friday); err != nil {
		t.Fatalf("Check: %v", err)
	}
	b, _ := store.ActiveBonus(ctx, user, models.BonusPerfectWeek, friday)
	if b == nil {
		t.Fatal("perfect week bonus not active at 6/7 completion")
	}
}

func TestClaimPerfectDay(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	user := uuid.New()
	actions := store.addActions(user, "Health", 2)

	if _, err := svc.Check(ctx, user, actions[0], wednesday); err != nil {
		t.Fatal(err)
	}
	res, err := svc.ClaimPerfectDay(ctx, user, wednesday)
	if err != nil {
		t.Fatalf("ClaimPerfectDay: %v", err)
	}
	if res.IsPerfectDay || res.XPAwarded != 0 {
		t.Errorf("half done: IsPerfectDay=%v XPAwarded=%d, want false and 0", res.IsPerfectDay, res.XPAwarded)
	}

	if _, err := svc.Check(ctx, user, actions[1], wednesday); err != nil {
		t.Fatal(err)
	}
	res, err = svc.ClaimPerfectDay(ctx, user, wednesday)
	if err != nil {
		t.Fatalf("ClaimPerfectDay: %v", err)
	}
	if !res.IsPerfectDay || res.XPAwarded != PerfectDayXP || res.AlreadyAwarded {
		t.Errorf("got %+v, want perfect day with %d xp", res, PerfectDayXP)
	}

	res, err = svc.ClaimPerfectDay(ctx, user, wednesday.Add(time.Hour))
	if err != nil {
		t.Fatalf("second ClaimPerfectDay: %v", err)
	}
	if !res.AlreadyAwarded || res.XPAwarded != 0 {
		t.Errorf("second claim = %+v, want already awarded", res)
	}

	lvl, err := svc.Level(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if lvl.Ledger.TotalXP != 2*BaseXPPerCheck+PerfectDayXP {
		t.Errorf("TotalXP = %d, want %d", lvl.Ledger.TotalXP, 2*BaseXPPerCheck+PerfectDayXP)
	}
	if lvl.Ledger.LastPerfectDayDate == nil || *lvl.Ledger.LastPerfectDayDate != "2025-11-12" {
		t.Errorf("LastPerfectDayDate = %v, want 2025-11-12", lvl.Ledger.LastPerfectDayDate)
	}
}

func TestClaimPerfectDay_NoActions(t *testing.T) {
	svc, _ := newTestService()
	res, err := svc.ClaimPerfectDay(context.Background(), uuid.New(), wednesday)
	if err != nil {
		t.Fatalf("ClaimPerfectDay: %v", err)
	}
	if res.IsPerfectDay {
		t.Error("IsPerfectDay = true with no active actions")
	}
}
