package gamification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mandaact/backend/internal/models"
	"go.uber.org/zap"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("store")}
}

var _ Repository = (*Store)(nil)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// ── Check History ───────────────────────────────────────

const checkColumns = `id, action_id, user_id, checked_at, local_date::text, xp_awarded, note`

func scanCheck(row interface{ Scan(...any) error }) (*models.CheckEvent, error) {
	var ev models.CheckEvent
	var note sql.NullString
	if err := row.Scan(&ev.ID, &ev.ActionID, &ev.UserID, &ev.CheckedAt, &ev.LocalDate, &ev.XPAwarded, &note); err != nil {
		return nil, err
	}
	ev.CheckedAt = ev.CheckedAt.UTC()
	if note.Valid {
		ev.Note = &note.String
	}
	return &ev, nil
}

func (s *Store) LatestCheckInRange(ctx context.Context, userID, actionID uuid.UUID, start, end time.Time) (*models.CheckEvent, error) {
	ev, err := scanCheck(s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+`
		 FROM check_history
		 WHERE action_id = $1 AND user_id = $2
		   AND checked_at >= $3 AND checked_at < $4
		 ORDER BY checked_at DESC
		 LIMIT 1`,
		actionID, userID, start, end,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest check in range", err)
	}
	return ev, nil
}

// insertCheckSQL writes the row only when the action belongs to a goal
// structure owned by the checking user.
const insertCheckSQL = `INSERT INTO check_history (id, action_id, user_id, checked_at, local_date, xp_awarded, note)
	SELECT $1::uuid, $2::uuid, $3::uuid, $4::timestamptz, $5::date, $6::int, $7::text
	WHERE EXISTS (
	    SELECT 1 FROM actions a
	    JOIN sub_goals sg ON sg.id = a.sub_goal_id
	    JOIN mandalarts m ON m.id = sg.mandalart_id
	    WHERE a.id = $2::uuid AND m.user_id = $3::uuid
	)`

func (s *Store) InsertCheck(ctx context.Context, ev *models.CheckEvent) error {
	res, err := s.db.ExecContext(ctx, insertCheckSQL,
		ev.ID, ev.ActionID, ev.UserID, ev.CheckedAt, ev.LocalDate, ev.XPAwarded, ev.Note,
	)
	switch pqCode(err) {
	case "":
	case pqUniqueViolation:
		return ErrAlreadyCheckedToday
	case pqForeignKeyViolation:
		return ErrActionNotFound
	}
	if err != nil {
		return storeErr("insert check", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (s *Store) DeleteCheck(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM check_history WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete check", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoCheckToday
	}
	return nil
}

func (s *Store) LatestCheckBefore(ctx context.Context, userID uuid.UUID, t time.Time) (*models.CheckEvent, error) {
	ev, err := scanCheck(s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+`
		 FROM check_history
		 WHERE user_id = $1 AND checked_at < $2
		 ORDER BY checked_at DESC
		 LIMIT 1`,
		userID, t,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest check before", err)
	}
	return ev, nil
}

func (s *Store) ListChecks(ctx context.Context, userID uuid.UUID) ([]models.CheckEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+`
		 FROM check_history
		 WHERE user_id = $1
		 ORDER BY checked_at DESC`,
		userID,
	)
	if err != nil {
		return nil, storeErr("list checks", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

func (s *Store) ListChecksInRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]models.CheckEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+`
		 FROM check_history
		 WHERE user_id = $1 AND checked_at >= $2 AND checked_at < $3
		 ORDER BY checked_at DESC`,
		userID, start, end,
	)
	if err != nil {
		return nil, storeErr("list checks in range", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

func scanChecks(rows *sql.Rows) ([]models.CheckEvent, error) {
	var out []models.CheckEvent
	for rows.Next() {
		ev, err := scanCheck(rows)
		if err != nil {
			return nil, storeErr("scan check", err)
		}
		out = append(out, *ev)
	}
	return out, storeErr("iterate checks", rows.Err())
}

func (s *Store) CountChecks(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_history WHERE user_id = $1`,
		userID,
	).Scan(&n)
	return n, storeErr("count checks", err)
}

func (s *Store) CountChecksInRange(ctx context.Context, userID uuid.UUID, actionIDs []uuid.UUID, start, end time.Time) (int, error) {
	if len(actionIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(actionIDs))
	for i, id := range actionIDs {
		ids[i] = id.String()
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_history
		 WHERE user_id = $1 AND action_id = ANY($2::uuid[])
		   AND checked_at >= $3 AND checked_at < $4`,
		userID, pq.Array(ids), start, end,
	).Scan(&n)
	return n, storeErr("count checks in range", err)
}

// ── Goal Structure ──────────────────────────────────────

func (s *Store) ActiveActions(ctx context.Context, userID uuid.UUID) ([]models.ActiveAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, sg.id, sg.title, sg.position, m.id, m.title
		 FROM actions a
		 JOIN sub_goals sg ON sg.id = a.sub_goal_id
		 JOIN mandalarts m ON m.id = sg.mandalart_id
		 WHERE m.user_id = $1 AND m.is_active = TRUE
		 ORDER BY m.created_at, sg.position, a.position`,
		userID,
	)
	if err != nil {
		return nil, storeErr("active actions", err)
	}
	defer rows.Close()

	var out []models.ActiveAction
	for rows.Next() {
		var a models.ActiveAction
		if err := rows.Scan(&a.ActionID, &a.SubGoalID, &a.SubGoalTitle, &a.SubGoalPosition, &a.MandalartID, &a.MandalartTitle); err != nil {
			return nil, storeErr("scan active action", err)
		}
		out = append(out, a)
	}
	return out, storeErr("iterate active actions", rows.Err())
}

// ── Level Ledger ────────────────────────────────────────

const ledgerColumns = `user_id, total_xp, level, last_perfect_day_date::text, created_at, updated_at`

func scanLedger(row interface{ Scan(...any) error }) (*models.UserLevelLedger, error) {
	var l models.UserLevelLedger
	var perfect sql.NullString
	if err := row.Scan(&l.UserID, &l.TotalXP, &l.CurrentLevel, &perfect, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if perfect.Valid {
		l.LastPerfectDayDate = &perfect.String
	}
	return &l, nil
}

func (s *Store) GetOrCreateLedger(ctx context.Context, userID uuid.UUID) (*models.UserLevelLedger, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_levels (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, storeErr("upsert ledger", err)
	}

	l, err := scanLedger(s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM user_levels WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		return nil, storeErr("get ledger", err)
	}
	return l, nil
}

func (s *Store) UpdateLedger(ctx context.Context, userID uuid.UUID, fn func(*models.UserLevelLedger) error) (*models.UserLevelLedger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin ledger tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_levels (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, storeErr("upsert ledger", err)
	}

	l, err := scanLedger(tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM user_levels WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
	if err != nil {
		return nil, storeErr("lock ledger", err)
	}

	if err := fn(l); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE user_levels SET
		    total_xp = $2, level = $3, last_perfect_day_date = $4::date,
		    updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING updated_at`,
		userID, l.TotalXP, l.CurrentLevel, l.LastPerfectDayDate,
	).Scan(&l.UpdatedAt)
	if err != nil {
		return nil, storeErr("update ledger", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit ledger", err)
	}
	return l, nil
}

// ── Bonus XP ────────────────────────────────────────────

func (s *Store) ActiveBonus(ctx context.Context, userID uuid.UUID, bonusType models.BonusType, now time.Time) (*models.BonusXPRecord, error) {
	var b models.BonusXPRecord
	var meta []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, bonus_type, multiplier, activated_at, expires_at, metadata
		 FROM user_bonus_xp
		 WHERE user_id = $1 AND bonus_type = $2 AND expires_at >= $3
		 ORDER BY expires_at DESC
		 LIMIT 1`,
		userID, string(bonusType), now,
	).Scan(&b.ID, &b.UserID, &b.BonusType, &b.Multiplier, &b.ActivatedAt, &b.ExpiresAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("active bonus", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			s.log.Warn("bad bonus metadata", zap.Stringer("bonus_id", b.ID), zap.Error(err))
		}
	}
	b.ActivatedAt, b.ExpiresAt = b.ActivatedAt.UTC(), b.ExpiresAt.UTC()
	return &b, nil
}

func (s *Store) ActivateBonus(ctx context.Context, rec *models.BonusXPRecord) (bool, error) {
	var metaJSON *string
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err == nil {
			m := string(b)
			metaJSON = &m
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin bonus tx", err)
	}
	defer tx.Rollback()

	// Serialises activations of one bonus type for one user.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		rec.UserID.String()+":"+string(rec.BonusType),
	); err != nil {
		return false, storeErr("lock bonus", err)
	}

	var active bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM user_bonus_xp
		    WHERE user_id = $1 AND bonus_type = $2 AND expires_at >= $3
		 )`,
		rec.UserID, string(rec.BonusType), rec.ActivatedAt,
	).Scan(&active); err != nil {
		return false, storeErr("check active bonus", err)
	}
	if active {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_bonus_xp (id, user_id, bonus_type, multiplier, activated_at, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, string(rec.BonusType), rec.Multiplier, rec.ActivatedAt, rec.ExpiresAt, metaJSON,
	); err != nil {
		return false, storeErr("insert bonus", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("commit bonus", err)
	}
	return true, nil
}

func (s *Store) PruneExpiredBonuses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_bonus_xp WHERE expires_at < $1`, before)
	if err != nil {
		return 0, storeErr("prune bonuses", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ── Achievements ────────────────────────────────────────

func (s *Store) ActiveAchievements(ctx context.Context) ([]models.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, title, COALESCE(description, ''), xp_reward, unlock_condition,
		        display_order, is_active, is_repeatable
		 FROM achievements
		 WHERE is_active = TRUE
		 ORDER BY display_order`,
	)
	if err != nil {
		return nil, storeErr("list achievements", err)
	}
	defer rows.Close()

	var out []models.Achievement
	for rows.Next() {
		var a models.Achievement
		var cond []byte
		if err := rows.Scan(&a.ID, &a.Key, &a.Title, &a.Description, &a.XPReward, &cond,
			&a.DisplayOrder, &a.IsActive, &a.IsRepeatable); err != nil {
			return nil, storeErr("scan achievement", err)
		}
		a.UnlockCondition, err = models.DecodeCondition(cond)
		if err != nil {
			s.log.Warn("skipping achievement with bad unlock condition",
				zap.String("achievement", a.Key), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, storeErr("iterate achievements", rows.Err())
}

func (s *Store) UnlockedAchievementIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT achievement_id FROM user_achievements WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, storeErr("list unlocks", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan unlock", err)
		}
		out[id] = true
	}
	return out, storeErr("iterate unlocks", rows.Err())
}

func (s *Store) InsertUnlock(ctx context.Context, u *models.UserAchievementUnlock) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_achievements (id, user_id, achievement_id, unlocked_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.UserID, u.AchievementID, u.UnlockedAt,
	)
	if pqCode(err) == pqUniqueViolation {
		return ErrAlreadyUnlocked
	}
	return storeErr("insert unlock", err)
}
