package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Feature is a quota-metered capability.
type Feature string

const (
	FeatureRWP Feature = "rwp"
	FeatureTTS Feature = "tts"
)

// Counter names a usage counter column.
type Counter string

const (
	CounterRwpWeek Counter = "rwp_week_count"
	CounterRwpDay  Counter = "rwp_day_count"
	CounterTtsDay  Counter = "tts_day_count"
)

func (c Counter) valid() bool {
	switch c {
	case CounterRwpWeek, CounterRwpDay, CounterTtsDay:
		return true
	}
	return false
}

// incrementColumns returns the counters a successful use of f bumps. RWP
// bumps both windows regardless of tier since the tier can change between
// checks.
func (f Feature) incrementColumns() ([]Counter, error) {
	switch f {
	case FeatureRWP:
		return []Counter{CounterRwpDay, CounterRwpWeek}, nil
	case FeatureTTS:
		return []Counter{CounterTtsDay}, nil
	}
	return nil, fmt.Errorf("unknown feature %q", f)
}

// Windows carries the evaluation time and the reset times a counter gets
// when it is created or its window has expired.
type Windows struct {
	Now      time.Time
	NextDay  time.Time
	NextWeek time.Time
}

const usageColumns = `user_id, rwp_week_count, rwp_week_reset_at, rwp_day_count, rwp_day_reset_at,
	tts_day_count, tts_day_reset_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUsage(row rowScanner) (*UsageRecord, error) {
	var r UsageRecord
	var weekReset, dayReset, ttsReset, updated string
	if err := row.Scan(&r.UserID, &r.RwpWeekCount, &weekReset, &r.RwpDayCount, &dayReset,
		&r.TtsDayCount, &ttsReset, &updated); err != nil {
		return nil, err
	}
	var err error
	if r.RwpWeekResetAt, err = parseTime(weekReset); err != nil {
		return nil, err
	}
	if r.RwpDayResetAt, err = parseTime(dayReset); err != nil {
		return nil, err
	}
	if r.TtsDayResetAt, err = parseTime(ttsReset); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetUsage returns the raw usage record for a user, or nil if none exists.
// No window resets are applied.
func (db *DB) GetUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	rec, err := scanUsage(db.conn.QueryRowContext(ctx,
		"SELECT "+usageColumns+" FROM user_usage WHERE user_id = ?", userID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// RefreshUsage returns the usage record for a user, creating it with zero
// counts if missing and zeroing any counter whose window has expired. New
// reset times are persisted in the same transaction.
func (db *DB) RefreshUsage(ctx context.Context, userID string, w Windows) (*UsageRecord, error) {
	var rec *UsageRecord
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = refreshUsageTx(ctx, tx, userID, w)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing usage for %s: %w", userID, err)
	}
	return rec, nil
}

// IncrementUsage unconditionally counts one use of a feature.
func (db *DB) IncrementUsage(ctx context.Context, userID string, f Feature, w Windows) error {
	cols, err := f.incrementColumns()
	if err != nil {
		return err
	}
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := refreshUsageTx(ctx, tx, userID, w); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE user_usage SET "+incrementClause(cols)+", updated_at = ? WHERE user_id = ?",
			formatTime(w.Now), userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("incrementing %s usage for %s: %w", f, userID, err)
	}
	return nil
}

// ReserveUsage counts one use of a feature only if the gate counter is below
// limit. The limit check and the increment are a single conditional UPDATE,
// so concurrent reservations for the same user can never exceed the limit.
// Returns whether a slot was reserved and the record after the attempt.
func (db *DB) ReserveUsage(ctx context.Context, userID string, f Feature, gate Counter, limit int, w Windows) (bool, *UsageRecord, error) {
	cols, err := f.incrementColumns()
	if err != nil {
		return false, nil, err
	}
	if !gate.valid() {
		return false, nil, fmt.Errorf("unknown counter %q", gate)
	}

	var (
		reserved bool
		rec      *UsageRecord
	)
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := refreshUsageTx(ctx, tx, userID, w); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE user_usage SET "+incrementClause(cols)+", updated_at = ? WHERE user_id = ? AND "+string(gate)+" < ?",
			formatTime(w.Now), userID, limit,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		reserved = n == 1
		rec, err = scanUsage(tx.QueryRowContext(ctx,
			"SELECT "+usageColumns+" FROM user_usage WHERE user_id = ?", userID,
		))
		return err
	})
	if err != nil {
		return false, nil, fmt.Errorf("reserving %s usage for %s: %w", f, userID, err)
	}
	return reserved, rec, nil
}

// ReleaseUsage returns a previously reserved slot. Counters never go below
// zero.
func (db *DB) ReleaseUsage(ctx context.Context, userID string, f Feature, w Windows) error {
	cols, err := f.incrementColumns()
	if err != nil {
		return err
	}
	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		set += fmt.Sprintf("%s = MAX(%s - 1, 0)", c, c)
	}
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE user_usage SET "+set+", updated_at = ? WHERE user_id = ?",
			formatTime(w.Now), userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("releasing %s usage for %s: %w", f, userID, err)
	}
	return nil
}

// ResetUsage deletes a user's usage record. The next check recreates it
// with fresh windows.
func (db *DB) ResetUsage(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM user_usage WHERE user_id = ?", userID)
	return err
}

func incrementClause(cols []Counter) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s = %s + 1", c, c)
	}
	return s
}

// refreshUsageTx starts with a write so the transaction holds the write lock
// before it reads the record.
func refreshUsageTx(ctx context.Context, tx *sql.Tx, userID string, w Windows) (*UsageRecord, error) {
	now := formatTime(w.Now)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_usage
		(user_id, rwp_week_reset_at, rwp_day_reset_at, tts_day_reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, formatTime(w.NextWeek), formatTime(w.NextDay), formatTime(w.NextDay), now,
	); err != nil {
		return nil, err
	}

	rec, err := scanUsage(tx.QueryRowContext(ctx,
		"SELECT "+usageColumns+" FROM user_usage WHERE user_id = ?", userID,
	))
	if err != nil {
		return nil, err
	}

	changed := false
	if !w.Now.Before(rec.RwpWeekResetAt) {
		rec.RwpWeekCount, rec.RwpWeekResetAt, changed = 0, w.NextWeek, true
	}
	if !w.Now.Before(rec.RwpDayResetAt) {
		rec.RwpDayCount, rec.RwpDayResetAt, changed = 0, w.NextDay, true
	}
	if !w.Now.Before(rec.TtsDayResetAt) {
		rec.TtsDayCount, rec.TtsDayResetAt, changed = 0, w.NextDay, true
	}
	if !changed {
		return rec, nil
	}

	rec.UpdatedAt = w.Now
	_, err = tx.ExecContext(ctx,
		`UPDATE user_usage SET
			rwp_week_count = ?, rwp_week_reset_at = ?,
			rwp_day_count = ?, rwp_day_reset_at = ?,
			tts_day_count = ?, tts_day_reset_at = ?,
			updated_at = ?
		WHERE user_id = ?`,
		rec.RwpWeekCount, formatTime(rec.RwpWeekResetAt),
		rec.RwpDayCount, formatTime(rec.RwpDayResetAt),
		rec.TtsDayCount, formatTime(rec.TtsDayResetAt),
		now, userID,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
