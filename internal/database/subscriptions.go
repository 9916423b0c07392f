package database

import (
	"context"
	"database/sql"
	"time"
)

// GetSubscription returns the stored subscription for a user, or nil if
// none exists.
func (db *DB) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	var (
		s         Subscription
		periodEnd *string
		updatedAt string
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT user_id, status, current_period_end, updated_at FROM user_subscriptions WHERE user_id = ?",
		userID,
	).Scan(&s.UserID, &s.Status, &periodEnd, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if s.CurrentPeriodEnd, err = parseTimePtr(periodEnd); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSubscription inserts or replaces a user's subscription state.
func (db *DB) UpsertSubscription(ctx context.Context, userID, status string, periodEnd *time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_subscriptions (user_id, status, current_period_end, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, status, formatTimePtr(periodEnd), formatTime(time.Now()),
	)
	return err
}
