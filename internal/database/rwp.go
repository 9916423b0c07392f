package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// DefaultExerciseType is stored when a generated exercise does not name one.
const DefaultExerciseType = "reading_comprehension"

// SaveRwpContent stores the current exercise for (userID, unitID), replacing
// any previous one. created_at is kept from the first save.
func (db *DB) SaveRwpContent(ctx context.Context, userID string, unitID int64, exerciseType string, content json.RawMessage) error {
	if exerciseType == "" {
		exerciseType = DefaultExerciseType
	}
	now := formatTime(time.Now())
	return db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rwp_content (user_id, unit_id, exercise_type, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, unit_id) DO UPDATE SET
				exercise_type = excluded.exercise_type,
				content = excluded.content,
				updated_at = excluded.updated_at`,
			userID, unitID, exerciseType, string(content), now, now,
		)
		return err
	})
}

// GetRwpContent returns the current exercise for (userID, unitID), or nil.
func (db *DB) GetRwpContent(ctx context.Context, userID string, unitID int64) (*RwpContent, error) {
	var c RwpContent
	var content, created, updated string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, unit_id, exercise_type, content, created_at, updated_at
		FROM rwp_content WHERE user_id = ? AND unit_id = ?`, userID, unitID,
	).Scan(&c.ID, &c.UserID, &c.UnitID, &c.ExerciseType, &content, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Content = json.RawMessage(content)
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListRwpContent returns every stored exercise of a user, newest first.
func (db *DB) ListRwpContent(ctx context.Context, userID string) ([]RwpContent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, unit_id, exercise_type, created_at, updated_at
		FROM rwp_content WHERE user_id = ? ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RwpContent
	for rows.Next() {
		var c RwpContent
		var created, updated string
		if err := rows.Scan(&c.ID, &c.UserID, &c.UnitID, &c.ExerciseType, &created, &updated); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
