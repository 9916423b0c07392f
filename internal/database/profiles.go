package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetUserPreferences returns the learner profile for a user, or nil if the
// user never saved one.
func (db *DB) GetUserPreferences(ctx context.Context, userID string) (*LearnerProfile, error) {
	var (
		p                          LearnerProfile
		fullName, level, goals     *string
		contextJSON, responsesJSON *string
		updatedAt                  string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT full_name, learning_level, learning_goals, personal_context, module_responses, updated_at
		FROM user_preferences WHERE user_id = ?`, userID,
	).Scan(&fullName, &level, &goals, &contextJSON, &responsesJSON, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	p.FullName = deref(fullName)
	p.LearningLevel = deref(level)
	p.LearningGoals = deref(goals)
	if contextJSON != nil && *contextJSON != "" {
		if err := json.Unmarshal([]byte(*contextJSON), &p.PersonalContext); err != nil {
			return nil, fmt.Errorf("decoding personal_context: %w", err)
		}
	}
	if responsesJSON != nil && *responsesJSON != "" {
		if err := json.Unmarshal([]byte(*responsesJSON), &p.ModuleResponses); err != nil {
			return nil, fmt.Errorf("decoding module_responses: %w", err)
		}
	}
	if t, err := parseTime(updatedAt); err == nil {
		p.UpdatedAt = &t
	}
	return &p, nil
}

// SaveUserPreferences inserts or replaces the learner profile for a user.
func (db *DB) SaveUserPreferences(ctx context.Context, userID string, p LearnerProfile) error {
	contextJSON, err := json.Marshal(p.PersonalContext)
	if err != nil {
		return err
	}
	responses := p.ModuleResponses
	if responses == nil {
		responses = map[string]map[string]string{}
	}
	responsesJSON, err := json.Marshal(responses)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_preferences
		(user_id, full_name, learning_level, learning_goals, personal_context, module_responses, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, p.FullName, p.LearningLevel, p.LearningGoals,
		string(contextJSON), string(responsesJSON), formatTime(time.Now()),
	)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
