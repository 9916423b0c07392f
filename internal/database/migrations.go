package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "course content",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS modules (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    module_type TEXT,
    order_num INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS units (
    id INTEGER PRIMARY KEY,
    module_id INTEGER NOT NULL REFERENCES modules(id),
    title TEXT NOT NULL,
    description TEXT,
    order_num INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS vocabulary (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    unit_id INTEGER NOT NULL REFERENCES units(id) ON DELETE CASCADE,
    simplified TEXT NOT NULL,
    traditional TEXT,
    pinyin TEXT,
    english TEXT,
    order_num INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reference_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    unit_id INTEGER NOT NULL REFERENCES units(id) ON DELETE CASCADE,
    simplified TEXT NOT NULL,
    traditional TEXT,
    pinyin TEXT,
    english TEXT,
    order_num INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_units_module ON units(module_id, order_num);
CREATE INDEX IF NOT EXISTS idx_vocabulary_unit ON vocabulary(unit_id, order_num);
CREATE INDEX IF NOT EXISTS idx_reference_lines_unit ON reference_lines(unit_id, order_num);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "learner profiles, subscriptions and usage",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS user_preferences (
    user_id TEXT PRIMARY KEY,
    full_name TEXT,
    learning_level TEXT,
    learning_goals TEXT,
    personal_context TEXT,
    module_responses TEXT,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_subscriptions (
    user_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    current_period_end TEXT,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_usage (
    user_id TEXT PRIMARY KEY,
    rwp_week_count INTEGER NOT NULL DEFAULT 0 CHECK(rwp_week_count >= 0),
    rwp_week_reset_at TEXT NOT NULL,
    rwp_day_count INTEGER NOT NULL DEFAULT 0 CHECK(rwp_day_count >= 0),
    rwp_day_reset_at TEXT NOT NULL,
    tts_day_count INTEGER NOT NULL DEFAULT 0 CHECK(tts_day_count >= 0),
    tts_day_reset_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "generated reading practice",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS rwp_content (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    unit_id INTEGER NOT NULL REFERENCES units(id),
    exercise_type TEXT NOT NULL DEFAULT 'reading_comprehension',
    content TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(user_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_rwp_content_user ON rwp_content(user_id);
`)
			return err
		},
	},
	{
		Version:     4,
		Description: "workbook exercises",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS workbook_exercises (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    unit_id INTEGER NOT NULL REFERENCES units(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    exercise_type TEXT,
    instructions TEXT,
    display_url TEXT,
    order_num INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_workbook_exercises_unit ON workbook_exercises(unit_id, order_num);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
