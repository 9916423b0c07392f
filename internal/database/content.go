package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GetModules returns all modules ordered by order_num.
func (db *DB) GetModules(ctx context.Context) ([]Module, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, title, description, module_type, order_num FROM modules ORDER BY order_num, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.ModuleType, &m.OrderNum); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// GetModule returns one module, or nil if it does not exist.
func (db *DB) GetModule(ctx context.Context, id int64) (*Module, error) {
	var m Module
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, title, description, module_type, order_num FROM modules WHERE id = ?", id,
	).Scan(&m.ID, &m.Title, &m.Description, &m.ModuleType, &m.OrderNum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetUnitsByModule returns the units of a module ordered by order_num.
func (db *DB) GetUnitsByModule(ctx context.Context, moduleID int64) ([]Unit, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, module_id, title, description, order_num
		FROM units WHERE module_id = ? ORDER BY order_num, id`, moduleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ModuleID, &u.Title, &u.Description, &u.OrderNum); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// GetUnit returns one unit, or nil if it does not exist.
func (db *DB) GetUnit(ctx context.Context, id int64) (*Unit, error) {
	var u Unit
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, module_id, title, description, order_num FROM units WHERE id = ?", id,
	).Scan(&u.ID, &u.ModuleID, &u.Title, &u.Description, &u.OrderNum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetCompleteUnit assembles a unit with its module, vocabulary, dialogue
// lines and workbook exercises. Returns nil when the unit does not exist.
func (db *DB) GetCompleteUnit(ctx context.Context, unitID int64) (*UnitContent, error) {
	unit, err := db.GetUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("loading unit %d: %w", unitID, err)
	}
	if unit == nil {
		return nil, nil
	}

	module, err := db.GetModule(ctx, unit.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("loading module %d: %w", unit.ModuleID, err)
	}

	uc := &UnitContent{Unit: *unit}
	if module != nil {
		uc.Module = *module
	}

	if uc.Vocabulary, err = db.getVocabulary(ctx, unitID); err != nil {
		return nil, fmt.Errorf("loading vocabulary for unit %d: %w", unitID, err)
	}
	if uc.Dialogues, err = db.getReferenceLines(ctx, unitID); err != nil {
		return nil, fmt.Errorf("loading dialogues for unit %d: %w", unitID, err)
	}
	if uc.Exercises, err = db.getWorkbookExercises(ctx, unitID); err != nil {
		return nil, fmt.Errorf("loading exercises for unit %d: %w", unitID, err)
	}
	return uc, nil
}

func (db *DB) getVocabulary(ctx context.Context, unitID int64) ([]VocabularyItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, unit_id, simplified, COALESCE(traditional, ''), COALESCE(pinyin, ''), COALESCE(english, ''), order_num
		FROM vocabulary WHERE unit_id = ? ORDER BY order_num, id`, unitID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []VocabularyItem
	for rows.Next() {
		var v VocabularyItem
		if err := rows.Scan(&v.ID, &v.UnitID, &v.Simplified, &v.Traditional, &v.Pinyin, &v.English, &v.OrderNum); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (db *DB) getReferenceLines(ctx context.Context, unitID int64) ([]ReferenceLine, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, unit_id, simplified, COALESCE(traditional, ''), COALESCE(pinyin, ''), COALESCE(english, ''), order_num
		FROM reference_lines WHERE unit_id = ? ORDER BY order_num, id`, unitID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ReferenceLine
	for rows.Next() {
		var l ReferenceLine
		if err := rows.Scan(&l.ID, &l.UnitID, &l.Simplified, &l.Traditional, &l.Pinyin, &l.English, &l.OrderNum); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (db *DB) getWorkbookExercises(ctx context.Context, unitID int64) ([]WorkbookExercise, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, unit_id, title, exercise_type, instructions, display_url, order_num
		FROM workbook_exercises WHERE unit_id = ? ORDER BY order_num, id`, unitID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exercises []WorkbookExercise
	for rows.Next() {
		var e WorkbookExercise
		if err := rows.Scan(&e.ID, &e.UnitID, &e.Title, &e.ExerciseType, &e.Instructions, &e.DisplayURL, &e.OrderNum); err != nil {
			return nil, err
		}
		exercises = append(exercises, e)
	}
	return exercises, rows.Err()
}

// ImportUnit writes a unit and its module, replacing any vocabulary,
// dialogue lines and workbook exercises previously stored for the unit.
func (db *DB) ImportUnit(ctx context.Context, uc UnitContent) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		m := uc.Module
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO modules (id, title, description, module_type, order_num)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				module_type = excluded.module_type,
				order_num = excluded.order_num`,
			m.ID, m.Title, m.Description, m.ModuleType, m.OrderNum,
		); err != nil {
			return fmt.Errorf("upserting module %d: %w", m.ID, err)
		}

		u := uc.Unit
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO units (id, module_id, title, description, order_num)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				module_id = excluded.module_id,
				title = excluded.title,
				description = excluded.description,
				order_num = excluded.order_num`,
			u.ID, m.ID, u.Title, u.Description, u.OrderNum,
		); err != nil {
			return fmt.Errorf("upserting unit %d: %w", u.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM vocabulary WHERE unit_id = ?", u.ID); err != nil {
			return err
		}
		for _, v := range uc.Vocabulary {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vocabulary (unit_id, simplified, traditional, pinyin, english, order_num)
				VALUES (?, ?, ?, ?, ?, ?)`,
				u.ID, v.Simplified, v.Traditional, v.Pinyin, v.English, v.OrderNum,
			); err != nil {
				return fmt.Errorf("inserting vocabulary %q: %w", v.Simplified, err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM reference_lines WHERE unit_id = ?", u.ID); err != nil {
			return err
		}
		for _, l := range uc.Dialogues {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO reference_lines (unit_id, simplified, traditional, pinyin, english, order_num)
				VALUES (?, ?, ?, ?, ?, ?)`,
				u.ID, l.Simplified, l.Traditional, l.Pinyin, l.English, l.OrderNum,
			); err != nil {
				return fmt.Errorf("inserting dialogue line: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM workbook_exercises WHERE unit_id = ?", u.ID); err != nil {
			return err
		}
		for _, e := range uc.Exercises {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workbook_exercises (unit_id, title, exercise_type, instructions, display_url, order_num)
				VALUES (?, ?, ?, ?, ?, ?)`,
				u.ID, e.Title, e.ExerciseType, e.Instructions, e.DisplayURL, e.OrderNum,
			); err != nil {
				return fmt.Errorf("inserting exercise %q: %w", e.Title, err)
			}
		}
		return nil
	})
}

// CountUnits returns the number of units in the course.
func (db *DB) CountUnits(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&n)
	return n, err
}
