// Package content loads course material from YAML files into the database.
package content

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/logging"
)

//go:embed sample.yaml
var SampleYAML []byte

// Course is the file format for course material.
type Course struct {
	Modules []Module `yaml:"modules"`
}

type Module struct {
	ID          int64  `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	ModuleType  string `yaml:"module_type"`
	OrderNum    int    `yaml:"order_num"`
	Units       []Unit `yaml:"units"`
}

type Unit struct {
	ID          int64      `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	OrderNum    int        `yaml:"order_num"`
	Vocabulary  []Entry    `yaml:"vocabulary"`
	Dialogues   []Entry    `yaml:"dialogues"`
	Exercises   []Exercise `yaml:"exercises"`
}

// Entry is one vocabulary item or dialogue line in all four representations.
type Entry struct {
	Simplified  string `yaml:"simplified"`
	Traditional string `yaml:"traditional"`
	Pinyin      string `yaml:"pinyin"`
	English     string `yaml:"english"`
	OrderNum    int    `yaml:"order_num"`
}

// Exercise is one workbook exercise of a unit.
type Exercise struct {
	Title        string `yaml:"title"`
	ExerciseType string `yaml:"exercise_type"`
	Instructions string `yaml:"instructions"`
	DisplayURL   string `yaml:"display_url"`
	OrderNum     int    `yaml:"order_num"`
}

// Load reads and parses a course YAML file.
func Load(path string) (*Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading course file: %w", err)
	}
	return Parse(data)
}

// Sample returns the built-in sample course.
func Sample() *Course {
	c, err := Parse(SampleYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded sample course is invalid: %v", err))
	}
	return c
}

// Parse parses course YAML. Entries without an explicit order_num are
// numbered by their position in the list.
func Parse(data []byte) (*Course, error) {
	var c Course
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing course: %w", err)
	}

	seen := make(map[int64]bool)
	for mi := range c.Modules {
		m := &c.Modules[mi]
		if m.Title == "" {
			return nil, fmt.Errorf("module %d: missing title", m.ID)
		}
		for ui := range m.Units {
			u := &m.Units[ui]
			if u.ID <= 0 {
				return nil, fmt.Errorf("module %d: unit %q needs a positive id", m.ID, u.Title)
			}
			if seen[u.ID] {
				return nil, fmt.Errorf("duplicate unit id %d", u.ID)
			}
			seen[u.ID] = true
			if u.Title == "" {
				return nil, fmt.Errorf("unit %d: missing title", u.ID)
			}
			if err := number(u.Vocabulary); err != nil {
				return nil, fmt.Errorf("unit %d vocabulary: %w", u.ID, err)
			}
			if err := number(u.Dialogues); err != nil {
				return nil, fmt.Errorf("unit %d dialogues: %w", u.ID, err)
			}
			for i := range u.Exercises {
				e := &u.Exercises[i]
				if e.Title == "" {
					return nil, fmt.Errorf("unit %d exercise %d: missing title", u.ID, i+1)
				}
				if e.OrderNum == 0 {
					e.OrderNum = i + 1
				}
			}
		}
	}
	return &c, nil
}

func number(entries []Entry) error {
	for i := range entries {
		if entries[i].Simplified == "" {
			return fmt.Errorf("entry %d: missing simplified text", i+1)
		}
		if entries[i].OrderNum == 0 {
			entries[i].OrderNum = i + 1
		}
	}
	return nil
}

// Store is the write side of the content database.
type Store interface {
	ImportUnit(ctx context.Context, uc database.UnitContent) error
}

// Result holds the results of an import run.
type Result struct {
	Modules    int
	Units      int
	Vocabulary int
	Dialogues  int
	Exercises  int
}

// Import writes every unit of the course to the store. Units are written one
// transaction each; the first failure stops the import.
func Import(ctx context.Context, store Store, c *Course, log *logging.Logger) (*Result, error) {
	log = logging.OrNop(log)
	r := &Result{}

	for _, m := range c.Modules {
		module := database.Module{
			ID:          m.ID,
			Title:       m.Title,
			Description: optional(m.Description),
			ModuleType:  optional(m.ModuleType),
			OrderNum:    m.OrderNum,
		}
		r.Modules++

		for _, u := range m.Units {
			uc := database.UnitContent{
				Module: module,
				Unit: database.Unit{
					ID:          u.ID,
					ModuleID:    m.ID,
					Title:       u.Title,
					Description: optional(u.Description),
					OrderNum:    u.OrderNum,
				},
			}
			for _, e := range u.Vocabulary {
				uc.Vocabulary = append(uc.Vocabulary, database.VocabularyItem{
					Simplified: e.Simplified, Traditional: e.Traditional,
					Pinyin: e.Pinyin, English: e.English, OrderNum: e.OrderNum,
				})
			}
			for _, e := range u.Dialogues {
				uc.Dialogues = append(uc.Dialogues, database.ReferenceLine{
					Simplified: e.Simplified, Traditional: e.Traditional,
					Pinyin: e.Pinyin, English: e.English, OrderNum: e.OrderNum,
				})
			}
			for _, e := range u.Exercises {
				uc.Exercises = append(uc.Exercises, database.WorkbookExercise{
					Title:        e.Title,
					ExerciseType: optional(e.ExerciseType),
					Instructions: optional(e.Instructions),
					DisplayURL:   optional(e.DisplayURL),
					OrderNum:     e.OrderNum,
				})
			}

			if err := store.ImportUnit(ctx, uc); err != nil {
				return r, fmt.Errorf("importing unit %d: %w", u.ID, err)
			}
			log.Debug("imported unit", "unit_id", u.ID, "vocabulary", len(uc.Vocabulary), "dialogues", len(uc.Dialogues))

			r.Units++
			r.Vocabulary += len(uc.Vocabulary)
			r.Dialogues += len(uc.Dialogues)
			r.Exercises += len(uc.Exercises)
		}
	}

	log.Info("course import complete", "modules", r.Modules, "units", r.Units)
	return r, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
