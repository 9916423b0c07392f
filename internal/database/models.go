package database

import (
	"encoding/json"
	"time"
)

// Module is a top-level grouping of units in the course.
type Module struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	ModuleType  *string `json:"module_type,omitempty"`
	OrderNum    int     `json:"order_num"`
}

// Unit is one lesson inside a module.
type Unit struct {
	ID          int64   `json:"id"`
	ModuleID    int64   `json:"module_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	OrderNum    int     `json:"order_num"`
}

// VocabularyItem is one word or phrase taught in a unit.
type VocabularyItem struct {
	ID          int64  `json:"-"`
	UnitID      int64  `json:"-"`
	Simplified  string `json:"simplified"`
	Traditional string `json:"traditional,omitempty"`
	Pinyin      string `json:"pinyin,omitempty"`
	English     string `json:"english,omitempty"`
	OrderNum    int    `json:"order_num"`
}

// ReferenceLine is one dialogue or reference-list line of a unit.
type ReferenceLine struct {
	ID          int64  `json:"-"`
	UnitID      int64  `json:"-"`
	Simplified  string `json:"simplified"`
	Traditional string `json:"traditional,omitempty"`
	Pinyin      string `json:"pinyin,omitempty"`
	English     string `json:"english,omitempty"`
	OrderNum    int    `json:"order_num"`
}

// WorkbookExercise is a listening or comprehension exercise from the unit's
// workbook tapes.
type WorkbookExercise struct {
	ID           int64   `json:"id"`
	UnitID       int64   `json:"-"`
	Title        string  `json:"title"`
	ExerciseType *string `json:"exercise_type,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
	DisplayURL   *string `json:"display_url,omitempty"`
	OrderNum     int     `json:"order_num"`
}

// UnitContent is everything the course holds for one unit. Every list is
// ordered by order_num ascending.
type UnitContent struct {
	Unit       Unit               `json:"unit"`
	Module     Module             `json:"module"`
	Vocabulary []VocabularyItem   `json:"vocabulary"`
	Dialogues  []ReferenceLine    `json:"dialogues"`
	Exercises  []WorkbookExercise `json:"exercises"`
}

// LearnerProfile is the personalization input for generation.
type LearnerProfile struct {
	FullName        string                       `json:"full_name"`
	LearningLevel   string                       `json:"learning_level"`
	LearningGoals   string                       `json:"learning_goals"`
	PersonalContext PersonalContext              `json:"personal_context"`
	ModuleResponses map[string]map[string]string `json:"module_responses,omitempty"`
	UpdatedAt       *time.Time                   `json:"updated_at,omitempty"`
}

// PersonalContext holds free-text facts the learner shared about themselves.
type PersonalContext struct {
	Occupation     string `json:"occupation"`
	Location       string `json:"location"`
	Hobbies        string `json:"hobbies"`
	ReasonLearning string `json:"reason_learning"`
}

// Subscription is the stored billing state of a user.
type Subscription struct {
	UserID           string
	Status           string // "free", "premium", "active", "canceled", ...
	CurrentPeriodEnd *time.Time
	UpdatedAt        time.Time
}

// UsageRecord holds per-user quota counters and their reset times.
type UsageRecord struct {
	UserID         string
	RwpWeekCount   int
	RwpWeekResetAt time.Time
	RwpDayCount    int
	RwpDayResetAt  time.Time
	TtsDayCount    int
	TtsDayResetAt  time.Time
	UpdatedAt      time.Time
}

// RwpContent is the stored reading practice exercise for a (user, unit) pair.
type RwpContent struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	UnitID       int64           `json:"unit_id"`
	ExerciseType string          `json:"exercise_type"`
	Content      json.RawMessage `json:"content"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
