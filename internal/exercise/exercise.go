// Package exercise holds the generated reading practice document and its
// validation rules.
package exercise

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultType is used when the model does not name an exercise type.
const DefaultType = "reading_comprehension"

// OptionIDs are the required multiple choice option ids, in order.
var OptionIDs = [4]string{"A", "B", "C", "D"}

//go:embed schema.json
var SchemaJSON []byte

// Exercise is one generated reading practice document. Chinese-bearing
// fields carry simplified, traditional, pinyin and English variants.
type Exercise struct {
	ExerciseType string            `json:"exercise_type"`
	Meta         Meta              `json:"meta"`
	Story        Story             `json:"story"`
	Questions    Questions         `json:"questions"`
	Vocabulary   []VocabularyEntry `json:"vocabulary"`
}

type Meta struct {
	Title            string `json:"title"`
	TitleTraditional string `json:"title_traditional"`
	TitlePinyin      string `json:"title_pinyin"`
	TitleEnglish     string `json:"title_english"`
	Introduction     string `json:"introduction"`
	Unit             string `json:"unit"`
	Module           string `json:"module"`
}

type Story struct {
	Text            string `json:"text"`
	TextTraditional string `json:"text_traditional"`
	TextPinyin      string `json:"text_pinyin"`
	TextEnglish     string `json:"text_english"`
}

type Questions struct {
	MultipleChoice []MultipleChoice `json:"multiple_choice"`
	ShortAnswer    []ShortAnswer    `json:"short_answer"`
	Reflection     *Reflection      `json:"reflection,omitempty"`
}

// Prompt is a question in all four representations.
type Prompt struct {
	Question            string `json:"question"`
	QuestionTraditional string `json:"question_traditional"`
	QuestionPinyin      string `json:"question_pinyin"`
	QuestionEnglish     string `json:"question_english"`
}

type MultipleChoice struct {
	ID ID `json:"id"`
	Prompt
	Options     []Option `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

type Option struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	TextTraditional string `json:"text_traditional"`
	Pinyin          string `json:"pinyin"`
	English         string `json:"english"`
}

type ShortAnswer struct {
	ID ID `json:"id"`
	Prompt
	SampleAnswer            string `json:"sample_answer"`
	SampleAnswerTraditional string `json:"sample_answer_traditional"`
	SampleAnswerPinyin      string `json:"sample_answer_pinyin"`
	SampleAnswerEnglish     string `json:"sample_answer_english"`
	AssessmentGuide         string `json:"assessment_guide"`
}

type Reflection struct {
	Prompt
	Guidance string `json:"guidance"`
}

type VocabularyEntry struct {
	Word            string `json:"word"`
	WordTraditional string `json:"word_traditional"`
	Pinyin          string `json:"pinyin"`
	English         string `json:"english"`
}

// ID is a question id. Models emit both 1 and "1"; both decode.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits canonical integers ("3") as numbers and everything else,
// including "03" and "+3", as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(id)); err == nil && strconv.Itoa(n) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid exercise")

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(SchemaJSON)); err != nil {
		return nil, fmt.Errorf("loading exercise schema: %w", err)
	}
	return compiler.Compile("schema.json")
})

// Decode validates an extracted JSON object and returns the typed exercise
// together with the document to persist. exercise_type is defaulted on both.
func Decode(doc map[string]any) (*Exercise, json.RawMessage, error) {
	if doc == nil {
		return nil, nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if t, _ := doc["exercise_type"].(string); strings.TrimSpace(t) == "" {
		doc["exercise_type"] = DefaultType
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	// Validate the re-decoded form so numbers have the types the
	// validator expects.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var ex Exercise
	if err := json.Unmarshal(raw, &ex); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := ex.Validate(); err != nil {
		return nil, nil, err
	}
	return &ex, raw, nil
}

// Validate checks the invariants the schema cannot express.
func (e *Exercise) Validate() error {
	if strings.TrimSpace(e.Story.Text) == "" {
		return fmt.Errorf("%w: story text is empty", ErrInvalid)
	}
	if len(e.Questions.MultipleChoice) == 0 {
		return fmt.Errorf("%w: no multiple choice questions", ErrInvalid)
	}
	if e.Questions.Reflection == nil || strings.TrimSpace(e.Questions.Reflection.Question) == "" {
		return fmt.Errorf("%w: missing reflection question", ErrInvalid)
	}
	for i, mc := range e.Questions.MultipleChoice {
		if len(mc.Options) != len(OptionIDs) {
			return fmt.Errorf("%w: multiple choice %d has %d options, want %d",
				ErrInvalid, i+1, len(mc.Options), len(OptionIDs))
		}
		for j, opt := range mc.Options {
			if opt.ID != OptionIDs[j] {
				return fmt.Errorf("%w: multiple choice %d option %d has id %q, want %q",
					ErrInvalid, i+1, j+1, opt.ID, OptionIDs[j])
			}
		}
		if !validAnswer(mc.Answer) {
			return fmt.Errorf("%w: multiple choice %d answer %q is not one of A-D",
				ErrInvalid, i+1, mc.Answer)
		}
	}
	return nil
}

func validAnswer(a string) bool {
	for _, id := range OptionIDs {
		if a == id {
			return true
		}
	}
	return false
}
