package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/zhongwen/internal/database"
)

func TestSampleCourse(t *testing.T) {
	c := Sample()
	if len(c.Modules) != 1 {
		t.Fatalf("expected 1 module, got %d", len(c.Modules))
	}
	m := c.Modules[0]
	if m.ID != 2 || len(m.Units) != 1 {
		t.Fatalf("unexpected module: %+v", m)
	}
	u := m.Units[0]
	if u.ID != 21 || u.Title != "Unit 1" || u.Description != "Accommodations and Introductions" {
		t.Errorf("unexpected unit: %d %q %q", u.ID, u.Title, u.Description)
	}
	if len(u.Vocabulary) == 0 || len(u.Dialogues) == 0 || len(u.Exercises) == 0 {
		t.Error("expected vocabulary, dialogues and exercises in sample unit")
	}
}

func TestParseNumbersEntries(t *testing.T) {
	c, err := Parse([]byte(`
modules:
  - id: 1
    title: Orientation
    units:
      - id: 11
        title: Unit 1
        vocabulary:
          - simplified: 你好
          - simplified: 再见
            order_num: 7
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	vocab := c.Modules[0].Units[0].Vocabulary
	if vocab[0].OrderNum != 1 {
		t.Errorf("expected positional order_num 1, got %d", vocab[0].OrderNum)
	}
	if vocab[1].OrderNum != 7 {
		t.Errorf("expected explicit order_num 7 kept, got %d", vocab[1].OrderNum)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing unit id":   "modules:\n  - id: 1\n    title: M\n    units:\n      - title: U\n",
		"duplicate unit id": "modules:\n  - id: 1\n    title: M\n    units:\n      - {id: 5, title: A}\n      - {id: 5, title: B}\n",
		"empty simplified":  "modules:\n  - id: 1\n    title: M\n    units:\n      - id: 5\n        title: U\n        vocabulary:\n          - english: hello\n",
		"missing title":     "modules:\n  - id: 1\n",
		"untitled exercise": "modules:\n  - id: 1\n    title: M\n    units:\n      - id: 5\n        title: U\n        exercises:\n          - exercise_type: comprehension\n",
		"not yaml":          "modules: [",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "course.yaml")
	if err := os.WriteFile(path, SampleYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Modules[0].Units[0].ID != 21 {
		t.Error("expected unit 21 from file")
	}
}

func TestImportIntoDatabase(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	r, err := Import(ctx, db, Sample(), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if r.Modules != 1 || r.Units != 1 {
		t.Errorf("unexpected result: %+v", r)
	}

	uc, err := db.GetCompleteUnit(ctx, 21)
	if err != nil {
		t.Fatalf("GetCompleteUnit: %v", err)
	}
	if uc == nil {
		t.Fatal("expected unit 21 after import")
	}
	if uc.Module.Title != "Biographic Information" {
		t.Errorf("unexpected module title %q", uc.Module.Title)
	}
	if len(uc.Vocabulary) != r.Vocabulary {
		t.Errorf("expected %d vocabulary items, got %d", r.Vocabulary, len(uc.Vocabulary))
	}
	if uc.Vocabulary[0].Simplified != "饭店" {
		t.Errorf("expected first vocabulary 饭店, got %q", uc.Vocabulary[0].Simplified)
	}
	if r.Exercises != 4 || len(uc.Exercises) != 4 {
		t.Fatalf("expected 4 workbook exercises, imported %d, stored %d", r.Exercises, len(uc.Exercises))
	}
	if uc.Exercises[0].Title != "C-2 Exercise 1" || uc.Exercises[3].OrderNum != 4 {
		t.Errorf("unexpected exercise order: %+v", uc.Exercises)
	}
	if uc.Exercises[0].Instructions != nil {
		t.Error("expected empty instructions stored as NULL")
	}

	// Re-importing is idempotent.
	if _, err := Import(ctx, db, Sample(), nil); err != nil {
		t.Fatalf("second Import: %v", err)
	}
	uc, _ = db.GetCompleteUnit(ctx, 21)
	if len(uc.Vocabulary) != r.Vocabulary {
		t.Errorf("expected no duplicates after re-import, got %d", len(uc.Vocabulary))
	}
}

type failingStore struct{}

func (failingStore) ImportUnit(context.Context, database.UnitContent) error {
	return errors.New("disk full")
}

func TestImportStopsOnError(t *testing.T) {
	r, err := Import(context.Background(), failingStore{}, Sample(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if r.Units != 0 {
		t.Errorf("expected no units counted, got %d", r.Units)
	}
}
