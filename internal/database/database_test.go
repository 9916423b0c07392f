package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func seedUnit(t *testing.T, db *DB) {
	t.Helper()
	uc := UnitContent{
		Module: Module{ID: 2, Title: "Biographic Information", OrderNum: 2},
		Unit:   Unit{ID: 21, ModuleID: 2, Title: "Unit 1", Description: ptr("Accommodations and Introductions"), OrderNum: 1},
		Vocabulary: []VocabularyItem{
			{Simplified: "房间", Traditional: "房間", Pinyin: "fángjiān", English: "room", OrderNum: 2},
			{Simplified: "宿舍", Traditional: "宿舍", Pinyin: "sùshè", English: "dormitory", OrderNum: 1},
		},
		Dialogues: []ReferenceLine{
			{Simplified: "你住在哪儿？", Traditional: "你住在哪兒？", Pinyin: "Nǐ zhù zài nǎr?", English: "Where do you live?", OrderNum: 1},
		},
		Exercises: []WorkbookExercise{
			{Title: "P-2", ExerciseType: ptr("comprehension"), OrderNum: 4},
			{Title: "C-1", ExerciseType: ptr("listening"), DisplayURL: ptr("/img/c1.jpg"), OrderNum: 1},
		},
	}
	if err := db.ImportUnit(context.Background(), uc); err != nil {
		t.Fatalf("ImportUnit: %v", err)
	}
}

func TestGetCompleteUnit(t *testing.T) {
	db := openTestDB(t)
	seedUnit(t, db)

	uc, err := db.GetCompleteUnit(context.Background(), 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uc == nil {
		t.Fatal("expected unit content")
	}
	if uc.Unit.Title != "Unit 1" || uc.Module.Title != "Biographic Information" {
		t.Errorf("unexpected unit/module: %q / %q", uc.Unit.Title, uc.Module.Title)
	}
	if len(uc.Vocabulary) != 2 {
		t.Fatalf("expected 2 vocabulary items, got %d", len(uc.Vocabulary))
	}
	if uc.Vocabulary[0].Simplified != "宿舍" {
		t.Errorf("expected vocabulary ordered by order_num, got %q first", uc.Vocabulary[0].Simplified)
	}
	if len(uc.Dialogues) != 1 || uc.Dialogues[0].English != "Where do you live?" {
		t.Errorf("unexpected dialogues: %+v", uc.Dialogues)
	}
	if len(uc.Exercises) != 2 {
		t.Fatalf("expected 2 workbook exercises, got %d", len(uc.Exercises))
	}
	if uc.Exercises[0].Title != "C-1" || uc.Exercises[1].Title != "P-2" {
		t.Errorf("expected exercises ordered by order_num, got %q, %q", uc.Exercises[0].Title, uc.Exercises[1].Title)
	}
	if uc.Exercises[0].DisplayURL == nil || *uc.Exercises[0].DisplayURL != "/img/c1.jpg" {
		t.Errorf("expected display url, got %v", uc.Exercises[0].DisplayURL)
	}
	if uc.Exercises[1].Instructions != nil {
		t.Errorf("expected nil instructions, got %q", *uc.Exercises[1].Instructions)
	}
}

func TestGetCompleteUnitMissing(t *testing.T) {
	db := openTestDB(t)
	uc, err := db.GetCompleteUnit(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uc != nil {
		t.Error("expected nil for missing unit")
	}
}

func TestImportUnitReplacesLists(t *testing.T) {
	db := openTestDB(t)
	seedUnit(t, db)

	uc := UnitContent{
		Module:     Module{ID: 2, Title: "Biographic Information"},
		Unit:       Unit{ID: 21, ModuleID: 2, Title: "Unit 1"},
		Vocabulary: []VocabularyItem{{Simplified: "名字", OrderNum: 1}},
	}
	if err := db.ImportUnit(context.Background(), uc); err != nil {
		t.Fatalf("ImportUnit: %v", err)
	}

	got, err := db.GetCompleteUnit(context.Background(), 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Vocabulary) != 1 || got.Vocabulary[0].Simplified != "名字" {
		t.Errorf("expected vocabulary replaced, got %+v", got.Vocabulary)
	}
	if len(got.Dialogues) != 0 {
		t.Errorf("expected dialogues cleared, got %d", len(got.Dialogues))
	}
	if len(got.Exercises) != 0 {
		t.Errorf("expected exercises cleared, got %d", len(got.Exercises))
	}
}

func TestGetModulesAndUnits(t *testing.T) {
	db := openTestDB(t)
	seedUnit(t, db)

	modules, err := db.GetModules(context.Background())
	if err != nil {
		t.Fatalf("GetModules: %v", err)
	}
	if len(modules) != 1 || modules[0].ID != 2 {
		t.Errorf("unexpected modules: %+v", modules)
	}

	units, err := db.GetUnitsByModule(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetUnitsByModule: %v", err)
	}
	if len(units) != 1 || units[0].ID != 21 {
		t.Errorf("unexpected units: %+v", units)
	}

	n, err := db.CountUnits(context.Background())
	if err != nil || n != 1 {
		t.Errorf("CountUnits = %d, %v", n, err)
	}
}

func TestUserPreferencesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := db.GetUserPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil profile before save")
	}

	p := LearnerProfile{
		FullName:      "Alex",
		LearningLevel: "intermediate",
		PersonalContext: PersonalContext{
			Occupation: "engineer",
			Hobbies:    "hiking",
		},
		ModuleResponses: map[string]map[string]string{"2": {"q1": "I live in Taipei"}},
	}
	if err := db.SaveUserPreferences(ctx, "u1", p); err != nil {
		t.Fatalf("SaveUserPreferences: %v", err)
	}

	got, err = db.GetUserPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserPreferences: %v", err)
	}
	if got.FullName != "Alex" || got.PersonalContext.Hobbies != "hiking" {
		t.Errorf("unexpected profile: %+v", got)
	}
	if got.ModuleResponses["2"]["q1"] != "I live in Taipei" {
		t.Errorf("module responses not preserved: %+v", got.ModuleResponses)
	}
	if got.UpdatedAt == nil {
		t.Error("expected updated_at")
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.UpsertSubscription(ctx, "u1", "premium", &end); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	s, err := db.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s.Status != "premium" || s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.Equal(end) {
		t.Errorf("unexpected subscription: %+v", s)
	}

	if err := db.UpsertSubscription(ctx, "u1", "canceled", nil); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	s, _ = db.GetSubscription(ctx, "u1")
	if s.Status != "canceled" || s.CurrentPeriodEnd != nil {
		t.Errorf("expected replaced subscription, got %+v", s)
	}

	missing, err := db.GetSubscription(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing subscription, got %+v, %v", missing, err)
	}
}

func testWindows(now time.Time) Windows {
	return Windows{Now: now, NextDay: now.Add(12 * time.Hour), NextWeek: now.Add(7 * 24 * time.Hour)}
}

func TestRefreshUsageCreatesRecord(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	rec, err := db.RefreshUsage(context.Background(), "u1", testWindows(now))
	if err != nil {
		t.Fatalf("RefreshUsage: %v", err)
	}
	if rec.RwpWeekCount != 0 || rec.RwpDayCount != 0 {
		t.Errorf("expected zero counts, got %+v", rec)
	}
	if !rec.RwpWeekResetAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("unexpected week reset: %v", rec.RwpWeekResetAt)
	}
}

func TestRefreshUsageResetsExpiredWindows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := db.IncrementUsage(ctx, "u1", FeatureRWP, testWindows(start)); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
	}

	// Next day: daily counter resets, weekly does not.
	later := start.Add(13 * time.Hour)
	rec, err := db.RefreshUsage(ctx, "u1", testWindows(later))
	if err != nil {
		t.Fatalf("RefreshUsage: %v", err)
	}
	if rec.RwpDayCount != 0 || rec.RwpWeekCount != 3 {
		t.Errorf("expected day=0 week=3, got day=%d week=%d", rec.RwpDayCount, rec.RwpWeekCount)
	}

	// The reset is persisted, not only reported.
	stored, err := db.GetUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if stored.RwpDayCount != 0 || !stored.RwpDayResetAt.Equal(later.Add(12*time.Hour)) {
		t.Errorf("expected persisted day reset, got %+v", stored)
	}

	// A week later both reset.
	weekLater := start.Add(7 * 24 * time.Hour)
	rec, err = db.RefreshUsage(ctx, "u1", testWindows(weekLater))
	if err != nil {
		t.Fatalf("RefreshUsage: %v", err)
	}
	if rec.RwpWeekCount != 0 {
		t.Errorf("expected week count reset, got %d", rec.RwpWeekCount)
	}
	if !rec.RwpWeekResetAt.Equal(weekLater.Add(7 * 24 * time.Hour)) {
		t.Errorf("unexpected new week reset: %v", rec.RwpWeekResetAt)
	}
}

func TestIncrementUsageTTS(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	w := testWindows(time.Now())

	if err := db.IncrementUsage(ctx, "u1", FeatureTTS, w); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	rec, _ := db.GetUsage(ctx, "u1")
	if rec.TtsDayCount != 1 || rec.RwpDayCount != 0 || rec.RwpWeekCount != 0 {
		t.Errorf("expected only tts counter bumped, got %+v", rec)
	}

	if err := db.IncrementUsage(ctx, "u1", Feature("video"), w); err == nil {
		t.Error("expected error for unknown feature")
	}
}

func TestReserveUsageRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	w := testWindows(time.Now())

	for i := 0; i < 3; i++ {
		ok, rec, err := db.ReserveUsage(ctx, "u1", FeatureRWP, CounterRwpWeek, 3, w)
		if err != nil {
			t.Fatalf("ReserveUsage: %v", err)
		}
		if !ok {
			t.Fatalf("reservation %d denied", i+1)
		}
		if rec.RwpWeekCount != i+1 {
			t.Errorf("expected week count %d, got %d", i+1, rec.RwpWeekCount)
		}
	}

	ok, rec, err := db.ReserveUsage(ctx, "u1", FeatureRWP, CounterRwpWeek, 3, w)
	if err != nil {
		t.Fatalf("ReserveUsage: %v", err)
	}
	if ok {
		t.Error("expected reservation beyond limit to be denied")
	}
	if rec.RwpWeekCount != 3 {
		t.Errorf("expected count to stay at 3, got %d", rec.RwpWeekCount)
	}
}

func TestReserveUsageConcurrent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	w := testWindows(time.Now())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := db.ReserveUsage(ctx, "u1", FeatureRWP, CounterRwpWeek, 3, w)
			if err != nil {
				t.Errorf("ReserveUsage: %v", err)
				return
			}
			if ok {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if reserved != 3 {
		t.Errorf("expected exactly 3 reservations, got %d", reserved)
	}
	rec, _ := db.GetUsage(ctx, "u1")
	if rec.RwpWeekCount != 3 {
		t.Errorf("expected stored count 3, got %d", rec.RwpWeekCount)
	}
}

func TestReleaseUsageFloorsAtZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	w := testWindows(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	if _, _, err := db.ReserveUsage(ctx, "u1", FeatureRWP, CounterRwpDay, 20, w); err != nil {
		t.Fatalf("ReserveUsage: %v", err)
	}
	later := w
	later.Now = w.Now.Add(90 * time.Minute)
	for i := 0; i < 2; i++ {
		if err := db.ReleaseUsage(ctx, "u1", FeatureRWP, later); err != nil {
			t.Fatalf("ReleaseUsage: %v", err)
		}
	}
	rec, _ := db.GetUsage(ctx, "u1")
	if rec.RwpDayCount != 0 || rec.RwpWeekCount != 0 {
		t.Errorf("expected counters floored at 0, got %+v", rec)
	}
	if !rec.UpdatedAt.Equal(later.Now) {
		t.Errorf("expected updated_at %v from the given windows, got %v", later.Now, rec.UpdatedAt)
	}
}

func TestResetUsage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.IncrementUsage(ctx, "u1", FeatureRWP, testWindows(time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.ResetUsage(ctx, "u1"); err != nil {
		t.Fatalf("ResetUsage: %v", err)
	}
	rec, err := db.GetUsage(ctx, "u1")
	if err != nil || rec != nil {
		t.Errorf("expected no record after reset, got %+v, %v", rec, err)
	}
}

func TestSaveRwpContentUpsert(t *testing.T) {
	db := openTestDB(t)
	seedUnit(t, db)
	ctx := context.Background()

	first := json.RawMessage(`{"meta":{"title":"第一"}}`)
	if err := db.SaveRwpContent(ctx, "u1", 21, "", first); err != nil {
		t.Fatalf("SaveRwpContent: %v", err)
	}
	got, err := db.GetRwpContent(ctx, "u1", 21)
	if err != nil {
		t.Fatalf("GetRwpContent: %v", err)
	}
	if got.ExerciseType != DefaultExerciseType {
		t.Errorf("expected default exercise type, got %q", got.ExerciseType)
	}
	created := got.CreatedAt

	second := json.RawMessage(`{"meta":{"title":"第二"}}`)
	if err := db.SaveRwpContent(ctx, "u1", 21, "reading_comprehension", second); err != nil {
		t.Fatalf("SaveRwpContent: %v", err)
	}
	got, _ = db.GetRwpContent(ctx, "u1", 21)
	if string(got.Content) != string(second) {
		t.Errorf("expected replaced content, got %s", got.Content)
	}
	if !got.CreatedAt.Equal(created) {
		t.Error("expected created_at preserved across upserts")
	}

	list, err := db.ListRwpContent(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRwpContent: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected one exercise per (user, unit), got %d", len(list))
	}

	other, err := db.GetRwpContent(ctx, "u2", 21)
	if err != nil || other != nil {
		t.Errorf("expected nil for another user, got %+v, %v", other, err)
	}
}

func TestSaveRwpContentUnknownUnit(t *testing.T) {
	db := openTestDB(t)
	err := db.SaveRwpContent(context.Background(), "u1", 404, "", json.RawMessage(`{}`))
	if err == nil {
		t.Error("expected foreign key error for unknown unit")
	}
}
