package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"examprep-sync-service/internal/domain"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestPendingQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	first := domain.PendingResult{
		LocalID:          "r1",
		UserID:           "u1",
		LicenseID:        "lic-1",
		ExamKind:         domain.KindPractice,
		Score:            7,
		TotalQuestions:   10,
		TimeSpentSeconds: 300,
		CreatedAt:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	second := first
	second.LocalID = "r2"
	second.CreatedAt = first.CreatedAt.Add(time.Minute)

	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].LocalID != "r1" || pending[1].LocalID != "r2" {
		t.Fatalf("expected enqueue order preserved, got %+v", pending)
	}
	if pending[0].Score != 7 || pending[0].ExamKind != domain.KindPractice {
		t.Fatalf("result fields lost in roundtrip: %+v", pending[0])
	}

	if err := store.MarkSynced(ctx, "r1"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	// Re-marking is a no-op, not an error.
	if err := store.MarkSynced(ctx, "r1"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	pending, _ = store.Pending(ctx)
	if len(pending) != 1 || pending[0].LocalID != "r2" {
		t.Fatalf("expected only r2 pending, got %+v", pending)
	}
}

func TestProfileMirrorRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	if _, ok, err := store.Profile(ctx); ok || err != nil {
		t.Fatalf("expected empty mirror, got ok=%v err=%v", ok, err)
	}

	p := domain.UserProfile{
		ID:                   "u1",
		DisplayName:          "Alice",
		Role:                 "student",
		AssignedCourseID:     "course-9",
		OfflineAccessAllowed: true,
		UpdatedAt:            time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.SaveProfile(ctx, p); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	got, ok, err := store.Profile(ctx)
	if err != nil || !ok {
		t.Fatalf("load profile: ok=%v err=%v", ok, err)
	}
	if got != p {
		t.Fatalf("profile roundtrip mismatch: got %+v want %+v", got, p)
	}

	// Overwrite wins.
	p.DisplayName = "Alice Renamed"
	p.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	_ = store.SaveProfile(ctx, p)
	got, _, _ = store.Profile(ctx)
	if got.DisplayName != "Alice Renamed" {
		t.Fatalf("expected overwritten profile, got %+v", got)
	}
}

func TestQuestionBankOverwrittenWholesale(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	bank := domain.QuestionBank{
		LicenseID: "lic-1",
		Subjects: []domain.Subject{
			{ID: "s1", Name: "Navigation", Questions: []domain.Question{{ID: "q1", Prompt: "?"}}},
			{ID: "s2", Name: "Rules"},
		},
	}
	if err := store.SaveQuestionBank(ctx, bank); err != nil {
		t.Fatalf("save bank: %v", err)
	}

	replacement := domain.QuestionBank{
		LicenseID: "lic-1",
		Subjects:  []domain.Subject{{ID: "s3", Name: "Signals"}},
	}
	if err := store.SaveQuestionBank(ctx, replacement); err != nil {
		t.Fatalf("overwrite bank: %v", err)
	}

	got, ok, err := store.QuestionBank(ctx, "lic-1")
	if err != nil || !ok {
		t.Fatalf("load bank: ok=%v err=%v", ok, err)
	}
	if len(got.Subjects) != 1 || got.Subjects[0].ID != "s3" {
		t.Fatalf("expected wholesale replacement, got %+v", got.Subjects)
	}
}

func TestSnapshotSlotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, path := openTestStore(t)

	snap := domain.QuizSessionSnapshot{
		OwnerUserID:  "u1",
		Mode:         domain.KindOnlineExam,
		Answers:      map[string]string{"q1": "o3"},
		CurrentIndex: 2,
		SavedAt:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	store.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load after reopen: ok=%v err=%v", ok, err)
	}
	if got.OwnerUserID != "u1" || got.Answers["q1"] != "o3" {
		t.Fatalf("snapshot lost across restart: %+v", got)
	}

	if err := reopened.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := reopened.Load(ctx); ok {
		t.Fatalf("expected cleared slot")
	}
}

func TestCorruptSnapshotReadsAsAbsence(t *testing.T) {
	ctx := context.Background()
	store, path := openTestStore(t)

	// Corrupt the slot behind the store's back.
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES ('session_snapshot', '{not json')`); err != nil {
		t.Fatalf("corrupt slot: %v", err)
	}

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("corrupt slot must read as absence, got ok=%v err=%v", ok, err)
	}
}

func TestQuotaCounterRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	c := domain.QuotaCounter{
		Key:         "student:daily",
		Period:      domain.PeriodDaily,
		Count:       2,
		WindowStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveCounter(ctx, c); err != nil {
		t.Fatalf("save counter: %v", err)
	}

	got, ok, err := store.Counter(ctx, "student:daily")
	if err != nil || !ok {
		t.Fatalf("load counter: ok=%v err=%v", ok, err)
	}
	if got != c {
		t.Fatalf("counter roundtrip mismatch: got %+v want %+v", got, c)
	}
}

func TestLicensePreference(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	if _, ok, _ := store.LicensePreference(ctx); ok {
		t.Fatalf("expected no preference initially")
	}
	if err := store.SaveLicensePreference(ctx, "lic-7"); err != nil {
		t.Fatalf("save preference: %v", err)
	}
	pref, ok, err := store.LicensePreference(ctx)
	if err != nil || !ok || pref != "lic-7" {
		t.Fatalf("expected lic-7, got %q ok=%v err=%v", pref, ok, err)
	}
}
