package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kmsend/internal/delivery"
	"kmsend/internal/progress"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := ValidateSchema(s.DB()); err != nil {
		t.Errorf("schema invalid: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestMigrationStatus(t *testing.T) {
	s := openTest(t)
	status, err := s.CheckSchema(context.Background())
	if err != nil {
		t.Fatalf("CheckSchema failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("current version %d, want %d", status.CurrentVersion, status.LatestVersion)
	}
	if len(status.Applied) != len(migrations) {
		t.Errorf("applied %d migrations, want %d", len(status.Applied), len(migrations))
	}
}

func TestCheckSchemaRejectsUnknownVersion(t *testing.T) {
	s := openTest(t)
	if _, err := s.DB().Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		len(migrations)+1, time.Now().UnixNano(), "from a newer release",
	); err != nil {
		t.Fatal(err)
	}
	status, err := s.CheckSchema(context.Background())
	if err == nil {
		t.Fatal("expected an error for a newer schema")
	}
	if status.CurrentVersion != len(migrations)+1 {
		t.Errorf("current version = %d", status.CurrentVersion)
	}
}

func TestCheckSchemaMissingTable(t *testing.T) {
	s := openTest(t)
	if _, err := s.DB().Exec("DROP TABLE outcomes"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CheckSchema(context.Background()); err == nil {
		t.Error("expected an error for a missing table")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	start := time.Now()

	if err := s.BeginRun(ctx, "run-1", "members.xlsx", 3, start); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	outcomes := []delivery.Outcome{
		{Name: "김철수", Delivered: true},
		delivery.Failed("이민호", delivery.CategoryVerification, delivery.ReasonNotFound),
		{Name: "최지우", Delivered: true},
	}
	for i, o := range outcomes {
		if err := s.RecordOutcome(ctx, "run-1", i, o); err != nil {
			t.Fatalf("RecordOutcome failed: %v", err)
		}
	}

	running, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if running.Status != RunRunning || running.Failed != 1 {
		t.Errorf("unexpected running run: %+v", running)
	}

	sum := progress.Summary{Total: 3, Delivered: 2, FailedNames: []string{"이민호"}}
	if err := s.FinishRun(ctx, "run-1", sum, start.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	r, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if r.Status != RunCompleted {
		t.Errorf("status = %s, want completed", r.Status)
	}
	if r.Total != 3 || r.Delivered != 2 || r.Failed != 1 {
		t.Errorf("counts = %d/%d/%d", r.Total, r.Delivered, r.Failed)
	}
	if r.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if len(r.Outcomes) != 3 || r.Outcomes[1].Name != "이민호" || r.Outcomes[1].Reason != delivery.ReasonNotFound {
		t.Errorf("unexpected outcomes: %+v", r.Outcomes)
	}
	if r.Outcomes[1].Category != string(delivery.CategoryVerification) {
		t.Errorf("category = %q", r.Outcomes[1].Category)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTest(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err := s.FinishRun(context.Background(), "missing", progress.Summary{}, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := s.BeginRun(ctx, id, "", 0, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("BeginRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestRecipientHistory(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, id := range []string{"r1", "r2"} {
		if err := s.BeginRun(ctx, id, "", 1, time.Now()); err != nil {
			t.Fatal(err)
		}
		o := delivery.Outcome{Name: "김철수", Delivered: i == 1}
		if err := s.RecordOutcome(ctx, id, 0, o); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := s.RecipientHistory(ctx, "김철수", 0)
	if err != nil {
		t.Fatalf("RecipientHistory failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].RunID != "r2" || !hist[0].Delivered {
		t.Errorf("newest entry first expected, got %+v", hist[0])
	}
}

func TestStaleRunsMarkedAborted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.BeginRun(ctx, "crashed", "", 5, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginRun(ctx, "finished", "", 1, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "finished", progress.Summary{Total: 1, Delivered: 1}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	n, err := s.MarkStaleRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("marked %d runs, want 1", n)
	}
	r, err := s.GetRun(ctx, "crashed")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != RunAborted {
		t.Errorf("status = %s, want aborted", r.Status)
	}
	r, _ = s.GetRun(ctx, "finished")
	if r.Status != RunCompleted {
		t.Errorf("finished run status = %s, want completed", r.Status)
	}
}

// A second handle, as opened by the history and doctor commands while a run
// is in progress, must not touch the live run.
func TestOpenLeavesLiveRunRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	owner, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer owner.Close()
	if err := owner.BeginRun(ctx, "live", "members.xlsx", 3, time.Now()); err != nil {
		t.Fatal(err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	for _, s := range []*Store{reader, owner} {
		r, err := s.GetRun(ctx, "live")
		if err != nil {
			t.Fatal(err)
		}
		if r.Status != RunRunning {
			t.Errorf("status = %s, want running", r.Status)
		}
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := s.BeginRun(ctx, "old", "", 1, old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordOutcome(ctx, "old", 0, delivery.Outcome{Name: "a", Delivered: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "old", progress.Summary{Total: 1, Delivered: 1}, old); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginRun(ctx, "new", "", 1, time.Now()); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteRunsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d runs, want 1", n)
	}
	hist, _ := s.RecipientHistory(ctx, "a", 0)
	if len(hist) != 0 {
		t.Errorf("outcomes should cascade, got %v", hist)
	}
}
