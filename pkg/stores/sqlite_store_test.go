package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/resource"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteStoreAppliedResourceRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	rec := &engine.AppliedResource{
		ID:           "subnet.app",
		Type:         "subnet",
		ProviderID:   "subnet-0001",
		Inputs:       map[string]any{"vpc_id": "ref://vpc.main/id", "cidr_block": "10.0.1.0/24"},
		Hash:         "abc123",
		Outputs:      map[string]any{"id": "subnet-0001"},
		Dependencies: []resource.ID{"vpc.main"},
		LastRunID:    "run-1",
		LastApplied:  time.Now().UTC().Truncate(time.Second),
	}

	if err := store.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := store.Get("subnet.app")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("record not found after upsert")
	}
	if got.ProviderID != "subnet-0001" || got.Hash != "abc123" || got.LastRunID != "run-1" {
		t.Errorf("got %+v", got)
	}
	if got.Inputs["vpc_id"] != "ref://vpc.main/id" {
		t.Errorf("inputs = %v", got.Inputs)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "vpc.main" {
		t.Errorf("dependencies = %v", got.Dependencies)
	}

	_, ok, err = store.Get("vpc.missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Error("found a record that was never written")
	}
}

func TestSQLiteStoreUpsertReplaces(t *testing.T) {
	store := newTestSQLiteStore(t)

	rec := &engine.AppliedResource{
		ID:          "vpc.main",
		Type:        "vpc",
		ProviderID:  "vpc-0001",
		Inputs:      map[string]any{"cidr_block": "10.0.0.0/16"},
		Hash:        "h1",
		Outputs:     map[string]any{"id": "vpc-0001"},
		LastApplied: time.Now().UTC(),
	}
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec.Hash = "h2"
	rec.LastRunID = "run-2"
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d records, want 1", len(list))
	}
	if list[0].Hash != "h2" || list[0].LastRunID != "run-2" {
		t.Errorf("got %+v", list[0])
	}
}

func TestSQLiteStoreListOrdersByID(t *testing.T) {
	store := newTestSQLiteStore(t)

	for _, id := range []string{"vpc.main", "instance.web[1]", "instance.web[0]"} {
		err := store.Upsert(&engine.AppliedResource{
			ID:          resource.ID(id),
			Type:        "vpc",
			Inputs:      map[string]any{},
			Outputs:     map[string]any{},
			LastApplied: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"instance.web[0]", "instance.web[1]", "vpc.main"}
	if len(list) != len(want) {
		t.Fatalf("got %d records, want %d", len(list), len(want))
	}
	for i := range want {
		if string(list[i].ID) != want[i] {
			t.Errorf("list[%d].ID = %s, want %s", i, list[i].ID, want[i])
		}
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.Upsert(&engine.AppliedResource{
		ID:          "vpc.main",
		Type:        "vpc",
		Inputs:      map[string]any{},
		Outputs:     map[string]any{},
		LastApplied: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Delete("vpc.main"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get("vpc.main"); ok {
		t.Error("record still present after delete")
	}
	// Deleting a missing record is not an error.
	if err := store.Delete("vpc.main"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	run := &RunRecord{
		ID:        "run-1",
		PlanID:    "plan-1",
		Status:    "running",
		StartedAt: started,
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	completed := time.Now().UTC()
	run.Status = "succeeded"
	run.CompletedAt = &completed
	run.Summary = `{"total":2,"succeeded":2}`
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun update: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "succeeded" || got.CompletedAt == nil || got.Summary == "" {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetRun(ctx, "run-missing"); err == nil {
		t.Error("expected error for missing run")
	}

	later := &RunRecord{ID: "run-2", PlanID: "plan-2", Status: "failed", StartedAt: started.Add(30 * time.Second)}
	if err := store.SaveRun(ctx, later); err != nil {
		t.Fatalf("SaveRun run-2: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Errorf("runs not newest-first: %s, %s", runs[0].ID, runs[1].ID)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRuns page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "run-1" {
		t.Errorf("page = %+v", page)
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	events := []*EventRecord{
		{RunID: "run-1", ResourceID: "vpc.main", Type: "step.completed", Level: "info", Message: "create succeeded", Timestamp: time.Now().UTC().Add(-2 * time.Second)},
		{RunID: "run-1", ResourceID: "subnet.app", Type: "step.failed", Level: "error", Message: "create failed", Timestamp: time.Now().UTC().Add(-time.Second)},
		{RunID: "run-2", ResourceID: "vpc.main", Type: "step.started", Level: "info", Message: "create started", Timestamp: time.Now().UTC()},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == 0 {
			t.Error("AppendEvent did not assign an ID")
		}
	}

	all, err := store.ListEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Type != "step.started" {
		t.Errorf("events not newest-first: %+v", all[0])
	}

	runID := "run-1"
	byRun, err := store.ListEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListEvents by run: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("got %d events for run-1, want 2", len(byRun))
	}

	resID := "vpc.main"
	byResource, err := store.ListEvents(ctx, nil, &resID, 10, 0)
	if err != nil {
		t.Fatalf("ListEvents by resource: %v", err)
	}
	if len(byResource) != 2 {
		t.Errorf("got %d events for vpc.main, want 2", len(byResource))
	}
}
