package ledger

import (
	"context"
	"testing"
	"time"
)

func TestRunLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := NewRun("dep_abc", "user-1", "schedule", "report")
	if run.Status != StatusPending {
		t.Fatalf("new run status = %s", run.Status)
	}
	if err := store.Create(ctx, run); err != nil {
		t.Fatal(err)
	}

	started := time.Now().UTC()
	if err := store.MarkRunning(ctx, run.ID, started); err != nil {
		t.Fatal(err)
	}

	err := store.Complete(ctx, run.ID, Outcome{
		Status:      StatusSuccess,
		Output:      "sent",
		ExitCode:    0,
		DurationMS:  120,
		CompletedAt: started.Add(120 * time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSuccess || got.Output != "sent" || got.CompletedAt == nil {
		t.Errorf("completed run = %+v", got)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := NewRun("dep_abc", "user-1", "manual", "report")
	if err := store.Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	outcome := Outcome{Status: StatusFailed, CompletedAt: time.Now()}
	if err := store.Complete(ctx, run.ID, outcome); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, run.ID, outcome); err == nil {
		t.Error("second Complete on a terminal run must fail")
	}
	if err := store.MarkRunning(ctx, run.ID, time.Now()); err == nil {
		t.Error("MarkRunning on a terminal run must fail")
	}
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := NewRun("dep_abc", "user-1", "event", "handler")
	if err := store.Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	err := store.Complete(ctx, run.ID, Outcome{Status: StatusRunning, CompletedAt: time.Now()})
	if err == nil {
		t.Error("Complete accepted a non-terminal status")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, dep := range []string{"dep_a", "dep_a", "dep_b"} {
		run := NewRun(dep, "user-1", "schedule", "fn")
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.List(ctx, Filter{DeploymentID: "dep_a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].StartedAt.Before(runs[1].StartedAt) {
		t.Error("runs not ordered newest first")
	}

	runs, err = store.List(ctx, Filter{Status: StatusPending, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("limit not applied, len = %d", len(runs))
	}
}

func TestSweepStaleFailsAbandonedRuns(t *testing.T) {
	// Rows left pending or running by a dead process must not stay in a
	// transient status forever.
	store := NewMemoryStore()
	ctx := context.Background()

	stale := NewRun("dep_abc", "user-1", "schedule", "report")
	stale.StartedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunning(ctx, stale.ID, stale.StartedAt); err != nil {
		t.Fatal(err)
	}

	fresh := NewRun("dep_abc", "user-1", "schedule", "report")
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	done := NewRun("dep_abc", "user-1", "manual", "report")
	done.StartedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.Create(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, done.ID, Outcome{Status: StatusSuccess, CompletedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	n, err := store.SweepStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	got, _ := store.Get(ctx, stale.ID)
	if got.Status != StatusFailed || got.ErrorDetail != AbandonedDetail || got.CompletedAt == nil {
		t.Errorf("stale run = %+v", got)
	}
	if got, _ := store.Get(ctx, fresh.ID); got.Status != StatusPending {
		t.Errorf("fresh run swept: %+v", got)
	}
	if got, _ := store.Get(ctx, done.ID); got.Status != StatusSuccess {
		t.Errorf("terminal run rewritten: %+v", got)
	}
}

func TestNewRunIDPrefix(t *testing.T) {
	id := NewRunID()
	if len(id) != 4+16 || id[:4] != "run_" {
		t.Errorf("NewRunID() = %q", id)
	}
	if id == NewRunID() {
		t.Error("ids must be unique")
	}
}
