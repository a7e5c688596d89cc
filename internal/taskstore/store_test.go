package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

func newValidTask(t *testing.T, id string, createdAt time.Time) *task.Task {
	t.Helper()
	tk, err := task.NewTask(id, id, task.KindDurationOnly, 30, createdAt)
	if err != nil {
		t.Fatalf("NewTask(%s): %v", id, err)
	}
	return tk
}

func TestUpsertRejectsInvalidTask(t *testing.T) {
	s := NewMemoryStore()
	bad := &task.Task{ID: "x", Kind: task.KindDurationOnly, RequiredMinutes: 0}
	if err := s.Upsert(context.Background(), bad); err == nil {
		t.Fatal("expected Upsert to reject an invalid task")
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newValidTask(t, "t1", time.Now())
	if err := s.Upsert(ctx, tk); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("got ID = %s, want t1", got.ID)
	}
}

func TestGetCopiesNotAliasesStoredTask(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newValidTask(t, "t1", time.Now())
	s.Upsert(ctx, tk)

	got, _ := s.Get(ctx, "t1")
	got.Title = "mutated"

	got2, _ := s.Get(ctx, "t1")
	if got2.Title == "mutated" {
		t.Fatal("Get must return a copy; mutating the result leaked into the store")
	}
}

func TestGetUnknownIDErrors(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown task id")
	}
}

func TestDeleteRemovesTask(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk := newValidTask(t, "t1", time.Now())
	s.Upsert(ctx, tk)
	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "t1"); err == nil {
		t.Fatal("expected Get to fail after Delete")
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Delete(context.Background(), "ghost"); err != nil {
		t.Fatalf("Delete of unknown id should be a no-op, got: %v", err)
	}
}

func TestListOrderedByCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.Upsert(ctx, newValidTask(t, "later", now.Add(time.Hour)))
	s.Upsert(ctx, newValidTask(t, "earlier", now))

	out, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 || out[0].ID != "earlier" || out[1].ID != "later" {
		t.Fatalf("List not ordered by CreatedAt: %+v", out)
	}
}

func TestListByStateFiltersCorrectly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ready := newValidTask(t, "ready1", time.Now())
	running := newValidTask(t, "running1", time.Now())
	running.Transition(task.StateRunning, time.Now())
	s.Upsert(ctx, ready)
	s.Upsert(ctx, running)

	out, err := s.ListByState(ctx, task.StateRunning)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(out) != 1 || out[0].ID != "running1" {
		t.Fatalf("expected only running1, got %+v", out)
	}
}

func TestListBySourceFiltersCorrectly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := newValidTask(t, "a", time.Now())
	a.SourceService = "calendar"
	a.SourceExternalID = "ext-1"
	b := newValidTask(t, "b", time.Now())
	s.Upsert(ctx, a)
	s.Upsert(ctx, b)

	out, err := s.ListBySource(ctx, "calendar")
	if err != nil {
		t.Fatalf("ListBySource: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only a, got %+v", out)
	}
}

func TestListChildrenOrderedBySegmentOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c2 := newValidTask(t, "c2", time.Now())
	c2.ParentTaskID = "parent"
	c2.SegmentOrder = 2
	c1 := newValidTask(t, "c1", time.Now())
	c1.ParentTaskID = "parent"
	c1.SegmentOrder = 1
	unrelated := newValidTask(t, "other", time.Now())
	s.Upsert(ctx, c2)
	s.Upsert(ctx, c1)
	s.Upsert(ctx, unrelated)

	out, err := s.ListChildren(ctx, "parent")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(out) != 2 || out[0].ID != "c1" || out[1].ID != "c2" {
		t.Fatalf("expected [c1, c2] ordered by SegmentOrder, got %+v", out)
	}
}
