package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcus-coord/marcus/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New()
}

func mustUpsert(t *testing.T, s *Store, task domain.Task) {
	t.Helper()
	if err := s.UpsertTask(task); err != nil {
		t.Fatalf("upsert %s: %v", task.ID, err)
	}
}

func mustRegister(t *testing.T, s *Store, agent domain.Agent) {
	t.Helper()
	if err := s.RegisterAgent(agent); err != nil {
		t.Fatalf("register %s: %v", agent.ID, err)
	}
}

func TestUpsertTaskDefaults(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "Build API"})

	got, ok := s.GetTask("t1")
	if !ok {
		t.Fatal("task t1 not found")
	}
	if got.Status != domain.StatusTodo {
		t.Errorf("status = %s, want todo", got.Status)
	}
	if got.Priority != domain.PriorityMedium {
		t.Errorf("priority = %s, want medium", got.Priority)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestUpsertTaskValidation(t *testing.T) {
	s := newTestStore(t)
	cases := []struct {
		name string
		task domain.Task
	}{
		{"missing id", domain.Task{Name: "x"}},
		{"missing name", domain.Task{ID: "t1"}},
		{"negative hours", domain.Task{ID: "t1", Name: "x", EstimatedHours: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.UpsertTask(tc.task)
			if !domain.IsKind(err, domain.KindValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, domain.Task{ID: "a", Name: "a"})
	mustUpsert(t, s, domain.Task{ID: "b", Name: "b", Dependencies: []string{"a"}})
	mustUpsert(t, s, domain.Task{ID: "c", Name: "c", Dependencies: []string{"b"}})

	// a -> c would close the loop a <- b <- c <- a
	err := s.UpsertTask(domain.Task{ID: "a", Name: "a", Dependencies: []string{"c"}})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("cycle upsert err = %v, want validation error", err)
	}

	// self-dependency
	err = s.UpsertTask(domain.Task{ID: "d", Name: "d", Dependencies: []string{"d"}})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("self-dep err = %v, want validation error", err)
	}
}

func TestAssignGatesOnDependencies(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 2})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "base"})
	mustUpsert(t, s, domain.Task{ID: "t2", Name: "next", Dependencies: []string{"t1"}})

	if _, err := s.Assign("t2", "a1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("assign t2 before deps done: err = %v, want ErrUnavailable", err)
	}

	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign t1: %v", err)
	}
	if _, err := s.Complete("t1"); err != nil {
		t.Fatalf("complete t1: %v", err)
	}

	if _, err := s.Assign("t2", "a1"); err != nil {
		t.Fatalf("assign t2 after t1 done: %v", err)
	}
}

func TestAssignCapacity(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "one"})
	mustUpsert(t, s, domain.Task{ID: "t2", Name: "two"})

	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign t1: %v", err)
	}
	if _, err := s.Assign("t2", "a1"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("assign over capacity: err = %v, want ErrAtCapacity", err)
	}

	a, _ := s.GetAgent("a1")
	if len(a.CurrentTasks) > a.Capacity {
		t.Fatalf("|current_tasks| = %d exceeds capacity %d", len(a.CurrentTasks), a.Capacity)
	}
}

func TestAssignRaceAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "contested"})
	const n = 50
	for i := 0; i < n; i++ {
		mustRegister(t, s, domain.Agent{ID: fmt.Sprintf("a%d", i), Capacity: 1})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Assign("t1", fmt.Sprintf("a%d", i)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	got, _ := s.GetTask("t1")
	if got.Status != domain.StatusInProgress || got.AssignedTo == "" {
		t.Fatalf("task after race: status=%s assigned_to=%q", got.Status, got.AssignedTo)
	}
}

func TestTransitionLegality(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusTodo, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusBlocked, true},
		{domain.StatusBlocked, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusDone, true},
		{domain.StatusInProgress, domain.StatusTodo, true},
		{domain.StatusBlocked, domain.StatusTodo, true},
		{domain.StatusTodo, domain.StatusDone, false},
		{domain.StatusTodo, domain.StatusBlocked, false},
		{domain.StatusDone, domain.StatusInProgress, false},
		{domain.StatusDone, domain.StatusTodo, false},
		{domain.StatusBlocked, domain.StatusDone, false},
	}
	for _, tc := range cases {
		if got := domain.TransitionAllowed(tc.from, tc.to); got != tc.ok {
			t.Errorf("TransitionAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestSetStatusRejectsIllegalMove(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	err := s.SetStatus("t1", domain.StatusDone)
	if !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("todo->done err = %v, want invalid transition", err)
	}
	// same-status move is a no-op
	if err := s.SetStatus("t1", domain.StatusTodo); err != nil {
		t.Fatalf("todo->todo: %v", err)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	already, err := s.Complete("t1")
	if err != nil || already {
		t.Fatalf("first complete: already=%v err=%v", already, err)
	}
	already, err = s.Complete("t1")
	if err != nil || !already {
		t.Fatalf("second complete: already=%v err=%v", already, err)
	}

	a, _ := s.GetAgent("a1")
	if a.CompletedCount != 1 {
		t.Errorf("completed_count = %d, want 1", a.CompletedCount)
	}
	got, _ := s.GetTask("t1")
	if got.AssignedTo != "" {
		t.Errorf("assigned_to = %q after done, want empty", got.AssignedTo)
	}
	if len(a.CurrentTasks) != 0 {
		t.Errorf("current_tasks = %v after done, want empty", a.CurrentTasks)
	}
}

func TestVerifyOwner(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustRegister(t, s, domain.Agent{ID: "a2", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := s.VerifyOwner("t1", "a1"); err != nil {
		t.Errorf("owner check: %v", err)
	}
	if err := s.VerifyOwner("t1", "a2"); !domain.IsKind(err, domain.KindNotAssigned) {
		t.Errorf("non-owner check err = %v, want not_assigned", err)
	}
	if err := s.VerifyOwner("nope", "a1"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("missing task err = %v, want not_found", err)
	}
}

func TestStaleAgentsAndRelease(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(WithClock(func() time.Time { return clock }))
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	clock = now.Add(10 * time.Minute)
	stale := s.StaleAgents(5 * time.Minute)
	if len(stale) != 1 || stale[0].ID != "a1" {
		t.Fatalf("stale = %v, want [a1]", stale)
	}

	released := s.ReleaseAgentTasks("a1")
	if len(released) != 1 || released[0] != "t1" {
		t.Fatalf("released = %v, want [t1]", released)
	}
	got, _ := s.GetTask("t1")
	if got.Status != domain.StatusTodo || got.AssignedTo != "" {
		t.Fatalf("after release: status=%s assigned_to=%q", got.Status, got.AssignedTo)
	}

	// A fresh agent can now claim it.
	mustRegister(t, s, domain.Agent{ID: "a2", Capacity: 1})
	if _, err := s.Assign("t1", "a2"); err != nil {
		t.Fatalf("reassign after release: %v", err)
	}
}

func TestBlockerLifecycle(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	b := s.OpenBlocker("t1", "a1", "db offline", domain.SeverityHigh, []string{"check docs"})
	if b.ID == "" || b.Resolved() {
		t.Fatalf("blocker = %+v, want open with id", b)
	}

	// re-report replaces suggestions, keeps identity
	b2 := s.OpenBlocker("t1", "a1", "db still offline", domain.SeverityHigh, []string{"ask PM"})
	if b2.ID != b.ID {
		t.Fatalf("second report created new blocker %s, want %s", b2.ID, b.ID)
	}

	resolved, ok := s.ResolveBlocker("t1")
	if !ok || !resolved.Resolved() {
		t.Fatalf("resolve = %+v ok=%v", resolved, ok)
	}
	if _, ok := s.ResolveBlocker("t1"); ok {
		t.Fatal("second resolve should find nothing")
	}
}

func TestAvailableTasksExcludesAssignedAndGated(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 5})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "free"})
	mustUpsert(t, s, domain.Task{ID: "t2", Name: "gated", Dependencies: []string{"t1"}})
	mustUpsert(t, s, domain.Task{ID: "t3", Name: "claimed"})
	if _, err := s.Assign("t3", "a1"); err != nil {
		t.Fatalf("assign t3: %v", err)
	}

	avail := s.AvailableTasks()
	if len(avail) != 1 || avail[0].Task.ID != "t1" {
		t.Fatalf("available = %v, want only t1", avail)
	}
	// t1 unblocks t2
	if avail[0].ReverseDeps != 1 {
		t.Errorf("reverse deps for t1 = %d, want 1", avail[0].ReverseDeps)
	}
}

func TestForceStatusClearsAssignment(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Board moved the card back to a todo-like column: external wins.
	if err := s.ForceStatus("t1", domain.StatusTodo); err != nil {
		t.Fatalf("force: %v", err)
	}
	got, _ := s.GetTask("t1")
	if got.Status != domain.StatusTodo || got.AssignedTo != "" {
		t.Fatalf("after force: status=%s assigned_to=%q", got.Status, got.AssignedTo)
	}
	a, _ := s.GetAgent("a1")
	if len(a.CurrentTasks) != 0 {
		t.Fatalf("agent still holds %v", a.CurrentTasks)
	}
}

func TestRegisterAgentIdempotentUpdate(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, domain.Agent{ID: "a1", Name: "one", Skills: []string{"go"}, Capacity: 1})
	mustUpsert(t, s, domain.Task{ID: "t1", Name: "x"})
	if _, err := s.Assign("t1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Re-register with new fields: assignment retained.
	mustRegister(t, s, domain.Agent{ID: "a1", Name: "renamed", Skills: []string{"go", "sql"}, Capacity: 2})
	a, _ := s.GetAgent("a1")
	if a.Name != "renamed" || a.Capacity != 2 {
		t.Errorf("agent fields not updated: %+v", a)
	}
	if len(a.CurrentTasks) != 1 || a.CurrentTasks[0] != "t1" {
		t.Errorf("current_tasks = %v, want [t1]", a.CurrentTasks)
	}
}
