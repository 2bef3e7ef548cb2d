package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

func openTestBoard(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCreateAndGet(t *testing.T) {
	a := openTestBoard(t)
	ctx := context.Background()

	created, err := a.CreateTask(ctx, domain.TaskDraft{
		Name:           "wire auth middleware",
		Description:    "JWT validation on all routes",
		Priority:       domain.PriorityHigh,
		Labels:         []string{"backend", "security"},
		Dependencies:   []string{"task-1"},
		EstimatedHours: 3,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}
	if created.Status != domain.StatusTodo {
		t.Fatalf("status = %q, want todo", created.Status)
	}

	got, err := a.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != created.Name || got.Priority != domain.PriorityHigh {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Labels) != 2 || got.Labels[1] != "security" {
		t.Fatalf("labels = %v", got.Labels)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "task-1" {
		t.Fatalf("dependencies = %v", got.Dependencies)
	}
}

func TestGetTaskMissing(t *testing.T) {
	a := openTestBoard(t)
	_, err := a.GetTask(context.Background(), "nope")
	if board.KindOf(err) != board.FailNotFound {
		t.Fatalf("kind = %v, want not_found", board.KindOf(err))
	}
}

func TestCreateTaskEmptyName(t *testing.T) {
	a := openTestBoard(t)
	_, err := a.CreateTask(context.Background(), domain.TaskDraft{})
	if board.KindOf(err) != board.FailMalformed {
		t.Fatalf("kind = %v, want malformed", board.KindOf(err))
	}
}

func TestUpdateStatusAndListing(t *testing.T) {
	a := openTestBoard(t)
	ctx := context.Background()

	first, err := a.CreateTask(ctx, domain.TaskDraft{Name: "one"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := a.CreateTask(ctx, domain.TaskDraft{Name: "two"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := a.UpdateStatus(ctx, first.ID, domain.StatusDone); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	open, err := a.ListAvailableTasks(ctx)
	if err != nil {
		t.Fatalf("ListAvailableTasks: %v", err)
	}
	if len(open) != 1 || open[0].Name != "two" {
		t.Fatalf("open tasks = %+v", open)
	}

	err = a.UpdateStatus(ctx, "missing", domain.StatusDone)
	if board.KindOf(err) != board.FailNotFound {
		t.Fatalf("kind = %v, want not_found", board.KindOf(err))
	}
}

func TestCommentsAndAssignee(t *testing.T) {
	a := openTestBoard(t)
	ctx := context.Background()

	task, err := a.CreateTask(ctx, domain.TaskDraft{Name: "deploy"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := a.AddComment(ctx, task.ID, "starting work"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if err := a.AddComment(ctx, task.ID, "50% done"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	got, err := a.Comments(ctx, task.ID)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(got) != 2 || got[0] != "starting work" {
		t.Fatalf("comments = %v", got)
	}

	if err := a.SetAssignee(ctx, task.ID, "agent-7"); err != nil {
		t.Fatalf("SetAssignee: %v", err)
	}
	after, err := a.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if after.AssignedTo != "agent-7" {
		t.Fatalf("assignee = %q", after.AssignedTo)
	}
}

func TestBoardSummary(t *testing.T) {
	a := openTestBoard(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := a.CreateTask(ctx, domain.TaskDraft{Name: name}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	tasks, _ := a.ListAvailableTasks(ctx)
	if err := a.UpdateStatus(ctx, tasks[0].ID, domain.StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	sum, err := a.BoardSummary(ctx)
	if err != nil {
		t.Fatalf("BoardSummary: %v", err)
	}
	if sum.TotalCards != 3 {
		t.Fatalf("total = %d, want 3", sum.TotalCards)
	}
	if sum.Counts[domain.StatusTodo] != 2 || sum.Counts[domain.StatusInProgress] != 1 {
		t.Fatalf("counts = %v", sum.Counts)
	}
	if sum.Provider != "local" {
		t.Fatalf("provider = %q", sum.Provider)
	}
}

func TestPingAfterClose(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
