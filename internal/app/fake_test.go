package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
	"github.com/marcus-coord/marcus/internal/events"
	"github.com/marcus-coord/marcus/internal/store"
)

// fakeBoard is an in-memory provider with failure injection.
type fakeBoard struct {
	mu         sync.Mutex
	tasks      map[string]domain.Task
	comments   map[string][]string
	assignees  map[string]string
	seq        int
	failUpdate int // upcoming UpdateStatus calls that fail transiently
	failList   int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		tasks:     make(map[string]domain.Task),
		comments:  make(map[string][]string),
		assignees: make(map[string]string),
	}
}

func (f *fakeBoard) seed(t domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

func (f *fakeBoard) status(id string) domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].Status
}

func (f *fakeBoard) Name() string { return "fake" }

func (f *fakeBoard) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList > 0 {
		f.failList--
		return nil, board.NewFailure(board.FailTransient, "list_tasks", errors.New("injected"))
	}
	var out []domain.Task
	for _, t := range f.tasks {
		if t.Status != domain.StatusDone {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBoard) GetTask(ctx context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, board.NewFailure(board.FailNotFound, "get_task", errors.New(id))
	}
	return t, nil
}

func (f *fakeBoard) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := domain.Task{
		ID:             fmt.Sprintf("card-%d", f.seq),
		Name:           draft.Name,
		Description:    draft.Description,
		Status:         domain.StatusTodo,
		Priority:       draft.Priority,
		Labels:         draft.Labels,
		EstimatedHours: draft.EstimatedHours,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeBoard) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate > 0 {
		f.failUpdate--
		return board.NewFailure(board.FailTransient, "update_status", errors.New("injected blip"))
	}
	t, ok := f.tasks[id]
	if !ok {
		return board.NewFailure(board.FailNotFound, "update_status", errors.New(id))
	}
	t.Status = status
	f.tasks[id] = t
	return nil
}

func (f *fakeBoard) AddComment(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[id] = append(f.comments[id], text)
	return nil
}

func (f *fakeBoard) SetAssignee(ctx context.Context, id, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignees[id] = agentID
	if t, ok := f.tasks[id]; ok {
		t.AssignedTo = agentID
		f.tasks[id] = t
	}
	return nil
}

func (f *fakeBoard) BoardSummary(ctx context.Context) (board.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: "fake"}
	for _, t := range f.tasks {
		sum.Counts[t.Status]++
		sum.TotalCards++
	}
	return sum, nil
}

func (f *fakeBoard) Ping(ctx context.Context) error { return nil }

// fakeAdvisor returns canned answers.
type fakeAdvisor struct{}

func (fakeAdvisor) GenerateTaskInstructions(_ context.Context, task domain.Task, _ domain.Agent) (string, error) {
	return "instructions for " + task.Name, nil
}

func (fakeAdvisor) SuggestBlockerResolutions(context.Context, domain.Task, string, domain.Severity) ([]string, error) {
	return []string{"restart the database", "check connection string"}, nil
}

func (fakeAdvisor) ClassifyTaskType(context.Context, domain.Task) (string, error) {
	return "feature", nil
}

func testEnv() (*Coordinator, *store.Store, *fakeBoard) {
	st := store.New()
	fb := newFakeBoard()
	ev, _ := events.New("", events.LevelDebug, log.New(io.Discard, "", 0))
	c := New(st, fb, fakeAdvisor{}, ev, log.New(io.Discard, "", 0))
	return c, st, fb
}

// seedTask puts a task in both the store and the fake board.
func seedTask(st *store.Store, fb *fakeBoard, t domain.Task) {
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if err := st.UpsertTask(t); err != nil {
		panic(err)
	}
	fb.seed(t)
}
