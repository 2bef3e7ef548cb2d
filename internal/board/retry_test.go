package board

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/marcus-coord/marcus/internal/domain"
)

// scripted returns a queued error per call, then succeeds.
type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return []domain.Task{{ID: "t1", Name: "one", Status: domain.StatusTodo}}, nil
}

func (s *scripted) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if err := s.next(); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: id, Status: domain.StatusTodo}, nil
}

func (s *scripted) CreateTask(ctx context.Context, d domain.TaskDraft) (domain.Task, error) {
	if err := s.next(); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: "new", Name: d.Name}, nil
}

func (s *scripted) UpdateStatus(ctx context.Context, id string, st domain.Status) error {
	return s.next()
}

func (s *scripted) AddComment(ctx context.Context, id, text string) error { return s.next() }

func (s *scripted) SetAssignee(ctx context.Context, id, agent string) error { return s.next() }

func (s *scripted) BoardSummary(ctx context.Context) (Summary, error) {
	if err := s.next(); err != nil {
		return Summary{}, err
	}
	return Summary{Provider: "scripted"}, nil
}

func (s *scripted) Ping(ctx context.Context) error { return s.next() }

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestReliableRetriesTransient(t *testing.T) {
	s := &scripted{errs: []error{
		NewFailure(FailTransient, "list_tasks", errors.New("503")),
		NewFailure(FailTransient, "list_tasks", errors.New("503")),
	}}
	r := NewReliable(s, fastRetry(), quiet())

	tasks, err := r.ListAvailableTasks(context.Background())
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if len(tasks) != 1 || s.calls != 3 {
		t.Fatalf("tasks = %d, calls = %d", len(tasks), s.calls)
	}
}

func TestReliableStopsOnPermission(t *testing.T) {
	s := &scripted{errs: []error{
		NewFailure(FailPermission, "update_status", errors.New("403")),
	}}
	r := NewReliable(s, fastRetry(), quiet())

	err := r.UpdateStatus(context.Background(), "t1", domain.StatusDone)
	if KindOf(err) != FailPermission {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if s.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permission)", s.calls)
	}
}

func TestReliableStopsOnNotFound(t *testing.T) {
	s := &scripted{errs: []error{
		NewFailure(FailNotFound, "get_task", errors.New("404")),
	}}
	r := NewReliable(s, fastRetry(), quiet())

	_, err := r.GetTask(context.Background(), "missing")
	if KindOf(err) != FailNotFound || s.calls != 1 {
		t.Fatalf("kind = %v, calls = %d", KindOf(err), s.calls)
	}
}

func TestReliableConflictRetries(t *testing.T) {
	s := &scripted{errs: []error{
		NewFailure(FailConflict, "update_status", errors.New("409")),
	}}
	r := NewReliable(s, fastRetry(), quiet())

	if err := r.UpdateStatus(context.Background(), "t1", domain.StatusDone); err != nil {
		t.Fatalf("conflict should retry then succeed: %v", err)
	}
	if s.calls != 2 {
		t.Fatalf("calls = %d, want 2", s.calls)
	}
}

func TestReliableMalformedOnceThenFatal(t *testing.T) {
	// First malformed response on an op retries; a later one fails fast.
	s := &scripted{errs: []error{
		NewFailure(FailMalformed, "list_tasks", errors.New("bad json")),
	}}
	r := NewReliable(s, fastRetry(), quiet())

	if _, err := r.ListAvailableTasks(context.Background()); err != nil {
		t.Fatalf("first malformed should retry and recover: %v", err)
	}

	s.errs = []error{NewFailure(FailMalformed, "list_tasks", errors.New("bad json again"))}
	calls := s.calls
	_, err := r.ListAvailableTasks(context.Background())
	if KindOf(err) != FailMalformed {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if s.calls != calls+1 {
		t.Fatalf("repeat malformed should not retry: %d extra calls", s.calls-calls)
	}
}

func TestReliableGivesUpAfterBudget(t *testing.T) {
	var errs []error
	for i := 0; i < 10; i++ {
		errs = append(errs, NewFailure(FailTransient, "add_comment", errors.New("down")))
	}
	s := &scripted{errs: errs}
	r := NewReliable(s, fastRetry(), quiet())

	err := r.AddComment(context.Background(), "t1", "hello")
	if err == nil {
		t.Fatal("expected failure after retry budget")
	}
	if s.calls != 4 {
		t.Fatalf("calls = %d, want MaxAttempts (4)", s.calls)
	}
}

func TestBreakerOpensAndSheds(t *testing.T) {
	var errs []error
	for i := 0; i < 40; i++ {
		errs = append(errs, NewFailure(FailPermission, "ping-op", errors.New("403")))
	}
	s := &scripted{errs: errs}
	r := NewReliable(s, fastRetry(), quiet())

	// Permission failures do not retry but do count against the breaker.
	for i := 0; i < 5; i++ {
		_ = r.AddComment(context.Background(), "t1", "x")
	}
	calls := s.calls
	err := r.AddComment(context.Background(), "t1", "x")
	if err == nil {
		t.Fatal("expected shed call")
	}
	if KindOf(err) != FailTransient {
		t.Fatalf("open breaker should surface transient, got %v", KindOf(err))
	}
	if s.calls != calls {
		t.Fatal("open breaker must not reach the provider")
	}
}

func TestPoolServesAndTracksHealth(t *testing.T) {
	s := &scripted{}
	p := NewPool(s, PoolConfig{MinConns: 1, MaxConns: 2, RatePerSecond: 1000}, quiet())

	if _, err := p.ListAvailableTasks(context.Background()); err != nil {
		t.Fatalf("pooled call: %v", err)
	}
	healthy, _ := p.Healthy()
	if !healthy {
		t.Fatal("pool starts healthy")
	}
}

func TestPoolRespectsContext(t *testing.T) {
	s := &scripted{}
	p := NewPool(s, PoolConfig{MinConns: 1, MaxConns: 1, RatePerSecond: 0.001}, quiet())

	// Exhaust the burst, then a cancelled context must fail with a timeout.
	_, _ = p.ListAvailableTasks(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.ListAvailableTasks(ctx)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("kind = %v, want timeout", domain.KindOf(err))
	}
}
