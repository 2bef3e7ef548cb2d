package board

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/marcus-coord/marcus/internal/domain"
)

// RetryConfig tunes the transient-failure retry loop.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is the prescriptive default from the assignment config.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Reliable wraps a Provider with capped exponential backoff on transient
// failures, a single refresh-and-retry on conflicts, malformed-response
// escalation, and a circuit breaker that sheds calls when the vendor is
// hard down.
type Reliable struct {
	inner   Provider
	cfg     RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger

	mu        sync.Mutex
	malformed map[string]bool // op -> seen a malformed response before
}

// NewReliable wraps inner with the retry and breaker policy.
func NewReliable(inner Provider, cfg RetryConfig, logger *log.Logger) *Reliable {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	st := gobreaker.Settings{
		Name:    "board-" + inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("Board breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Reliable{
		inner:     inner,
		cfg:       cfg,
		breaker:   gobreaker.NewCircuitBreaker(st),
		logger:    logger,
		malformed: make(map[string]bool),
	}
}

// do runs op through the breaker and the backoff loop. Non-retryable
// failures stop immediately via backoff.Permanent.
func (r *Reliable) do(ctx context.Context, op string, fn func() error) error {
	call := func() (any, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.cfg.InitialInterval
		b.MaxInterval = r.cfg.MaxInterval
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

		err := backoff.Retry(func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if !r.retryable(op, err) {
				return backoff.Permanent(err)
			}
			r.logger.Printf("Board %s %s: retrying after %v", r.inner.Name(), op, err)
			return err
		}, policy)
		return nil, err
	}
	_, err := r.breaker.Execute(call)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return NewFailure(FailTransient, op, err)
	}
	return err
}

// retryable applies the taxonomy: transient and conflict retry; malformed
// retries once ever per op, then becomes fatal.
func (r *Reliable) retryable(op string, err error) bool {
	kind := KindOf(err)
	if kind == FailMalformed {
		r.mu.Lock()
		repeat := r.malformed[op]
		r.malformed[op] = true
		r.mu.Unlock()
		if repeat {
			r.logger.Printf("Board %s %s: repeated malformed response, giving up", r.inner.Name(), op)
			return false
		}
		return true
	}
	return kind == FailTransient || kind == FailConflict
}

func (r *Reliable) Name() string { return r.inner.Name() }

func (r *Reliable) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	err := r.do(ctx, "list_tasks", func() error {
		var e error
		out, e = r.inner.ListAvailableTasks(ctx)
		return e
	})
	return out, err
}

func (r *Reliable) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var out domain.Task
	err := r.do(ctx, "get_task", func() error {
		var e error
		out, e = r.inner.GetTask(ctx, id)
		return e
	})
	return out, err
}

func (r *Reliable) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	var out domain.Task
	err := r.do(ctx, "create_task", func() error {
		var e error
		out, e = r.inner.CreateTask(ctx, draft)
		return e
	})
	return out, err
}

func (r *Reliable) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return r.do(ctx, "update_status", func() error {
		return r.inner.UpdateStatus(ctx, id, status)
	})
}

func (r *Reliable) AddComment(ctx context.Context, id, text string) error {
	return r.do(ctx, "add_comment", func() error {
		return r.inner.AddComment(ctx, id, text)
	})
}

func (r *Reliable) SetAssignee(ctx context.Context, id, agentID string) error {
	return r.do(ctx, "set_assignee", func() error {
		return r.inner.SetAssignee(ctx, id, agentID)
	})
}

func (r *Reliable) BoardSummary(ctx context.Context) (Summary, error) {
	var out Summary
	err := r.do(ctx, "board_summary", func() error {
		var e error
		out, e = r.inner.BoardSummary(ctx)
		return e
	})
	return out, err
}

func (r *Reliable) Ping(ctx context.Context) error {
	// Health probes bypass the backoff loop: the pool wants a fast answer.
	return r.inner.Ping(ctx)
}
