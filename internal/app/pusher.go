package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
	"github.com/marcus-coord/marcus/internal/events"
)

const (
	pushInitialInterval = time.Second
	pushMaxInterval     = 30 * time.Second
	pushMaxAttempts     = 8
	pushTick            = 500 * time.Millisecond
)

type pushJob struct {
	taskID   string
	status   domain.Status
	comment  string
	attempts int
	backoff  *backoff.ExponentialBackOff
	nextTry  time.Time
}

// Pusher retries failed board mirrors in the background with capped
// exponential backoff. Jobs are keyed by (task, target status): repeating an
// identical move coalesces, and a newer target for the same task supersedes
// the older one, so the board only ever converges forward.
type Pusher struct {
	board  board.Provider
	events *events.Log
	logger *log.Logger

	mu   sync.Mutex
	jobs map[string]*pushJob // key: taskID
}

// NewPusher builds an idle pusher; Run starts the retry loop.
func NewPusher(provider board.Provider, ev *events.Log, logger *log.Logger) *Pusher {
	return &Pusher{
		board:  provider,
		events: ev,
		logger: logger,
		jobs:   make(map[string]*pushJob),
	}
}

func newPushBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pushInitialInterval
	b.MaxInterval = pushMaxInterval
	b.MaxElapsedTime = 0 // attempts are capped, not elapsed time
	return b
}

// Enqueue schedules a mirror retry for taskID toward status.
func (p *Pusher) Enqueue(taskID string, status domain.Status, comment string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[taskID]; ok && j.status == status {
		// Identical move already queued; keep its backoff, refresh comment.
		if comment != "" {
			j.comment = comment
		}
		return
	}
	bo := newPushBackoff()
	p.jobs[taskID] = &pushJob{
		taskID:  taskID,
		status:  status,
		comment: comment,
		backoff: bo,
		nextTry: time.Now().Add(bo.NextBackOff()),
	}
}

// Has reports whether a retry is queued for taskID.
func (p *Pusher) Has(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[taskID]
	return ok
}

// Pending reports queued retries. Test and monitor helper.
func (p *Pusher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Run retries due jobs until ctx is done.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(pushTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush attempts every job whose backoff window has elapsed.
func (p *Pusher) Flush(ctx context.Context) {
	p.flush(ctx, false)
}

// FlushAll attempts every queued job regardless of schedule. The reconciler
// uses it before a pull so freshly queued mirrors settle instead of parking
// their tasks behind the pending-push guard.
func (p *Pusher) FlushAll(ctx context.Context) {
	p.flush(ctx, true)
}

func (p *Pusher) flush(ctx context.Context, force bool) {
	now := time.Now()
	p.mu.Lock()
	var due []*pushJob
	for _, j := range p.jobs {
		if force || !j.nextTry.After(now) {
			due = append(due, j)
		}
	}
	p.mu.Unlock()

	for _, j := range due {
		p.attempt(ctx, j)
	}
}

func (p *Pusher) attempt(ctx context.Context, j *pushJob) {
	err := p.board.UpdateStatus(ctx, j.taskID, j.status)
	if err == nil && j.comment != "" {
		_ = p.board.AddComment(ctx, j.taskID, j.comment)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.jobs[j.taskID]
	if !ok || current != j {
		return // superseded while in flight
	}
	if err == nil {
		delete(p.jobs, j.taskID)
		p.events.Info("mirror_recovered", j.taskID, "", string(j.status))
		return
	}

	j.attempts++
	if !board.IsRetryable(err) || j.attempts >= pushMaxAttempts {
		delete(p.jobs, j.taskID)
		p.logger.Printf("Push retry %s -> %s abandoned after %d attempts: %v",
			j.taskID, j.status, j.attempts, err)
		p.events.Error("mirror_abandoned", err.Error(), map[string]any{
			"task_id": j.taskID, "target_status": string(j.status),
		})
		return
	}
	j.nextTry = time.Now().Add(j.backoff.NextBackOff())
}
