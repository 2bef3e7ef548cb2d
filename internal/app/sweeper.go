package app

import (
	"context"
	"log"
	"time"

	"github.com/marcus-coord/marcus/internal/domain"
)

const (
	// defaultSweepInterval is how often the sweeper looks for stale agents.
	defaultSweepInterval = 60 * time.Second

	// defaultStaleTTL is how long since the last heartbeat before an agent
	// is considered gone and its tasks are released.
	defaultStaleTTL = 15 * time.Minute
)

// Sweeper watches agent liveness and recovers tasks from agents that
// stopped heartbeating. It is the only path by which a task leaves
// in_progress without an agent-driven transition.
type Sweeper struct {
	coord    *Coordinator
	logger   *log.Logger
	interval time.Duration
	staleTTL time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the check interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithStaleTTL sets the heartbeat age after which an agent is stale.
func WithStaleTTL(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.staleTTL = d }
}

// NewSweeper creates a sweeper over the coordinator.
func NewSweeper(coord *Coordinator, logger *log.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		coord:    coord,
		logger:   logger,
		interval: defaultSweepInterval,
		staleTTL: defaultStaleTTL,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StaleTTL returns the configured heartbeat threshold.
func (s *Sweeper) StaleTTL() time.Duration { return s.staleTTL }

// Start runs periodic checks until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.CheckOnce(ctx)
			}
		}
	}()
}

// Stop halts the sweeper and waits for the loop to exit.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// CheckOnce releases the tasks of every stale agent. Returns how many tasks
// were returned to the todo pool.
func (s *Sweeper) CheckOnce(ctx context.Context) int {
	stale := s.coord.store.StaleAgents(s.staleTTL)
	released := 0
	for _, agent := range stale {
		taskIDs := s.coord.store.ReleaseAgentTasks(agent.ID)
		if len(taskIDs) == 0 {
			continue
		}
		s.logger.Printf("Sweeper: agent %s stale (last heartbeat %s), releasing %d task(s)",
			agent.ID, agent.LastHeartbeat.Format(time.RFC3339), len(taskIDs))
		for _, taskID := range taskIDs {
			released++
			s.coord.events.Warn("task_released", taskID, "agent "+agent.ID+" timed out")
			s.coord.mirrorStatus(ctx, taskID, domain.StatusTodo, "reassigned due to agent timeout")
			if err := s.coord.board.SetAssignee(ctx, taskID, ""); err != nil {
				s.logger.Printf("Sweeper: clear assignee %s failed: %v", taskID, err)
			}
		}
	}
	if released > 0 {
		s.coord.notifyAvailable()
	}
	return released
}
