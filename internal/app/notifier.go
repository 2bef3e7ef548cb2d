package app

import (
	"log"
	"time"

	"github.com/marcus-coord/marcus/internal/store"
)

// NotifyMethod is the MCP notification method pushed to idle agents.
const NotifyMethod = "notifications/tasks_available"

// PushFunc delivers one notification to the named agent's session. Transport
// details (session lookup, channel send) belong to the caller.
type PushFunc func(agentID, method string, params map[string]any) error

const (
	defaultNotifyDebounce = 500 * time.Millisecond
	defaultNotifyPoll     = 30 * time.Second
)

// Notifier tells connected agents with spare capacity when assignable tasks
// exist, so idle agents do not sit on their polling interval. Triggers are
// debounced; a slow poll catches anything a trigger missed.
type Notifier struct {
	store    *store.Store
	registry *SessionRegistry
	push     PushFunc
	logger   *log.Logger

	debounce time.Duration
	poll     time.Duration
	trigger  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifyPoll sets the background poll interval.
func WithNotifyPoll(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.poll = d }
}

// NewNotifier creates a notifier over the store and session registry.
func NewNotifier(st *store.Store, registry *SessionRegistry, push PushFunc, logger *log.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		store:    st,
		registry: registry,
		push:     push,
		logger:   logger,
		debounce: defaultNotifyDebounce,
		poll:     defaultNotifyPoll,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Trigger requests a notification check. Never blocks; back-to-back triggers
// collapse into one check.
func (n *Notifier) Trigger() {
	select {
	case n.trigger <- struct{}{}:
	default:
	}
}

// Start runs the notify loop until Stop is called.
func (n *Notifier) Start() {
	go func() {
		defer close(n.doneCh)
		ticker := time.NewTicker(n.poll)
		defer ticker.Stop()
		for {
			select {
			case <-n.stopCh:
				return
			case <-ticker.C:
				n.CheckOnce()
			case <-n.trigger:
				// Debounce: a burst of completions produces one push.
				timer := time.NewTimer(n.debounce)
				select {
				case <-timer.C:
				case <-n.stopCh:
					timer.Stop()
					return
				}
				n.CheckOnce()
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.doneCh
}

// CheckOnce pushes to every connected agent that has spare capacity, if any
// assignable tasks exist. Returns the number of agents notified.
func (n *Notifier) CheckOnce() int {
	available := len(n.store.AvailableTasks())
	if available == 0 {
		return 0
	}
	notified := 0
	for _, agentID := range n.registry.ConnectedAgents() {
		agent, ok := n.store.GetAgent(agentID)
		if !ok || len(agent.CurrentTasks) >= agent.Capacity {
			continue
		}
		params := map[string]any{"available": available}
		if err := n.push(agentID, NotifyMethod, params); err != nil {
			n.logger.Printf("Notifier: push to %s failed: %v", agentID, err)
			continue
		}
		notified++
	}
	return notified
}
