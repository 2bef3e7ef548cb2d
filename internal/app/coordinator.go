// Package app runs the coordination use cases over the task store: agent
// registration, assignment, lifecycle transitions, progress and blockers,
// reconciliation with the board, and the project monitor.
package app

import (
	"context"
	"log"
	"time"

	"github.com/marcus-coord/marcus/internal/advisor"
	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
	"github.com/marcus-coord/marcus/internal/events"
	"github.com/marcus-coord/marcus/internal/store"
)

const (
	defaultRetryLimit = 3
)

// Coordinator wires the store, the board provider, and the advisor into the
// operations the tool dispatcher exposes. All store mutations happen inside
// store methods; provider and advisor calls run outside any store lock.
type Coordinator struct {
	store   *store.Store
	board   board.Provider
	advisor advisor.Advisor
	events  *events.Log
	logger  *log.Logger
	pusher  *Pusher

	retryLimit int
	generator  Generator
	notifier   Triggerable
}

// Triggerable is the notifier hook. Satisfied by *Notifier; nil disables
// pushes.
type Triggerable interface {
	Trigger()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryLimit overrides the assignment contention retry budget.
func WithRetryLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retryLimit = n
		}
	}
}

// WithGenerator replaces the task generator used by project and feature
// creation.
func WithGenerator(g Generator) Option {
	return func(c *Coordinator) { c.generator = g }
}

// New builds a Coordinator. The push-retry queue starts when Run is called.
func New(st *store.Store, provider board.Provider, adv advisor.Advisor, ev *events.Log, logger *log.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      st,
		board:      provider,
		advisor:    adv,
		events:     ev,
		logger:     logger,
		retryLimit: defaultRetryLimit,
	}
	c.pusher = NewPusher(provider, ev, logger)
	if c.generator == nil {
		c.generator = HeuristicGenerator{}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run starts the background workers (push-retry queue) until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	c.pusher.Run(ctx)
}

// Store exposes the task store for read paths (monitor, tools listing).
func (c *Coordinator) Store() *store.Store { return c.store }

// SetNotifier attaches the idle-agent notifier.
func (c *Coordinator) SetNotifier(n Triggerable) { c.notifier = n }

// notifyAvailable pings the notifier after events that can make tasks
// assignable (completions, releases, new tasks).
func (c *Coordinator) notifyAvailable() {
	if c.notifier != nil {
		c.notifier.Trigger()
	}
}

// RegisterAgent creates or updates an agent. Re-registration with the same
// ID updates fields and keeps existing assignments.
func (c *Coordinator) RegisterAgent(ctx context.Context, agent domain.Agent) error {
	if err := c.store.RegisterAgent(agent); err != nil {
		return err
	}
	c.events.Info("agent_registered", "", agent.ID, agent.Role)
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) error {
	return c.store.Heartbeat(agentID)
}

// BoardName names the configured provider for status payloads.
func (c *Coordinator) BoardName() string { return c.board.Name() }

// PingBoard checks provider reachability within a short deadline.
func (c *Coordinator) PingBoard(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.board.Ping(pctx)
}
