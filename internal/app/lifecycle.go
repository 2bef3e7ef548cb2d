package app

import (
	"context"

	"github.com/marcus-coord/marcus/internal/domain"
)

// Transition moves a task through the state machine: store first, then the
// board mirror, then the event log. Illegal moves are rejected before any
// side effect. Mirror failures do not roll the internal state back; the
// pusher retries them in the background.
func (c *Coordinator) Transition(ctx context.Context, taskID string, to domain.Status, comment string) error {
	if err := c.store.SetStatus(taskID, to); err != nil {
		return err
	}
	c.events.Info("status_changed", taskID, "", string(to))
	c.mirrorStatus(ctx, taskID, to, comment)
	return nil
}

// mirrorStatus pushes one status move and its explanatory comment to the
// board. A failed move is handed to the push-retry queue keyed by
// (task, target status); a failed comment is logged and dropped, since
// comments are advisory.
func (c *Coordinator) mirrorStatus(ctx context.Context, taskID string, to domain.Status, comment string) {
	if err := c.board.UpdateStatus(ctx, taskID, to); err != nil {
		c.logger.Printf("Mirror %s -> %s failed: %v", taskID, to, err)
		c.events.Warn("mirror_failed", taskID, "update_status: "+err.Error())
		c.pusher.Enqueue(taskID, to, comment)
		return
	}
	if comment == "" {
		return
	}
	if err := c.board.AddComment(ctx, taskID, comment); err != nil {
		c.logger.Printf("Mirror %s: comment failed: %v", taskID, err)
	}
}
