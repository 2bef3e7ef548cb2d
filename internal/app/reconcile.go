package app

import (
	"context"
	"fmt"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

// RefreshFromBoard pull-reconciles the store against the provider. The board
// is the source of truth for status; the store is the source of truth for
// assignments, which only survive when the board agrees the task is active.
func (c *Coordinator) RefreshFromBoard(ctx context.Context) error {
	// Settle pending pushes first so the pull does not read our own lag.
	c.pusher.FlushAll(ctx)

	external, err := c.board.ListAvailableTasks(ctx)
	if err != nil {
		return board.ToDomain(err, "list_tasks")
	}

	seen := make(map[string]bool, len(external))
	for _, ext := range external {
		seen[ext.ID] = true
		c.reconcileTask(ctx, ext)
	}

	// Tasks we know that no longer show up in the provider's active list
	// were either finished or removed in the UI. Ask about each one.
	snap := c.store.Snapshot()
	for _, t := range snap.Tasks {
		if seen[t.ID] || t.Status == domain.StatusDone {
			continue
		}
		ext, err := c.board.GetTask(ctx, t.ID)
		if err != nil {
			if board.KindOf(err) == board.FailNotFound {
				c.events.Warn("task_vanished", t.ID, "missing on board, keeping internal record")
			}
			continue
		}
		c.reconcileTask(ctx, ext)
	}

	c.events.Info("board_refreshed", "", "", fmt.Sprintf("%d external tasks", len(external)))
	c.notifyAvailable()
	return nil
}

// reconcileTask applies one external record to the store.
func (c *Coordinator) reconcileTask(ctx context.Context, ext domain.Task) {
	internal, ok := c.store.GetTask(ext.ID)
	if !ok {
		if err := c.store.InsertFromBoard(ext); err != nil {
			c.logger.Printf("Reconcile: insert %s failed: %v", ext.ID, err)
			return
		}
		c.events.Info("task_discovered", ext.ID, "", ext.Name)
		return
	}

	// A pending push means the board is behind us on purpose; leave the
	// task alone until the push settles or is abandoned.
	if c.pusher.Has(ext.ID) {
		return
	}

	if ext.Status != internal.Status {
		hadAssignee := internal.AssignedTo
		if err := c.store.ForceStatus(ext.ID, ext.Status); err != nil {
			c.logger.Printf("Reconcile: force %s -> %s failed: %v", ext.ID, ext.Status, err)
			return
		}
		c.events.Info("status_reconciled", ext.ID, "",
			fmt.Sprintf("%s -> %s (board wins)", internal.Status, ext.Status))
		if hadAssignee != "" {
			if after, ok := c.store.GetTask(ext.ID); ok && after.AssignedTo == "" {
				c.events.Warn("assignment_cleared", ext.ID,
					"board moved task away from agent "+hadAssignee)
			}
		}
		return
	}

	// Statuses agree; re-apply an assignee the board lost.
	if internal.AssignedTo != "" && ext.AssignedTo == "" {
		if err := c.board.SetAssignee(ctx, ext.ID, internal.AssignedTo); err != nil {
			c.logger.Printf("Reconcile: set_assignee %s failed: %v", ext.ID, err)
		}
	}
}
