package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus-coord/marcus/internal/advisor"
	"github.com/marcus-coord/marcus/internal/domain"
)

// ProgressResult reports what a progress update did.
type ProgressResult struct {
	Acknowledged bool
	NewStatus    domain.Status
}

// ReportProgress ingests an agent's progress update. Completion (status
// "completed" or 100 percent) drives in_progress -> done; anything else is
// a comment-only update. Already-done tasks acknowledge idempotently.
func (c *Coordinator) ReportProgress(ctx context.Context, agentID, taskID, status string, percent float64, message string, hours float64) (ProgressResult, error) {
	task, ok := c.store.GetTask(taskID)
	if !ok {
		return ProgressResult{}, domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if task.Status == domain.StatusDone && (status == "completed" || percent >= 100) {
		// Duplicate completion report.
		return ProgressResult{Acknowledged: true, NewStatus: domain.StatusDone}, nil
	}
	if err := c.store.VerifyOwner(taskID, agentID); err != nil {
		return ProgressResult{}, err
	}
	defer func() { _ = c.store.Heartbeat(agentID) }()

	if status == "completed" || percent >= 100 {
		already, err := c.store.Complete(taskID)
		if err != nil {
			return ProgressResult{}, err
		}
		if !already {
			c.events.Info("task_completed", taskID, agentID, message)
			comment := "Completed"
			if message != "" {
				comment = "Completed: " + message
			}
			c.mirrorStatus(ctx, taskID, domain.StatusDone, comment)
			c.notifyAvailable()
		}
		if hours > 0 {
			c.store.RecordHours(taskID, hours)
		}
		return ProgressResult{Acknowledged: true, NewStatus: domain.StatusDone}, nil
	}

	c.store.Touch(taskID)
	if hours > 0 {
		c.store.RecordHours(taskID, hours)
	}
	comment := fmt.Sprintf("%.0f%%", percent)
	if message != "" {
		comment += " " + message
	}
	if err := c.board.AddComment(ctx, taskID, comment); err != nil {
		c.logger.Printf("Progress %s: comment failed: %v", taskID, err)
	}
	c.events.Info("progress_reported", taskID, agentID, comment)
	return ProgressResult{Acknowledged: true, NewStatus: task.Status}, nil
}

// BlockerResult carries the recorded blocker and its suggestions.
type BlockerResult struct {
	Blocker     domain.Blocker
	Suggestions []string
}

// ReportBlocker marks the task blocked, asks the advisor for resolutions,
// records the blocker, and mirrors a structured comment to the board.
func (c *Coordinator) ReportBlocker(ctx context.Context, agentID, taskID, description string, severity domain.Severity) (BlockerResult, error) {
	if err := c.store.VerifyOwner(taskID, agentID); err != nil {
		return BlockerResult{}, err
	}
	task, _ := c.store.GetTask(taskID)

	if task.Status != domain.StatusBlocked {
		if err := c.store.SetStatus(taskID, domain.StatusBlocked); err != nil {
			return BlockerResult{}, err
		}
		c.events.Info("status_changed", taskID, agentID, string(domain.StatusBlocked))
	}
	_ = c.store.Heartbeat(agentID)

	// Advisor runs outside any store lock, bounded by its own deadline; the
	// resilient wrapper guarantees a suggestion list either way.
	suggestions, err := c.advisor.SuggestBlockerResolutions(ctx, task, description, severity)
	if err != nil || len(suggestions) == 0 {
		suggestions, _ = advisor.Template{}.SuggestBlockerResolutions(ctx, task, description, severity)
	}

	blocker := c.store.OpenBlocker(taskID, agentID, description, severity, suggestions)
	c.events.Warn("blocker_reported", taskID, fmt.Sprintf("%s severity: %s", severity, description))

	comment := fmt.Sprintf("BLOCKED (%s): %s\nSuggestions:\n- %s",
		severity, description, strings.Join(suggestions, "\n- "))
	c.mirrorStatus(ctx, taskID, domain.StatusBlocked, comment)

	return BlockerResult{Blocker: blocker, Suggestions: suggestions}, nil
}

// ResolveBlocker closes the open blocker and returns the task to work.
func (c *Coordinator) ResolveBlocker(ctx context.Context, taskID string) (domain.Blocker, error) {
	task, ok := c.store.GetTask(taskID)
	if !ok {
		return domain.Blocker{}, domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if task.Status != domain.StatusBlocked {
		return domain.Blocker{}, domain.NewError(domain.KindInvalidTransition,
			"task %s is %s, not blocked", taskID, task.Status)
	}
	if err := c.store.SetStatus(taskID, domain.StatusInProgress); err != nil {
		return domain.Blocker{}, err
	}
	blocker, _ := c.store.ResolveBlocker(taskID)
	c.events.Info("blocker_resolved", taskID, blocker.AgentID, "")
	c.mirrorStatus(ctx, taskID, domain.StatusInProgress, "Blocker resolved, resuming work")
	return blocker, nil
}
