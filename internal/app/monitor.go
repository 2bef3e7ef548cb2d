package app

import (
	"time"

	"github.com/marcus-coord/marcus/internal/domain"
)

const (
	// staleTaskAge marks tasks untouched this long as stale in the view.
	staleTaskAge = 7 * 24 * time.Hour
)

// ProjectStatus computes the project view from a store snapshot. Pure over
// the snapshot: no provider calls. Callers wanting board-fresh numbers run
// RefreshFromBoard first.
func (c *Coordinator) ProjectStatus(staleAgentTTL time.Duration) domain.ProjectView {
	snap := c.store.Snapshot()
	now := snap.TakenAt

	view := domain.ProjectView{
		Counts:      make(map[domain.Status]int),
		Workers:     make(map[string]domain.AgentLoad),
		GeneratedAt: now,
	}
	for _, t := range snap.Tasks {
		view.Counts[t.Status]++
		view.TotalTasks++
		switch t.Status {
		case domain.StatusBlocked:
			view.BlockedTasks = append(view.BlockedTasks, t.ID)
		case domain.StatusDone:
		default:
			if now.Sub(t.UpdatedAt) > staleTaskAge {
				view.StaleTasks = append(view.StaleTasks, t.ID)
			}
			if t.DueDate != nil && t.DueDate.Before(now) {
				view.OverdueTasks = append(view.OverdueTasks, t.ID)
			}
		}
	}
	if view.TotalTasks > 0 {
		view.CompletionPercentage = 100 * float64(view.Counts[domain.StatusDone]) / float64(view.TotalTasks)
	}

	cutoff := now.Add(-staleAgentTTL)
	for _, a := range snap.Agents {
		view.Workers[a.ID] = domain.AgentLoad{
			AgentID:        a.ID,
			TaskIDs:        a.CurrentTasks,
			Capacity:       a.Capacity,
			CompletedCount: a.CompletedCount,
			Stale:          staleAgentTTL > 0 && a.LastHeartbeat.Before(cutoff),
		}
	}
	return view
}
