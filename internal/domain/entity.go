// Package domain holds coordination entities shared across the engine.
// It has no dependencies on other packages.
package domain

import "time"

// Task is the internal view of a board card. The board provider owns the
// task's existence and assigns its ID; everything else is reconciled.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	Labels         []string   `json:"labels,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	ActualHours    float64    `json:"actual_hours,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the store's critical section.
func (t *Task) Clone() Task {
	c := *t
	c.Labels = append([]string(nil), t.Labels...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return c
}

// TaskDraft carries the fields needed to create a task on the board.
// Dependencies reference external IDs and are resolved after creation
// when drafts are created in batches.
type TaskDraft struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Labels         []string `json:"labels,omitempty"`
	Priority       Priority `json:"priority"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// Agent is a registered autonomous worker.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	Skills         []string  `json:"skills,omitempty"`
	Capacity       int       `json:"capacity"`
	CurrentTasks   []string  `json:"current_tasks,omitempty"`
	CompletedCount int       `json:"completed_count"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// HasSkill reports whether the agent declared the given skill.
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() Agent {
	c := *a
	c.Skills = append([]string(nil), a.Skills...)
	c.CurrentTasks = append([]string(nil), a.CurrentTasks...)
	return c
}

// Assignment binds one task to one agent while the task is in_progress or
// blocked. At most one active assignment exists per task.
type Assignment struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	AgentID      string     `json:"agent_id"`
	AssignedAt   time.Time  `json:"assigned_at"`
	Instructions string     `json:"instructions,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// Blocker records an agent-reported impediment on a task. While unresolved,
// the task stays blocked.
type Blocker struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	AgentID     string     `json:"agent_id"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	OpenedAt    time.Time  `json:"opened_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
}

// Resolved reports whether the blocker has been closed.
func (b *Blocker) Resolved() bool { return b.ResolvedAt != nil }

// AgentLoad summarizes one agent's workload for the project view.
type AgentLoad struct {
	AgentID        string   `json:"agent_id"`
	TaskIDs        []string `json:"task_ids,omitempty"`
	Capacity       int      `json:"capacity"`
	CompletedCount int      `json:"completed_count"`
	Stale          bool     `json:"stale"`
}

// ProjectView is a derived snapshot of project health. It is recomputed from
// the store on demand and never stored as ground truth.
type ProjectView struct {
	Counts               map[Status]int       `json:"counts"`
	TotalTasks           int                  `json:"total_tasks"`
	CompletionPercentage float64              `json:"completion_percentage"`
	StaleTasks           []string             `json:"stale_tasks,omitempty"`
	OverdueTasks         []string             `json:"overdue_tasks,omitempty"`
	BlockedTasks         []string             `json:"blocked_tasks,omitempty"`
	Workers              map[string]AgentLoad `json:"workers,omitempty"`
	GeneratedAt          time.Time            `json:"generated_at"`
}
