package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marcus-coord/marcus/internal/domain"
	"github.com/marcus-coord/marcus/internal/store"
)

// NoTask is the non-error outcome of request_next_task when nothing can be
// assigned. Reason is one of "no_candidates", "at_capacity", "contention".
type NoTask struct {
	Reason string
}

// AssignmentResult carries either an assignment or the reason none was made.
type AssignmentResult struct {
	Assigned bool
	Task     domain.Task
	Assign   domain.Assignment
	NoTask   NoTask
}

const (
	priorityWeight = 10
	skillWeight    = 5
	ageWeight      = 2
	unblockWeight  = 3

	ageHorizonDays = 14
	unblockClamp   = 5
)

// score computes the assignment score for one candidate.
func score(c store.Candidate, agent domain.Agent, now time.Time) float64 {
	p := float64(c.Task.Priority.Score())

	skills := skillScore(c.Task.Labels, agent.Skills)

	ageDays := now.Sub(c.Task.CreatedAt).Hours() / 24
	age := ageDays / ageHorizonDays
	if age > 1 {
		age = 1
	}
	if age < 0 {
		age = 0
	}

	unblock := float64(c.ReverseDeps)
	if unblock > unblockClamp {
		unblock = unblockClamp
	}
	unblock /= unblockClamp

	return priorityWeight*p + skillWeight*skills + ageWeight*age + unblockWeight*unblock
}

// skillScore is the fraction of task labels the agent's skills cover.
// Unlabeled tasks score neutral so they are neither favored nor starved.
func skillScore(labels, skills []string) float64 {
	if len(labels) == 0 {
		return 0.5
	}
	have := make(map[string]bool, len(skills))
	for _, s := range skills {
		have[strings.ToLower(s)] = true
	}
	matched := 0
	for _, l := range labels {
		if have[strings.ToLower(l)] {
			matched++
		}
	}
	return float64(matched) / float64(len(labels))
}

// rankCandidates orders candidates by score descending, breaking ties by
// older created_at then lexicographic ID.
func rankCandidates(candidates []store.Candidate, agent domain.Agent, now time.Time) []store.Candidate {
	type scored struct {
		c store.Candidate
		s float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{c: c, s: score(c, agent, now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].s != ranked[j].s {
			return ranked[i].s > ranked[j].s
		}
		if !ranked[i].c.Task.CreatedAt.Equal(ranked[j].c.Task.CreatedAt) {
			return ranked[i].c.Task.CreatedAt.Before(ranked[j].c.Task.CreatedAt)
		}
		return ranked[i].c.Task.ID < ranked[j].c.Task.ID
	})
	out := make([]store.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.c
	}
	return out
}

// RequestNextTask picks the best available task for the agent, claims it,
// mirrors the claim to the board, and attaches advisor instructions. Mirror
// and advisor failures never roll back the claim.
func (c *Coordinator) RequestNextTask(ctx context.Context, agentID string) (AssignmentResult, error) {
	agent, ok := c.store.GetAgent(agentID)
	if !ok {
		return AssignmentResult{}, domain.NewError(domain.KindNotFound, "agent %s not registered", agentID)
	}
	if len(agent.CurrentTasks) >= agent.Capacity {
		return AssignmentResult{NoTask: NoTask{Reason: "at_capacity"}}, nil
	}

	candidates := c.store.AvailableTasks()
	if len(candidates) == 0 {
		return AssignmentResult{NoTask: NoTask{Reason: "no_candidates"}}, nil
	}
	ranked := rankCandidates(candidates, agent, time.Now().UTC())

	// Claim the top candidate; on a lost race move down the ranking. The
	// claim itself is the only atomic assigning write in the system.
	attempts := c.retryLimit
	if attempts > len(ranked) {
		attempts = len(ranked)
	}
	var asg domain.Assignment
	var task domain.Task
	claimed := false
	for i := 0; i < attempts; i++ {
		var err error
		asg, err = c.store.Assign(ranked[i].Task.ID, agentID)
		if err == nil {
			task = ranked[i].Task
			claimed = true
			break
		}
		switch err {
		case store.ErrAlreadyAssigned, store.ErrUnavailable:
			continue
		case store.ErrAtCapacity:
			return AssignmentResult{NoTask: NoTask{Reason: "at_capacity"}}, nil
		default:
			return AssignmentResult{}, err
		}
	}
	if !claimed {
		c.events.Warn("assignment_contention", "", fmt.Sprintf("agent %s lost %d claim races", agentID, attempts))
		return AssignmentResult{NoTask: NoTask{Reason: "contention"}}, nil
	}

	c.events.Info("task_assigned", task.ID, agentID, "")

	// Mirror outside the store lock. Failures queue for the pusher.
	c.mirrorStatus(ctx, task.ID, domain.StatusInProgress,
		fmt.Sprintf("Assigned to agent %s", agentID))
	if err := c.board.SetAssignee(ctx, task.ID, agentID); err != nil {
		c.logger.Printf("Assign %s: set_assignee mirror failed: %v", task.ID, err)
		c.events.Warn("mirror_failed", task.ID, "set_assignee: "+err.Error())
	}

	// Advisor runs with its own deadline, after the claim, outside locks.
	instructions, err := c.advisor.GenerateTaskInstructions(ctx, task, agent)
	if err != nil {
		c.logger.Printf("Assign %s: advisor failed: %v", task.ID, err)
		instructions = ""
	}
	if instructions != "" {
		c.store.SetInstructions(task.ID, instructions)
		asg.Instructions = instructions
	}

	if current, ok := c.store.GetTask(task.ID); ok {
		task = current
	}
	return AssignmentResult{Assigned: true, Task: task, Assign: asg}, nil
}
