package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/marcus-coord/marcus/internal/domain"
)

// All tool responses are JSON text: enums lowercase, timestamps RFC 3339 UTC.
// Errors come back as an IsError result with a machine-readable kind, never
// as a JSON-RPC failure, so agents can branch on them.

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return isoTime(*t)
}

type taskPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	Labels         []string `json:"labels,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	ActualHours    float64  `json:"actual_hours,omitempty"`
	AssignedTo     string   `json:"assigned_to,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	DueDate        string   `json:"due_date,omitempty"`
}

func toTaskPayload(t domain.Task) taskPayload {
	return taskPayload{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Status:         string(t.Status),
		Priority:       string(t.Priority),
		Labels:         t.Labels,
		Dependencies:   t.Dependencies,
		EstimatedHours: t.EstimatedHours,
		ActualHours:    t.ActualHours,
		AssignedTo:     t.AssignedTo,
		CreatedAt:      isoTime(t.CreatedAt),
		UpdatedAt:      isoTime(t.UpdatedAt),
		DueDate:        isoTimePtr(t.DueDate),
	}
}

type assignmentPayload struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	AgentID      string `json:"agent_id"`
	AssignedAt   string `json:"assigned_at"`
	Instructions string `json:"instructions,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
}

func toAssignmentPayload(a domain.Assignment) assignmentPayload {
	return assignmentPayload{
		ID:           a.ID,
		TaskID:       a.TaskID,
		AgentID:      a.AgentID,
		AssignedAt:   isoTime(a.AssignedAt),
		Instructions: a.Instructions,
		Deadline:     isoTimePtr(a.Deadline),
	}
}

type agentPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Skills         []string `json:"skills,omitempty"`
	Capacity       int      `json:"capacity"`
	CurrentTasks   []string `json:"current_tasks,omitempty"`
	CompletedCount int      `json:"completed_count"`
	LastHeartbeat  string   `json:"last_heartbeat"`
	RegisteredAt   string   `json:"registered_at"`
	Connected      bool     `json:"connected"`
}

func toAgentPayload(a domain.Agent, connected bool) agentPayload {
	return agentPayload{
		ID:             a.ID,
		Name:           a.Name,
		Role:           a.Role,
		Skills:         a.Skills,
		Capacity:       a.Capacity,
		CurrentTasks:   a.CurrentTasks,
		CompletedCount: a.CompletedCount,
		LastHeartbeat:  isoTime(a.LastHeartbeat),
		RegisteredAt:   isoTime(a.RegisteredAt),
		Connected:      connected,
	}
}

type blockerPayload struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	AgentID     string   `json:"agent_id"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	OpenedAt    string   `json:"opened_at"`
	ResolvedAt  string   `json:"resolved_at,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func toBlockerPayload(b domain.Blocker) blockerPayload {
	return blockerPayload{
		ID:          b.ID,
		TaskID:      b.TaskID,
		AgentID:     b.AgentID,
		Description: b.Description,
		Severity:    string(b.Severity),
		OpenedAt:    isoTime(b.OpenedAt),
		ResolvedAt:  isoTimePtr(b.ResolvedAt),
		Suggestions: b.Suggestions,
	}
}

// jsonResult encodes v as the tool's text payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorResult turns a coordinator error into an IsError payload carrying the
// error kind. Deadline expiry maps to the timeout kind regardless of how the
// underlying call failed.
func errorResult(logger *log.Logger, tool string, err error) (*mcp.CallToolResult, error) {
	kind := domain.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	logger.Printf("%s failed (%s): %v", tool, kind, err)
	data, merr := json.Marshal(errorPayload{Error: string(kind), Message: err.Error()})
	if merr != nil {
		return nil, merr
	}
	return mcp.NewToolResultError(string(data)), nil
}

// opCtx bounds one tool call. Every tool handler runs under this deadline so
// a wedged provider cannot hang the agent's turn.
func opCtx(ctx context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return context.WithTimeout(ctx, deadline)
}
