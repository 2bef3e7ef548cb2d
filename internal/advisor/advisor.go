// Package advisor produces task instructions and blocker suggestions. The
// Claude-backed implementation is optional; every call site goes through
// Resilient, which enforces the deadline and falls back to deterministic
// templates, so the coordinator never depends on the model being reachable.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus-coord/marcus/internal/domain"
)

// Advisor is the capability set consulted during assignment and blocking.
type Advisor interface {
	// GenerateTaskInstructions writes working instructions for an agent
	// picking up a task.
	GenerateTaskInstructions(ctx context.Context, task domain.Task, agent domain.Agent) (string, error)
	// SuggestBlockerResolutions proposes next steps for a reported blocker.
	SuggestBlockerResolutions(ctx context.Context, task domain.Task, description string, severity domain.Severity) ([]string, error)
	// ClassifyTaskType buckets a task by its name and labels.
	ClassifyTaskType(ctx context.Context, task domain.Task) (string, error)
}

// Template is the deterministic fallback advisor. It is also the whole
// advisor when AI is disabled in config.
type Template struct{}

func (Template) GenerateTaskInstructions(_ context.Context, task domain.Task, agent domain.Agent) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	fmt.Fprintf(&b, "\nPriority: %s.", task.Priority)
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, " Areas: %s.", strings.Join(task.Labels, ", "))
	}
	if task.EstimatedHours > 0 {
		fmt.Fprintf(&b, " Estimated effort: %.1fh.", task.EstimatedHours)
	}
	b.WriteString("\nReport progress at 25/50/75 percent and on completion.")
	if agent.Role != "" {
		fmt.Fprintf(&b, " Apply your %s perspective.", agent.Role)
	}
	return b.String(), nil
}

func (Template) SuggestBlockerResolutions(_ context.Context, _ domain.Task, _ string, severity domain.Severity) ([]string, error) {
	switch severity {
	case domain.SeverityHigh:
		return []string{
			"escalate to the project manager immediately",
			"check the project documentation for prior decisions",
			"pause dependent work until resolved",
		}, nil
	case domain.SeverityLow:
		return []string{
			"attempt a workaround and note it in the task",
			"check the project documentation",
		}, nil
	default:
		return []string{
			"ask the project manager for clarification",
			"check the project documentation",
			"attempt a workaround and document the tradeoff",
		}, nil
	}
}

func (Template) ClassifyTaskType(_ context.Context, task domain.Task) (string, error) {
	text := strings.ToLower(task.Name + " " + strings.Join(task.Labels, " "))
	switch {
	case containsAny(text, "bug", "fix", "defect", "regression"):
		return "bugfix", nil
	case containsAny(text, "test", "qa", "coverage"):
		return "testing", nil
	case containsAny(text, "doc", "readme", "guide"):
		return "documentation", nil
	case containsAny(text, "deploy", "release", "ci", "pipeline", "infra"):
		return "infrastructure", nil
	case containsAny(text, "design", "spike", "research", "investigate"):
		return "research", nil
	default:
		return "feature", nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
