// Package github adapts a GitHub repository's issues to the provider
// contract. Status is carried on `status:` labels because the issues API
// has no columns; priority and skill labels pass through unchanged.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

const statusLabelPrefix = "status:"

// Config holds the GitHub connection settings.
type Config struct {
	BaseURL  string // default https://api.github.com
	APIToken string
	Owner    string
	Repo     string
	Priority board.PriorityRules
}

// Adapter implements board.Provider over the GitHub issues API.
type Adapter struct {
	client   *board.Client
	owner    string
	repo     string
	priority board.PriorityRules
}

// New builds a GitHub adapter.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	return &Adapter{
		client: board.NewClient(base, map[string]string{
			"Authorization":        "Bearer " + cfg.APIToken,
			"X-GitHub-Api-Version": "2022-11-28",
		}),
		owner:    cfg.Owner,
		repo:     cfg.Repo,
		priority: cfg.Priority,
	}
}

func (a *Adapter) Name() string { return "github" }

func (a *Adapter) issuePath(id string) string {
	return fmt.Sprintf("/repos/%s/%s/issues/%s", a.owner, a.repo, id)
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

func (a *Adapter) normalize(is ghIssue) domain.Task {
	var labels []string
	status := domain.StatusTodo
	for _, l := range is.Labels {
		if strings.HasPrefix(l.Name, statusLabelPrefix) {
			if s, err := domain.ParseStatus(strings.TrimPrefix(l.Name, statusLabelPrefix)); err == nil {
				status = s
			}
			continue
		}
		labels = append(labels, l.Name)
	}
	if is.State == "closed" {
		status = domain.StatusDone
	}
	t := domain.Task{
		ID:          strconv.Itoa(is.Number),
		Name:        is.Title,
		Description: is.Body,
		Status:      status,
		Priority:    a.priority.PriorityFromLabels(labels),
		Labels:      labels,
		CreatedAt:   is.CreatedAt,
		UpdatedAt:   is.UpdatedAt,
	}
	if len(is.Assignees) > 0 {
		t.AssignedTo = is.Assignees[0].Login
	}
	return t
}

func (a *Adapter) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	var issues []ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues?state=open&per_page=100", a.owner, a.repo)
	if err := a.client.DoJSON(ctx, "list_tasks", http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(issues))
	for _, is := range issues {
		out = append(out, a.normalize(is))
	}
	return out, nil
}

func (a *Adapter) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var is ghIssue
	if err := a.client.DoJSON(ctx, "get_task", http.MethodGet, a.issuePath(id), nil, &is); err != nil {
		return domain.Task{}, err
	}
	return a.normalize(is), nil
}

func (a *Adapter) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	labels := append([]string(nil), draft.Labels...)
	labels = append(labels, statusLabelPrefix+string(domain.StatusTodo))
	payload := map[string]any{
		"title":  draft.Name,
		"body":   draft.Description,
		"labels": labels,
	}
	var is ghIssue
	err := a.client.DoJSON(ctx, "create_task", http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues", a.owner, a.repo), payload, &is)
	if err != nil {
		return domain.Task{}, err
	}
	t := a.normalize(is)
	t.Priority = draft.Priority
	t.EstimatedHours = draft.EstimatedHours
	t.Dependencies = append([]string(nil), draft.Dependencies...)
	return t, nil
}

func (a *Adapter) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	// Swap the status label; close the issue on done, reopen otherwise.
	t, err := a.GetTask(ctx, id)
	if err != nil {
		return err
	}
	labels := append([]string(nil), t.Labels...)
	if status != domain.StatusDone {
		labels = append(labels, statusLabelPrefix+string(status))
	}
	payload := map[string]any{"labels": labels}
	if status == domain.StatusDone {
		payload["state"] = "closed"
	} else {
		payload["state"] = "open"
	}
	return a.client.DoJSON(ctx, "update_status", http.MethodPatch, a.issuePath(id), payload, nil)
}

func (a *Adapter) AddComment(ctx context.Context, id, text string) error {
	payload := map[string]any{"body": text}
	return a.client.DoJSON(ctx, "add_comment", http.MethodPost, a.issuePath(id)+"/comments", payload, nil)
}

// SetAssignee records the agent via comment: agents are not GitHub users,
// so the native assignees field cannot hold them.
func (a *Adapter) SetAssignee(ctx context.Context, id, agentID string) error {
	if agentID == "" {
		return a.AddComment(ctx, id, "assignee cleared")
	}
	return a.AddComment(ctx, id, "assigned to agent "+agentID)
}

func (a *Adapter) BoardSummary(ctx context.Context) (board.Summary, error) {
	var issues []ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues?state=all&per_page=100", a.owner, a.repo)
	if err := a.client.DoJSON(ctx, "board_summary", http.MethodGet, path, nil, &issues); err != nil {
		return board.Summary{}, err
	}
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: a.Name()}
	for _, is := range issues {
		sum.Counts[a.normalize(is).Status]++
		sum.TotalCards++
	}
	return sum, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	var out any
	return a.client.DoJSON(ctx, "ping", http.MethodGet,
		fmt.Sprintf("/repos/%s/%s", a.owner, a.repo), nil, &out)
}
