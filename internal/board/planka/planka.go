// Package planka adapts a Planka kanban board to the provider contract.
// Cards live in lists; the list a card sits in carries its status. Planka
// has no native priority field, so priority rides on card labels.
package planka

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

// Config holds the Planka connection settings.
type Config struct {
	BaseURL  string
	APIToken string
	BoardID  string
	Columns  board.StatusColumns
	Priority board.PriorityRules
}

// DefaultColumns is the list-name mapping used unless overridden in config.
func DefaultColumns() board.StatusColumns {
	return board.StatusColumns{
		domain.StatusTodo:       "To Do",
		domain.StatusInProgress: "In Progress",
		domain.StatusBlocked:    "Blocked",
		domain.StatusDone:       "Done",
	}
}

// Adapter implements board.Provider against the Planka REST API.
type Adapter struct {
	client   *board.Client
	boardID  string
	columns  board.StatusColumns
	priority board.PriorityRules

	// listIDs caches list-name -> list-ID resolution per board fetch.
	listIDs map[string]string
}

// New builds a Planka adapter.
func New(cfg Config) *Adapter {
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = DefaultColumns()
	}
	return &Adapter{
		client: board.NewClient(cfg.BaseURL, map[string]string{
			"Authorization": "Bearer " + cfg.APIToken,
		}),
		boardID:  cfg.BoardID,
		columns:  columns,
		priority: cfg.Priority,
		listIDs:  make(map[string]string),
	}
}

func (a *Adapter) Name() string { return "planka" }

// Planka wire shapes (subset).
type plankaBoard struct {
	Included struct {
		Lists []plankaList `json:"lists"`
		Cards []plankaCard `json:"cards"`
	} `json:"included"`
}

type plankaList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type plankaCard struct {
	ID          string   `json:"id"`
	ListID      string   `json:"listId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	Labels      []string `json:"labels"`
}

type plankaCardResponse struct {
	Item plankaCard `json:"item"`
}

func (a *Adapter) fetchBoard(ctx context.Context) (*plankaBoard, error) {
	var b plankaBoard
	err := a.client.DoJSON(ctx, "list_tasks", http.MethodGet,
		fmt.Sprintf("/api/boards/%s", a.boardID), nil, &b)
	if err != nil {
		return nil, err
	}
	a.listIDs = make(map[string]string, len(b.Included.Lists))
	for _, l := range b.Included.Lists {
		a.listIDs[strings.ToLower(l.Name)] = l.ID
	}
	return &b, nil
}

func (a *Adapter) normalize(c plankaCard, lists []plankaList) domain.Task {
	t := domain.Task{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Status:      domain.StatusTodo,
		Priority:    a.priority.PriorityFromLabels(c.Labels),
		Labels:      append([]string(nil), c.Labels...),
	}
	for _, l := range lists {
		if l.ID == c.ListID {
			if s, ok := a.columns.StatusFor(l.Name); ok {
				t.Status = s
			}
			break
		}
	}
	if ts, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, c.UpdatedAt); err == nil {
		t.UpdatedAt = ts
	}
	if c.DueDate != "" {
		if ts, err := time.Parse(time.RFC3339, c.DueDate); err == nil {
			t.DueDate = &ts
		}
	}
	return t
}

func (a *Adapter) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	b, err := a.fetchBoard(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Task
	for _, c := range b.Included.Cards {
		t := a.normalize(c, b.Included.Lists)
		if t.Status == domain.StatusDone {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (a *Adapter) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var resp plankaCardResponse
	err := a.client.DoJSON(ctx, "get_task", http.MethodGet, "/api/cards/"+id, nil, &resp)
	if err != nil {
		return domain.Task{}, err
	}
	// Card payloads do not embed lists; fetch the board for the mapping.
	b, err := a.fetchBoard(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	return a.normalize(resp.Item, b.Included.Lists), nil
}

// listIDFor resolves the Planka list for an internal status, fetching the
// board when the cache is cold.
func (a *Adapter) listIDFor(ctx context.Context, status domain.Status) (string, error) {
	name := a.columns.ColumnFor(status)
	if id, ok := a.listIDs[strings.ToLower(name)]; ok {
		return id, nil
	}
	if _, err := a.fetchBoard(ctx); err != nil {
		return "", err
	}
	id, ok := a.listIDs[strings.ToLower(name)]
	if !ok {
		return "", board.NewFailure(board.FailNotFound, "update_status",
			fmt.Errorf("no list named %q on board %s", name, a.boardID))
	}
	return id, nil
}

func (a *Adapter) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	listID, err := a.listIDFor(ctx, domain.StatusTodo)
	if err != nil {
		return domain.Task{}, err
	}
	payload := map[string]any{
		"name":        draft.Name,
		"description": draft.Description,
		"position":    65535,
	}
	var resp plankaCardResponse
	err = a.client.DoJSON(ctx, "create_task", http.MethodPost,
		fmt.Sprintf("/api/lists/%s/cards", listID), payload, &resp)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:             resp.Item.ID,
		Name:           draft.Name,
		Description:    draft.Description,
		Status:         domain.StatusTodo,
		Priority:       draft.Priority,
		Labels:         append([]string(nil), draft.Labels...),
		EstimatedHours: draft.EstimatedHours,
		Dependencies:   append([]string(nil), draft.Dependencies...),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	// Planka cards have no structured estimate or dependency fields;
	// record them as a comment so the data survives on the board.
	if draft.EstimatedHours > 0 || len(draft.Dependencies) > 0 {
		_ = a.AddComment(ctx, t.ID, fmt.Sprintf("estimate: %.1fh, depends on: %s",
			draft.EstimatedHours, strings.Join(draft.Dependencies, ", ")))
	}
	return t, nil
}

func (a *Adapter) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	listID, err := a.listIDFor(ctx, status)
	if err != nil {
		return err
	}
	payload := map[string]any{"listId": listID}
	return a.client.DoJSON(ctx, "update_status", http.MethodPatch, "/api/cards/"+id, payload, nil)
}

func (a *Adapter) AddComment(ctx context.Context, id, text string) error {
	payload := map[string]any{"text": text}
	return a.client.DoJSON(ctx, "add_comment", http.MethodPost,
		fmt.Sprintf("/api/cards/%s/comment-actions", id), payload, nil)
}

// SetAssignee records the agent via comment: Planka memberships are board
// users, and agents are not board users.
func (a *Adapter) SetAssignee(ctx context.Context, id, agentID string) error {
	if agentID == "" {
		return a.AddComment(ctx, id, "assignee cleared")
	}
	return a.AddComment(ctx, id, "assigned to agent "+agentID)
}

func (a *Adapter) BoardSummary(ctx context.Context) (board.Summary, error) {
	b, err := a.fetchBoard(ctx)
	if err != nil {
		return board.Summary{}, err
	}
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: a.Name()}
	for _, c := range b.Included.Cards {
		t := a.normalize(c, b.Included.Lists)
		sum.Counts[t.Status]++
		sum.TotalCards++
	}
	return sum, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	var out any
	return a.client.DoJSON(ctx, "ping", http.MethodGet, fmt.Sprintf("/api/boards/%s", a.boardID), nil, &out)
}
