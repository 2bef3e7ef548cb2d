// Package linear adapts a Linear team to the provider contract through the
// GraphQL API. Workflow state names map to internal statuses; Linear's
// numeric priority maps directly, with labels as a fallback.
package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

// Config holds the Linear connection settings.
type Config struct {
	BaseURL  string // default https://api.linear.app
	APIToken string
	TeamID   string
	Columns  board.StatusColumns
	Priority board.PriorityRules
}

// DefaultColumns maps Linear's default workflow state names.
func DefaultColumns() board.StatusColumns {
	return board.StatusColumns{
		domain.StatusTodo:       "Todo",
		domain.StatusInProgress: "In Progress",
		domain.StatusBlocked:    "Blocked",
		domain.StatusDone:       "Done",
	}
}

// Adapter implements board.Provider over Linear's GraphQL API.
type Adapter struct {
	client   *board.Client
	teamID   string
	columns  board.StatusColumns
	priority board.PriorityRules

	stateIDs map[string]string // workflow state name -> id
}

// New builds a Linear adapter.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.linear.app"
	}
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = DefaultColumns()
	}
	return &Adapter{
		client: board.NewClient(base, map[string]string{
			"Authorization": cfg.APIToken,
		}),
		teamID:   cfg.TeamID,
		columns:  columns,
		priority: cfg.Priority,
		stateIDs: make(map[string]string),
	}
}

func (a *Adapter) Name() string { return "linear" }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// query runs a GraphQL operation and decodes data into out.
func (a *Adapter) query(ctx context.Context, op, q string, vars map[string]any, out any) error {
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	err := a.client.DoJSON(ctx, op, http.MethodPost, "/graphql", gqlRequest{Query: q, Variables: vars}, &resp)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return board.NewFailure(board.FailTransient, op, fmt.Errorf("graphql: %s", resp.Errors[0].Message))
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return board.NewFailure(board.FailMalformed, op, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}

type linearIssue struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	DueDate     string  `json:"dueDate"`
	State       struct {
		Name string `json:"name"`
	} `json:"state"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

const issueFields = `id title description priority createdAt updatedAt dueDate
	state { name } labels { nodes { name } }`

func (a *Adapter) normalize(is linearIssue) domain.Task {
	var labels []string
	for _, l := range is.Labels.Nodes {
		labels = append(labels, l.Name)
	}
	status := domain.StatusTodo
	if s, ok := a.columns.StatusFor(is.State.Name); ok {
		status = s
	}
	// Linear priority: 1=urgent 2=high 3=normal 4=low, 0=none.
	priority := domain.PriorityMedium
	switch int(is.Priority) {
	case 1:
		priority = domain.PriorityUrgent
	case 2:
		priority = domain.PriorityHigh
	case 4:
		priority = domain.PriorityLow
	case 0:
		priority = a.priority.PriorityFromLabels(labels)
	}
	t := domain.Task{
		ID:          is.ID,
		Name:        is.Title,
		Description: is.Description,
		Status:      status,
		Priority:    priority,
		Labels:      labels,
	}
	if ts, err := time.Parse(time.RFC3339, is.CreatedAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, is.UpdatedAt); err == nil {
		t.UpdatedAt = ts
	}
	if is.DueDate != "" {
		if ts, err := time.Parse("2006-01-02", is.DueDate); err == nil {
			t.DueDate = &ts
		}
	}
	return t
}

func (a *Adapter) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	var data struct {
		Team struct {
			Issues struct {
				Nodes []linearIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"team"`
	}
	q := fmt.Sprintf(`query($team: String!) {
		team(id: $team) { issues(first: 100) { nodes { %s } } }
	}`, issueFields)
	if err := a.query(ctx, "list_tasks", q, map[string]any{"team": a.teamID}, &data); err != nil {
		return nil, err
	}
	var out []domain.Task
	for _, is := range data.Team.Issues.Nodes {
		t := a.normalize(is)
		if t.Status == domain.StatusDone {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (a *Adapter) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var data struct {
		Issue *linearIssue `json:"issue"`
	}
	q := fmt.Sprintf(`query($id: String!) { issue(id: $id) { %s } }`, issueFields)
	if err := a.query(ctx, "get_task", q, map[string]any{"id": id}, &data); err != nil {
		return domain.Task{}, err
	}
	if data.Issue == nil {
		return domain.Task{}, board.NewFailure(board.FailNotFound, "get_task", fmt.Errorf("issue %s", id))
	}
	return a.normalize(*data.Issue), nil
}

// stateIDFor resolves the workflow state ID mapped to a status.
func (a *Adapter) stateIDFor(ctx context.Context, status domain.Status) (string, error) {
	name := a.columns.ColumnFor(status)
	if id, ok := a.stateIDs[name]; ok {
		return id, nil
	}
	var data struct {
		Team struct {
			States struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	q := `query($team: String!) { team(id: $team) { states { nodes { id name } } } }`
	if err := a.query(ctx, "update_status", q, map[string]any{"team": a.teamID}, &data); err != nil {
		return "", err
	}
	for _, st := range data.Team.States.Nodes {
		a.stateIDs[st.Name] = st.ID
	}
	if id, ok := a.stateIDs[name]; ok {
		return id, nil
	}
	return "", board.NewFailure(board.FailNotFound, "update_status",
		fmt.Errorf("no workflow state named %q", name))
}

func (a *Adapter) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	priority := 3
	switch draft.Priority {
	case domain.PriorityUrgent:
		priority = 1
	case domain.PriorityHigh:
		priority = 2
	case domain.PriorityLow:
		priority = 4
	}
	var data struct {
		IssueCreate struct {
			Success bool        `json:"success"`
			Issue   linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	q := fmt.Sprintf(`mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) { success issue { %s } }
	}`, issueFields)
	input := map[string]any{
		"teamId":      a.teamID,
		"title":       draft.Name,
		"description": draft.Description,
		"priority":    priority,
	}
	if err := a.query(ctx, "create_task", q, map[string]any{"input": input}, &data); err != nil {
		return domain.Task{}, err
	}
	if !data.IssueCreate.Success {
		return domain.Task{}, board.NewFailure(board.FailTransient, "create_task", fmt.Errorf("issueCreate not successful"))
	}
	t := a.normalize(data.IssueCreate.Issue)
	t.Labels = append([]string(nil), draft.Labels...)
	t.EstimatedHours = draft.EstimatedHours
	t.Dependencies = append([]string(nil), draft.Dependencies...)
	return t, nil
}

func (a *Adapter) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	stateID, err := a.stateIDFor(ctx, status)
	if err != nil {
		return err
	}
	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	q := `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	vars := map[string]any{"id": id, "input": map[string]any{"stateId": stateID}}
	if err := a.query(ctx, "update_status", q, vars, &data); err != nil {
		return err
	}
	if !data.IssueUpdate.Success {
		return board.NewFailure(board.FailConflict, "update_status", fmt.Errorf("issueUpdate not successful"))
	}
	return nil
}

func (a *Adapter) AddComment(ctx context.Context, id, text string) error {
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	q := `mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) { success }
	}`
	vars := map[string]any{"input": map[string]any{"issueId": id, "body": text}}
	return a.query(ctx, "add_comment", q, vars, &data)
}

// SetAssignee records the agent via comment: agents are not Linear users.
func (a *Adapter) SetAssignee(ctx context.Context, id, agentID string) error {
	if agentID == "" {
		return a.AddComment(ctx, id, "assignee cleared")
	}
	return a.AddComment(ctx, id, "assigned to agent "+agentID)
}

func (a *Adapter) BoardSummary(ctx context.Context) (board.Summary, error) {
	var data struct {
		Team struct {
			Issues struct {
				Nodes []linearIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"team"`
	}
	q := fmt.Sprintf(`query($team: String!) {
		team(id: $team) { issues(first: 250) { nodes { %s } } }
	}`, issueFields)
	if err := a.query(ctx, "board_summary", q, map[string]any{"team": a.teamID}, &data); err != nil {
		return board.Summary{}, err
	}
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: a.Name()}
	for _, is := range data.Team.Issues.Nodes {
		sum.Counts[a.normalize(is).Status]++
		sum.TotalCards++
	}
	return sum, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	var data struct {
		Viewer struct {
			ID string `json:"id"`
		} `json:"viewer"`
	}
	return a.query(ctx, "ping", `query { viewer { id } }`, nil, &data)
}
