// Package local is a sqlite-backed board provider for development and
// offline runs. It keeps the full provider contract (statuses, comments,
// assignees, summaries) in a single database file, so the coordinator can
// be exercised end to end without a vendor account.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'todo',
	priority TEXT NOT NULL DEFAULT 'medium',
	labels TEXT NOT NULL DEFAULT '[]',
	dependencies TEXT NOT NULL DEFAULT '[]',
	estimated_hours REAL NOT NULL DEFAULT 0,
	assignee TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	due_date TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (card_id) REFERENCES cards(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_status ON cards(status);
`

// Adapter implements board.Provider over a local SQLite file.
type Adapter struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the local board at path.
func New(path string) (*Adapter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("local board mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("local board open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("local board schema: %w", err)
	}
	return &Adapter{db: db, now: time.Now}, nil
}

// Close releases the database.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) Name() string { return "local" }

const cardCols = "id, name, description, status, priority, labels, dependencies, estimated_hours, assignee, created_at, updated_at, due_date"

func scanCard(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var status, priority, labels, deps, createdAt, updatedAt, dueDate string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &status, &priority,
		&labels, &deps, &t.EstimatedHours, &t.AssignedTo, &createdAt, &updatedAt, &dueDate)
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return domain.Task{}, fmt.Errorf("card %s: labels: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return domain.Task{}, fmt.Errorf("card %s: dependencies: %w", t.ID, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	if dueDate != "" {
		if ts, err := time.Parse(time.RFC3339Nano, dueDate); err == nil {
			t.DueDate = &ts
		}
	}
	return t, nil
}

func (a *Adapter) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT "+cardCols+" FROM cards WHERE status != 'done' ORDER BY created_at")
	if err != nil {
		return nil, board.NewFailure(board.FailTransient, "list_tasks", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanCard(rows)
		if err != nil {
			return nil, board.NewFailure(board.FailMalformed, "list_tasks", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (a *Adapter) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := a.db.QueryRowContext(ctx, "SELECT "+cardCols+" FROM cards WHERE id = ?", id)
	t, err := scanCard(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, board.NewFailure(board.FailNotFound, "get_task", fmt.Errorf("card %s", id))
	}
	if err != nil {
		return domain.Task{}, board.NewFailure(board.FailTransient, "get_task", err)
	}
	return t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if draft.Name == "" {
		return domain.Task{}, board.NewFailure(board.FailMalformed, "create_task", fmt.Errorf("draft name is empty"))
	}
	priority := draft.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	now := a.now().UTC()
	t := domain.Task{
		ID:             uuid.NewString(),
		Name:           draft.Name,
		Description:    draft.Description,
		Status:         domain.StatusTodo,
		Priority:       priority,
		Labels:         append([]string(nil), draft.Labels...),
		Dependencies:   append([]string(nil), draft.Dependencies...),
		EstimatedHours: draft.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	labels, _ := json.Marshal(t.Labels)
	deps, _ := json.Marshal(t.Dependencies)
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO cards ("+cardCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.Name, t.Description, string(t.Status), string(t.Priority),
		string(labels), string(deps), t.EstimatedHours, "",
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), "")
	if err != nil {
		return domain.Task{}, board.NewFailure(board.FailTransient, "create_task", err)
	}
	return t, nil
}

func (a *Adapter) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := a.db.ExecContext(ctx,
		"UPDATE cards SET status = ?, updated_at = ? WHERE id = ?",
		string(status), a.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return board.NewFailure(board.FailTransient, "update_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return board.NewFailure(board.FailNotFound, "update_status", fmt.Errorf("card %s", id))
	}
	return nil
}

func (a *Adapter) AddComment(ctx context.Context, id, text string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO comments (card_id, body, created_at) VALUES (?, ?, ?)",
		id, text, a.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return board.NewFailure(board.FailTransient, "add_comment", err)
	}
	return nil
}

func (a *Adapter) SetAssignee(ctx context.Context, id, agentID string) error {
	res, err := a.db.ExecContext(ctx,
		"UPDATE cards SET assignee = ?, updated_at = ? WHERE id = ?",
		agentID, a.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return board.NewFailure(board.FailTransient, "set_assignee", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return board.NewFailure(board.FailNotFound, "set_assignee", fmt.Errorf("card %s", id))
	}
	return nil
}

func (a *Adapter) BoardSummary(ctx context.Context) (board.Summary, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM cards GROUP BY status")
	if err != nil {
		return board.Summary{}, board.NewFailure(board.FailTransient, "board_summary", err)
	}
	defer rows.Close()
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: a.Name()}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return board.Summary{}, board.NewFailure(board.FailMalformed, "board_summary", err)
		}
		sum.Counts[domain.Status(status)] = n
		sum.TotalCards += n
	}
	return sum, rows.Err()
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return board.NewFailure(board.FailTransient, "ping", err)
	}
	return nil
}

// Comments returns all comments for a card, oldest first. Test and
// inspection helper; not part of the provider contract.
func (a *Adapter) Comments(ctx context.Context, cardID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT body FROM comments WHERE card_id = ? ORDER BY id", cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}
