package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/advisor"
	"github.com/marcus-coord/marcus/internal/app"
	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
	"github.com/marcus-coord/marcus/internal/events"
	"github.com/marcus-coord/marcus/internal/store"
)

// memBoard is a minimal in-memory provider for dispatcher tests.
type memBoard struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	seq   int
}

func newMemBoard() *memBoard {
	return &memBoard{tasks: make(map[string]domain.Task)}
}

func (m *memBoard) Name() string { return "mem" }

func (m *memBoard) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.Status != domain.StatusDone {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memBoard) GetTask(ctx context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, board.NewFailure(board.FailNotFound, "get_task", errors.New(id))
	}
	return t, nil
}

func (m *memBoard) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := domain.Task{
		ID:       fmt.Sprintf("card-%d", m.seq),
		Name:     draft.Name,
		Status:   domain.StatusTodo,
		Priority: draft.Priority,
		Labels:   draft.Labels,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *memBoard) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return board.NewFailure(board.FailNotFound, "update_status", errors.New(id))
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *memBoard) AddComment(ctx context.Context, id, text string) error { return nil }

func (m *memBoard) SetAssignee(ctx context.Context, id, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.AssignedTo = agentID
		m.tasks[id] = t
	}
	return nil
}

func (m *memBoard) BoardSummary(ctx context.Context) (board.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := board.Summary{Counts: make(map[domain.Status]int), Provider: "mem"}
	for _, t := range m.tasks {
		sum.Counts[t.Status]++
		sum.TotalCards++
	}
	return sum, nil
}

func (m *memBoard) Ping(ctx context.Context) error { return nil }

// testServer creates an MCPServer with all tools registered for testing.
func testServer(t *testing.T) (*server.MCPServer, *app.Coordinator, *memBoard) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	ev, err := events.New("", events.LevelDebug, logger)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	t.Cleanup(func() { _ = ev.Close() })

	mb := newMemBoard()
	coord := app.New(store.New(), mb, advisor.NewResilient(nil, 0, logger), ev, logger)
	registry := app.NewSessionRegistry()

	s := server.NewMCPServer("marcus-test", "0.0.0",
		server.WithToolHandlerMiddleware(SessionMiddleware(coord, registry)),
	)
	Register(s, coord, registry, logger)
	return s, coord, mb
}

// seedTask puts a task in both the store and the board.
func seedTask(t *testing.T, coord *app.Coordinator, mb *memBoard, task domain.Task) {
	t.Helper()
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	if err := coord.Store().UpsertTask(task); err != nil {
		t.Fatalf("seed %s: %v", task.ID, err)
	}
	mb.mu.Lock()
	mb.tasks[task.ID] = task
	mb.mu.Unlock()
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
// Returns the parsed CallToolResult or an error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// decodeResult unmarshals a tool's JSON text payload into v.
func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	text := resultText(t, result)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decode payload %q: %v", text, err)
	}
}

// mustCall calls a tool and fails the test on RPC error or IsError result.
func mustCall(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := callTool(t, s, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("%s returned error: %s", name, resultText(t, result))
	}
	return result
}

// registerTestAgent registers an agent with the given skills.
func registerTestAgent(t *testing.T, s *server.MCPServer, id string, skills ...string) {
	t.Helper()
	args := map[string]any{
		"agent_id": id,
		"role":     "developer",
	}
	if len(skills) > 0 {
		arr := make([]any, len(skills))
		for i, sk := range skills {
			arr[i] = sk
		}
		args["skills"] = arr
	}
	mustCall(t, s, "register_agent", args)
}
