package tools

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/app"
	"github.com/marcus-coord/marcus/internal/domain"
)

type workerPayload struct {
	AgentID        string   `json:"agent_id"`
	TaskIDs        []string `json:"task_ids,omitempty"`
	Capacity       int      `json:"capacity"`
	CompletedCount int      `json:"completed_count"`
	Stale          bool     `json:"stale"`
}

type projectViewPayload struct {
	Provider             string                   `json:"provider"`
	Counts               map[string]int           `json:"counts"`
	TotalTasks           int                      `json:"total_tasks"`
	CompletionPercentage float64                  `json:"completion_percentage"`
	StaleTasks           []string                 `json:"stale_tasks,omitempty"`
	OverdueTasks         []string                 `json:"overdue_tasks,omitempty"`
	BlockedTasks         []string                 `json:"blocked_tasks,omitempty"`
	Workers              map[string]workerPayload `json:"workers,omitempty"`
	GeneratedAt          string                   `json:"generated_at"`
}

func toProjectViewPayload(provider string, v domain.ProjectView) projectViewPayload {
	p := projectViewPayload{
		Provider:             provider,
		Counts:               make(map[string]int, len(v.Counts)),
		TotalTasks:           v.TotalTasks,
		CompletionPercentage: v.CompletionPercentage,
		StaleTasks:           v.StaleTasks,
		OverdueTasks:         v.OverdueTasks,
		BlockedTasks:         v.BlockedTasks,
		GeneratedAt:          isoTime(v.GeneratedAt),
	}
	for status, n := range v.Counts {
		p.Counts[string(status)] = n
	}
	if len(v.Workers) > 0 {
		p.Workers = make(map[string]workerPayload, len(v.Workers))
		for id, w := range v.Workers {
			p.Workers[id] = workerPayload{
				AgentID:        w.AgentID,
				TaskIDs:        w.TaskIDs,
				Capacity:       w.Capacity,
				CompletedCount: w.CompletedCount,
				Stale:          w.Stale,
			}
		}
	}
	return p
}

// registerGetProjectStatus registers the get_project_status tool.
func registerGetProjectStatus(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("get_project_status",
			mcp.WithDescription("Get the project health view: status counts, completion percentage, blocked/stale/overdue tasks, and per-agent workload. Computed from local state; set refresh to pull the board first."),
			mcp.WithBoolean("refresh", mcp.Description("Reconcile with the board before computing the view")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			if optionalBool(req.GetArguments(), "refresh", false) {
				if err := coord.RefreshFromBoard(cctx); err != nil {
					return errorResult(logger, "get_project_status", err)
				}
			}
			view := coord.ProjectStatus(o.staleTTL)
			return jsonResult(toProjectViewPayload(coord.BoardName(), view))
		},
	)
}

// registerCreateProjectFromDescription registers the
// create_project_from_description tool.
func registerCreateProjectFromDescription(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("create_project_from_description",
			mcp.WithDescription("Break a free-form project description into tasks and create them on the board. Bullet lines become tasks verbatim; prose gets a design/implement/test/document breakdown with dependencies."),
			mcp.WithString("project_name", mcp.Required(), mcp.Description("Short project name")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What the project should accomplish")),
			mcp.WithNumber("max_tasks", mcp.Description("Cap on generated tasks (default 20)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name, err := requireString(args, "project_name")
			if err != nil {
				return nil, err
			}
			description, err := requireString(args, "description")
			if err != nil {
				return nil, err
			}
			opts := app.GeneratorOptions{MaxTasks: int(optionalFloat64(args, "max_tasks", 0))}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			res, err := coord.CreateProjectFromDescription(cctx, name, description, opts)
			if err != nil {
				return errorResult(logger, "create_project_from_description", err)
			}
			logger.Printf("Project %q created with %d tasks", name, len(res.TaskIDs))
			return jsonResult(map[string]any{
				"success":       true,
				"tasks_created": len(res.TaskIDs),
				"task_ids":      res.TaskIDs,
			})
		},
	)
}

// registerAddFeature registers the add_feature tool.
func registerAddFeature(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("add_feature",
			mcp.WithDescription("Add a feature to the project as a small task batch (the feature plus a dependent test task)."),
			mcp.WithString("description", mcp.Required(), mcp.Description("What the feature should do")),
			mcp.WithString("integration_point", mcp.Description("Where the feature hooks into existing work")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			description, err := requireString(args, "description")
			if err != nil {
				return nil, err
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			res, err := coord.AddFeature(cctx, description, optionalString(args, "integration_point", ""))
			if err != nil {
				return errorResult(logger, "add_feature", err)
			}
			return jsonResult(map[string]any{
				"success":       true,
				"tasks_created": len(res.TaskIDs),
				"task_ids":      res.TaskIDs,
			})
		},
	)
}

// registerRefreshProjectState registers the refresh_project_state tool.
func registerRefreshProjectState(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("refresh_project_state",
			mcp.WithDescription("Reconcile local state with the board: flush pending mirror writes, discover new cards, and adopt externally changed statuses."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			if err := coord.RefreshFromBoard(cctx); err != nil {
				return errorResult(logger, "refresh_project_state", err)
			}
			snap := coord.Store().Snapshot()
			return jsonResult(map[string]any{
				"success":      true,
				"total_tasks":  len(snap.Tasks),
				"refreshed_at": isoTime(snap.TakenAt),
			})
		},
	)
}

// registerListTasks registers the list_tasks tool.
func registerListTasks(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks from local state, optionally filtered by status or assignee."),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("todo", "in_progress", "blocked", "done")),
			mcp.WithString("assigned_to", mcp.Description("Filter by assigned agent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			statusFilter := optionalString(args, "status", "")
			if statusFilter != "" {
				if _, err := domain.ParseStatus(statusFilter); err != nil {
					return nil, err
				}
			}
			assignedFilter := optionalString(args, "assigned_to", "")

			snap := coord.Store().Snapshot()
			payload := make([]taskPayload, 0, len(snap.Tasks))
			for _, t := range snap.Tasks {
				if statusFilter != "" && string(t.Status) != statusFilter {
					continue
				}
				if assignedFilter != "" && t.AssignedTo != assignedFilter {
					continue
				}
				payload = append(payload, toTaskPayload(t))
			}
			return jsonResult(map[string]any{"tasks": payload, "count": len(payload)})
		},
	)
}

// registerGetTask registers the get_task tool.
func registerGetTask(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Get one task by ID, including its active assignment if any."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task to fetch")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := requireString(req.GetArguments(), "task_id")
			if err != nil {
				return nil, err
			}
			task, ok := coord.Store().GetTask(taskID)
			if !ok {
				return errorResult(logger, "get_task", domain.NewError(domain.KindNotFound, "task %s not found", taskID))
			}
			payload := map[string]any{"task": toTaskPayload(task)}
			if asg, ok := coord.Store().GetAssignment(taskID); ok {
				payload["assignment"] = toAssignmentPayload(asg)
			}
			return jsonResult(payload)
		},
	)
}

// registerPingBoard registers the ping_board tool.
func registerPingBoard(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("ping_board",
			mcp.WithDescription("Check that the kanban board provider is reachable."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			if err := coord.PingBoard(cctx); err != nil {
				return errorResult(logger, "ping_board", err)
			}
			return jsonResult(map[string]any{"ok": true, "provider": coord.BoardName()})
		},
	)
}
