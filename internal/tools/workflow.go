package tools

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/app"
	"github.com/marcus-coord/marcus/internal/domain"
)

// registerRequestNextTask registers the request_next_task tool.
func registerRequestNextTask(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("request_next_task",
			mcp.WithDescription("Ask for the best available task. On success the task is claimed for you, the board is updated, and work instructions are included. When nothing can be assigned the response carries a reason instead."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Your registered agent ID")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := requireString(req.GetArguments(), "agent_id")
			if err != nil {
				return nil, err
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			res, err := coord.RequestNextTask(cctx, agentID)
			if err != nil {
				return errorResult(logger, "request_next_task", err)
			}
			if !res.Assigned {
				return jsonResult(map[string]any{
					"has_task": false,
					"reason":   res.NoTask.Reason,
				})
			}
			logger.Printf("Task %s assigned to %s", res.Task.ID, agentID)
			return jsonResult(map[string]any{
				"has_task":   true,
				"task":       toTaskPayload(res.Task),
				"assignment": toAssignmentPayload(res.Assign),
			})
		},
	)
}

// registerReportTaskProgress registers the report_task_progress tool.
func registerReportTaskProgress(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("report_task_progress",
			mcp.WithDescription("Report progress on your assigned task. Status 'completed' (or progress 100) finishes the task; 'in_progress' posts a progress comment. Duplicate completion reports are acknowledged without effect."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Your registered agent ID")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task being reported on")),
			mcp.WithString("status", mcp.Required(), mcp.Description("Progress status"), mcp.Enum("in_progress", "completed")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Completion percentage 0-100")),
			mcp.WithString("message", mcp.Description("Free-form progress note, mirrored to the board")),
			mcp.WithNumber("time_spent_hours", mcp.Description("Hours spent since the last report")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			progress, err := requireFloat64(args, "progress")
			if err != nil {
				return nil, err
			}
			message := optionalString(args, "message", "")
			hours := optionalFloat64(args, "time_spent_hours", 0)

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			res, err := coord.ReportProgress(cctx, agentID, taskID, status, progress, message, hours)
			if err != nil {
				return errorResult(logger, "report_task_progress", err)
			}
			return jsonResult(map[string]any{
				"acknowledged": res.Acknowledged,
				"task_id":      taskID,
				"new_status":   string(res.NewStatus),
			})
		},
	)
}

// registerReportBlocker registers the report_blocker tool.
func registerReportBlocker(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("report_blocker",
			mcp.WithDescription("Report that your task is blocked. The task moves to blocked, resolution suggestions are generated, and a structured comment is posted to the board."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Your registered agent ID")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The blocked task")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What is blocking the work")),
			mcp.WithString("severity", mcp.Description("Blocker severity (default medium)"), mcp.Enum("low", "medium", "high")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			description, err := requireString(args, "description")
			if err != nil {
				return nil, err
			}
			severity, err := domain.ParseSeverity(optionalString(args, "severity", string(domain.SeverityMedium)))
			if err != nil {
				return nil, err
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			res, err := coord.ReportBlocker(cctx, agentID, taskID, description, severity)
			if err != nil {
				return errorResult(logger, "report_blocker", err)
			}
			logger.Printf("Task %s blocked by %s (%s)", taskID, agentID, severity)
			return jsonResult(map[string]any{
				"success":     true,
				"blocker_id":  res.Blocker.ID,
				"suggestions": res.Suggestions,
			})
		},
	)
}

// registerResolveBlocker registers the resolve_blocker tool.
func registerResolveBlocker(s *server.MCPServer, coord *app.Coordinator, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("resolve_blocker",
			mcp.WithDescription("Mark a blocked task's blocker as resolved and resume work on it."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The blocked task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := requireString(req.GetArguments(), "task_id")
			if err != nil {
				return nil, err
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			blocker, err := coord.ResolveBlocker(cctx, taskID)
			if err != nil {
				return errorResult(logger, "resolve_blocker", err)
			}
			return jsonResult(map[string]any{
				"blocker": toBlockerPayload(blocker),
				"status":  string(domain.StatusInProgress),
			})
		},
	)
}
