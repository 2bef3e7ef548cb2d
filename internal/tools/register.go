// Package tools exposes the coordinator over MCP. Each tool is a thin
// adapter: parse arguments, call one coordinator operation under a deadline,
// serialize the outcome as JSON.
package tools

import (
	"context"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/app"
)

// RegisterOption configures tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	deadline time.Duration
	staleTTL time.Duration
}

// WithDeadline overrides the per-call deadline (default 30s).
func WithDeadline(d time.Duration) RegisterOption {
	return func(o *registerOpts) {
		if d > 0 {
			o.deadline = d
		}
	}
}

// WithStaleTTL sets the agent-staleness horizon used by the project status
// view. Should match the sweeper's TTL.
func WithStaleTTL(d time.Duration) RegisterOption {
	return func(o *registerOpts) {
		if d > 0 {
			o.staleTTL = d
		}
	}
}

// Register registers all coordination tools with the mcp-go server.
func Register(s *server.MCPServer, coord *app.Coordinator, registry *app.SessionRegistry, logger *log.Logger, opts ...RegisterOption) {
	o := registerOpts{
		deadline: 30 * time.Second,
		staleTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Agent tools (3)
	registerRegisterAgent(s, coord, registry, logger, o)
	registerHeartbeat(s, coord, registry, logger, o)
	registerListAgents(s, coord, registry, logger)

	// Workflow tools (4)
	registerRequestNextTask(s, coord, logger, o)
	registerReportTaskProgress(s, coord, logger, o)
	registerReportBlocker(s, coord, logger, o)
	registerResolveBlocker(s, coord, logger, o)

	// Project tools (7)
	registerGetProjectStatus(s, coord, logger, o)
	registerCreateProjectFromDescription(s, coord, logger, o)
	registerAddFeature(s, coord, logger, o)
	registerRefreshProjectState(s, coord, logger, o)
	registerListTasks(s, coord, logger)
	registerGetTask(s, coord, logger)
	registerPingBoard(s, coord, logger, o)
}

// SessionMiddleware returns a mcp-go ToolHandlerMiddleware that records
// session activity and counts every tool call from a bound session as an
// agent heartbeat, so working agents never go stale between explicit
// heartbeats.
func SessionMiddleware(coord *app.Coordinator, registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if session := server.ClientSessionFromContext(ctx); session != nil {
				if agentID := registry.Touch(session.SessionID()); agentID != "" {
					_ = coord.Heartbeat(ctx, agentID)
				}
			}
			return next(ctx, req)
		}
	}
}

// sessionAgent returns the agent bound to the calling session, or "".
func sessionAgent(ctx context.Context, registry *app.SessionRegistry) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return registry.AgentFor(session.SessionID())
}
