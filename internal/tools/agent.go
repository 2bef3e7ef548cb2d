package tools

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/app"
	"github.com/marcus-coord/marcus/internal/domain"
)

// registerRegisterAgent registers the register_agent tool.
func registerRegisterAgent(s *server.MCPServer, coord *app.Coordinator, registry *app.SessionRegistry, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("register_agent",
			mcp.WithDescription("Register yourself as a worker agent. Call this once before requesting tasks. Re-registering with the same agent_id updates your profile and keeps current assignments."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Stable identifier for this agent")),
			mcp.WithString("name", mcp.Description("Human-readable name (defaults to agent_id)")),
			mcp.WithString("role", mcp.Required(), mcp.Description("Role, e.g. 'backend developer'")),
			mcp.WithArray("skills", mcp.Description("Skill tags matched against task labels for scoring")),
			mcp.WithNumber("capacity", mcp.Description("Max concurrent tasks (default 1)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			role, err := requireString(args, "role")
			if err != nil {
				return nil, err
			}
			capacity := int(optionalFloat64(args, "capacity", 1))
			if capacity < 1 {
				capacity = 1
			}

			agent := domain.Agent{
				ID:       agentID,
				Name:     optionalString(args, "name", agentID),
				Role:     role,
				Skills:   stringArray(args, "skills"),
				Capacity: capacity,
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			if err := coord.RegisterAgent(cctx, agent); err != nil {
				return errorResult(logger, "register_agent", err)
			}
			if session := server.ClientSessionFromContext(ctx); session != nil {
				registry.Bind(session.SessionID(), agentID)
			}

			registered, _ := coord.Store().GetAgent(agentID)
			logger.Printf("Agent %s registered (%s, capacity %d)", agentID, role, capacity)
			return jsonResult(toAgentPayload(registered, registry.Connected(agentID)))
		},
	)
}

// registerHeartbeat registers the heartbeat tool.
func registerHeartbeat(s *server.MCPServer, coord *app.Coordinator, registry *app.SessionRegistry, logger *log.Logger, o registerOpts) {
	s.AddTool(
		mcp.NewTool("heartbeat",
			mcp.WithDescription("Signal liveness. Agents that stop heartbeating have their tasks released back to the queue."),
			mcp.WithString("agent_id", mcp.Description("Agent to refresh; defaults to the agent bound to this session")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID := optionalString(args, "agent_id", sessionAgent(ctx, registry))
			if agentID == "" {
				return nil, errMissingAgent
			}

			cctx, cancel := opCtx(ctx, o.deadline)
			defer cancel()
			if err := coord.Heartbeat(cctx, agentID); err != nil {
				return errorResult(logger, "heartbeat", err)
			}
			return jsonResult(map[string]any{"acknowledged": true, "agent_id": agentID})
		},
	)
}

// registerListAgents registers the list_agents tool.
func registerListAgents(s *server.MCPServer, coord *app.Coordinator, registry *app.SessionRegistry, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List registered agents with workload and connection state."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			snap := coord.Store().Snapshot()
			payload := make([]agentPayload, 0, len(snap.Agents))
			for _, a := range snap.Agents {
				payload = append(payload, toAgentPayload(a, registry.Connected(a.ID)))
			}
			return jsonResult(map[string]any{"agents": payload, "count": len(payload)})
		},
	)
}
