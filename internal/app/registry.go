package app

import (
	"sync"
	"time"
)

// SessionRegistry maps connected MCP sessions to agent IDs. Multiple
// transports can be live at once (stdio, SSE, streamable HTTP); an agent
// reconnecting on a new session displaces its old binding. The registry
// feeds heartbeats: every tool call on a bound session counts as liveness.
type SessionRegistry struct {
	mu       sync.RWMutex
	byID     map[string]string    // sessionID -> agentID
	byAgent  map[string]string    // agentID -> sessionID
	lastSeen map[string]time.Time // sessionID -> last tool call
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:     make(map[string]string),
		byAgent:  make(map[string]string),
		lastSeen: make(map[string]time.Time),
	}
}

// Bind associates a session with an agent, displacing any previous session
// held by the same agent.
func (r *SessionRegistry) Bind(sessionID, agentID string) {
	if sessionID == "" || agentID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byAgent[agentID]; ok && old != sessionID {
		delete(r.byID, old)
		delete(r.lastSeen, old)
	}
	r.byID[sessionID] = agentID
	r.byAgent[agentID] = sessionID
	r.lastSeen[sessionID] = time.Now()
}

// AgentFor returns the agent bound to a session, or "".
func (r *SessionRegistry) AgentFor(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[sessionID]
}

// Connected reports whether the agent has a live session.
func (r *SessionRegistry) Connected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agentID]
	return ok
}

// Touch records activity on a session and returns the bound agent, if any.
func (r *SessionRegistry) Touch(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.byID[sessionID]
	if ok {
		r.lastSeen[sessionID] = time.Now()
	}
	return agentID
}

// SessionFor returns the session bound to an agent, or "".
func (r *SessionRegistry) SessionFor(agentID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAgent[agentID]
}

// ConnectedAgents lists agents with a live session.
func (r *SessionRegistry) ConnectedAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAgent))
	for agentID := range r.byAgent {
		out = append(out, agentID)
	}
	return out
}

// Unbind removes a session (transport disconnect).
func (r *SessionRegistry) Unbind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agentID, ok := r.byID[sessionID]; ok {
		delete(r.byAgent, agentID)
	}
	delete(r.byID, sessionID)
	delete(r.lastSeen, sessionID)
}

// Count returns the number of bound agents.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAgent)
}
