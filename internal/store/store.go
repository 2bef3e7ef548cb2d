// Package store holds the authoritative in-memory view of tasks, agents,
// assignments, and blockers. A single mutex protects all maps; callers
// gather inputs, enter, mutate, exit, then perform I/O. No provider or AI
// call ever runs inside the critical section.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-coord/marcus/internal/domain"
)

// Sentinel results for Assign. The engine retries on ErrAlreadyAssigned and
// maps the rest to user-visible reasons.
var (
	ErrAlreadyAssigned = errors.New("task already assigned")
	ErrUnavailable     = errors.New("task unavailable")
	ErrAtCapacity      = errors.New("agent at capacity")
)

// Store is the single-writer task store. All exported methods are safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	tasks       map[string]*domain.Task
	agents      map[string]*domain.Agent
	assignments map[string]*domain.Assignment // keyed by task ID, active only
	blockers    map[string]*domain.Blocker    // keyed by blocker ID
	openByTask  map[string]string             // task ID -> unresolved blocker ID

	byStatus    map[domain.Status]map[string]struct{}
	byLabel     map[string]map[string]struct{}
	depsReverse map[string]map[string]struct{} // dep ID -> tasks depending on it

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tasks:       make(map[string]*domain.Task),
		agents:      make(map[string]*domain.Agent),
		assignments: make(map[string]*domain.Assignment),
		blockers:    make(map[string]*domain.Blocker),
		openByTask:  make(map[string]string),
		byStatus:    make(map[domain.Status]map[string]struct{}),
		byLabel:     make(map[string]map[string]struct{}),
		depsReverse: make(map[string]map[string]struct{}),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UpsertTask inserts or updates a task, enforcing the dependency DAG.
// Unknown statuses default to todo, unknown priorities to medium.
// Assignment-related fields of existing tasks are preserved on update:
// the board provider owns existence, not the active assignment.
func (s *Store) UpsertTask(t domain.Task) error {
	if t.ID == "" {
		return domain.NewError(domain.KindValidation, "task id is required")
	}
	if t.Name == "" {
		return domain.NewError(domain.KindValidation, "task %s: name is required", t.ID)
	}
	if t.EstimatedHours < 0 || t.ActualHours < 0 {
		return domain.NewError(domain.KindValidation, "task %s: hours must be >= 0", t.ID)
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wouldCycle(t.ID, t.Dependencies) {
		return domain.NewError(domain.KindValidation, "task %s: dependency cycle", t.ID)
	}

	if prev, ok := s.tasks[t.ID]; ok {
		// Update: keep the live assignment fields; the caller changes those
		// through Assign/SetStatus/ClearAssignment only.
		t.AssignedTo = prev.AssignedTo
		t.Status = prev.Status
		t.CreatedAt = prev.CreatedAt
		s.unindexTask(prev)
	}
	c := t.Clone()
	s.tasks[t.ID] = &c
	s.indexTask(&c)
	return nil
}

// InsertFromBoard inserts a task exactly as the board reports it, including
// status. Used by reconciliation; does not overwrite existing tasks.
func (s *Store) InsertFromBoard(t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return nil
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if s.wouldCycle(t.ID, t.Dependencies) {
		return domain.NewError(domain.KindValidation, "task %s: dependency cycle", t.ID)
	}
	c := t.Clone()
	s.tasks[t.ID] = &c
	s.indexTask(&c)
	return nil
}

// RegisterAgent creates or updates an agent. Existing assignments and
// completion counts are retained on re-registration.
func (s *Store) RegisterAgent(a domain.Agent) error {
	if a.ID == "" {
		return domain.NewError(domain.KindValidation, "agent id is required")
	}
	if a.Capacity <= 0 {
		a.Capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.agents[a.ID]; ok {
		prev.Name = a.Name
		prev.Role = a.Role
		prev.Skills = append([]string(nil), a.Skills...)
		prev.Capacity = a.Capacity
		prev.LastHeartbeat = now
		return nil
	}
	a.CurrentTasks = nil
	a.CompletedCount = 0
	a.LastHeartbeat = now
	a.RegisteredAt = now
	c := a.Clone()
	s.agents[a.ID] = &c
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (s *Store) Heartbeat(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "agent %s not registered", agentID)
	}
	a.LastHeartbeat = s.now()
	return nil
}

// Candidate is an available task plus the number of tasks it unblocks.
type Candidate struct {
	Task        domain.Task
	ReverseDeps int
}

// AvailableTasks returns a snapshot of tasks eligible for assignment:
// status todo, unassigned, and every dependency done.
func (s *Store) AvailableTasks() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Candidate
	for id := range s.byStatus[domain.StatusTodo] {
		t := s.tasks[id]
		if t.AssignedTo != "" || !s.depsDone(t) {
			continue
		}
		out = append(out, Candidate{Task: t.Clone(), ReverseDeps: len(s.depsReverse[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task.ID < out[j].Task.ID })
	return out
}

// Assign atomically claims a task for an agent. This is the only claiming
// write in the system: it validates availability, capacity, and the
// todo -> in_progress transition, then records the assignment.
func (s *Store) Assign(taskID, agentID string) (domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return domain.Assignment{}, domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	a, ok := s.agents[agentID]
	if !ok {
		return domain.Assignment{}, domain.NewError(domain.KindNotFound, "agent %s not registered", agentID)
	}
	if t.AssignedTo != "" {
		return domain.Assignment{}, ErrAlreadyAssigned
	}
	if t.Status != domain.StatusTodo || !s.depsDone(t) {
		return domain.Assignment{}, ErrUnavailable
	}
	if len(a.CurrentTasks) >= a.Capacity {
		return domain.Assignment{}, ErrAtCapacity
	}

	now := s.now()
	s.moveStatus(t, domain.StatusInProgress)
	t.AssignedTo = agentID
	t.UpdatedAt = now
	a.CurrentTasks = append(a.CurrentTasks, taskID)
	a.LastHeartbeat = now

	asg := domain.Assignment{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		AgentID:    agentID,
		AssignedAt: now,
	}
	if t.DueDate != nil {
		d := *t.DueDate
		asg.Deadline = &d
	}
	cp := asg
	s.assignments[taskID] = &cp
	return asg, nil
}

// SetInstructions attaches advisor instructions to an active assignment.
// Called after Assign, outside the assignment race.
func (s *Store) SetInstructions(taskID, instructions string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asg, ok := s.assignments[taskID]; ok {
		asg.Instructions = instructions
	}
}

// SetStatus validates and applies a lifecycle transition. It does not touch
// the assignment; callers pair it with ClearAssignment where §4.4 requires.
func (s *Store) SetStatus(taskID string, to domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if t.Status == to {
		return nil
	}
	if !domain.TransitionAllowed(t.Status, to) {
		return domain.NewError(domain.KindInvalidTransition, "task %s: %s -> %s", taskID, t.Status, to)
	}
	s.moveStatus(t, to)
	t.UpdatedAt = s.now()
	return nil
}

// ForceStatus applies a board-reported status without consulting the
// transition table. Reconciliation only: the board is the source of truth
// for external status, so drift repair may not follow the lifecycle edges.
// Leaving in_progress or blocked clears the assignment.
func (s *Store) ForceStatus(taskID string, to domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if t.Status == to {
		return nil
	}
	s.moveStatus(t, to)
	t.UpdatedAt = s.now()
	if to != domain.StatusInProgress && to != domain.StatusBlocked {
		s.clearAssignmentLocked(taskID)
	}
	return nil
}

// ClearAssignment removes the active assignment of a task: assigned_to is
// cleared and the task leaves its agent's current set. Status is untouched.
func (s *Store) ClearAssignment(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAssignmentLocked(taskID)
}

func (s *Store) clearAssignmentLocked(taskID string) {
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	if t.AssignedTo != "" {
		if a, ok := s.agents[t.AssignedTo]; ok {
			kept := a.CurrentTasks[:0]
			for _, id := range a.CurrentTasks {
				if id != taskID {
					kept = append(kept, id)
				}
			}
			a.CurrentTasks = kept
		}
		t.AssignedTo = ""
	}
	delete(s.assignments, taskID)
}

// VerifyOwner checks that the task exists and is actively assigned to the
// agent. Progress and blocker reports go through this gate.
func (s *Store) VerifyOwner(taskID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if t.AssignedTo != agentID {
		return domain.NewError(domain.KindNotAssigned, "task %s is not assigned to %s", taskID, agentID)
	}
	return nil
}

// Complete finalizes a done transition: clears the assignment and increments
// the owning agent's completion count. Idempotent when already done.
func (s *Store) Complete(taskID string) (already bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return false, domain.NewError(domain.KindNotFound, "task %s not found", taskID)
	}
	if t.Status == domain.StatusDone {
		return true, nil
	}
	if !domain.TransitionAllowed(t.Status, domain.StatusDone) {
		return false, domain.NewError(domain.KindInvalidTransition, "task %s: %s -> done", taskID, t.Status)
	}
	if a, ok := s.agents[t.AssignedTo]; ok {
		a.CompletedCount++
	}
	s.moveStatus(t, domain.StatusDone)
	t.UpdatedAt = s.now()
	s.clearAssignmentLocked(taskID)
	return false, nil
}

// RecordHours adds to a task's actual hours.
func (s *Store) RecordHours(taskID string, hours float64) {
	if hours <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.ActualHours += hours
		t.UpdatedAt = s.now()
	}
}

// Touch bumps a task's updated_at (progress reports without status change).
func (s *Store) Touch(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.UpdatedAt = s.now()
	}
}

// OpenBlocker records an unresolved blocker on a task. At most one open
// blocker per task; a second report replaces the suggestions but keeps the
// original opened_at.
func (s *Store) OpenBlocker(taskID, agentID, description string, severity domain.Severity, suggestions []string) domain.Blocker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.openByTask[taskID]; ok {
		b := s.blockers[id]
		b.Description = description
		b.Severity = severity
		b.Suggestions = append([]string(nil), suggestions...)
		return *b
	}
	b := domain.Blocker{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		AgentID:     agentID,
		Description: description,
		Severity:    severity,
		OpenedAt:    s.now(),
		Suggestions: append([]string(nil), suggestions...),
	}
	cp := b
	s.blockers[b.ID] = &cp
	s.openByTask[taskID] = b.ID
	return b
}

// ResolveBlocker closes the open blocker on a task, if any.
func (s *Store) ResolveBlocker(taskID string) (domain.Blocker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.openByTask[taskID]
	if !ok {
		return domain.Blocker{}, false
	}
	b := s.blockers[id]
	now := s.now()
	b.ResolvedAt = &now
	delete(s.openByTask, taskID)
	return *b, true
}

// GetTask returns a copy of a task.
func (s *Store) GetTask(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// GetAgent returns a copy of an agent.
func (s *Store) GetAgent(id string) (domain.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, false
	}
	return a.Clone(), true
}

// GetAssignment returns a copy of the active assignment for a task.
func (s *Store) GetAssignment(taskID string) (domain.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asg, ok := s.assignments[taskID]
	if !ok {
		return domain.Assignment{}, false
	}
	return *asg, true
}

// StaleAgents returns agents whose last heartbeat is older than ttl and that
// hold at least one task.
func (s *Store) StaleAgents(ttl time.Duration) []domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	var out []domain.Agent
	for _, a := range s.agents {
		if len(a.CurrentTasks) > 0 && a.LastHeartbeat.Before(cutoff) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReleaseAgentTasks clears every assignment held by an agent and returns the
// tasks to todo. Used by the stale sweeper; returns the released task IDs.
func (s *Store) ReleaseAgentTasks(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	released := append([]string(nil), a.CurrentTasks...)
	for _, taskID := range released {
		t, ok := s.tasks[taskID]
		if !ok {
			continue
		}
		s.moveStatus(t, domain.StatusTodo)
		t.UpdatedAt = s.now()
		s.clearAssignmentLocked(taskID)
		if id, ok := s.openByTask[taskID]; ok {
			now := s.now()
			s.blockers[id].ResolvedAt = &now
			delete(s.openByTask, taskID)
		}
	}
	return released
}

// Snapshot is a consistent copy of the store for read paths. Iteration over
// tasks or agents must go through snapshots because assignment mutates the
// maps mid-flight.
type Snapshot struct {
	Tasks       []domain.Task
	Agents      []domain.Agent
	Assignments []domain.Assignment
	Blockers    []domain.Blocker
	TakenAt     time.Time
}

// Snapshot copies the current state under the lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{TakenAt: s.now()}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
	}
	for _, a := range s.agents {
		snap.Agents = append(snap.Agents, a.Clone())
	}
	for _, asg := range s.assignments {
		snap.Assignments = append(snap.Assignments, *asg)
	}
	for _, b := range s.blockers {
		cp := *b
		cp.Suggestions = append([]string(nil), b.Suggestions...)
		snap.Blockers = append(snap.Blockers, cp)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	return snap
}

// --- internal helpers (callers hold s.mu) ---

func (s *Store) depsDone(t *domain.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := s.tasks[dep]
		if !ok || d.Status != domain.StatusDone {
			return false
		}
	}
	return true
}

// wouldCycle runs a DFS from each proposed dependency looking for a path
// back to id through existing dependency edges.
func (s *Store) wouldCycle(id string, deps []string) bool {
	seen := make(map[string]bool)
	var visit func(cur string) bool
	visit = func(cur string) bool {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		t, ok := s.tasks[cur]
		if !ok {
			return false
		}
		for _, d := range t.Dependencies {
			if visit(d) {
				return true
			}
		}
		return false
	}
	for _, d := range deps {
		if d == id {
			return true
		}
		if visit(d) {
			return true
		}
	}
	return false
}

func (s *Store) indexTask(t *domain.Task) {
	if s.byStatus[t.Status] == nil {
		s.byStatus[t.Status] = make(map[string]struct{})
	}
	s.byStatus[t.Status][t.ID] = struct{}{}
	for _, l := range t.Labels {
		if s.byLabel[l] == nil {
			s.byLabel[l] = make(map[string]struct{})
		}
		s.byLabel[l][t.ID] = struct{}{}
	}
	for _, d := range t.Dependencies {
		if s.depsReverse[d] == nil {
			s.depsReverse[d] = make(map[string]struct{})
		}
		s.depsReverse[d][t.ID] = struct{}{}
	}
}

func (s *Store) unindexTask(t *domain.Task) {
	delete(s.byStatus[t.Status], t.ID)
	for _, l := range t.Labels {
		delete(s.byLabel[l], t.ID)
	}
	for _, d := range t.Dependencies {
		delete(s.depsReverse[d], t.ID)
	}
}

func (s *Store) moveStatus(t *domain.Task, to domain.Status) {
	delete(s.byStatus[t.Status], t.ID)
	t.Status = to
	if s.byStatus[to] == nil {
		s.byStatus[to] = make(map[string]struct{})
	}
	s.byStatus[to][t.ID] = struct{}{}
}
