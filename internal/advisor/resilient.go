package advisor

import (
	"context"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marcus-coord/marcus/internal/domain"
)

const cacheSize = 512

// Resilient wraps an advisor with the call deadline, the template fallback,
// and an LRU cache for deterministic prompts. Callers hold no store locks
// while a Resilient method runs.
type Resilient struct {
	inner    Advisor
	fallback Template
	deadline time.Duration
	logger   *log.Logger

	instructions *lru.Cache[string, string]
	classes      *lru.Cache[string, string]
}

// NewResilient wraps inner. A nil inner means AI is disabled and every call
// answers from templates.
func NewResilient(inner Advisor, deadline time.Duration, logger *log.Logger) *Resilient {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	instructions, _ := lru.New[string, string](cacheSize)
	classes, _ := lru.New[string, string](cacheSize)
	return &Resilient{
		inner:        inner,
		deadline:     deadline,
		logger:       logger,
		instructions: instructions,
		classes:      classes,
	}
}

func (r *Resilient) GenerateTaskInstructions(ctx context.Context, task domain.Task, agent domain.Agent) (string, error) {
	key := task.ID + "|" + agent.ID
	if v, ok := r.instructions.Get(key); ok {
		return v, nil
	}
	if r.inner != nil {
		cctx, cancel := context.WithTimeout(ctx, r.deadline)
		out, err := r.inner.GenerateTaskInstructions(cctx, task, agent)
		cancel()
		if err == nil {
			r.instructions.Add(key, out)
			return out, nil
		}
		r.logger.Printf("Advisor: instructions for %s fell back to template: %v", task.ID, err)
	}
	return r.fallback.GenerateTaskInstructions(ctx, task, agent)
}

func (r *Resilient) SuggestBlockerResolutions(ctx context.Context, task domain.Task, description string, severity domain.Severity) ([]string, error) {
	if r.inner != nil {
		cctx, cancel := context.WithTimeout(ctx, r.deadline)
		out, err := r.inner.SuggestBlockerResolutions(cctx, task, description, severity)
		cancel()
		if err == nil {
			return out, nil
		}
		r.logger.Printf("Advisor: suggestions for %s fell back to template: %v", task.ID, err)
	}
	return r.fallback.SuggestBlockerResolutions(ctx, task, description, severity)
}

func (r *Resilient) ClassifyTaskType(ctx context.Context, task domain.Task) (string, error) {
	if v, ok := r.classes.Get(task.ID); ok {
		return v, nil
	}
	if r.inner != nil {
		cctx, cancel := context.WithTimeout(ctx, r.deadline)
		out, err := r.inner.ClassifyTaskType(cctx, task)
		cancel()
		if err == nil {
			r.classes.Add(task.ID, out)
			return out, nil
		}
		r.logger.Printf("Advisor: classification for %s fell back to heuristics: %v", task.ID, err)
	}
	out, err := r.fallback.ClassifyTaskType(ctx, task)
	if err == nil {
		r.classes.Add(task.ID, out)
	}
	return out, err
}

// Invalidate clears cached answers for a task (its content changed).
func (r *Resilient) Invalidate(taskID string) {
	for _, key := range r.instructions.Keys() {
		if len(key) > len(taskID) && key[:len(taskID)] == taskID && key[len(taskID)] == '|' {
			r.instructions.Remove(key)
		}
	}
	r.classes.Remove(taskID)
}

var _ Advisor = (*Resilient)(nil)
