package app

import (
	"context"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/domain"
)

// BatchResult reports a project or feature creation.
type BatchResult struct {
	TaskIDs []string
}

// CreateProjectFromDescription generates a task batch and creates it on the
// board and in the store. Board creation assigns the IDs; intra-batch
// dependencies are rewired from draft indices to those IDs afterward.
func (c *Coordinator) CreateProjectFromDescription(ctx context.Context, name, description string, opts GeneratorOptions) (BatchResult, error) {
	drafts, err := c.generator.GenerateProject(ctx, name, description, opts)
	if err != nil {
		return BatchResult{}, err
	}
	return c.createBatch(ctx, drafts)
}

// AddFeature generates and creates the tasks for one feature.
func (c *Coordinator) AddFeature(ctx context.Context, description, integrationPoint string) (BatchResult, error) {
	drafts, err := c.generator.GenerateFeature(ctx, description, integrationPoint)
	if err != nil {
		return BatchResult{}, err
	}
	return c.createBatch(ctx, drafts)
}

func (c *Coordinator) createBatch(ctx context.Context, drafts []Draft) (BatchResult, error) {
	if len(drafts) == 0 {
		return BatchResult{}, domain.NewError(domain.KindValidation, "generator produced no tasks")
	}

	// Create every draft on the board first; a partial batch is fine, the
	// dependency rewiring below only references tasks that exist.
	ids := make([]string, len(drafts))
	created := make([]domain.Task, len(drafts))
	for i, d := range drafts {
		task, err := c.board.CreateTask(ctx, d.TaskDraft)
		if err != nil {
			c.events.Error("task_create_failed", err.Error(), map[string]any{"name": d.Name})
			if i == 0 {
				return BatchResult{}, board.ToDomain(err, "create_task")
			}
			// Later failures truncate the batch; what was created stands.
			ids = ids[:i]
			created = created[:i]
			break
		}
		ids[i] = task.ID
		created[i] = task
	}

	for i, task := range created {
		if err := c.store.InsertFromBoard(task); err != nil {
			c.logger.Printf("Batch: insert %s failed: %v", task.ID, err)
			continue
		}
		var deps []string
		for _, idx := range drafts[i].DependsOn {
			if idx >= 0 && idx < len(ids) {
				deps = append(deps, ids[idx])
			}
		}
		if len(deps) > 0 {
			task.Dependencies = deps
			if err := c.store.UpsertTask(task); err != nil {
				c.logger.Printf("Batch: dependencies for %s rejected: %v", task.ID, err)
			}
		}
		c.events.Info("task_created", task.ID, "", task.Name)
	}
	c.notifyAvailable()
	return BatchResult{TaskIDs: ids}, nil
}
