package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus-coord/marcus/internal/domain"
)

// Draft is one generated task plus intra-batch dependencies expressed as
// indices into the same batch (board IDs do not exist yet at generation
// time).
type Draft struct {
	domain.TaskDraft
	DependsOn []int
}

// GeneratorOptions tune project generation.
type GeneratorOptions struct {
	// MaxTasks caps the batch; zero means the generator's default.
	MaxTasks int
}

// Generator turns free-form descriptions into task batches. The heuristic
// implementation is the default; an AI-backed one can replace it via
// WithGenerator.
type Generator interface {
	GenerateProject(ctx context.Context, name, description string, opts GeneratorOptions) ([]Draft, error)
	GenerateFeature(ctx context.Context, description, integrationPoint string) ([]Draft, error)
}

// HeuristicGenerator derives tasks from the text itself: explicit bullet
// lines become tasks verbatim; prose falls back to a standard
// design/build/verify breakdown.
type HeuristicGenerator struct{}

const defaultMaxTasks = 20

func (HeuristicGenerator) GenerateProject(_ context.Context, name, description string, opts GeneratorOptions) ([]Draft, error) {
	if strings.TrimSpace(description) == "" {
		return nil, domain.NewError(domain.KindValidation, "project description is empty")
	}
	max := opts.MaxTasks
	if max <= 0 {
		max = defaultMaxTasks
	}

	if bullets := bulletLines(description); len(bullets) > 0 {
		if len(bullets) > max {
			bullets = bullets[:max]
		}
		drafts := make([]Draft, len(bullets))
		for i, b := range bullets {
			drafts[i] = Draft{TaskDraft: domain.TaskDraft{
				Name:        b,
				Description: fmt.Sprintf("Part of project %q.", name),
				Priority:    domain.PriorityMedium,
			}}
		}
		return drafts, nil
	}

	summary := firstSentence(description)
	return []Draft{
		{TaskDraft: domain.TaskDraft{
			Name:        "Design: " + summary,
			Description: description,
			Priority:    domain.PriorityHigh,
			Labels:      []string{"design"},
		}},
		{TaskDraft: domain.TaskDraft{
			Name:        "Implement: " + summary,
			Description: description,
			Priority:    domain.PriorityHigh,
		}, DependsOn: []int{0}},
		{TaskDraft: domain.TaskDraft{
			Name:        "Test: " + summary,
			Description: "Cover the implemented behavior with tests.",
			Priority:    domain.PriorityMedium,
			Labels:      []string{"testing"},
		}, DependsOn: []int{1}},
		{TaskDraft: domain.TaskDraft{
			Name:        "Document: " + summary,
			Description: "Write user and operator documentation.",
			Priority:    domain.PriorityLow,
			Labels:      []string{"documentation"},
		}, DependsOn: []int{1}},
	}, nil
}

func (HeuristicGenerator) GenerateFeature(_ context.Context, description, integrationPoint string) ([]Draft, error) {
	if strings.TrimSpace(description) == "" {
		return nil, domain.NewError(domain.KindValidation, "feature description is empty")
	}
	summary := firstSentence(description)
	desc := description
	if integrationPoint != "" {
		desc += "\n\nIntegrates with: " + integrationPoint
	}
	return []Draft{
		{TaskDraft: domain.TaskDraft{
			Name:        summary,
			Description: desc,
			Priority:    domain.PriorityMedium,
		}},
		{TaskDraft: domain.TaskDraft{
			Name:        "Test: " + summary,
			Description: "Cover the new feature with tests.",
			Priority:    domain.PriorityMedium,
			Labels:      []string{"testing"},
		}, DependsOn: []int{0}},
	}, nil
}

// bulletLines extracts "- item" / "* item" / "1. item" lines.
func bulletLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			out = append(out, strings.TrimSpace(line[2:]))
		case len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')'):
			out = append(out, strings.TrimSpace(line[2:]))
		}
	}
	return out
}

// firstSentence trims the description to a task-name sized summary.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, sep := range []string{". ", ".\n", "\n"} {
		if i := strings.Index(text, sep); i > 0 {
			text = text[:i]
			break
		}
	}
	text = strings.TrimSuffix(text, ".")
	if len(text) > 80 {
		text = text[:80]
	}
	return text
}
