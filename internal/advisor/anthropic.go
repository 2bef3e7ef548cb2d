package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marcus-coord/marcus/internal/domain"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// Claude is the Anthropic-backed advisor.
type Claude struct {
	client    anthropic.Client
	modelName string
}

// ClaudeConfig configures the Anthropic client.
type ClaudeConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClaude builds the Claude advisor. Missing credentials are an error;
// the caller decides whether to fall back to templates.
func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic advisor: no API key")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
	}
	return &Claude{
		client:    anthropic.NewClient(opts...),
		modelName: model,
	}, nil
}

// complete sends one user prompt under a system prompt and returns the
// concatenated text blocks.
func (c *Claude) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("anthropic: empty completion")
	}
	return text, nil
}

func (c *Claude) GenerateTaskInstructions(ctx context.Context, task domain.Task, agent domain.Agent) (string, error) {
	system := "You write concise working instructions for an autonomous coding agent. " +
		"Output plain text, at most 10 lines, no preamble."
	prompt := fmt.Sprintf(
		"Task: %s\nDescription: %s\nPriority: %s\nLabels: %s\nAgent role: %s\nAgent skills: %s",
		task.Name, task.Description, task.Priority,
		strings.Join(task.Labels, ", "), agent.Role, strings.Join(agent.Skills, ", "))
	return c.complete(ctx, system, prompt)
}

func (c *Claude) SuggestBlockerResolutions(ctx context.Context, task domain.Task, description string, severity domain.Severity) ([]string, error) {
	system := "You suggest concrete next steps for a blocked engineering task. " +
		"Output one suggestion per line, at most 5 lines, no numbering or preamble."
	prompt := fmt.Sprintf("Task: %s\nBlocker (%s severity): %s", task.Name, severity, description)
	text, err := c.complete(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("anthropic: no suggestions in completion")
	}
	return out, nil
}

func (c *Claude) ClassifyTaskType(ctx context.Context, task domain.Task) (string, error) {
	system := "Classify the task as exactly one of: feature, bugfix, testing, " +
		"documentation, infrastructure, research. Output only the word."
	prompt := fmt.Sprintf("Task: %s\nLabels: %s", task.Name, strings.Join(task.Labels, ", "))
	text, err := c.complete(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	word := strings.ToLower(strings.Fields(text)[0])
	switch word {
	case "feature", "bugfix", "testing", "documentation", "infrastructure", "research":
		return word, nil
	}
	return "", fmt.Errorf("anthropic: unrecognized class %q", word)
}
