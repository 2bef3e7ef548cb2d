// Package factory assembles the configured board provider with its
// reliability layers: raw adapter, then retry/breaker, then the call pool.
package factory

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/marcus-coord/marcus/internal/board"
	"github.com/marcus-coord/marcus/internal/board/github"
	"github.com/marcus-coord/marcus/internal/board/linear"
	"github.com/marcus-coord/marcus/internal/board/local"
	"github.com/marcus-coord/marcus/internal/board/planka"
	"github.com/marcus-coord/marcus/internal/config"
	"github.com/marcus-coord/marcus/internal/domain"
)

// Board bundles the pooled provider with its lifecycle handles.
type Board struct {
	*board.Pool
	closer func() error
}

// Close releases adapter resources (the local provider's database handle).
func (b *Board) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// New builds the provider named in cfg and wraps it with the retry and pool
// layers. The caller starts the pool's health loop.
func New(cfg *config.Config, logger *log.Logger) (*Board, error) {
	base, closer, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}

	reliable := board.NewReliable(base, board.RetryConfig{
		MaxAttempts:     cfg.Assignment.MaxMirrorAttempts,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}, logger)

	pool := board.NewPool(reliable, board.PoolConfig{
		MinConns:      cfg.Pool.MinConns,
		MaxConns:      cfg.Pool.MaxConns,
		HealthCheck:   time.Duration(cfg.Pool.HealthCheckSeconds) * time.Second,
		IdleTTL:       time.Duration(cfg.Pool.IdleTTLSeconds) * time.Second,
		RatePerSecond: cfg.Pool.RatePerSecond,
	}, logger)

	return &Board{Pool: pool, closer: closer}, nil
}

func newAdapter(cfg *config.Config) (board.Provider, func() error, error) {
	pc := cfg.ProviderConfig
	priority := priorityRules(pc.PriorityLabels)
	columns := statusColumns(pc.Columns)

	switch cfg.Provider {
	case "planka":
		if pc.BaseURL == "" || pc.BoardID == "" {
			return nil, nil, fmt.Errorf("planka provider needs base_url and board_id")
		}
		return planka.New(planka.Config{
			BaseURL:  pc.BaseURL,
			APIToken: pc.APIToken(),
			BoardID:  pc.BoardID,
			Columns:  columns,
			Priority: priority,
		}), nil, nil

	case "github":
		owner, repo, ok := strings.Cut(pc.ProjectID, "/")
		if !ok || owner == "" || repo == "" {
			return nil, nil, fmt.Errorf("github provider needs project_id as owner/repo, got %q", pc.ProjectID)
		}
		return github.New(github.Config{
			BaseURL:  pc.BaseURL,
			APIToken: pc.APIToken(),
			Owner:    owner,
			Repo:     repo,
			Priority: priority,
		}), nil, nil

	case "linear":
		if pc.ProjectID == "" {
			return nil, nil, fmt.Errorf("linear provider needs project_id (team ID)")
		}
		return linear.New(linear.Config{
			BaseURL:  pc.BaseURL,
			APIToken: pc.APIToken(),
			TeamID:   pc.ProjectID,
			Columns:  columns,
			Priority: priority,
		}), nil, nil

	case "local":
		if pc.Path == "" {
			return nil, nil, fmt.Errorf("local provider needs path")
		}
		a, err := local.New(pc.Path)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func priorityRules(pl config.PriorityLabels) board.PriorityRules {
	rules := board.DefaultPriorityRules()
	if len(pl.Urgent) > 0 {
		rules.Urgent = pl.Urgent
	}
	if len(pl.High) > 0 {
		rules.High = pl.High
	}
	if len(pl.Low) > 0 {
		rules.Low = pl.Low
	}
	return rules
}

func statusColumns(m map[string]string) board.StatusColumns {
	if len(m) == 0 {
		return nil
	}
	out := make(board.StatusColumns, len(m))
	for k, v := range m {
		status, err := domain.ParseStatus(k)
		if err != nil {
			continue
		}
		out[status] = v
	}
	return out
}
