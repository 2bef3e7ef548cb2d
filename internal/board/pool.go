package board

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marcus-coord/marcus/internal/domain"
)

// PoolConfig tunes the provider call pool.
type PoolConfig struct {
	MinConns      int
	MaxConns      int
	HealthCheck   time.Duration
	IdleTTL       time.Duration
	RatePerSecond float64
}

// DefaultPoolConfig returns the prescriptive defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:      2,
		MaxConns:      8,
		HealthCheck:   30 * time.Second,
		IdleTTL:       2 * time.Minute,
		RatePerSecond: 10,
	}
}

// Pool serializes access to a provider through a bounded set of call slots:
// one in-flight call per slot, rate-limited overall, health-checked
// periodically. Idle slots above the minimum are retired after the idle TTL.
type Pool struct {
	provider Provider
	cfg      PoolConfig
	logger   *log.Logger
	limiter  *rate.Limiter
	slots    chan struct{}

	mu        sync.Mutex
	open      int       // slots currently materialized
	lastBusy  time.Time // last time every slot was in use
	healthy   bool
	lastError error

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPool wraps provider with slot and rate limiting.
func NewPool(provider Provider, cfg PoolConfig, logger *log.Logger) *Pool {
	if cfg.MinConns < 1 {
		cfg.MinConns = 1
	}
	if cfg.MaxConns < cfg.MinConns {
		cfg.MaxConns = cfg.MinConns
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultPoolConfig().RatePerSecond
	}
	p := &Pool{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.MaxConns),
		slots:    make(chan struct{}, cfg.MaxConns),
		open:     cfg.MaxConns,
		healthy:  true,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConns; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Start runs the health check loop until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	defer close(p.doneCh)
	if p.cfg.HealthCheck <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(p.cfg.HealthCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkHealth(ctx)
		}
	}
}

// Stop terminates the health loop.
func (p *Pool) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pool) checkHealth(ctx context.Context) {
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := p.provider.Ping(probe)

	p.mu.Lock()
	wasHealthy := p.healthy
	p.healthy = err == nil
	p.lastError = err
	// Retire idle capacity above the minimum when the pool has been quiet
	// longer than the idle TTL. Retired slots re-materialize on demand.
	if p.cfg.IdleTTL > 0 && p.open > p.cfg.MinConns && time.Since(p.lastBusy) > p.cfg.IdleTTL {
		select {
		case <-p.slots:
			p.open--
		default:
		}
	}
	p.mu.Unlock()

	if err != nil && wasHealthy {
		p.logger.Printf("Board pool %s: unhealthy: %v", p.provider.Name(), err)
	} else if err == nil && !wasHealthy {
		p.logger.Printf("Board pool %s: recovered", p.provider.Name())
	}
}

// Healthy reports the last health probe result.
func (p *Pool) Healthy() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.lastError
}

// acquire takes a rate token and a call slot, growing the pool back toward
// max if slots were retired.
func (p *Pool) acquire(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.KindTimeout, err, "board pool %s", p.provider.Name())
	}
	select {
	case <-p.slots:
		return nil
	default:
	}
	p.mu.Lock()
	if p.open < p.cfg.MaxConns {
		p.open++
		p.lastBusy = time.Now()
		p.mu.Unlock()
		return nil
	}
	p.lastBusy = time.Now()
	p.mu.Unlock()
	select {
	case <-p.slots:
		return nil
	case <-ctx.Done():
		return domain.WrapError(domain.KindTimeout, ctx.Err(), "board pool %s", p.provider.Name())
	}
}

func (p *Pool) release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}

func (p *Pool) Name() string { return p.provider.Name() }

func (p *Pool) ListAvailableTasks(ctx context.Context) ([]domain.Task, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	return p.provider.ListAvailableTasks(ctx)
}

func (p *Pool) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if err := p.acquire(ctx); err != nil {
		return domain.Task{}, err
	}
	defer p.release()
	return p.provider.GetTask(ctx, id)
}

func (p *Pool) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if err := p.acquire(ctx); err != nil {
		return domain.Task{}, err
	}
	defer p.release()
	return p.provider.CreateTask(ctx, draft)
}

func (p *Pool) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return p.provider.UpdateStatus(ctx, id, status)
}

func (p *Pool) AddComment(ctx context.Context, id, text string) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return p.provider.AddComment(ctx, id, text)
}

func (p *Pool) SetAssignee(ctx context.Context, id, agentID string) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return p.provider.SetAssignee(ctx, id, agentID)
}

func (p *Pool) BoardSummary(ctx context.Context) (Summary, error) {
	if err := p.acquire(ctx); err != nil {
		return Summary{}, err
	}
	defer p.release()
	return p.provider.BoardSummary(ctx)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.provider.Ping(ctx)
}
