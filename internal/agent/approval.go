package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/pkg/models"
)

const (
	// DefaultApprovalTTL is how long a suspended turn waits for a decision.
	DefaultApprovalTTL = 10 * time.Minute

	// DefaultSweepSchedule evicts expired approvals once a minute.
	DefaultSweepSchedule = "@every 1m"
)

var sweepParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ApprovalGateConfig configures an ApprovalGate.
type ApprovalGateConfig struct {
	// TTL after which a pending approval reads as not found. Default: 10m
	TTL time.Duration

	// SweepSchedule is a cron spec for the eviction job. Default: "@every 1m"
	SweepSchedule string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// ApprovalGate holds turns suspended on a risky tool call until the owning
// user approves or rejects them. Each approval is consumed at most once.
type ApprovalGate struct {
	store    storage.ApprovalStore
	ttl      time.Duration
	schedule cron.Schedule
	spec     string
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewApprovalGate creates a gate over store. The sweep job does not run
// until Start is called.
func NewApprovalGate(store storage.ApprovalStore, config ApprovalGateConfig) (*ApprovalGate, error) {
	if store == nil {
		return nil, errors.New("approval store is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultApprovalTTL
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = DefaultSweepSchedule
	}
	schedule, err := sweepParser.Parse(config.SweepSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalGate{
		store:    store,
		ttl:      config.TTL,
		schedule: schedule,
		spec:     config.SweepSchedule,
		logger:   logger.With("component", "approvals"),
		metrics:  config.Metrics,
		now:      time.Now,
	}, nil
}

// TTL returns the approval lifetime.
func (g *ApprovalGate) TTL() time.Duration {
	return g.ttl
}

// Create stores a pending approval.
func (g *ApprovalGate) Create(ctx context.Context, pending *models.PendingApproval) error {
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = g.now()
	}
	if err := g.store.Put(ctx, pending); err != nil {
		return fmt.Errorf("store pending approval: %w", err)
	}
	g.metrics.RecordApproval("requested")
	g.logger.Info("approval requested",
		"approval_id", pending.ID,
		"user_id", pending.UserID,
		"tool", pending.ToolCall.Name,
	)
	return nil
}

// Claim consumes the approval for userID. Only one concurrent caller can
// win; the others see ErrApprovalNotFound. An approval owned by another user
// is left in place and ErrApprovalForbidden is returned.
func (g *ApprovalGate) Claim(ctx context.Context, id, userID string) (*models.PendingApproval, error) {
	pending, err := g.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Warn("approval lookup failed", "approval_id", id, "error", err)
		}
		return nil, ErrApprovalNotFound
	}
	if pending.UserID != userID {
		return nil, ErrApprovalForbidden
	}
	if pending.Expired(g.now(), g.ttl) {
		_ = g.store.Delete(ctx, id)
		g.metrics.RecordApproval("expired")
		return nil, ErrApprovalNotFound
	}
	if err := g.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("consume approval: %w", err)
	}
	return pending, nil
}

// Sweep evicts approvals older than the TTL.
func (g *ApprovalGate) Sweep(ctx context.Context) (int, error) {
	removed, err := g.store.Sweep(ctx, g.now().Add(-g.ttl))
	if err != nil {
		return 0, err
	}
	for range removed {
		g.metrics.RecordApproval("expired")
	}
	if removed > 0 {
		g.logger.Debug("swept expired approvals", "count", removed)
	}
	return removed, nil
}

// Start schedules the sweep job.
func (g *ApprovalGate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cron != nil {
		return
	}
	g.cron = cron.New(cron.WithParser(sweepParser))
	g.cron.Schedule(g.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := g.Sweep(ctx); err != nil {
			g.logger.Error("approval sweep failed", "error", err)
		}
	}))
	g.cron.Start()
	g.logger.Debug("approval sweep scheduled", "schedule", g.spec, "ttl", g.ttl)
}

// Stop cancels the sweep job and waits for a running sweep to finish.
func (g *ApprovalGate) Stop() {
	g.mu.Lock()
	c := g.cron
	g.cron = nil
	g.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
