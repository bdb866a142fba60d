// Package allocation recomputes each agent's target capital share from
// trust, performance, drawdown, and inactivity on a fixed interval.
package allocation

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/telemetry"
)

// Config tunes the rebalance pass.
type Config struct {
	// WTrust and WPerformance weight the two score components.
	WTrust       float64
	WPerformance float64

	// DrawdownPenalty scales the multiplicative penalty applied when an
	// agent reports a negative drawdown.
	DrawdownPenalty float64

	// InactivityPenalty scales the penalty applied once an agent has
	// been inactive for more than 24 hours. The penalty deliberately
	// saturates at 24 hours of inactivity.
	InactivityPenalty float64

	// MinAllocationPct and MaxAllocationPct clamp every agent's share.
	MinAllocationPct float64
	MaxAllocationPct float64

	// BaseAllocation is the total capital distributed across agents.
	BaseAllocation float64

	// Epsilon suppresses allocation-changed events for target moves at
	// or below this magnitude.
	Epsilon float64

	// RebalanceInterval is the period of the rebalance tick.
	RebalanceInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WTrust:            0.6,
		WPerformance:      0.4,
		DrawdownPenalty:   0.5,
		InactivityPenalty: 0.3,
		MinAllocationPct:  0.05,
		MaxAllocationPct:  0.40,
		BaseAllocation:    1_000_000,
		Epsilon:           0.01,
		RebalanceInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WTrust == 0 && c.WPerformance == 0 {
		c.WTrust, c.WPerformance = def.WTrust, def.WPerformance
	}
	if c.DrawdownPenalty == 0 {
		c.DrawdownPenalty = def.DrawdownPenalty
	}
	if c.InactivityPenalty == 0 {
		c.InactivityPenalty = def.InactivityPenalty
	}
	if c.MinAllocationPct == 0 && c.MaxAllocationPct == 0 {
		c.MinAllocationPct, c.MaxAllocationPct = def.MinAllocationPct, def.MaxAllocationPct
	}
	if c.BaseAllocation == 0 {
		c.BaseAllocation = def.BaseAllocation
	}
	if c.Epsilon == 0 {
		c.Epsilon = def.Epsilon
	}
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = def.RebalanceInterval
	}
	return c
}

// Record tracks one agent's allocation state. Records are updated on
// every rebalance tick and never deleted while the agent is known.
type Record struct {
	AgentID           string
	CurrentAllocation float64
	TargetAllocation  float64
	TrustScore        float64
	PerformanceScore  float64
	Drawdown          float64
	LastActivity      time.Time
}

// TrustSource supplies the trust snapshot folded into each agent's
// allocation score.
type TrustSource interface {
	Score(agentID string) float64
}

// Allocator periodically recomputes target capital shares.
type Allocator struct {
	mu      sync.Mutex
	records map[string]*Record

	cfg     Config
	trust   TrustSource
	emitter telemetry.Emitter
	log     *zap.Logger
	now     func() time.Time
}

// NewAllocator creates an allocator. Unset config fields fall back to
// documented defaults.
func NewAllocator(cfg Config, trust TrustSource, emitter telemetry.Emitter, log *zap.Logger) *Allocator {
	return &Allocator{
		records: make(map[string]*Record),
		cfg:     cfg.withDefaults(),
		trust:   trust,
		emitter: emitter,
		log:     log.Named("allocation"),
		now:     time.Now,
	}
}

// ReportPerformance records the latest performance sample and drawdown
// for an agent, creating its allocation record on first sight.
func (a *Allocator) ReportPerformance(agentID string, performance, drawdown float64) {
	if agentID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[agentID]
	if !ok {
		rec = &Record{AgentID: agentID}
		a.records[agentID] = rec
	}
	rec.PerformanceScore = performance
	rec.Drawdown = drawdown
	rec.LastActivity = a.now()
}

// Allocation returns a snapshot of the agent's allocation record.
func (a *Allocator) Allocation(agentID string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[agentID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns a snapshot of all allocation records.
func (a *Allocator) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, *rec)
	}
	return out
}

// Rebalance recomputes every agent's target allocation. When the sum of
// all scores is zero the pass aborts, leaving prior allocations
// untouched: dividing by zero or starving every agent to zero are both
// worse outcomes than a stale allocation.
func (a *Allocator) Rebalance(ctx context.Context) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	scores := make(map[string]float64, len(a.records))
	total := 0.0
	for agentID, rec := range a.records {
		score := a.scoreAgent(rec, now)
		scores[agentID] = score
		total += score
	}

	if total == 0 {
		if len(a.records) > 0 {
			a.log.Warn("rebalance aborted: total score is zero, keeping prior allocations",
				zap.Int("agents", len(a.records)))
		}
		return
	}

	for agentID, rec := range a.records {
		pct := clamp(scores[agentID]/total, a.cfg.MinAllocationPct, a.cfg.MaxAllocationPct)
		target := a.cfg.BaseAllocation * pct

		previous := rec.TargetAllocation
		rec.TrustScore = a.trust.Score(agentID)
		rec.CurrentAllocation = rec.TargetAllocation
		rec.TargetAllocation = target

		if math.Abs(target-previous) > a.cfg.Epsilon {
			a.emitter.Emit(telemetry.EventCapitalRebalance, map[string]any{
				"agent_id":          agentID,
				"previous_target":   previous,
				"target_allocation": target,
				"allocation_pct":    pct,
			})
		}
	}
}

// Run drives the periodic rebalance tick until ctx is cancelled.
func (a *Allocator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Rebalance(ctx)
		}
	}
}

// scoreAgent computes one agent's raw allocation score. Caller holds
// a.mu.
func (a *Allocator) scoreAgent(rec *Record, now time.Time) float64 {
	trustScore := a.trust.Score(rec.AgentID)
	score := trustScore*a.cfg.WTrust + rec.PerformanceScore*a.cfg.WPerformance

	if rec.Drawdown < 0 {
		score *= 1 + rec.Drawdown*a.cfg.DrawdownPenalty
	}

	inactivityHours := now.Sub(rec.LastActivity).Hours()
	if inactivityHours > 24 {
		// The penalty saturates at one day: a week of silence costs the
		// same as 25 hours.
		score *= 1 - math.Min(1, inactivityHours/24)*a.cfg.InactivityPenalty
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
