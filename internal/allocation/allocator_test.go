package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubTrust returns fixed trust scores per agent.
type stubTrust struct {
	scores map[string]float64
}

func (s *stubTrust) Score(agentID string) float64 {
	return s.scores[agentID]
}

// countingEmitter tallies rebalance events.
type countingEmitter struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *countingEmitter) Emit(name string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, payload)
}

func (c *countingEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestAllocator(t *testing.T, cfg Config, trust *stubTrust) (*Allocator, *countingEmitter, *time.Time) {
	t.Helper()
	emitter := &countingEmitter{}
	alloc := NewAllocator(cfg, trust, emitter, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	alloc.now = func() time.Time { return now }
	return alloc, emitter, &now
}

func TestRebalanceBoundsAllocations(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"strong": 1.0, "weak": 0.01}}
	alloc, _, _ := newTestAllocator(t, Config{}, trust)
	ctx := context.Background()

	alloc.ReportPerformance("strong", 1.0, 0)
	alloc.ReportPerformance("weak", 0.0, 0)
	alloc.Rebalance(ctx)

	strong, ok := alloc.Allocation("strong")
	require.True(t, ok)
	weak, ok := alloc.Allocation("weak")
	require.True(t, ok)

	// strong dominates the pool but is capped at 40%; weak is floored
	// at 5% regardless of its near-zero score.
	assert.InDelta(t, 400_000, strong.TargetAllocation, 1e-6)
	assert.InDelta(t, 50_000, weak.TargetAllocation, 1e-6)
}

func TestRebalanceZeroTotalKeepsPriorTargets(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"a1": 1.0}}
	alloc, _, _ := newTestAllocator(t, Config{}, trust)
	ctx := context.Background()

	alloc.ReportPerformance("a1", 1.0, 0)
	alloc.Rebalance(ctx)
	before, _ := alloc.Allocation("a1")
	require.Positive(t, before.TargetAllocation)

	// Every score collapses to zero; the pass must abort rather than
	// zero out the book.
	trust.scores["a1"] = 0
	alloc.mu.Lock()
	alloc.records["a1"].PerformanceScore = 0
	alloc.mu.Unlock()

	alloc.Rebalance(ctx)
	after, _ := alloc.Allocation("a1")
	assert.Equal(t, before.TargetAllocation, after.TargetAllocation)
}

func TestRebalanceEventHysteresis(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"a1": 0.8, "a2": 0.4}}
	alloc, emitter, _ := newTestAllocator(t, Config{}, trust)
	ctx := context.Background()

	alloc.ReportPerformance("a1", 0.9, 0)
	alloc.ReportPerformance("a2", 0.5, 0)

	alloc.Rebalance(ctx)
	first := emitter.count()
	assert.Equal(t, 2, first)

	// Nothing moved; the second pass must stay silent.
	alloc.Rebalance(ctx)
	assert.Equal(t, first, emitter.count())
}

func TestDrawdownPenalty(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"a1": 1.0}}
	alloc, _, now := newTestAllocator(t, Config{}, trust)

	rec := &Record{AgentID: "a1", PerformanceScore: 1.0, LastActivity: *now}
	clean := alloc.scoreAgent(rec, *now)

	rec.Drawdown = -0.4
	penalized := alloc.scoreAgent(rec, *now)

	// score * (1 + (-0.4 * 0.5)) = 80% of the clean score.
	assert.InDelta(t, clean*0.8, penalized, 1e-9)
}

func TestInactivityPenaltySaturates(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"a1": 1.0}}
	alloc, _, now := newTestAllocator(t, Config{}, trust)

	fresh := &Record{AgentID: "a1", PerformanceScore: 1.0, LastActivity: *now}
	dayOld := &Record{AgentID: "a1", PerformanceScore: 1.0, LastActivity: now.Add(-25 * time.Hour)}
	weekOld := &Record{AgentID: "a1", PerformanceScore: 1.0, LastActivity: now.Add(-7 * 24 * time.Hour)}

	freshScore := alloc.scoreAgent(fresh, *now)
	dayScore := alloc.scoreAgent(dayOld, *now)
	weekScore := alloc.scoreAgent(weekOld, *now)

	assert.Less(t, dayScore, freshScore)
	assert.InDelta(t, freshScore*0.7, weekScore, 1e-9, "penalty saturates at one day")
	assert.InDelta(t, weekScore, alloc.scoreAgent(dayOld, now.Add(30*24*time.Hour)), 1e-9)
}

func TestCurrentAllocationTracksPriorTarget(t *testing.T) {
	trust := &stubTrust{scores: map[string]float64{"a1": 0.8, "a2": 0.4}}
	alloc, _, _ := newTestAllocator(t, Config{}, trust)
	ctx := context.Background()

	alloc.ReportPerformance("a1", 0.9, 0)
	alloc.ReportPerformance("a2", 0.5, 0)
	alloc.Rebalance(ctx)

	first, _ := alloc.Allocation("a1")
	assert.Zero(t, first.CurrentAllocation)

	trust.scores["a1"] = 0.2
	alloc.Rebalance(ctx)

	second, _ := alloc.Allocation("a1")
	assert.Equal(t, first.TargetAllocation, second.CurrentAllocation)
}

func TestReportPerformanceIgnoresEmptyID(t *testing.T) {
	alloc, _, _ := newTestAllocator(t, Config{}, &stubTrust{})
	alloc.ReportPerformance("", 1.0, 0)
	assert.Empty(t, alloc.Records())
}
