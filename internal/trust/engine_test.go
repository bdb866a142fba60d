package trust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/store"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(name string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// newTestEngine builds an engine on the in-memory store with a frozen
// clock the test controls.
func newTestEngine(t *testing.T, cfg Config) (*Engine, *recordingEmitter, *time.Time) {
	t.Helper()
	emitter := &recordingEmitter{}
	engine := NewEngine(cfg, store.NewMemory(), emitter, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return engine, emitter, &now
}

func TestUpdateAgentMetricsWeightedSum(t *testing.T) {
	engine, _, _ := newTestEngine(t, Config{})

	err := engine.UpdateAgentMetrics(context.Background(), "alpha-1", 0.8, 0.5, 0.6)
	require.NoError(t, err)

	// 0.8*0.4 + 0.5*0.3 + 0.6*0.3 with no inactivity decay.
	assert.InDelta(t, 0.65, engine.Score("alpha-1"), 1e-9)
}

func TestScoreClampedToConfiguredRange(t *testing.T) {
	engine, _, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, engine.UpdateAgentMetrics(ctx, "hot", 2.0, 2.0, 2.0))
	assert.Equal(t, 1.0, engine.Score("hot"))

	require.NoError(t, engine.UpdateAgentMetrics(ctx, "cold", -2.0, -2.0, -2.0))
	assert.Equal(t, 0.0, engine.Score("cold"))
}

func TestUnknownAgentGetsBaseTrust(t *testing.T) {
	engine, _, _ := newTestEngine(t, Config{})

	assert.Equal(t, 0.5, engine.Score("never-seen"))
	assert.Equal(t, 0.5, engine.NormalizedScore("never-seen"))

	_, err := engine.Snapshot("never-seen")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestEmptyAgentIDRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, Config{})
	err := engine.UpdateAgentMetrics(context.Background(), "", 0.5, 0.5, 0.5)
	assert.ErrorIs(t, err, errdefs.ErrInvalidConfig)
}

func TestInactivityDecay(t *testing.T) {
	tests := []struct {
		name string
		idle time.Duration
		want float64
	}{
		{"half horizon", 15 * 24 * time.Hour, 0.65 * 0.75},
		{"full horizon", 30 * 24 * time.Hour, 0.65 * 0.5},
		{"beyond horizon caps at max decay", 90 * 24 * time.Hour, 0.65 * 0.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, _, now := newTestEngine(t, Config{})
			ctx := context.Background()

			require.NoError(t, engine.UpdateAgentMetrics(ctx, "a1", 0.8, 0.5, 0.6))
			require.InDelta(t, 0.65, engine.Score("a1"), 1e-9)

			*now = now.Add(tc.idle)
			engine.RecomputeAll(ctx)
			assert.InDelta(t, tc.want, engine.Score("a1"), 1e-9)
		})
	}
}

func TestEventSuppressedBelowEpsilon(t *testing.T) {
	engine, emitter, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, engine.UpdateAgentMetrics(ctx, "a1", 0.8, 0.5, 0.6))
	require.Equal(t, 1, emitter.count(), "first move from base trust should emit")

	// Same inputs, same clock: zero score movement.
	require.NoError(t, engine.UpdateAgentMetrics(ctx, "a1", 0.8, 0.5, 0.6))
	assert.Equal(t, 1, emitter.count())
}

func TestRecomputeAllReportsChangedAgents(t *testing.T) {
	engine, _, now := newTestEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, engine.UpdateAgentMetrics(ctx, "a1", 0.8, 0.5, 0.6))
	require.NoError(t, engine.UpdateAgentMetrics(ctx, "a2", 0.0, 0.0, 0.0))

	// a1 decays; a2 is already pinned at the floor and cannot move.
	*now = now.Add(15 * 24 * time.Hour)
	changed := engine.RecomputeAll(ctx)
	assert.Equal(t, 1, changed)
}

func TestLoadRestoresRecordsAndSkipsHistory(t *testing.T) {
	st := store.NewMemory()
	emitter := &recordingEmitter{}
	ctx := context.Background()

	first := NewEngine(Config{}, st, emitter, zap.NewNop())
	require.NoError(t, first.UpdateAgentMetrics(ctx, "a1", 0.8, 0.5, 0.6))
	require.NoError(t, first.UpdateAgentMetrics(ctx, "a2", 0.2, 0.2, 0.2))

	second := NewEngine(Config{}, st, emitter, zap.NewNop())
	require.NoError(t, second.Load(ctx))

	assert.ElementsMatch(t, []string{"a1", "a2"}, second.AgentIDs())
	assert.InDelta(t, first.Score("a1"), second.Score("a1"), 1e-9)

	snap, err := second.Snapshot("a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", snap.AgentID)
}

func TestHistoryBounded(t *testing.T) {
	st := store.NewMemory()
	engine := NewEngine(Config{HistoryLimit: 5}, st, &recordingEmitter{}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, engine.UpdateAgentMetrics(ctx, "a1", float64(i)*0.05, 0.1, 0.1))
	}

	entries, err := st.ListRange(ctx, "trust:agent:a1:history", 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
