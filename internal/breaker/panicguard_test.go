package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
)

func newTestPanicGuard(t *testing.T, cfg PanicGuardConfig) (*PanicGuard, *recordingEmitter, *recordingNotifier, *time.Time) {
	t.Helper()
	emitter := &recordingEmitter{}
	notifier := &recordingNotifier{}
	pg := NewPanicGuard(cfg, emitter, notifier, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pg.now = func() time.Time { return now }
	return pg, emitter, notifier, &now
}

func TestEvaluateBelowThresholdsIsQuiet(t *testing.T) {
	pg, emitter, _, _ := newTestPanicGuard(t, PanicGuardConfig{})

	triggers, err := pg.Evaluate(context.Background(), "sys", Conditions{
		DrawdownPct:  0.10,
		Volatility:   0.50,
		FailureCount: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, triggers)
	assert.False(t, pg.InPanic("sys"))
	assert.Empty(t, emitter.byName("panic_activated"))
}

func TestEvaluateSeverityRatios(t *testing.T) {
	tests := []struct {
		name         string
		cond         Conditions
		wantType     string
		wantSeverity float64
	}{
		{"drawdown", Conditions{DrawdownPct: 0.30}, TriggerDrawdown, 1.5},
		{"volatility", Conditions{Volatility: 1.0}, TriggerVolatility, 1.25},
		{"failure rate", Conditions{FailureCount: 20}, TriggerFailureRate, 2.0},
		{"chaos", Conditions{ChaosEvents: []string{"net", "disk", "clock"}}, TriggerChaos, 1.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pg, _, _, _ := newTestPanicGuard(t, PanicGuardConfig{})

			triggers, err := pg.Evaluate(context.Background(), "sys", tc.cond)
			require.NoError(t, err)
			require.Len(t, triggers, 1)
			assert.Equal(t, tc.wantType, triggers[0].Type)
			assert.InDelta(t, tc.wantSeverity, triggers[0].Severity, 1e-9)
			assert.True(t, pg.InPanic("sys"))
		})
	}
}

func TestBatchActivatesOnce(t *testing.T) {
	pg, emitter, _, _ := newTestPanicGuard(t, PanicGuardConfig{})

	triggers, err := pg.Evaluate(context.Background(), "sys", Conditions{
		DrawdownPct:  0.50,
		Volatility:   0.90,
		FailureCount: 15,
	})
	require.NoError(t, err)
	assert.Len(t, triggers, 3)

	// Three breaches, one transition, one event.
	assert.Len(t, emitter.byName("panic_activated"), 1)

	state, ok := pg.State("sys")
	require.True(t, ok)
	assert.Equal(t, 1, state.AlertCount)
	assert.Len(t, state.Triggers, 3)
}

func TestCooldownSuppressesReactivation(t *testing.T) {
	pg, emitter, _, _ := newTestPanicGuard(t, PanicGuardConfig{})
	ctx := context.Background()

	_, err := pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)

	triggers, err := pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.40})
	assert.ErrorIs(t, err, errdefs.ErrRateLimited)
	assert.Len(t, triggers, 1, "suppressed evaluation still reports what breached")
	assert.Len(t, emitter.byName("panic_activated"), 1)
}

func TestPanicExpiresAfterCooldown(t *testing.T) {
	pg, emitter, _, now := newTestPanicGuard(t, PanicGuardConfig{CooldownPeriod: 10 * time.Minute})
	ctx := context.Background()

	_, err := pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)
	require.True(t, pg.InPanic("sys"))

	*now = now.Add(10*time.Minute + time.Second)
	assert.False(t, pg.InPanic("sys"))
	assert.Len(t, emitter.byName("panic_deactivated"), 1)

	// A fresh breach re-activates after expiry.
	_, err = pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	assert.NoError(t, err)
	assert.True(t, pg.InPanic("sys"))
}

func TestPanicAlertThreshold(t *testing.T) {
	pg, _, notifier, now := newTestPanicGuard(t, PanicGuardConfig{
		CooldownPeriod: time.Minute,
		AlertThreshold: 2,
	})
	ctx := context.Background()

	_, err := pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)
	assert.Equal(t, 0, notifier.count())

	*now = now.Add(2 * time.Minute)
	_, err = pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
}

func TestEmptyScopeDefaultsToSystem(t *testing.T) {
	pg, _, _, _ := newTestPanicGuard(t, PanicGuardConfig{})

	_, err := pg.Evaluate(context.Background(), "", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)
	assert.True(t, pg.InPanic(ScopeSystem))
	assert.True(t, pg.InPanic(""))
}

func TestPanicManualReset(t *testing.T) {
	pg, emitter, _, _ := newTestPanicGuard(t, PanicGuardConfig{})
	ctx := context.Background()

	_, err := pg.Evaluate(ctx, "sys", Conditions{Volatility: 0.95})
	require.NoError(t, err)

	pg.Reset("sys")
	assert.False(t, pg.InPanic("sys"))
	assert.Len(t, emitter.byName("panic_deactivated"), 1)

	pg.Reset("never-seen")
}

func TestPanicSweepRemovesIdleScopes(t *testing.T) {
	pg, _, _, now := newTestPanicGuard(t, PanicGuardConfig{CooldownPeriod: time.Minute})
	ctx := context.Background()

	_, err := pg.Evaluate(ctx, "sys", Conditions{DrawdownPct: 0.30})
	require.NoError(t, err)
	assert.Equal(t, 0, pg.Sweep())

	*now = now.Add(25 * time.Hour)
	assert.Equal(t, 1, pg.Sweep())

	_, ok := pg.State("sys")
	assert.False(t, ok)
}
