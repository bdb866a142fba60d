package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/notify"
	"github.com/quantmesh/sentinel/internal/telemetry"
)

// ScopeSystem is the panic-guard scope covering the whole platform
// rather than a single agent.
const ScopeSystem = "system"

// Panic trigger types.
const (
	TriggerDrawdown    = "drawdown"
	TriggerVolatility  = "volatility"
	TriggerFailureRate = "failure_rate"
	TriggerChaos       = "chaos"
)

// PanicThresholds are the independent limits checked on every
// evaluation pass.
type PanicThresholds struct {
	MaxDrawdownPct  float64
	MaxVolatility   float64
	MaxFailureCount int
	MaxChaosEvents  int
}

// PanicGuardConfig tunes the composite circuit breaker.
type PanicGuardConfig struct {
	Thresholds PanicThresholds

	// CooldownPeriod is how long a panic suppresses the scope.
	CooldownPeriod time.Duration

	// AlertThreshold is the activation count at which alerts are
	// dispatched through the notifier.
	AlertThreshold int

	// SweepInterval is the period of the garbage-collection sweep.
	SweepInterval time.Duration
}

// DefaultPanicGuardConfig returns the documented defaults.
func DefaultPanicGuardConfig() PanicGuardConfig {
	return PanicGuardConfig{
		Thresholds: PanicThresholds{
			MaxDrawdownPct:  0.20,
			MaxVolatility:   0.80,
			MaxFailureCount: 10,
			MaxChaosEvents:  3,
		},
		CooldownPeriod: 10 * time.Minute,
		AlertThreshold: 2,
		SweepInterval:  10 * time.Minute,
	}
}

func (c PanicGuardConfig) withDefaults() PanicGuardConfig {
	def := DefaultPanicGuardConfig()
	if c.Thresholds == (PanicThresholds{}) {
		c.Thresholds = def.Thresholds
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = def.CooldownPeriod
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = def.AlertThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Conditions is one batch of risk signals evaluated together.
type Conditions struct {
	DrawdownPct  float64
	Volatility   float64
	FailureCount int
	ChaosEvents  []string
}

// PanicTrigger is one breached threshold from an evaluation pass.
// Severity is the ratio of the observed value to its threshold.
type PanicTrigger struct {
	Type     string         `json:"type"`
	Severity float64        `json:"severity"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// PanicState is a snapshot of one scope's panic state.
type PanicState struct {
	InPanic     bool
	CooldownEnd time.Time
	Triggers    []PanicTrigger
	AlertCount  int
}

type panicState struct {
	inPanic     bool
	cooldownEnd time.Time
	triggers    []PanicTrigger
	alertCount  int
}

// PanicGuard halts a scope when any combination of drawdown,
// volatility, failure-rate, or injected chaos signals breach their
// thresholds in a single evaluation pass.
type PanicGuard struct {
	mu     sync.Mutex
	states map[string]*panicState

	cfg      PanicGuardConfig
	emitter  telemetry.Emitter
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewPanicGuard creates a panic guard. Unset config fields fall back to
// documented defaults.
func NewPanicGuard(cfg PanicGuardConfig, emitter telemetry.Emitter, notifier notify.Notifier, log *zap.Logger) *PanicGuard {
	return &PanicGuard{
		states:   make(map[string]*panicState),
		cfg:      cfg.withDefaults(),
		emitter:  emitter,
		notifier: notifier,
		log:      log.Named("panicguard"),
		now:      time.Now,
	}
}

// Evaluate checks a batch of conditions for the given scope. When one
// or more thresholds are breached, the panic activates exactly once for
// the whole batch, carrying the full trigger list. An active cooldown
// suppresses re-activation and surfaces errdefs.ErrRateLimited; the
// computed triggers are still returned for observability.
func (p *PanicGuard) Evaluate(ctx context.Context, scope string, cond Conditions) ([]PanicTrigger, error) {
	if scope == "" {
		scope = ScopeSystem
	}

	now := p.now()
	triggers := p.evaluateConditions(cond, now)
	if len(triggers) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	st, ok := p.states[scope]
	if !ok {
		st = &panicState{}
		p.states[scope] = st
	}

	if st.inPanic && now.Before(st.cooldownEnd) {
		p.mu.Unlock()
		p.log.Info("panic re-activation suppressed by cooldown",
			zap.String("scope", scope),
			zap.Int("triggers", len(triggers)))
		return triggers, fmt.Errorf("scope %s in panic cooldown: %w", scope, errdefs.ErrRateLimited)
	}

	// Single consistent transition for the whole batch, even when
	// several thresholds breached at once.
	st.inPanic = true
	st.cooldownEnd = now.Add(p.cfg.CooldownPeriod)
	st.triggers = append(st.triggers, triggers...)
	st.alertCount++
	alertCount := st.alertCount
	p.mu.Unlock()

	types := make([]string, len(triggers))
	details := make([]map[string]any, len(triggers))
	for i, t := range triggers {
		types[i] = t.Type
		details[i] = map[string]any{
			"type":     t.Type,
			"severity": t.Severity,
			"data":     t.Data,
		}
	}

	p.log.Error("panic activated",
		zap.String("scope", scope),
		zap.Strings("trigger_types", types))
	p.emitter.Emit(telemetry.EventPanicActivated, map[string]any{
		"scope":    scope,
		"triggers": details,
	})

	if alertCount >= p.cfg.AlertThreshold {
		p.dispatchAlert(ctx, scope, triggers, alertCount)
	}
	return triggers, nil
}

// InPanic reports whether the scope is currently halted, resolving an
// expired cooldown on read.
func (p *PanicGuard) InPanic(scope string) bool {
	if scope == "" {
		scope = ScopeSystem
	}

	p.mu.Lock()
	st, ok := p.states[scope]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if st.inPanic && !p.now().Before(st.cooldownEnd) {
		st.inPanic = false
		p.mu.Unlock()
		p.emitter.Emit(telemetry.EventPanicDeactivated, map[string]any{
			"scope": scope,
			"mode":  "cooldown_expired",
		})
		return false
	}
	inPanic := st.inPanic
	p.mu.Unlock()
	return inPanic
}

// Reset forces the scope out of panic regardless of cooldown.
func (p *PanicGuard) Reset(scope string) {
	if scope == "" {
		scope = ScopeSystem
	}

	p.mu.Lock()
	st, ok := p.states[scope]
	if !ok || !st.inPanic {
		p.mu.Unlock()
		return
	}
	st.inPanic = false
	st.cooldownEnd = time.Time{}
	p.mu.Unlock()

	p.log.Info("panic reset", zap.String("scope", scope))
	p.emitter.Emit(telemetry.EventPanicDeactivated, map[string]any{
		"scope": scope,
		"mode":  "manual",
	})
}

// State returns a snapshot of the scope's panic state.
func (p *PanicGuard) State(scope string) (PanicState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[scope]
	if !ok {
		return PanicState{}, false
	}
	return PanicState{
		InPanic:     st.inPanic,
		CooldownEnd: st.cooldownEnd,
		Triggers:    append([]PanicTrigger(nil), st.triggers...),
		AlertCount:  st.alertCount,
	}, true
}

// Sweep prunes triggers older than the rolling window and deletes state
// for scopes with no active cooldown and no trigger history.
func (p *PanicGuard) Sweep() int {
	now := p.now()
	cutoff := now.Add(-triggerWindow)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for scope, st := range p.states {
		kept := st.triggers[:0]
		for _, t := range st.triggers {
			if t.At.After(cutoff) {
				kept = append(kept, t)
			}
		}
		st.triggers = kept
		if st.inPanic && !now.Before(st.cooldownEnd) {
			st.inPanic = false
		}
		if !st.inPanic && len(st.triggers) == 0 {
			delete(p.states, scope)
			removed++
		}
	}
	return removed
}

// Run drives the periodic sweep until ctx is cancelled.
func (p *PanicGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				p.log.Debug("sweep removed idle panic states", zap.Int("count", n))
			}
		}
	}
}

// evaluateConditions checks every signal against its threshold. Each
// breach yields a trigger with severity = value/threshold.
func (p *PanicGuard) evaluateConditions(cond Conditions, now time.Time) []PanicTrigger {
	th := p.cfg.Thresholds
	var triggers []PanicTrigger

	if th.MaxDrawdownPct > 0 && cond.DrawdownPct >= th.MaxDrawdownPct {
		triggers = append(triggers, PanicTrigger{
			Type:     TriggerDrawdown,
			Severity: cond.DrawdownPct / th.MaxDrawdownPct,
			Data:     map[string]any{"drawdown_pct": cond.DrawdownPct},
			At:       now,
		})
	}
	if th.MaxVolatility > 0 && cond.Volatility >= th.MaxVolatility {
		triggers = append(triggers, PanicTrigger{
			Type:     TriggerVolatility,
			Severity: cond.Volatility / th.MaxVolatility,
			Data:     map[string]any{"volatility": cond.Volatility},
			At:       now,
		})
	}
	if th.MaxFailureCount > 0 && cond.FailureCount >= th.MaxFailureCount {
		triggers = append(triggers, PanicTrigger{
			Type:     TriggerFailureRate,
			Severity: float64(cond.FailureCount) / float64(th.MaxFailureCount),
			Data:     map[string]any{"failure_count": cond.FailureCount},
			At:       now,
		})
	}
	if th.MaxChaosEvents > 0 && len(cond.ChaosEvents) >= th.MaxChaosEvents {
		triggers = append(triggers, PanicTrigger{
			Type:     TriggerChaos,
			Severity: float64(len(cond.ChaosEvents)) / float64(th.MaxChaosEvents),
			Data:     map[string]any{"events": cond.ChaosEvents},
			At:       now,
		})
	}
	return triggers
}

// dispatchAlert sends the structured trigger detail through the
// notifier. Failures are logged and never retried.
func (p *PanicGuard) dispatchAlert(ctx context.Context, scope string, triggers []PanicTrigger, count int) {
	fields := []notify.Field{
		{Name: "scope", Value: scope},
		{Name: "alert_count", Value: fmt.Sprintf("%d", count)},
	}
	for _, t := range triggers {
		data, _ := json.Marshal(t.Data)
		fields = append(fields, notify.Field{
			Name:  t.Type,
			Value: fmt.Sprintf("severity %.2f %s", t.Severity, data),
		})
	}
	alert := notify.Alert{
		Title:       "Panic guard escalation: " + scope,
		Description: fmt.Sprintf("%d risk thresholds breached in one evaluation pass", len(triggers)),
		Fields:      fields,
	}
	if err := p.notifier.Send(ctx, alert); err != nil {
		p.log.Warn("panic alert dispatch failed",
			zap.String("scope", scope), zap.Error(err))
	}
}
