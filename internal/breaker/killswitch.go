// Package breaker implements the per-agent and system-wide circuit
// breakers: the kill switch for explicit risk events and the panic
// guard for composite anomaly batches. Expiry is pull-based — cooldowns
// are resolved on access rather than by per-agent timers, and a single
// low-frequency sweep garbage-collects idle state.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/notify"
	"github.com/quantmesh/sentinel/internal/telemetry"
)

// triggerWindow is the sliding window over which the daily trigger cap
// is enforced.
const triggerWindow = 24 * time.Hour

// KillSwitchConfig tunes the per-agent circuit breaker.
type KillSwitchConfig struct {
	// CooldownPeriod is how long an activation suppresses the agent.
	CooldownPeriod time.Duration

	// MaxTriggersPerDay caps activations within any rolling 24h window.
	MaxTriggersPerDay int

	// AlertThreshold is the lifetime trigger count at which an alert is
	// dispatched through the notifier.
	AlertThreshold int

	// SweepInterval is the period of the garbage-collection sweep.
	SweepInterval time.Duration
}

// DefaultKillSwitchConfig returns the documented defaults.
func DefaultKillSwitchConfig() KillSwitchConfig {
	return KillSwitchConfig{
		CooldownPeriod:    5 * time.Minute,
		MaxTriggersPerDay: 5,
		AlertThreshold:    3,
		SweepInterval:     10 * time.Minute,
	}
}

func (c KillSwitchConfig) withDefaults() KillSwitchConfig {
	def := DefaultKillSwitchConfig()
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = def.CooldownPeriod
	}
	if c.MaxTriggersPerDay <= 0 {
		c.MaxTriggersPerDay = def.MaxTriggersPerDay
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = def.AlertThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// TriggerRecord is one accepted kill-switch activation.
type TriggerRecord struct {
	ID      string    `json:"id"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// KillSwitchState is a snapshot of one agent's breaker state.
type KillSwitchState struct {
	Active       bool
	CooldownEnd  time.Time
	Triggers     []TriggerRecord
	TriggerCount int
}

// killState is the mutable per-agent state, created lazily on the first
// check or trigger and garbage-collected by the sweep.
type killState struct {
	active       bool
	cooldownEnd  time.Time
	triggers     []TriggerRecord
	triggerCount int
}

// KillSwitch is the per-agent circuit breaker. All state transitions,
// including the lazy cooldown expiry on read, happen under the table
// lock so that concurrent triggers for one agent serialize into exactly
// one activation.
type KillSwitch struct {
	mu     sync.Mutex
	states map[string]*killState

	cfg      KillSwitchConfig
	emitter  telemetry.Emitter
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewKillSwitch creates a kill switch. Unset config fields fall back to
// documented defaults.
func NewKillSwitch(cfg KillSwitchConfig, emitter telemetry.Emitter, notifier notify.Notifier, log *zap.Logger) *KillSwitch {
	return &KillSwitch{
		states:   make(map[string]*killState),
		cfg:      cfg.withDefaults(),
		emitter:  emitter,
		notifier: notifier,
		log:      log.Named("killswitch"),
		now:      time.Now,
	}
}

// Trigger activates the agent's kill switch for the configured cooldown
// period. An active cooldown or the rolling daily cap blocks the
// trigger without touching state; both surface errdefs.ErrRateLimited
// so callers can distinguish a suppressed trigger from an accepted one.
func (k *KillSwitch) Trigger(ctx context.Context, agentID, reason, message string) error {
	if agentID == "" {
		return fmt.Errorf("agent id is empty: %w", errdefs.ErrInvalidConfig)
	}

	now := k.now()

	k.mu.Lock()
	st, ok := k.states[agentID]
	if !ok {
		st = &killState{}
		k.states[agentID] = st
	}

	if st.active && now.Before(st.cooldownEnd) {
		k.mu.Unlock()
		k.log.Info("trigger suppressed by active cooldown",
			zap.String("agent", agentID),
			zap.String("reason", reason),
			zap.Time("cooldown_end", st.cooldownEnd))
		return fmt.Errorf("agent %s in cooldown: %w", agentID, errdefs.ErrRateLimited)
	}

	st.triggers = pruneTriggers(st.triggers, now.Add(-triggerWindow))
	if len(st.triggers) >= k.cfg.MaxTriggersPerDay {
		k.mu.Unlock()
		k.log.Warn("trigger suppressed by daily cap",
			zap.String("agent", agentID),
			zap.String("reason", reason),
			zap.Int("cap", k.cfg.MaxTriggersPerDay))
		return fmt.Errorf("agent %s hit daily trigger cap: %w", agentID, errdefs.ErrRateLimited)
	}

	record := TriggerRecord{
		ID:      uuid.New().String(),
		Reason:  reason,
		Message: message,
		At:      now,
	}
	st.active = true
	st.cooldownEnd = now.Add(k.cfg.CooldownPeriod)
	st.triggers = append(st.triggers, record)
	st.triggerCount++
	count := st.triggerCount
	cooldownEnd := st.cooldownEnd
	k.mu.Unlock()

	k.log.Warn("kill switch activated",
		zap.String("agent", agentID),
		zap.String("reason", reason),
		zap.Time("cooldown_end", cooldownEnd))
	k.emitter.Emit(telemetry.EventKillSwitch, map[string]any{
		"action":       "trigger",
		"agent_id":     agentID,
		"reason":       reason,
		"message":      message,
		"cooldown_end": cooldownEnd,
	})

	if count >= k.cfg.AlertThreshold {
		k.dispatchAlert(ctx, agentID, reason, message, count)
	}
	return nil
}

// IsKilled reports whether the agent is currently halted. An expired
// cooldown is resolved here: the state flips back to inactive and false
// is returned.
func (k *KillSwitch) IsKilled(agentID string) bool {
	k.mu.Lock()
	st, ok := k.states[agentID]
	if !ok {
		k.mu.Unlock()
		return false
	}
	if st.active && !k.now().Before(st.cooldownEnd) {
		st.active = false
		k.mu.Unlock()
		k.emitter.Emit(telemetry.EventKillSwitch, map[string]any{
			"action":   "reset",
			"agent_id": agentID,
			"mode":     "cooldown_expired",
		})
		return false
	}
	active := st.active
	k.mu.Unlock()
	return active
}

// Reset forces the agent back to inactive regardless of cooldown.
func (k *KillSwitch) Reset(agentID string) {
	k.mu.Lock()
	st, ok := k.states[agentID]
	if !ok || !st.active {
		k.mu.Unlock()
		return
	}
	st.active = false
	st.cooldownEnd = time.Time{}
	k.mu.Unlock()

	k.log.Info("kill switch reset", zap.String("agent", agentID))
	k.emitter.Emit(telemetry.EventKillSwitch, map[string]any{
		"action":   "reset",
		"agent_id": agentID,
		"mode":     "manual",
	})
}

// State returns a snapshot of the agent's breaker state.
func (k *KillSwitch) State(agentID string) (KillSwitchState, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.states[agentID]
	if !ok {
		return KillSwitchState{}, false
	}
	out := KillSwitchState{
		Active:       st.active,
		CooldownEnd:  st.cooldownEnd,
		Triggers:     append([]TriggerRecord(nil), st.triggers...),
		TriggerCount: st.triggerCount,
	}
	return out, true
}

// Sweep prunes trigger entries older than the rolling window and
// deletes state for agents with no active cooldown and no trigger
// history. Returns the number of states removed.
func (k *KillSwitch) Sweep() int {
	now := k.now()
	cutoff := now.Add(-triggerWindow)

	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for agentID, st := range k.states {
		st.triggers = pruneTriggers(st.triggers, cutoff)
		if st.active && !now.Before(st.cooldownEnd) {
			st.active = false
		}
		if !st.active && len(st.triggers) == 0 {
			delete(k.states, agentID)
			removed++
		}
	}
	return removed
}

// Run drives the periodic sweep until ctx is cancelled.
func (k *KillSwitch) Run(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := k.Sweep(); n > 0 {
				k.log.Debug("sweep removed idle kill-switch states", zap.Int("count", n))
			}
		}
	}
}

// dispatchAlert sends an escalation through the notifier. Failures are
// logged and never retried.
func (k *KillSwitch) dispatchAlert(ctx context.Context, agentID, reason, message string, count int) {
	alert := notify.Alert{
		Title:       "Kill switch escalation: " + agentID,
		Description: message,
		Fields: []notify.Field{
			{Name: "agent_id", Value: agentID},
			{Name: "reason", Value: reason},
			{Name: "trigger_count", Value: fmt.Sprintf("%d", count)},
		},
	}
	if err := k.notifier.Send(ctx, alert); err != nil {
		k.log.Warn("kill switch alert dispatch failed",
			zap.String("agent", agentID), zap.Error(err))
	}
	k.emitter.Emit(telemetry.EventKillSwitch, map[string]any{
		"action":        "alert",
		"agent_id":      agentID,
		"trigger_count": count,
	})
}

// pruneTriggers drops records at or before the cutoff.
func pruneTriggers(triggers []TriggerRecord, cutoff time.Time) []TriggerRecord {
	kept := triggers[:0]
	for _, t := range triggers {
		if t.At.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
