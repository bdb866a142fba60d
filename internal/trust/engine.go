// Package trust maintains per-agent trust scores derived from
// performance signals supplied by the execution backend, and decays
// them over inactivity. Trust records are owned exclusively by the
// Engine; every other subsystem reads snapshot values.
package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/store"
	"github.com/quantmesh/sentinel/internal/telemetry"
)

const (
	trustKeyPrefix   = "trust:agent:"
	historyKeySuffix = ":history"
)

// Config holds the scoring weights and decay parameters. Weights are
// applied exactly as configured; a set that does not sum to 1 is
// accepted without normalization.
type Config struct {
	// WAlpha, WDrawdown and WRisk weight the three performance inputs.
	WAlpha    float64
	WDrawdown float64
	WRisk     float64

	// MinTrust and MaxTrust bound every computed score.
	MinTrust float64
	MaxTrust float64

	// BaseTrust is returned for agents that have never reported metrics.
	BaseTrust float64

	// MaxInactivityDays is the horizon over which the decay penalty
	// ramps up; InactivityDecayRate is the maximum fraction removed.
	MaxInactivityDays   float64
	InactivityDecayRate float64

	// EventEpsilon suppresses trust_score_updated events for score
	// moves at or below this magnitude.
	EventEpsilon float64

	// HistoryLimit bounds the persisted score history per agent.
	HistoryLimit int

	// DecayInterval is the period of the recompute tick.
	DecayInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WAlpha:              0.4,
		WDrawdown:           0.3,
		WRisk:               0.3,
		MinTrust:            0.0,
		MaxTrust:            1.0,
		BaseTrust:           0.5,
		MaxInactivityDays:   30,
		InactivityDecayRate: 0.5,
		EventEpsilon:        0.01,
		HistoryLimit:        1000,
		DecayInterval:       time.Minute,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WAlpha == 0 && c.WDrawdown == 0 && c.WRisk == 0 {
		c.WAlpha, c.WDrawdown, c.WRisk = def.WAlpha, def.WDrawdown, def.WRisk
	}
	if c.MaxTrust <= c.MinTrust {
		c.MinTrust, c.MaxTrust = def.MinTrust, def.MaxTrust
	}
	if c.BaseTrust == 0 {
		c.BaseTrust = def.BaseTrust
	}
	if c.MaxInactivityDays <= 0 {
		c.MaxInactivityDays = def.MaxInactivityDays
	}
	if c.InactivityDecayRate == 0 {
		c.InactivityDecayRate = def.InactivityDecayRate
	}
	if c.EventEpsilon == 0 {
		c.EventEpsilon = def.EventEpsilon
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = def.DecayInterval
	}
	return c
}

// Record is the trust state for a single agent. Records are created on
// the first metric update and never deleted.
type Record struct {
	AgentID            string    `json:"agent_id"`
	Score              float64   `json:"score"`
	AlphaScore         float64   `json:"alpha_score"`
	DrawdownScore      float64   `json:"drawdown_score"`
	RiskAdjReturnScore float64   `json:"risk_adj_return_score"`
	LastActivity       time.Time `json:"last_activity"`
	LastUpdate         time.Time `json:"last_update"`
}

// historyEntry is one persisted point of an agent's score history.
type historyEntry struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine computes and decays trust scores.
type Engine struct {
	mu      sync.RWMutex
	records map[string]*Record

	cfg     Config
	store   store.Store
	emitter telemetry.Emitter
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine creates a trust engine. Unset config fields fall back to
// documented defaults.
func NewEngine(cfg Config, st store.Store, emitter telemetry.Emitter, log *zap.Logger) *Engine {
	return &Engine{
		records: make(map[string]*Record),
		cfg:     cfg.withDefaults(),
		store:   st,
		emitter: emitter,
		log:     log.Named("trust"),
		now:     time.Now,
	}
}

// UpdateAgentMetrics stores the latest performance inputs for an agent,
// stamps its activity, and recomputes the score in place. The record is
// created on first update.
func (e *Engine) UpdateAgentMetrics(ctx context.Context, agentID string, alpha, drawdown, riskAdjReturn float64) error {
	if agentID == "" {
		return fmt.Errorf("agent id is empty: %w", errdefs.ErrInvalidConfig)
	}

	now := e.now()

	e.mu.Lock()
	rec, ok := e.records[agentID]
	if !ok {
		rec = &Record{AgentID: agentID, Score: e.cfg.BaseTrust}
		e.records[agentID] = rec
	}
	rec.AlphaScore = alpha
	rec.DrawdownScore = drawdown
	rec.RiskAdjReturnScore = riskAdjReturn
	rec.LastActivity = now
	old, newScore := e.recomputeLocked(rec, now)
	snapshot := *rec
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.maybeEmit(agentID, old, newScore)
	return nil
}

// Score returns the agent's current trust score, or BaseTrust for
// unknown agents.
func (e *Engine) Score(agentID string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rec, ok := e.records[agentID]; ok {
		return rec.Score
	}
	return e.cfg.BaseTrust
}

// NormalizedScore maps the agent's score onto [0,1] over the configured
// trust range.
func (e *Engine) NormalizedScore(agentID string) float64 {
	score := e.Score(agentID)
	norm := (score - e.cfg.MinTrust) / (e.cfg.MaxTrust - e.cfg.MinTrust)
	return clamp(norm, 0, 1)
}

// Snapshot returns a copy of the agent's record.
func (e *Engine) Snapshot(agentID string) (Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[agentID]
	if !ok {
		return Record{}, fmt.Errorf("agent %s: %w", agentID, errdefs.ErrNotFound)
	}
	return *rec, nil
}

// AgentIDs returns the ids of all known agents.
func (e *Engine) AgentIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	return ids
}

// RecomputeAll recomputes every known agent's score, applying
// inactivity decay. A failure on one agent never aborts the remaining
// agents in the pass. Returns the number of agents whose score moved
// beyond the event epsilon.
func (e *Engine) RecomputeAll(ctx context.Context) int {
	now := e.now()
	changed := 0

	for _, agentID := range e.AgentIDs() {
		e.mu.Lock()
		rec, ok := e.records[agentID]
		if !ok {
			e.mu.Unlock()
			continue
		}
		old, newScore := e.recomputeLocked(rec, now)
		snapshot := *rec
		e.mu.Unlock()

		e.persist(ctx, snapshot)
		if e.maybeEmit(agentID, old, newScore) {
			changed++
		}
	}
	return changed
}

// Run drives the periodic decay tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.RecomputeAll(ctx); n > 0 {
				e.log.Info("decay tick", zap.Int("agents_changed", n))
			}
		}
	}
}

// Load restores persisted trust records after a restart.
func (e *Engine) Load(ctx context.Context) error {
	keys, err := e.store.Keys(ctx, trustKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan trust records: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		if strings.HasSuffix(key, historyKeySuffix) {
			continue
		}
		data, err := e.store.Get(ctx, key)
		if err != nil {
			e.log.Warn("load trust record", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			e.log.Warn("decode trust record", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec.AgentID == "" {
			continue
		}
		e.mu.Lock()
		e.records[rec.AgentID] = &rec
		e.mu.Unlock()
		loaded++
	}
	if loaded > 0 {
		e.log.Info("restored trust records", zap.Int("count", loaded))
	}
	return nil
}

// recomputeLocked recalculates a record's score from its stored inputs
// and the inactivity decay. Caller holds e.mu.
func (e *Engine) recomputeLocked(rec *Record, now time.Time) (old, updated float64) {
	old = rec.Score

	raw := rec.AlphaScore*e.cfg.WAlpha +
		rec.DrawdownScore*e.cfg.WDrawdown +
		rec.RiskAdjReturnScore*e.cfg.WRisk

	inactivityDays := now.Sub(rec.LastActivity).Hours() / 24
	if inactivityDays < 0 {
		inactivityDays = 0
	}
	decay := 1 - math.Min(1, inactivityDays/e.cfg.MaxInactivityDays)*e.cfg.InactivityDecayRate

	rec.Score = clamp(raw*decay, e.cfg.MinTrust, e.cfg.MaxTrust)
	rec.LastUpdate = now
	return old, rec.Score
}

// persist writes the record and appends to its bounded history.
// Failures are logged; in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		e.log.Warn("encode trust record", zap.String("agent", rec.AgentID), zap.Error(err))
		return
	}
	key := trustKeyPrefix + rec.AgentID
	if err := e.store.Set(ctx, key, string(data)); err != nil {
		e.log.Warn("persist trust record", zap.String("agent", rec.AgentID), zap.Error(err))
		return
	}

	entry, err := json.Marshal(historyEntry{Score: rec.Score, Timestamp: rec.LastUpdate})
	if err != nil {
		return
	}
	histKey := key + historyKeySuffix
	if err := e.store.ListPush(ctx, histKey, string(entry)); err != nil {
		e.log.Warn("append trust history", zap.String("agent", rec.AgentID), zap.Error(err))
		return
	}
	if err := e.store.ListTrim(ctx, histKey, 0, int64(e.cfg.HistoryLimit)-1); err != nil {
		e.log.Warn("trim trust history", zap.String("agent", rec.AgentID), zap.Error(err))
	}
}

// maybeEmit publishes a trust_score_updated event when the score moved
// beyond the configured epsilon. Reports whether an event was emitted.
func (e *Engine) maybeEmit(agentID string, old, updated float64) bool {
	if math.Abs(updated-old) <= e.cfg.EventEpsilon {
		return false
	}
	e.emitter.Emit(telemetry.EventTrustScoreUpdated, map[string]any{
		"agent_id":  agentID,
		"old_score": old,
		"new_score": updated,
	})
	return true
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
