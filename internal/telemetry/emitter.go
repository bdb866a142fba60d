// Package telemetry publishes control-plane events to external
// consumers. The core subsystems only depend on the Emitter interface;
// dashboards and alerting pipelines subscribe through the WebSocket hub
// or scrape the structured log.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names emitted by the control plane.
const (
	EventTrustScoreUpdated = "trust_score_updated"
	EventKillSwitch        = "kill_switch_event"
	EventPanicActivated    = "panic_activated"
	EventPanicDeactivated  = "panic_deactivated"
	EventCapitalRebalance  = "capital_rebalance"
)

// Event is a single telemetry record.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent stamps a payload with a fresh id and the current time.
func NewEvent(name string, payload map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Emitter is the publish-only event collaborator.
type Emitter interface {
	Emit(name string, payload map[string]any)
}

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter creates an emitter backed by the given logger.
func NewLogEmitter(log *zap.Logger) *LogEmitter {
	return &LogEmitter{log: log.Named("telemetry")}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(name string, payload map[string]any) {
	e.log.Info("event", zap.String("event", name), zap.Any("payload", payload))
}

// Multi fans a single event out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(name string, payload map[string]any) {
	for _, e := range m {
		e.Emit(name, payload)
	}
}

// Nop discards all events. Useful in tests.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(string, map[string]any) {}
