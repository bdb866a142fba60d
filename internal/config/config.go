// Package config owns the YAML file schema for the sentinel daemon and
// translates it into the plain Go configs the subsystems consume. The
// subsystem packages never import config; the dependency points one way.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantmesh/sentinel/internal/allocation"
	"github.com/quantmesh/sentinel/internal/breaker"
	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/governance"
	"github.com/quantmesh/sentinel/internal/trust"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Duration wraps time.Duration so YAML values can be written either as
// Go duration strings ("5m", "1h30m") or as integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, redis, or sqlite.
	Backend string `yaml:"backend"`

	RedisURL       string `yaml:"redis_url"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	SQLitePath string `yaml:"sqlite_path"`
}

// TelemetryConfig tunes the event stream surface.
type TelemetryConfig struct {
	// ListenAddr is the HTTP listen address for the WebSocket hub and
	// health endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// NotifyConfig tunes outbound alerting.
type NotifyConfig struct {
	// WebhookURL receives JSON alert payloads. Empty disables alerting.
	WebhookURL string `yaml:"webhook_url"`
}

// TrustConfig mirrors trust.Config in file form.
type TrustConfig struct {
	WAlpha              float64  `yaml:"w_alpha"`
	WDrawdown           float64  `yaml:"w_drawdown"`
	WRisk               float64  `yaml:"w_risk"`
	MinTrust            float64  `yaml:"min_trust"`
	MaxTrust            float64  `yaml:"max_trust"`
	BaseTrust           float64  `yaml:"base_trust"`
	MaxInactivityDays   float64  `yaml:"max_inactivity_days"`
	InactivityDecayRate float64  `yaml:"inactivity_decay_rate"`
	EventEpsilon        float64  `yaml:"event_epsilon"`
	HistoryLimit        int      `yaml:"history_limit"`
	DecayInterval       Duration `yaml:"decay_interval"`
}

// GovernanceConfig mirrors governance.LedgerConfig in file form.
type GovernanceConfig struct {
	ApprovalThreshold float64 `yaml:"approval_threshold"`
	QuorumThreshold   float64 `yaml:"quorum_threshold"`
}

// KillSwitchConfig mirrors breaker.KillSwitchConfig in file form.
type KillSwitchConfig struct {
	CooldownPeriod    Duration `yaml:"cooldown_period"`
	MaxTriggersPerDay int      `yaml:"max_triggers_per_day"`
	AlertThreshold    int      `yaml:"alert_threshold"`
	SweepInterval     Duration `yaml:"sweep_interval"`
}

// PanicGuardConfig mirrors breaker.PanicGuardConfig in file form.
type PanicGuardConfig struct {
	MaxDrawdownPct  float64  `yaml:"max_drawdown_pct"`
	MaxVolatility   float64  `yaml:"max_volatility"`
	MaxFailureCount int      `yaml:"max_failure_count"`
	MaxChaosEvents  int      `yaml:"max_chaos_events"`
	CooldownPeriod  Duration `yaml:"cooldown_period"`
	AlertThreshold  int      `yaml:"alert_threshold"`
	SweepInterval   Duration `yaml:"sweep_interval"`
}

// AllocationConfig mirrors allocation.Config in file form.
type AllocationConfig struct {
	WTrust            float64  `yaml:"w_trust"`
	WPerformance      float64  `yaml:"w_performance"`
	DrawdownPenalty   float64  `yaml:"drawdown_penalty"`
	InactivityPenalty float64  `yaml:"inactivity_penalty"`
	MinAllocationPct  float64  `yaml:"min_allocation_pct"`
	MaxAllocationPct  float64  `yaml:"max_allocation_pct"`
	BaseAllocation    float64  `yaml:"base_allocation"`
	Epsilon           float64  `yaml:"epsilon"`
	RebalanceInterval Duration `yaml:"rebalance_interval"`
}

// Config is the root of the daemon configuration file.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Store      StoreConfig      `yaml:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Notify     NotifyConfig     `yaml:"notify"`
	Trust      TrustConfig      `yaml:"trust"`
	Governance GovernanceConfig `yaml:"governance"`
	KillSwitch KillSwitchConfig `yaml:"kill_switch"`
	PanicGuard PanicGuardConfig `yaml:"panic_guard"`
	Allocation AllocationConfig `yaml:"allocation"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "data/sentinel.db",
		},
		Telemetry: TelemetryConfig{
			ListenAddr: ":8090",
		},
	}
}

// Load reads a YAML file and overlays it onto the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that cannot be repaired by defaults.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis backend requires store.redis_url: %w", errdefs.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("unknown store backend %q: %w", c.Store.Backend, errdefs.ErrInvalidConfig)
	}
	if c.Governance.ApprovalThreshold < 0 || c.Governance.QuorumThreshold < 0 {
		return fmt.Errorf("governance thresholds must be non-negative: %w", errdefs.ErrInvalidConfig)
	}
	if c.Allocation.MinAllocationPct > c.Allocation.MaxAllocationPct {
		return fmt.Errorf("allocation min pct exceeds max pct: %w", errdefs.ErrInvalidConfig)
	}
	return nil
}

// TrustConfig converts the file section to the engine config. Zero
// fields stay zero; the engine applies its own defaults.
func (c Config) TrustConfig() trust.Config {
	return trust.Config{
		WAlpha:              c.Trust.WAlpha,
		WDrawdown:           c.Trust.WDrawdown,
		WRisk:               c.Trust.WRisk,
		MinTrust:            c.Trust.MinTrust,
		MaxTrust:            c.Trust.MaxTrust,
		BaseTrust:           c.Trust.BaseTrust,
		MaxInactivityDays:   c.Trust.MaxInactivityDays,
		InactivityDecayRate: c.Trust.InactivityDecayRate,
		EventEpsilon:        c.Trust.EventEpsilon,
		HistoryLimit:        c.Trust.HistoryLimit,
		DecayInterval:       c.Trust.DecayInterval.Std(),
	}
}

// LedgerConfig converts the file section to the governance config.
func (c Config) LedgerConfig() governance.LedgerConfig {
	return governance.LedgerConfig{
		ApprovalThreshold: c.Governance.ApprovalThreshold,
		QuorumThreshold:   c.Governance.QuorumThreshold,
	}
}

// KillSwitchConfig converts the file section to the breaker config.
func (c Config) KillSwitchConfig() breaker.KillSwitchConfig {
	return breaker.KillSwitchConfig{
		CooldownPeriod:    c.KillSwitch.CooldownPeriod.Std(),
		MaxTriggersPerDay: c.KillSwitch.MaxTriggersPerDay,
		AlertThreshold:    c.KillSwitch.AlertThreshold,
		SweepInterval:     c.KillSwitch.SweepInterval.Std(),
	}
}

// PanicGuardConfig converts the file section to the breaker config.
func (c Config) PanicGuardConfig() breaker.PanicGuardConfig {
	return breaker.PanicGuardConfig{
		Thresholds: breaker.PanicThresholds{
			MaxDrawdownPct:  c.PanicGuard.MaxDrawdownPct,
			MaxVolatility:   c.PanicGuard.MaxVolatility,
			MaxFailureCount: c.PanicGuard.MaxFailureCount,
			MaxChaosEvents:  c.PanicGuard.MaxChaosEvents,
		},
		CooldownPeriod: c.PanicGuard.CooldownPeriod.Std(),
		AlertThreshold: c.PanicGuard.AlertThreshold,
		SweepInterval:  c.PanicGuard.SweepInterval.Std(),
	}
}

// AllocationConfig converts the file section to the allocator config.
func (c Config) AllocationConfig() allocation.Config {
	return allocation.Config{
		WTrust:            c.Allocation.WTrust,
		WPerformance:      c.Allocation.WPerformance,
		DrawdownPenalty:   c.Allocation.DrawdownPenalty,
		InactivityPenalty: c.Allocation.InactivityPenalty,
		MinAllocationPct:  c.Allocation.MinAllocationPct,
		MaxAllocationPct:  c.Allocation.MaxAllocationPct,
		BaseAllocation:    c.Allocation.BaseAllocation,
		Epsilon:           c.Allocation.Epsilon,
		RebalanceInterval: c.Allocation.RebalanceInterval.Std(),
	}
}
