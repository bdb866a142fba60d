package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantmesh/sentinel/internal/allocation"
	"github.com/quantmesh/sentinel/internal/breaker"
	"github.com/quantmesh/sentinel/internal/config"
	"github.com/quantmesh/sentinel/internal/governance"
	"github.com/quantmesh/sentinel/internal/notify"
	"github.com/quantmesh/sentinel/internal/store"
	"github.com/quantmesh/sentinel/internal/telemetry"
	"github.com/quantmesh/sentinel/internal/trust"
)

func main() {
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st, err := newStore(cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := telemetry.NewHub(log)
	emitter := telemetry.Multi{telemetry.NewLogEmitter(log), hub}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	trustEngine := trust.NewEngine(cfg.TrustConfig(), st, emitter, log)
	roles := governance.NewRoleRegistry(st, log)
	ledger := governance.NewLedger(cfg.LedgerConfig(), roles, trustEngine, st, log)
	killSwitch := breaker.NewKillSwitch(cfg.KillSwitchConfig(), emitter, notifier, log)
	panicGuard := breaker.NewPanicGuard(cfg.PanicGuardConfig(), emitter, notifier, log)
	allocator := allocation.NewAllocator(cfg.AllocationConfig(), trustEngine, emitter, log)

	// Restore persisted state before the workers start mutating it.
	if err := trustEngine.Load(ctx); err != nil {
		log.Fatal("restore trust records", zap.Error(err))
	}
	if err := roles.Load(ctx); err != nil {
		log.Fatal("restore role assignments", zap.Error(err))
	}
	if err := ledger.Load(ctx); err != nil {
		log.Fatal("restore vote records", zap.Error(err))
	}

	go trustEngine.Run(ctx)
	go allocator.Run(ctx)
	go killSwitch.Run(ctx)
	go panicGuard.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", hub.HandleWebSocket())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              cfg.Telemetry.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("sentineld running",
		zap.String("listen", cfg.Telemetry.ListenAddr),
		zap.String("store", cfg.Store.Backend))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serve", zap.Error(err))
	}
}

// newLogger builds the production zap logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// newStore opens the configured persistence backend.
func newStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewRedis(ctx, cfg.Store.RedisURL, cfg.Store.RedisKeyPrefix)
	case config.BackendSQLite:
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		log.Info("using in-memory store; state will not survive restarts")
		return store.NewMemory(), nil
	}
}
