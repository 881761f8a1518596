package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corefin/verity/internal/clients/paper"
	"github.com/corefin/verity/internal/clients/throttle"
	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/engine"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/storage"
)

func main() {
	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	// Load configuration - check VERITY_CONFIG, then binary dir, then fallback
	configPath := os.Getenv("VERITY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join(binaryDir(), "verity.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/verity.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLoggerFromConfig(&config.Logging)
	common.PrintBanner(config, logger)

	identity, err := config.Identity()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid broker configuration")
	}
	mode, err := config.Broker.Mode()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid broker configuration")
	}

	gateway, err := buildGateway(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build broker gateway")
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPersistInterval(config.Persist.GetInterval()),
	}

	// The ledger only exists in persistent trade modes; a backtest never
	// touches it even when storage is configured.
	var ledger interfaces.LedgerStore
	if mode.Persistent() {
		ledger, err = storage.NewLedgerStore(logger, &config.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize ledger store")
		}
		defer ledger.Close()
		opts = append(opts, engine.WithLedger(ledger))
	} else {
		logger.Info().Str("trade_mode", string(mode)).Msg("Running ledger-less")
	}

	eng := engine.New(gateway, identity, opts...)

	initialCash, err := config.Strategy.GetInitialCash()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid strategy configuration")
	}
	if err := eng.InitPortfolio(config.Strategy.Account, config.Strategy.Version, initialCash); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize portfolio")
	}

	ctx := context.Background()
	if err := eng.SyncBrokerBalance(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Initial balance sync failed")
	}
	if err := eng.SyncBrokerPositions(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Initial position sync failed")
	}
	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start engine")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      buildMux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", config.Server.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", config.Server.Port)).
		Str("strategy", config.Strategy.Account).
		Str("trade_mode", string(mode)).
		Msg("Engine ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner(logger)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	eng.Stop()
}

// binaryDir returns the directory containing the executable.
func binaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// buildGateway assembles the configured broker gateway, wrapped with rate
// limiting when a cap is set.
func buildGateway(config *common.Config, logger *common.Logger) (interfaces.BrokerGateway, error) {
	mode, err := config.Broker.Mode()
	if err != nil {
		return nil, err
	}

	var gateway interfaces.BrokerGateway
	switch config.Gateway.Kind {
	case "", "paper":
		cash, err := config.Gateway.GetPaperCash()
		if err != nil {
			return nil, err
		}
		gateway = paper.NewGateway(
			paper.WithTradeMode(mode),
			paper.WithInitialCash(cash),
			paper.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown gateway kind: %s (supported: paper)", config.Gateway.Kind)
	}

	if config.Gateway.RateLimit > 0 {
		gateway = throttle.NewGateway(gateway, throttle.WithRateLimit(config.Gateway.RateLimit))
	}
	return gateway, nil
}

// buildMux creates the HTTP mux with admin and metrics endpoints.
func buildMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// healthHandler responds to GET/HEAD /api/health with {"status":"ok"}.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// versionHandler responds to GET/HEAD /api/version with version info.
func versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
