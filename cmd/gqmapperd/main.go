// gqmapperd - GM_GQ to BIS LBS mapping service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/api"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/bus"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/cache"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/config"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/mapping"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/repository"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("GQMAPPER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting gqmapperd",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("GQMAPPER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if path := os.Getenv("GQMAPPER_RULES"); path != "" {
		cfg.RulesPath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules_path", cfg.RulesPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Seed the repository from the knowledge base file, then build the
	// engine from the repository so POST /rules/reload and file-based
	// deployments stay consistent.
	ruleSet, err := loadRules(ctx, repo, cfg.RulesPath)
	if err != nil {
		slog.Error("failed to load mapping rules", "error", err)
		os.Exit(1)
	}

	engine, err := mapping.New(ruleSet)
	if err != nil {
		slog.Error("failed to initialize mapping engine", "error", err)
		os.Exit(1)
	}
	slog.Info("mapping engine initialized", "rules_count", engine.RuleCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("GQMAPPER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, engine)

		if err := asyncWorker.Start(worker.Config{ReportTTL: time.Hour}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("gqmapperd is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("gqmapperd shutdown complete")
}

// loadRules seeds the repository from the rules file when present, then
// returns the repository's rule set. A missing file is not fatal as long as
// the repository already holds rules from a previous run.
func loadRules(ctx context.Context, repo domain.Repository, path string) (domain.RuleSet, error) {
	fileRules, err := config.LoadRules(path)
	if err != nil {
		slog.Warn("rules file not loaded, falling back to repository",
			"path", path,
			"error", err,
		)
	} else {
		for variant, rules := range fileRules {
			if err := repo.ReplaceMappingRules(ctx, variant, rules); err != nil {
				return nil, fmt.Errorf("seed rules for %s: %w", variant, err)
			}
		}
		slog.Info("rules seeded from file", "path", path)
	}

	ruleSet, err := repo.ListAllMappingRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if len(ruleSet) == 0 {
		return nil, fmt.Errorf("no mapping rules available: provide %s or seed the repository", path)
	}
	return ruleSet, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  gqmapperd - GM_GQ to BIS LBS mapping service")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /reports/{variant}       - Generate a report (lbsr or lbsn)")
	fmt.Println("    POST /reports/{variant}/async - Queue generation on the event bus")
	fmt.Println("    POST /validate                - Pre-flight dataset validation")
	fmt.Println("    GET  /runs/{id}               - Get a report run by ID")
	fmt.Println("    GET  /runs                    - List recent report runs")
	fmt.Println("    GET  /rules                   - List loaded mapping rules")
	fmt.Println("    POST /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
