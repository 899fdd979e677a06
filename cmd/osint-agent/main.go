package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/osint-agent/internal/config"
	"github.com/osint-agent/internal/metrics"
	"github.com/osint-agent/internal/probe"
	"github.com/osint-agent/internal/proxy"
	"github.com/osint-agent/internal/ratelimit"
	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/score"
	"github.com/osint-agent/internal/search"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		logrus.Errorf("Invalid log level: %v", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logrus.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		if len(os.Args) < 3 {
			logrus.Error("Usage: osint-agent scan <email> [categories...]")
			os.Exit(1)
		}
		if err := runScan(context.Background(), cfg, os.Args[2], os.Args[3:]); err != nil {
			logrus.Errorf("Scan failed: %v", err)
			os.Exit(1)
		}
	case "health":
		if err := checkHealth(context.Background(), cfg); err != nil {
			logrus.Errorf("Health check failed: %v", err)
			os.Exit(1)
		}
	case "help":
		showHelp()
	default:
		logrus.Errorf("Unknown command: %s. Use 'help' for usage information.", os.Args[1])
		os.Exit(1)
	}
}

// runScan performs one full search run and writes the scored report as
// JSON to stdout.
func runScan(ctx context.Context, cfg *config.Config, email string, categories []string) error {
	reg, err := registry.Load(cfg.Search.RegistryPath)
	if err != nil {
		return fmt.Errorf("failed to load platform registry: %w", err)
	}

	pool, err := buildPool(cfg)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.DefaultPerMinute)

	executor := probe.NewExecutor(pool, limiter, probe.ExecutorConfig{
		AttemptTimeout: cfg.HTTP.AttemptTimeout,
		GracePeriod:    cfg.Search.GracePeriod,
		Backoff: probe.Backoff{
			Base:   cfg.HTTP.BackoffBase,
			Cap:    cfg.HTTP.BackoffCap,
			Jitter: cfg.HTTP.BackoffJitter,
		},
		DirectFallback: cfg.Proxy.DirectFallback,
	})

	funcs := probe.DefaultFuncs(probe.ClientConfig{
		Timeout:   cfg.HTTP.AttemptTimeout,
		UserAgent: cfg.HTTP.UserAgent,
	})

	m := metrics.New(nil)
	orchestrator := search.New(reg, executor, limiter, funcs, m, search.Config{
		Concurrency:   cfg.Search.Concurrency,
		GlobalTimeout: cfg.Search.GlobalTimeout,
	})

	if len(categories) == 0 {
		categories = []string{string(registry.CategoryAll)}
	}

	run, err := orchestrator.Run(ctx, email, categories)
	if err != nil {
		return err
	}
	m.UpdateProxyPool(pool.Stats())

	scored := score.Aggregate(run, score.Config{
		Weights: score.Weights{
			SourceAuthority:  cfg.Scoring.WeightAuthority,
			MatchQuality:     cfg.Scoring.WeightQuality,
			ContextRelevance: cfg.Scoring.WeightContext,
			Recency:          cfg.Scoring.WeightRecency,
		},
		Thresholds: score.Thresholds{
			Confirmed: cfg.Scoring.ThresholdConfirmed,
			Potential: cfg.Scoring.ThresholdPotential,
		},
	})

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(scored); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logrus.Infof("Searched %d platforms: %d hits, %d errors, %.2f%% hit rate",
		scored.Summary.TotalPlatformsSearched,
		scored.Summary.PlatformsWithHits,
		scored.Summary.PlatformsWithErrors,
		scored.Summary.HitRatePercentage)
	return nil
}

// checkHealth validates every configured proxy endpoint.
func checkHealth(ctx context.Context, cfg *config.Config) error {
	pool, err := buildPool(cfg)
	if err != nil {
		return err
	}
	if pool.Size() == 0 {
		logrus.Warn("No proxies configured; probes will use direct connections")
		return nil
	}

	results := pool.ValidateAll(ctx)
	healthy := 0
	for addr, ok := range results {
		if ok {
			healthy++
		} else {
			logrus.Warnf("Proxy %s failed validation", addr)
		}
	}
	if healthy == 0 {
		return fmt.Errorf("all %d proxy endpoints failed validation", len(results))
	}

	logrus.Infof("Proxy health check passed: %d/%d endpoints healthy", healthy, len(results))
	return nil
}

func buildPool(cfg *config.Config) (*proxy.Pool, error) {
	endpoints, err := proxy.LoadFile(cfg.Proxy.File)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load proxy list: %w", err)
		}
		logrus.Warnf("Proxy file %s not found, running without proxies", cfg.Proxy.File)
	}

	return proxy.NewPool(endpoints, proxy.PoolConfig{
		FailureThreshold:   cfg.Proxy.FailureThreshold,
		MaxUsesPerEndpoint: cfg.Proxy.MaxUsesPerEndpoint,
		CheckURL:           cfg.Proxy.CheckURL,
		CheckTimeout:       cfg.Proxy.CheckTimeout,
	}), nil
}

func showHelp() {
	fmt.Printf(`
OSINT Agent - Email Exposure Search

Usage:
  osint-agent scan <email> [categories...]
  osint-agent health
  osint-agent help

Categories: marketplaces, discussions, google, all (default: all)

Environment Variables:
  PLATFORM_REGISTRY, PROXY_FILE, SEARCH_CONCURRENCY,
  SEARCH_GLOBAL_TIMEOUT, HTTP_ATTEMPT_TIMEOUT, LOG_LEVEL

Examples:
  osint-agent scan user@example.com
  osint-agent scan user@example.com marketplaces discussions
  osint-agent health
`)
}
