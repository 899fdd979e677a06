package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the agent.
type Config struct {
	App       AppConfig
	Search    SearchConfig
	HTTP      HTTPConfig
	Proxy     ProxyConfig
	RateLimit RateLimitConfig
	Scoring   ScoringConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel    string
	Environment string
}

// SearchConfig holds orchestrator settings.
type SearchConfig struct {
	Concurrency   int
	GlobalTimeout time.Duration
	GracePeriod   time.Duration
	RegistryPath  string
}

// HTTPConfig holds probe attempt settings.
type HTTPConfig struct {
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	BackoffJitter  float64
	UserAgent      string
}

// ProxyConfig holds proxy pool settings.
type ProxyConfig struct {
	File               string
	FailureThreshold   int
	MaxUsesPerEndpoint int
	CheckURL           string
	CheckTimeout       time.Duration

	// DirectFallback probes without a proxy when the pool has no
	// usable endpoint; false records the platform as skipped instead.
	DirectFallback bool
}

// RateLimitConfig holds the fallback request budget for platforms
// whose descriptor carries none.
type RateLimitConfig struct {
	DefaultPerMinute int
}

// ScoringConfig holds confidence weights and classification
// thresholds. These are stated policy defaults, kept configurable.
type ScoringConfig struct {
	WeightAuthority    float64
	WeightQuality      float64
	WeightContext      float64
	WeightRecency      float64
	ThresholdConfirmed float64
	ThresholdPotential float64
}

// Load loads configuration from environment variables, reading .env
// first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{}

	cfg.App = AppConfig{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	concurrency, err := getEnvInt("SEARCH_CONCURRENCY", 5)
	if err != nil {
		return nil, err
	}
	globalTimeout, err := getEnvDuration("SEARCH_GLOBAL_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	gracePeriod, err := getEnvDuration("SEARCH_GRACE_PERIOD", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Search = SearchConfig{
		Concurrency:   concurrency,
		GlobalTimeout: globalTimeout,
		GracePeriod:   gracePeriod,
		RegistryPath:  getEnv("PLATFORM_REGISTRY", "config/platforms.json"),
	}

	attemptTimeout, err := getEnvDuration("HTTP_ATTEMPT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	backoffBase, err := getEnvDuration("HTTP_BACKOFF_BASE", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	backoffCap, err := getEnvDuration("HTTP_BACKOFF_CAP", 15*time.Second)
	if err != nil {
		return nil, err
	}
	backoffJitter, err := getEnvFloat("HTTP_BACKOFF_JITTER", 0.2)
	if err != nil {
		return nil, err
	}
	cfg.HTTP = HTTPConfig{
		AttemptTimeout: attemptTimeout,
		BackoffBase:    backoffBase,
		BackoffCap:     backoffCap,
		BackoffJitter:  backoffJitter,
		UserAgent:      getEnv("HTTP_USER_AGENT", ""),
	}

	failureThreshold, err := getEnvInt("PROXY_FAILURE_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	maxUses, err := getEnvInt("PROXY_MAX_USES_PER_ENDPOINT", 1)
	if err != nil {
		return nil, err
	}
	checkTimeout, err := getEnvDuration("PROXY_CHECK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	directFallback, err := getEnvBool("PROXY_DIRECT_FALLBACK", true)
	if err != nil {
		return nil, err
	}
	cfg.Proxy = ProxyConfig{
		File:               getEnv("PROXY_FILE", "proxies.txt"),
		FailureThreshold:   failureThreshold,
		MaxUsesPerEndpoint: maxUses,
		CheckURL:           getEnv("PROXY_CHECK_URL", "https://api.ipify.org"),
		CheckTimeout:       checkTimeout,
		DirectFallback:     directFallback,
	}

	defaultPerMinute, err := getEnvInt("RATE_LIMIT_DEFAULT_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = RateLimitConfig{DefaultPerMinute: defaultPerMinute}

	weightAuthority, err := getEnvFloat("SCORE_WEIGHT_AUTHORITY", 0.40)
	if err != nil {
		return nil, err
	}
	weightQuality, err := getEnvFloat("SCORE_WEIGHT_QUALITY", 0.30)
	if err != nil {
		return nil, err
	}
	weightContext, err := getEnvFloat("SCORE_WEIGHT_CONTEXT", 0.20)
	if err != nil {
		return nil, err
	}
	weightRecency, err := getEnvFloat("SCORE_WEIGHT_RECENCY", 0.10)
	if err != nil {
		return nil, err
	}
	thresholdConfirmed, err := getEnvFloat("SCORE_THRESHOLD_CONFIRMED", 80)
	if err != nil {
		return nil, err
	}
	thresholdPotential, err := getEnvFloat("SCORE_THRESHOLD_POTENTIAL", 40)
	if err != nil {
		return nil, err
	}
	cfg.Scoring = ScoringConfig{
		WeightAuthority:    weightAuthority,
		WeightQuality:      weightQuality,
		WeightContext:      weightContext,
		WeightRecency:      weightRecency,
		ThresholdConfirmed: thresholdConfirmed,
		ThresholdPotential: thresholdPotential,
	}

	return cfg, nil
}

// Validate checks the configuration for contract violations.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, c.App.LogLevel) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	if c.Search.Concurrency < 1 || c.Search.Concurrency > 100 {
		errs = append(errs, "SEARCH_CONCURRENCY must be between 1 and 100")
	}
	if c.Search.GlobalTimeout <= 0 {
		errs = append(errs, "SEARCH_GLOBAL_TIMEOUT must be greater than 0")
	}
	if c.Search.RegistryPath == "" {
		errs = append(errs, "PLATFORM_REGISTRY is required")
	}

	if c.HTTP.AttemptTimeout <= 0 {
		errs = append(errs, "HTTP_ATTEMPT_TIMEOUT must be greater than 0")
	}
	if c.HTTP.BackoffJitter < 0 || c.HTTP.BackoffJitter > 1 {
		errs = append(errs, "HTTP_BACKOFF_JITTER must be between 0 and 1")
	}

	if c.Proxy.FailureThreshold < 1 {
		errs = append(errs, "PROXY_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Proxy.MaxUsesPerEndpoint < 1 {
		errs = append(errs, "PROXY_MAX_USES_PER_ENDPOINT must be at least 1")
	}

	if c.RateLimit.DefaultPerMinute < 1 {
		errs = append(errs, "RATE_LIMIT_DEFAULT_PER_MINUTE must be at least 1")
	}

	weightSum := c.Scoring.WeightAuthority + c.Scoring.WeightQuality +
		c.Scoring.WeightContext + c.Scoring.WeightRecency
	if math.Abs(weightSum-1.0) > 0.001 {
		errs = append(errs, fmt.Sprintf("scoring weights must sum to 1.0, got %.3f", weightSum))
	}
	if c.Scoring.ThresholdPotential >= c.Scoring.ThresholdConfirmed {
		errs = append(errs, "SCORE_THRESHOLD_POTENTIAL must be below SCORE_THRESHOLD_CONFIRMED")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
