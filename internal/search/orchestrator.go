package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osint-agent/internal/metrics"
	"github.com/osint-agent/internal/probe"
	"github.com/osint-agent/internal/ratelimit"
	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/report"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoEmail is returned when Run is called without a target.
	ErrNoEmail = errors.New("email must not be empty")

	// ErrNoPlatforms is returned when the selection resolves to an
	// empty platform list.
	ErrNoPlatforms = errors.New("no platforms selected")
)

// Config holds orchestrator tuning.
type Config struct {
	// Concurrency is the worker slot count. Each slot maps 1:1 to one
	// platform probe at a time.
	Concurrency int

	// GlobalTimeout is the whole-run deadline. Platforms not started
	// when it fires are recorded as skipped.
	GlobalTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = 5 * time.Minute
	}
}

// Orchestrator fans one email out across the selected platforms under
// bounded concurrency and a single deadline, collecting exactly one
// outcome per platform.
type Orchestrator struct {
	registry *registry.Registry
	executor *probe.Executor
	limiter  *ratelimit.Limiter
	funcs    probe.Funcs
	metrics  *metrics.Metrics
	config   Config
}

// New creates an orchestrator. metrics may be nil.
func New(reg *registry.Registry, executor *probe.Executor, limiter *ratelimit.Limiter, funcs probe.Funcs, m *metrics.Metrics, config Config) *Orchestrator {
	config.applyDefaults()
	return &Orchestrator{
		registry: reg,
		executor: executor,
		limiter:  limiter,
		funcs:    funcs,
		metrics:  m,
		config:   config,
	}
}

// Run probes every platform in the requested categories for the email
// and returns the sealed run report. It fails outright only on
// contract violations (empty email, bad category, non-positive
// concurrency); runtime failures of individual platforms are absorbed
// into their outcomes.
func (o *Orchestrator) Run(ctx context.Context, email string, categories []string) (*report.RunReport, error) {
	if email == "" {
		return nil, ErrNoEmail
	}
	if o.config.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", o.config.Concurrency)
	}

	selected, platforms, err := o.registry.Select(categories)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return nil, ErrNoPlatforms
	}

	run := &report.RunReport{
		RunID:     uuid.New().String(),
		Email:     email,
		Timestamp: time.Now().UTC(),
		Results:   make(map[string][]*report.PlatformOutcome, len(selected)),
	}
	for _, c := range selected {
		run.PlatformsSearched = append(run.PlatformsSearched, string(c))
		// Outcomes are slotted by registry position, not appended on
		// completion, so report order never depends on completion order.
		run.Results[string(c)] = make([]*report.PlatformOutcome, len(o.registry.Platforms(c)))
	}

	for _, p := range platforms {
		o.limiter.Register(p.Name, p.RateLimit)
	}

	logrus.WithFields(logrus.Fields{
		"run_id":      run.RunID,
		"email":       email,
		"platforms":   len(platforms),
		"concurrency": o.config.Concurrency,
	}).Info("Starting search run")

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.config.GlobalTimeout)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(o.config.Concurrency)

	for _, c := range selected {
		for i, p := range o.registry.Platforms(c) {
			i, p := i, p
			slot := run.Results[string(c)]
			g.Go(func() error {
				outcome := o.probePlatform(runCtx, p, email)
				slot[i] = outcome // sole writer for this slot
				o.record(p, outcome)
				return nil
			})
		}
	}
	_ = g.Wait()

	// Exactly one outcome per requested platform: a slot no goroutine
	// settled still gets an explicit skipped record.
	for _, c := range selected {
		list := o.registry.Platforms(c)
		for i, outcome := range run.Results[string(c)] {
			if outcome == nil {
				run.Results[string(c)][i] = &report.PlatformOutcome{
					Platform: list[i].Name,
					URL:      list[i].URL,
					Status:   report.StatusSkipped,
					Reason:   report.ReasonDeadlineExceeded,
					Matches:  []report.Match{},
				}
			}
		}
	}

	run.Finalize()

	if o.metrics != nil {
		o.metrics.RecordRun(time.Since(start))
	}

	logrus.WithFields(logrus.Fields{
		"run_id":   run.RunID,
		"duration": time.Since(start).Round(time.Millisecond).String(),
		"hits":     run.Summary.PlatformsWithHits,
		"errors":   run.Summary.PlatformsWithErrors,
	}).Info("Search run complete")

	return run, nil
}

// probePlatform supervises one platform's execution. A panic or hang
// inside one probe never prevents other platforms' outcomes from being
// recorded.
func (o *Orchestrator) probePlatform(ctx context.Context, p *registry.Platform, email string) (outcome *report.PlatformOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Probe of platform %s panicked: %v", p.Name, r)
			outcome = &report.PlatformOutcome{
				Platform: p.Name,
				URL:      p.URL,
				Status:   report.StatusError,
				Reason:   report.ReasonPanic,
				Matches:  []report.Match{},
			}
		}
	}()

	// No platform starts after the global deadline has elapsed.
	if ctx.Err() != nil {
		return &report.PlatformOutcome{
			Platform: p.Name,
			URL:      p.URL,
			Status:   report.StatusSkipped,
			Reason:   report.ReasonDeadlineExceeded,
			Matches:  []report.Match{},
		}
	}

	fn := o.funcs.ForPlatform(p)
	if fn == nil {
		return &report.PlatformOutcome{
			Platform: p.Name,
			URL:      p.URL,
			Status:   report.StatusError,
			Reason:   report.ReasonPermanentFailure,
			Matches:  []report.Match{},
		}
	}

	return o.executor.Execute(ctx, p, email, fn)
}

func (o *Orchestrator) record(p *registry.Platform, outcome *report.PlatformOutcome) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordOutcome(string(p.Category), string(outcome.Status), outcome.Elapsed, len(outcome.Matches))
	for _, attempt := range outcome.Attempts {
		o.metrics.RecordAttempt(p.Name, string(attempt.Outcome))
	}
}
