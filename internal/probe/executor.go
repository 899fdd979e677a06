package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osint-agent/internal/proxy"
	"github.com/osint-agent/internal/ratelimit"
	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/report"
	"github.com/sirupsen/logrus"
)

// Func performs the platform-specific request and parse for one
// attempt. It is supplied by the scraping layer; the executor only
// decides when it runs, through which proxy, and how the outcome is
// recorded. proxy is nil for direct connections.
type Func func(ctx context.Context, platform *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error)

// Internal sentinels distinguishing the two resource-exhaustion paths.
var (
	errRateLimited = fmt.Errorf("%w: rate budget exceeded", ErrResourceExhausted)
	errNoProxy     = fmt.Errorf("%w: no healthy proxy available", ErrResourceExhausted)
)

// ExecutorConfig holds per-attempt execution knobs.
type ExecutorConfig struct {
	// AttemptTimeout is the hard ceiling for one attempt, including
	// the rate-limit token wait.
	AttemptTimeout time.Duration

	// GracePeriod is how long an attempt already in flight when the
	// global deadline fires may keep running before it is abandoned.
	GracePeriod time.Duration

	// Backoff is the retry delay policy for transient failures.
	Backoff Backoff

	// DirectFallback controls what happens when the pool has no usable
	// endpoint: true probes directly, false skips the platform.
	DirectFallback bool
}

func (c *ExecutorConfig) applyDefaults() {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoff
	}
}

// Executor performs bounded, retryable probes against single
// platforms. It owns no cross-platform state; the proxy pool and rate
// limiter it borrows are safe for concurrent use.
type Executor struct {
	pool    *proxy.Pool
	limiter *ratelimit.Limiter
	config  ExecutorConfig
}

// NewExecutor creates an executor. pool may be nil when no proxies are
// configured; limiter must not be nil.
func NewExecutor(pool *proxy.Pool, limiter *ratelimit.Limiter, config ExecutorConfig) *Executor {
	config.applyDefaults()
	return &Executor{
		pool:    pool,
		limiter: limiter,
		config:  config,
	}
}

// Execute probes one platform for one email, retrying transient
// failures up to platform.MaxRetries times. It always returns a
// settled outcome; no error, panic or hang inside the probe function
// escapes to the caller.
func (e *Executor) Execute(ctx context.Context, platform *registry.Platform, email string, fn Func) *report.PlatformOutcome {
	start := time.Now()
	outcome := &report.PlatformOutcome{
		Platform: platform.Name,
		URL:      platform.URL,
		Matches:  []report.Match{},
	}
	defer func() {
		outcome.Elapsed = time.Since(start)
	}()

	maxAttempts := platform.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			e.finalizeCancelled(outcome)
			return outcome
		}

		rec, matches, err := e.attempt(ctx, platform, email, fn, attempt)
		outcome.Attempts = append(outcome.Attempts, rec)

		switch {
		case err == nil && len(matches) > 0:
			// Confirmed hit: stop probing to bound load on the platform.
			outcome.Status = report.StatusFound
			outcome.Matches = matches
			return outcome

		case err == nil:
			// A clean zero-match response is a legitimate negative
			// result, not a failure to retry.
			outcome.Status = report.StatusNotFound
			return outcome

		case errors.Is(err, errRateLimited):
			outcome.Status = report.StatusError
			outcome.Reason = report.ReasonRateLimited
			return outcome

		case errors.Is(err, errNoProxy):
			outcome.Status = report.StatusSkipped
			outcome.Reason = report.ReasonNoProxyAvailable
			return outcome

		case IsPermanent(err):
			outcome.Status = report.StatusError
			outcome.Reason = report.ReasonPermanentFailure
			return outcome
		}

		// Transient failure or attempt timeout. Retry if budget
		// remains and the global deadline has not fired.
		if ctx.Err() != nil {
			e.finalizeCancelled(outcome)
			return outcome
		}

		if attempt < maxAttempts {
			delay := e.config.Backoff.Delay(attempt)
			logrus.Debugf("Platform %s attempt %d failed (%v), retrying in %v",
				platform.Name, attempt, err, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				e.finalizeCancelled(outcome)
				return outcome
			}
		}
	}

	outcome.Status = report.StatusError
	if n := len(outcome.Attempts); n > 0 && outcome.Attempts[n-1].Outcome == report.AttemptTimedOut {
		outcome.Reason = report.ReasonTimeout
	} else {
		outcome.Reason = report.ReasonRetriesExhausted
	}
	return outcome
}

// finalizeCancelled settles an outcome interrupted by the global
// deadline or an external cancellation.
func (e *Executor) finalizeCancelled(outcome *report.PlatformOutcome) {
	if len(outcome.Attempts) == 0 {
		outcome.Status = report.StatusSkipped
	} else {
		outcome.Status = report.StatusError
	}
	outcome.Reason = report.ReasonDeadlineExceeded
}

// attempt runs one try: token, proxy, probe call under the attempt
// timeout, proxy feedback. The probe call runs in its own goroutine so
// a hang only ever costs this platform its slot; cancellation is
// cooperative at attempt granularity.
func (e *Executor) attempt(ctx context.Context, platform *registry.Platform, email string, fn Func, number int) (report.ProbeAttempt, []report.Match, error) {
	rec := report.ProbeAttempt{
		Number:    number,
		StartedAt: time.Now(),
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	if err := e.limiter.Acquire(attemptCtx, platform.Name); err != nil {
		if ctx.Err() != nil {
			// The global deadline, not the platform budget, cut the wait short.
			settle(&rec, report.AttemptTimedOut, context.DeadlineExceeded)
			return rec, nil, context.DeadlineExceeded
		}
		settle(&rec, report.AttemptTransientFailed, errRateLimited)
		return rec, nil, errRateLimited
	}

	var ep *proxy.Endpoint
	if e.pool != nil && e.pool.Size() > 0 {
		ep = e.pool.Acquire()
		if ep == nil && !e.config.DirectFallback {
			settle(&rec, report.AttemptTransientFailed, errNoProxy)
			return rec, nil, errNoProxy
		}
	}
	if ep != nil {
		rec.Proxy = ep.Address()
	}

	type result struct {
		matches []report.Match
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &PermanentError{Reason: fmt.Sprintf("probe panicked: %v", r)}}
			}
		}()
		matches, err := fn(attemptCtx, platform, email, ep)
		done <- result{matches: matches, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Global deadline fired mid-attempt: let the in-flight
			// call finish within the grace period, then abandon it.
			select {
			case res = <-done:
			case <-time.After(e.config.GracePeriod):
				res = result{err: context.DeadlineExceeded}
			}
		} else {
			res = result{err: context.DeadlineExceeded}
		}
	}

	if e.pool != nil {
		e.pool.Release(ep, res.err == nil)
	}

	switch {
	case res.err == nil:
		settle(&rec, report.AttemptSucceeded, nil)
	case errors.Is(res.err, context.DeadlineExceeded):
		settle(&rec, report.AttemptTimedOut, res.err)
	case IsPermanent(res.err):
		settle(&rec, report.AttemptPermanentFailed, res.err)
	default:
		settle(&rec, report.AttemptTransientFailed, res.err)
	}

	return rec, res.matches, res.err
}

func settle(rec *report.ProbeAttempt, outcome report.AttemptOutcome, err error) {
	rec.EndedAt = time.Now()
	rec.Outcome = outcome
	if err != nil {
		rec.Error = err.Error()
	}
}
