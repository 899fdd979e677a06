package probe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osint-agent/internal/proxy"
	"github.com/osint-agent/internal/ratelimit"
	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlatform(maxRetries int) *registry.Platform {
	return &registry.Platform{
		Name:       "test-platform",
		URL:        "test.example",
		Category:   registry.CategoryMarketplaces,
		RateLimit:  600,
		MaxRetries: maxRetries,
	}
}

func fastExecutor(pool *proxy.Pool) *Executor {
	return NewExecutor(pool, ratelimit.New(600), ExecutorConfig{
		AttemptTimeout: 100 * time.Millisecond,
		GracePeriod:    50 * time.Millisecond,
		Backoff:        Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond},
		DirectFallback: true,
	})
}

func TestExecute_FoundStopsImmediately(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		atomic.AddInt32(&calls, 1)
		return []report.Match{{Title: "hit", URL: "https://test.example/1"}}, nil
	}

	outcome := fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusFound, outcome.Status)
	assert.Len(t, outcome.Matches, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a hit must not trigger further attempts")
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, report.AttemptSucceeded, outcome.Attempts[0].Outcome)
}

func TestExecute_CleanMissIsNotRetried(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	outcome := fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusNotFound, outcome.Status)
	assert.Empty(t, outcome.Matches)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExecute_TransientFailuresExhaustRetries(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Transientf("server returned 503")
	}

	outcome := fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, report.ReasonRetriesExhausted, outcome.Reason)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "MaxRetries=2 means three attempts total")
	require.Len(t, outcome.Attempts, 3)
	for _, a := range outcome.Attempts {
		assert.Equal(t, report.AttemptTransientFailed, a.Outcome)
	}
}

func TestExecute_PermanentFailureAbortsAtOnce(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Permanentf("403 forbidden")
	}

	outcome := fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, report.ReasonPermanentFailure, outcome.Reason)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExecute_RateBudgetExhausted(t *testing.T) {
	limiter := ratelimit.New(600)
	limiter.Register("test-platform", 1) // one token per minute
	require.True(t, limiter.TryAcquire("test-platform"), "drain the only token")

	ex := NewExecutor(nil, limiter, ExecutorConfig{
		AttemptTimeout: 50 * time.Millisecond,
		Backoff:        Backoff{Base: time.Millisecond},
		DirectFallback: true,
	})

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		t.Fatal("probe must not run without a rate token")
		return nil, nil
	}

	outcome := ex.Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, report.ReasonRateLimited, outcome.Reason)
	require.Len(t, outcome.Attempts, 1, "rate exhaustion must not be retried within a run")
}

func TestExecute_NoProxySkipsPlatform(t *testing.T) {
	ep, err := proxy.ParseEndpoint("203.0.113.1:8080")
	require.NoError(t, err)
	pool := proxy.NewPool([]*proxy.Endpoint{ep}, proxy.PoolConfig{MaxUsesPerEndpoint: 1})
	require.NotNil(t, pool.Acquire(), "occupy the only endpoint")

	ex := NewExecutor(pool, ratelimit.New(600), ExecutorConfig{
		AttemptTimeout: 100 * time.Millisecond,
		Backoff:        Backoff{Base: time.Millisecond},
		DirectFallback: false,
	})

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		t.Fatal("probe must not run without an endpoint when direct fallback is off")
		return nil, nil
	}

	outcome := ex.Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusSkipped, outcome.Status)
	assert.Equal(t, report.ReasonNoProxyAvailable, outcome.Reason)
}

func TestExecute_ProxyHandedToProbe(t *testing.T) {
	ep, err := proxy.ParseEndpoint("203.0.113.1:8080")
	require.NoError(t, err)
	pool := proxy.NewPool([]*proxy.Endpoint{ep}, proxy.PoolConfig{})

	var seen string
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		if ep != nil {
			seen = ep.Address()
		}
		return nil, nil
	}

	outcome := fastExecutor(pool).Execute(context.Background(), testPlatform(0), "user@example.com", fn)

	assert.Equal(t, report.StatusNotFound, outcome.Status)
	assert.Equal(t, "203.0.113.1:8080", seen)
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, "203.0.113.1:8080", outcome.Attempts[0].Proxy)

	// Successful release puts the endpoint back in rotation.
	assert.NotNil(t, pool.Acquire())
}

func TestExecute_PanicIsContained(t *testing.T) {
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		panic("probe exploded")
	}

	var outcome *report.PlatformOutcome
	require.NotPanics(t, func() {
		outcome = fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)
	})

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, report.ReasonPermanentFailure, outcome.Reason)
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, report.AttemptPermanentFailed, outcome.Attempts[0].Outcome)
	assert.Contains(t, outcome.Attempts[0].Error, "probe panicked")
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		t.Fatal("probe must not run after cancellation")
		return nil, nil
	}

	outcome := fastExecutor(nil).Execute(ctx, testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusSkipped, outcome.Status)
	assert.Equal(t, report.ReasonDeadlineExceeded, outcome.Reason)
	assert.Empty(t, outcome.Attempts)
}

func TestExecute_DeadlineDuringBackoff(t *testing.T) {
	ex := NewExecutor(nil, ratelimit.New(600), ExecutorConfig{
		AttemptTimeout: 100 * time.Millisecond,
		Backoff:        Backoff{Base: time.Second}, // longer than the deadline
		DirectFallback: true,
	})

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		return nil, Transientf("flaky")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome := ex.Execute(ctx, testPlatform(5), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status, "an interrupted run with attempts on record is an error, not a skip")
	assert.Equal(t, report.ReasonDeadlineExceeded, outcome.Reason)
	require.Len(t, outcome.Attempts, 1)
}

func TestExecute_AttemptTimeoutReported(t *testing.T) {
	ex := NewExecutor(nil, ratelimit.New(600), ExecutorConfig{
		AttemptTimeout: 30 * time.Millisecond,
		Backoff:        Backoff{Base: time.Millisecond},
		DirectFallback: true,
	})

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	outcome := ex.Execute(context.Background(), testPlatform(1), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, report.ReasonTimeout, outcome.Reason)
	require.Len(t, outcome.Attempts, 2, "a timed-out attempt is transient and retried")
	assert.Equal(t, report.AttemptTimedOut, outcome.Attempts[1].Outcome)
}

func TestExecute_FailedAttemptReleasesProxyAsFailure(t *testing.T) {
	ep, err := proxy.ParseEndpoint("203.0.113.1:8080")
	require.NoError(t, err)
	pool := proxy.NewPool([]*proxy.Endpoint{ep}, proxy.PoolConfig{FailureThreshold: 1})

	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		return nil, Transientf("connection reset")
	}

	ex := NewExecutor(pool, ratelimit.New(600), ExecutorConfig{
		AttemptTimeout: 100 * time.Millisecond,
		Backoff:        Backoff{Base: time.Millisecond},
		DirectFallback: true,
	})
	outcome := ex.Execute(context.Background(), testPlatform(0), "user@example.com", fn)

	assert.Equal(t, report.StatusError, outcome.Status)
	assert.Equal(t, proxy.HealthUnhealthy, pool.Health(ep))
}

func TestExecute_RecoversAfterTransientFailures(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, p *registry.Platform, email string, ep *proxy.Endpoint) ([]report.Match, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, Transientf("not yet")
		}
		return []report.Match{{Title: "late hit", URL: "https://test.example/2"}}, nil
	}

	outcome := fastExecutor(nil).Execute(context.Background(), testPlatform(2), "user@example.com", fn)

	assert.Equal(t, report.StatusFound, outcome.Status)
	require.Len(t, outcome.Attempts, 3)
	assert.Equal(t, report.AttemptSucceeded, outcome.Attempts[2].Outcome)
}
