package report

import (
	"time"
)

// Status is the settled result for one platform after all retries.
type Status string

const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
	StatusSkipped  Status = "skipped"
)

// Well-known reason strings attached to error/skipped outcomes.
const (
	ReasonRateLimited      = "rate_limited"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonNoProxyAvailable = "no_proxy_available"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonTimeout          = "timeout"
	ReasonPanic            = "probe_panic"
	ReasonPermanentFailure = "permanent_failure"
	ReasonCancelled        = "cancelled"
)

// AttemptOutcome is the terminal state of a single network attempt.
type AttemptOutcome string

const (
	AttemptSucceeded       AttemptOutcome = "succeeded"
	AttemptTransientFailed AttemptOutcome = "transient_failed"
	AttemptPermanentFailed AttemptOutcome = "permanent_failed"
	AttemptTimedOut        AttemptOutcome = "timed_out"
)

// Match is one piece of evidence linking the email to a platform.
// Title, URL and Snippet are the stable output fields; the remaining
// fields are raw confidence inputs consumed by the scorer.
type Match struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`

	// Quality is the match-quality input in [0,1]: 1.0 for an exact
	// email string hit, lower for partial/username-pattern matches.
	Quality float64 `json:"-"`

	// SeenAt is any timestamp extractable from the evidence. Zero when
	// the platform exposed none.
	SeenAt time.Time `json:"-"`
}

// ProbeAttempt records one try against one platform. Attempts are
// created and settled inside a single probe task and kept only for
// diagnostics.
type ProbeAttempt struct {
	Number    int            `json:"number"`
	Proxy     string         `json:"proxy,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
}

// PlatformOutcome is the settled result for one platform within a run.
// Exactly one exists per requested platform; a platform that could not
// be probed still yields an outcome with an explicit reason.
type PlatformOutcome struct {
	Platform string         `json:"platform"`
	URL      string         `json:"url"`
	Status   Status         `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Matches  []Match        `json:"matches"`
	Attempts []ProbeAttempt `json:"attempts,omitempty"`
	Elapsed  time.Duration  `json:"-"`
}

// Summary holds the derived statistics for a run. It is always
// recomputable from the outcome mapping; nothing here is tracked
// independently.
type Summary struct {
	TotalPlatformsSearched int     `json:"total_platforms_searched"`
	PlatformsWithHits      int     `json:"platforms_with_hits"`
	PlatformsWithErrors    int     `json:"platforms_with_errors"`
	HitRatePercentage      float64 `json:"hit_rate_percentage"`
}

// RunReport is the full result of one search run. It is created empty
// at run start, filled slot by slot as outcomes settle, and sealed by
// Finalize once the run completes or times out.
type RunReport struct {
	RunID             string                        `json:"run_id"`
	Email             string                        `json:"email"`
	Timestamp         time.Time                     `json:"timestamp"`
	PlatformsSearched []string                      `json:"platforms_searched"`
	Results           map[string][]*PlatformOutcome `json:"results"`
	Summary           Summary                       `json:"summary"`
}

// Finalize recomputes the summary from the outcome mapping.
func (r *RunReport) Finalize() {
	r.Summary = ComputeSummary(r.Results)
}

// ComputeSummary derives run statistics from the outcome mapping.
// A run with zero platforms reports a hit rate of 0.
func ComputeSummary(results map[string][]*PlatformOutcome) Summary {
	var s Summary

	for _, outcomes := range results {
		for _, outcome := range outcomes {
			if outcome == nil {
				continue
			}
			s.TotalPlatformsSearched++

			switch outcome.Status {
			case StatusFound:
				s.PlatformsWithHits++
			case StatusError, StatusSkipped:
				s.PlatformsWithErrors++
			}
		}
	}

	if s.TotalPlatformsSearched > 0 {
		s.HitRatePercentage = float64(s.PlatformsWithHits) / float64(s.TotalPlatformsSearched) * 100
	}

	return s
}
