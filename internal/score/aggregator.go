package score

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/osint-agent/internal/registry"
	"github.com/osint-agent/internal/report"
)

// Classification buckets a match by confidence score.
type Classification string

const (
	Confirmed Classification = "confirmed"
	Potential Classification = "potential"
	Weak      Classification = "weak"
)

// Weights are the confidence score components. They should sum to 1;
// the defaults are stated policy, not derived from data, which is why
// they live in config rather than constants.
type Weights struct {
	SourceAuthority  float64
	MatchQuality     float64
	ContextRelevance float64
	Recency          float64
}

// DefaultWeights is the 40/30/20/10 split.
var DefaultWeights = Weights{
	SourceAuthority:  0.40,
	MatchQuality:     0.30,
	ContextRelevance: 0.20,
	Recency:          0.10,
}

// Thresholds are the classification cut points. The potential band is
// closed on both ends: a score of exactly Confirmed or exactly
// Potential classifies as potential.
type Thresholds struct {
	Confirmed float64
	Potential float64
}

// DefaultThresholds is the 80/40 policy.
var DefaultThresholds = Thresholds{Confirmed: 80, Potential: 40}

// Config tunes the aggregator.
type Config struct {
	Weights    Weights
	Thresholds Thresholds

	// Authority is the platform-level static weight per category,
	// each in [0,1].
	Authority map[registry.Category]float64
}

func (c *Config) applyDefaults() {
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = DefaultWeights
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	if c.Authority == nil {
		c.Authority = map[registry.Category]float64{
			registry.CategoryGoogle:       0.9,
			registry.CategoryDiscussions:  0.7,
			registry.CategoryMarketplaces: 0.6,
		}
	}
}

// ScoredMatch is a Match extended with its confidence score and band.
type ScoredMatch struct {
	report.Match
	Score          float64        `json:"confidence_score"`
	Classification Classification `json:"classification"`
}

// ScoredOutcome mirrors a PlatformOutcome with scored, deduplicated
// matches.
type ScoredOutcome struct {
	Platform string        `json:"platform"`
	URL      string        `json:"url"`
	Status   report.Status `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Matches  []ScoredMatch `json:"matches"`
}

// ScoredReport is the final scored result set handed to the output
// layer. Field names match the run report so serializers stay stable
// across formats.
type ScoredReport struct {
	RunID             string                      `json:"run_id"`
	Email             string                      `json:"email"`
	Timestamp         time.Time                   `json:"timestamp"`
	PlatformsSearched []string                    `json:"platforms_searched"`
	Results           map[string][]*ScoredOutcome `json:"results"`
	Summary           report.Summary              `json:"summary"`
}

// Aggregate scores and deduplicates a run report. It is a pure
// function of its input: the run report is not mutated, recency is
// measured against the run timestamp rather than the wall clock, and
// match ordering is deterministic, so aggregating the same report
// twice yields identical output.
func Aggregate(run *report.RunReport, cfg Config) *ScoredReport {
	cfg.applyDefaults()

	scored := &ScoredReport{
		RunID:             run.RunID,
		Email:             run.Email,
		Timestamp:         run.Timestamp,
		PlatformsSearched: append([]string(nil), run.PlatformsSearched...),
		Results:           make(map[string][]*ScoredOutcome, len(run.Results)),
	}

	for category, outcomes := range run.Results {
		authority := cfg.Authority[registry.Category(category)]
		list := make([]*ScoredOutcome, 0, len(outcomes))

		for _, outcome := range outcomes {
			if outcome == nil {
				continue
			}
			list = append(list, &ScoredOutcome{
				Platform: outcome.Platform,
				URL:      outcome.URL,
				Status:   outcome.Status,
				Reason:   outcome.Reason,
				Matches:  scoreMatches(outcome.Matches, run.Email, run.Timestamp, authority, cfg),
			})
		}
		scored.Results[category] = list
	}

	scored.Summary = summarize(scored.Results)
	return scored
}

func scoreMatches(matches []report.Match, email string, ref time.Time, authority float64, cfg Config) []ScoredMatch {
	scored := make([]ScoredMatch, 0, len(matches))
	for _, m := range matches {
		s := Score(m, email, ref, authority, cfg.Weights)
		scored = append(scored, ScoredMatch{
			Match:          m,
			Score:          s,
			Classification: Classify(s, cfg.Thresholds),
		})
	}
	return dedupe(scored)
}

// Score computes the weighted confidence for one match, clamped to
// [0,100].
func Score(m report.Match, email string, ref time.Time, authority float64, w Weights) float64 {
	s := 100 * (w.SourceAuthority*clamp01(authority) +
		w.MatchQuality*clamp01(m.Quality) +
		w.ContextRelevance*contextRelevance(m.Snippet, email) +
		w.Recency*recency(m.SeenAt, ref))

	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Classify maps a score onto its band. Exact threshold values fall
// into the potential band, which is closed on both ends.
func Classify(score float64, t Thresholds) Classification {
	switch {
	case score > t.Confirmed:
		return Confirmed
	case score >= t.Potential:
		return Potential
	default:
		return Weak
	}
}

// contextRelevance is a heuristic on the evidence snippet: strongest
// when the snippet still carries the full email, weaker for the bare
// username, weaker again for generic account vocabulary.
func contextRelevance(snippet, email string) float64 {
	if snippet == "" {
		return 0
	}
	lower := strings.ToLower(snippet)

	if email != "" && strings.Contains(lower, strings.ToLower(email)) {
		return 1.0
	}
	if at := strings.Index(email, "@"); at > 3 {
		if strings.Contains(lower, strings.ToLower(email[:at])) {
			return 0.7
		}
	}
	for _, kw := range []string{"account", "profile", "user", "member", "seller", "posted", "registered"} {
		if strings.Contains(lower, kw) {
			return 0.5
		}
	}
	return 0.3
}

// recency scores any extractable evidence timestamp against the run
// timestamp. Evidence without a timestamp contributes nothing.
func recency(seenAt, ref time.Time) float64 {
	if seenAt.IsZero() {
		return 0
	}
	age := ref.Sub(seenAt)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 180*24*time.Hour:
		return 0.8
	case age <= 365*24*time.Hour:
		return 0.6
	case age <= 2*365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// dedupe merges matches sharing a normalized source URL, keeping the
// highest-scoring variant and concatenating distinct snippets so no
// evidence is lost. Output order is deterministic: score descending,
// then URL.
func dedupe(matches []ScoredMatch) []ScoredMatch {
	byURL := make(map[string]*ScoredMatch)
	var order []string

	for _, m := range matches {
		key := normalizeURL(m.URL)
		existing, ok := byURL[key]
		if !ok {
			kept := m
			byURL[key] = &kept
			order = append(order, key)
			continue
		}

		if m.Score > existing.Score {
			snippet := existing.Snippet
			*existing = m
			existing.Snippet = joinSnippets(m.Snippet, snippet)
		} else {
			existing.Snippet = joinSnippets(existing.Snippet, m.Snippet)
		}
	}

	out := make([]ScoredMatch, 0, len(order))
	for _, key := range order {
		out = append(out, *byURL[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].URL < out[j].URL
	})
	return out
}

func joinSnippets(a, b string) string {
	if b == "" || b == a || strings.Contains(a, b) {
		return a
	}
	if a == "" {
		return b
	}
	return a + " | " + b
}

// normalizeURL lowercases the scheme and host and strips fragments and
// trailing slashes so trivially different URLs merge.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// summarize derives the run statistics from the scored outcomes. The
// numbers always agree with report.ComputeSummary on the same run.
func summarize(results map[string][]*ScoredOutcome) report.Summary {
	var s report.Summary
	for _, outcomes := range results {
		for _, outcome := range outcomes {
			s.TotalPlatformsSearched++
			switch outcome.Status {
			case report.StatusFound:
				s.PlatformsWithHits++
			case report.StatusError, report.StatusSkipped:
				s.PlatformsWithErrors++
			}
		}
	}
	if s.TotalPlatformsSearched > 0 {
		s.HitRatePercentage = float64(s.PlatformsWithHits) / float64(s.TotalPlatformsSearched) * 100
	}
	return s
}
