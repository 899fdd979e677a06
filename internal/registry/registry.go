package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedCategory is returned when a registry file or a
	// search request names a category the agent does not know.
	ErrUnsupportedCategory = errors.New("unsupported platform category")

	// ErrEmptyRegistry is returned when no platforms survive loading.
	ErrEmptyRegistry = errors.New("registry contains no platforms")
)

// Category groups platforms by the kind of service being probed.
type Category string

const (
	CategoryMarketplaces Category = "marketplaces"
	CategoryDiscussions  Category = "discussions"
	CategoryGoogle       Category = "google"

	// CategoryAll is accepted in search requests and expands to every
	// known category. It is not valid inside a registry file.
	CategoryAll Category = "all"
)

// Categories lists the known categories in their fixed report order.
func Categories() []Category {
	return []Category{CategoryMarketplaces, CategoryDiscussions, CategoryGoogle}
}

const (
	defaultRateLimit  = 60 // requests per minute
	defaultMaxRetries = 2
)

// Platform is the immutable descriptor for one external service.
// Descriptors are loaded once per run and read-only afterwards.
type Platform struct {
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	Category       Category `json:"-"`
	LoginRequired  bool     `json:"login_required"`
	SearchEndpoint string   `json:"search_endpoint"`

	// RateLimit is the platform's request budget in requests per
	// minute. Zero in the file means the default applies.
	RateLimit int `json:"rate_limit"`

	// MaxRetries bounds transient-failure retries per run.
	MaxRetries int `json:"max_retries"`
}

// Registry holds the ordered platform lists per category.
type Registry struct {
	platforms map[Category][]*Platform
}

// Load reads a registry file: a JSON object mapping category names to
// ordered platform lists. Declared order is preserved; it determines
// the slot order of run reports.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data)
}

// Parse decodes registry JSON. Unknown categories are rejected rather
// than silently carried, so a typo in the file surfaces immediately.
func Parse(data []byte) (*Registry, error) {
	var raw map[string][]*Platform
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid registry JSON: %w", err)
	}

	reg := &Registry{platforms: make(map[Category][]*Platform)}
	total := 0

	for name, list := range raw {
		category := Category(name)
		if !knownCategory(category) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCategory, name)
		}

		for _, p := range list {
			if p.Name == "" || p.URL == "" {
				logrus.Warnf("Skipping registry entry with missing name or url in category %s", name)
				continue
			}
			if p.RateLimit <= 0 {
				p.RateLimit = defaultRateLimit
			}
			if p.MaxRetries < 0 {
				p.MaxRetries = 0
			} else if p.MaxRetries == 0 {
				p.MaxRetries = defaultMaxRetries
			}
			p.Category = category
			reg.platforms[category] = append(reg.platforms[category], p)
			total++
		}
	}

	if total == 0 {
		return nil, ErrEmptyRegistry
	}

	return reg, nil
}

// Platforms returns the ordered platform list for one category.
func (r *Registry) Platforms(category Category) []*Platform {
	return r.platforms[category]
}

// Select resolves requested category names into the ordered categories
// and the flat, registry-ordered platform list to probe. "all" expands
// to every known category.
func (r *Registry) Select(requested []string) ([]Category, []*Platform, error) {
	var categories []Category

	for _, name := range requested {
		c := Category(name)
		if c == CategoryAll {
			categories = Categories()
			break
		}
		if !knownCategory(c) {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedCategory, name)
		}
		categories = append(categories, c)
	}

	if len(categories) == 0 {
		categories = Categories()
	}

	var platforms []*Platform
	var selected []Category
	for _, c := range categories {
		list := r.platforms[c]
		if len(list) == 0 {
			logrus.Warnf("No platforms registered for category %s", c)
		}
		selected = append(selected, c)
		platforms = append(platforms, list...)
	}

	return selected, platforms, nil
}

func knownCategory(c Category) bool {
	switch c {
	case CategoryMarketplaces, CategoryDiscussions, CategoryGoogle:
		return true
	}
	return false
}
