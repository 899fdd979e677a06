package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		"marketplaces": [
			{"name": "Alpha", "url": "alpha.example", "search_endpoint": "/search", "rate_limit": 30, "max_retries": 1},
			{"name": "Beta", "url": "beta.example"}
		],
		"discussions": [
			{"name": "Gamma", "url": "gamma.example", "login_required": true}
		]
	}`)

	reg, err := Parse(data)
	require.NoError(t, err)

	marketplaces := reg.Platforms(CategoryMarketplaces)
	require.Len(t, marketplaces, 2)
	assert.Equal(t, "Alpha", marketplaces[0].Name)
	assert.Equal(t, 30, marketplaces[0].RateLimit)
	assert.Equal(t, 1, marketplaces[0].MaxRetries)
	assert.Equal(t, CategoryMarketplaces, marketplaces[0].Category)

	// Unset budgets fall back to defaults.
	assert.Equal(t, defaultRateLimit, marketplaces[1].RateLimit)
	assert.Equal(t, defaultMaxRetries, marketplaces[1].MaxRetries)

	discussions := reg.Platforms(CategoryDiscussions)
	require.Len(t, discussions, 1)
	assert.True(t, discussions[0].LoginRequired)
}

func TestParse_UnknownCategory(t *testing.T) {
	_, err := Parse([]byte(`{"darkweb": [{"name": "X", "url": "x.example"}]}`))
	assert.ErrorIs(t, err, ErrUnsupportedCategory)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParse_EmptyRegistry(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	assert.ErrorIs(t, err, ErrEmptyRegistry)

	// Entries missing required fields are skipped, not kept.
	_, err = Parse([]byte(`{"google": [{"name": "", "url": ""}]}`))
	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

func TestSelect(t *testing.T) {
	reg, err := Parse([]byte(`{
		"marketplaces": [{"name": "A", "url": "a.example"}, {"name": "B", "url": "b.example"}],
		"google": [{"name": "C", "url": "c.example"}]
	}`))
	require.NoError(t, err)

	t.Run("explicit categories preserve order", func(t *testing.T) {
		categories, platforms, err := reg.Select([]string{"marketplaces"})
		require.NoError(t, err)
		assert.Equal(t, []Category{CategoryMarketplaces}, categories)
		require.Len(t, platforms, 2)
		assert.Equal(t, "A", platforms[0].Name)
		assert.Equal(t, "B", platforms[1].Name)
	})

	t.Run("all expands to every category", func(t *testing.T) {
		categories, platforms, err := reg.Select([]string{"all"})
		require.NoError(t, err)
		assert.Equal(t, Categories(), categories)
		assert.Len(t, platforms, 3)
	})

	t.Run("empty request means all", func(t *testing.T) {
		_, platforms, err := reg.Select(nil)
		require.NoError(t, err)
		assert.Len(t, platforms, 3)
	})

	t.Run("unknown category rejected", func(t *testing.T) {
		_, _, err := reg.Select([]string{"pastebins"})
		assert.ErrorIs(t, err, ErrUnsupportedCategory)
	})
}
