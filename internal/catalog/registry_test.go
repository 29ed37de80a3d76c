package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testMappings = `
markets:
  - market_id: mkt-navi-map1
    match_id: match-navi-faze
    slug: navi-vs-faze-map1
    game: cs2
    yes_token_id: tok-yes-1
    no_token_id: tok-no-1
    team_yes_id: navi
    team_no_id: faze
  - market_id: mkt-navi-map2
    match_id: match-navi-faze
    slug: navi-vs-faze-map2
    game: cs2
    yes_token_id: tok-yes-2
    no_token_id: tok-no-2
    team_yes_id: navi
    team_no_id: faze
  - market_id: mkt-og-series
    match_id: match-og-liquid
    slug: og-vs-liquid
    game: dota2
    yes_token_id: tok-yes-3
    no_token_id: tok-no-3
    team_yes_id: og
    team_no_id: liquid
`

func writeMappings(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func newTestRegistry(t *testing.T, mutate func(cfg *Config)) *Registry {
	t.Helper()

	cfg := &Config{
		Logger:       zaptest.NewLogger(t),
		MappingsFile: writeMappings(t, testMappings),
	}
	if mutate != nil {
		mutate(cfg)
	}

	reg, err := New(cfg)
	require.NoError(t, err)

	return reg
}

// fakeCache counts interactions so cache behavior can be asserted without
// ristretto's asynchronous admission.
type fakeCache struct {
	store map[string]interface{}
	gets  int
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]interface{})}
}

func (f *fakeCache) Get(key string) (interface{}, bool) {
	f.gets++
	value, ok := f.store[key]

	return value, ok
}

func (f *fakeCache) Set(key string, value interface{}, _ time.Duration) bool {
	f.sets++
	f.store[key] = value

	return true
}

func (f *fakeCache) Delete(key string) { delete(f.store, key) }
func (f *fakeCache) Clear()            { f.store = make(map[string]interface{}) }
func (f *fakeCache) Close()            {}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	t.Run("nil-config", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil)
		require.ErrorContains(t, err, "config cannot be nil")
	})

	t.Run("nil-logger", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{MappingsFile: "markets.yaml"})
		require.ErrorContains(t, err, "logger cannot be nil")
	})

	t.Run("empty-mappings-file", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{Logger: zaptest.NewLogger(t)})
		require.ErrorContains(t, err, "mappings file cannot be empty")
	})

	t.Run("missing-mappings-file", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{
			Logger:       zaptest.NewLogger(t),
			MappingsFile: filepath.Join(t.TempDir(), "absent.yaml"),
		})
		require.ErrorContains(t, err, "read mappings file")
	})

	t.Run("malformed-yaml", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{
			Logger:       zaptest.NewLogger(t),
			MappingsFile: writeMappings(t, "markets: [not-a-mapping"),
		})
		require.ErrorContains(t, err, "parse mappings file")
	})

	t.Run("duplicate-market-id", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{
			Logger: zaptest.NewLogger(t),
			MappingsFile: writeMappings(t, `
markets:
  - market_id: mkt-1
    match_id: match-1
  - market_id: mkt-1
    match_id: match-2
`),
		})
		require.ErrorContains(t, err, `duplicate market id "mkt-1"`)
	})

	t.Run("missing-required-fields", func(t *testing.T) {
		t.Parallel()

		_, err := New(&Config{
			Logger: zaptest.NewLogger(t),
			MappingsFile: writeMappings(t, `
markets:
  - slug: incomplete
`),
		})
		require.ErrorContains(t, err, "market_id and match_id are required")
	})
}

func TestMappingForMarket(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)

	m, ok := reg.MappingForMarket("mkt-navi-map1")
	require.True(t, ok)
	assert.Equal(t, "match-navi-faze", m.MatchID)
	assert.Equal(t, "tok-yes-1", m.YesTokenID)
	assert.Equal(t, "navi", m.TeamYesID)

	_, ok = reg.MappingForMarket("mkt-unknown")
	assert.False(t, ok)
}

func TestMarketsForMatch(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)

	mapped := reg.MarketsForMatch("match-navi-faze")
	require.Len(t, mapped, 2)
	assert.Equal(t, "mkt-navi-map1", mapped[0].MarketID)
	assert.Equal(t, "mkt-navi-map2", mapped[1].MarketID)

	assert.Nil(t, reg.MarketsForMatch("match-unknown"))

	// The returned slice is a copy; mutating it leaves the table alone.
	mapped[0] = nil
	again := reg.MarketsForMatch("match-navi-faze")
	require.Len(t, again, 2)
	assert.Equal(t, "mkt-navi-map1", again[0].MarketID)
}

func TestAll(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "mkt-navi-map1", all[0].MarketID)
	assert.Equal(t, "mkt-navi-map2", all[1].MarketID)
	assert.Equal(t, "mkt-og-series", all[2].MarketID)
	assert.Equal(t, 3, reg.Size())
}

func TestMappingForMarketUsesCache(t *testing.T) {
	t.Parallel()

	fc := newFakeCache()
	reg := newTestRegistry(t, func(cfg *Config) {
		cfg.Cache = fc
		cfg.CacheTTL = time.Minute
	})

	first, ok := reg.MappingForMarket("mkt-og-series")
	require.True(t, ok)
	assert.Equal(t, 1, fc.gets)
	assert.Equal(t, 1, fc.sets)

	second, ok := reg.MappingForMarket("mkt-og-series")
	require.True(t, ok)
	assert.Equal(t, 2, fc.gets)
	assert.Equal(t, 1, fc.sets, "cache hit must not re-store")
	assert.Same(t, first, second)
}

func TestCacheDisabledWithZeroTTL(t *testing.T) {
	t.Parallel()

	fc := newFakeCache()
	reg := newTestRegistry(t, func(cfg *Config) {
		cfg.Cache = fc
	})

	_, ok := reg.MappingForMarket("mkt-og-series")
	require.True(t, ok)
	assert.Zero(t, fc.gets)
	assert.Zero(t, fc.sets)
}

func TestCacheFallsBackOnWrongType(t *testing.T) {
	t.Parallel()

	fc := newFakeCache()
	fc.store[marketKeyPrefix+"mkt-og-series"] = "not-a-mapping"

	reg := newTestRegistry(t, func(cfg *Config) {
		cfg.Cache = fc
		cfg.CacheTTL = time.Minute
	})

	m, ok := reg.MappingForMarket("mkt-og-series")
	require.True(t, ok)
	assert.Equal(t, "match-og-liquid", m.MatchID)
}
