// Package catalog loads the market-mapping table binding exchange markets to
// esports matches. The router consults it to decide which truth engine feeds
// which trading engines.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mselser95/esports-arb/pkg/cache"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const marketKeyPrefix = "catalog:market:"

// mappingsFile is the YAML document shape: a top-level markets list.
type mappingsFile struct {
	Markets []types.MarketMapping `yaml:"markets"`
}

// Config holds registry configuration.
type Config struct {
	Logger       *zap.Logger
	MappingsFile string
	Cache        cache.Cache   // optional lookup cache
	CacheTTL     time.Duration // TTL for cached lookups; zero disables caching
}

// Registry answers market-to-match lookups from a mappings file loaded once
// at construction. The table is immutable afterwards, so reads take no lock;
// the optional cache only short-circuits repeated market lookups.
type Registry struct {
	logger   *zap.Logger
	cache    cache.Cache
	cacheTTL time.Duration

	byMarket map[string]*types.MarketMapping
	byMatch  map[string][]*types.MarketMapping
}

// New loads the mappings file and builds the registry. A duplicate market id
// in the file is a configuration error.
func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.MappingsFile == "" {
		return nil, fmt.Errorf("mappings file cannot be empty")
	}

	raw, err := os.ReadFile(cfg.MappingsFile)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}

	var doc mappingsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse mappings file: %w", err)
	}

	r := &Registry{
		logger:   cfg.Logger,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		byMarket: make(map[string]*types.MarketMapping, len(doc.Markets)),
		byMatch:  make(map[string][]*types.MarketMapping),
	}

	for i := range doc.Markets {
		m := &doc.Markets[i]

		if m.MarketID == "" || m.MatchID == "" {
			return nil, fmt.Errorf("mapping %d: market_id and match_id are required", i)
		}

		if _, exists := r.byMarket[m.MarketID]; exists {
			return nil, fmt.Errorf("duplicate market id %q in mappings file", m.MarketID)
		}

		r.byMarket[m.MarketID] = m
		r.byMatch[m.MatchID] = append(r.byMatch[m.MatchID], m)
	}

	r.logger.Info("catalog-loaded",
		zap.String("file", cfg.MappingsFile),
		zap.Int("markets", len(r.byMarket)),
		zap.Int("matches", len(r.byMatch)))

	return r, nil
}

// MappingForMarket returns the mapping for a market id.
func (r *Registry) MappingForMarket(marketID string) (*types.MarketMapping, bool) {
	if r.cache != nil && r.cacheTTL > 0 {
		if value, found := r.cache.Get(marketKeyPrefix + marketID); found {
			if m, ok := value.(*types.MarketMapping); ok {
				return m, true
			}

			r.logger.Warn("invalid-mapping-type-in-cache", zap.String("market_id", marketID))
		}
	}

	m, ok := r.byMarket[marketID]
	if !ok {
		return nil, false
	}

	if r.cache != nil && r.cacheTTL > 0 {
		r.cache.Set(marketKeyPrefix+marketID, m, r.cacheTTL)
	}

	return m, true
}

// MarketsForMatch returns every mapping tied to a match id, sorted by market
// id. The returned slice is the caller's to keep.
func (r *Registry) MarketsForMatch(matchID string) []*types.MarketMapping {
	mapped := r.byMatch[matchID]
	if len(mapped) == 0 {
		return nil
	}

	out := make([]*types.MarketMapping, len(mapped))
	copy(out, mapped)
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })

	return out
}

// All returns every mapping sorted by market id.
func (r *Registry) All() []*types.MarketMapping {
	out := make([]*types.MarketMapping, 0, len(r.byMarket))
	for _, m := range r.byMarket {
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })

	return out
}

// Size returns the number of mapped markets.
func (r *Registry) Size() int {
	return len(r.byMarket)
}
