package feeds

import (
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
	"github.com/mselser95/esports-arb/pkg/websocket"
)

// WSConfig configures one live provider feed.
type WSConfig struct {
	Logger  *zap.Logger
	Clock   clock.Clock
	Bus     Publisher
	Catalog *catalog.Registry

	// Name is the provider id. It becomes the Source on every match event
	// this feed publishes.
	Name string

	// URL is the provider's websocket endpoint.
	URL string

	// Tier is the quality tier stamped on this provider's match events,
	// resolved from the configured tier lists. Defaults to tier C.
	Tier types.Tier
}

// WSFeed adapts one provider's websocket stream onto the bus. The connection
// layer (dial, reconnect, subscription replay) lives in pkg/websocket; this
// type owns the wire format and the mapping into normalized events.
type WSFeed struct {
	logger  *zap.Logger
	clk     clock.Clock
	bus     Publisher
	catalog *catalog.Registry
	name    string
	tier    types.Tier
	client  *websocket.Client
}

// subscribeRequest is the payload sent after every (re)connect.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Matches []string `json:"matches,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// wireEnvelope carries just enough to route a frame.
type wireEnvelope struct {
	Type string `json:"type"`
}

// wireMatchEvent is the provider's match-event frame.
type wireMatchEvent struct {
	MatchID   string                 `json:"match_id"`
	EventType string                 `json:"event_type"`
	EventID   string                 `json:"event_id"`
	Seq       *int64                 `json:"seq"`
	TsMs      int64                  `json:"ts_ms"`
	Payload   map[string]interface{} `json:"payload"`
}

// wireBook is the provider's book snapshot frame.
type wireBook struct {
	MarketID string   `json:"market_id"`
	TsMs     int64    `json:"ts_ms"`
	Yes      wireSide `json:"yes"`
	No       wireSide `json:"no"`
}

type wireSide struct {
	TokenID string      `json:"token_id"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
}

type wireLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// knownEventTypes guards the wire string before it becomes a
// types.MatchEventType. Unknown strings are dropped at the feed.
var knownEventTypes = map[string]types.MatchEventType{
	string(types.MatchCreated): types.MatchCreated,
	string(types.MatchStarted): types.MatchStarted,
	string(types.MatchPaused):  types.MatchPaused,
	string(types.MatchResumed): types.MatchResumed,
	string(types.MapStarted):   types.MapStarted,
	string(types.RoundEnded):   types.RoundEnded,
	string(types.MapEnded):     types.MapEnded,
	string(types.ScoreUpdate):  types.ScoreUpdate,
	string(types.MatchEnded):   types.MatchEnded,
	string(types.Correction):   types.Correction,
}

// NewWSFeed builds the feed and its connection client. Nothing is dialed
// until Run.
func NewWSFeed(cfg *WSConfig) (*WSFeed, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}

	if cfg.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	if cfg.Tier == "" {
		cfg.Tier = types.TierC
	}

	client, err := websocket.New(&websocket.Config{
		Name:   cfg.Name,
		URL:    cfg.URL,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("feed client: %w", err)
	}

	return &WSFeed{
		logger:  cfg.Logger.With(zap.String("feed", cfg.Name)),
		clk:     cfg.Clock,
		bus:     cfg.Bus,
		catalog: cfg.Catalog,
		name:    cfg.Name,
		tier:    cfg.Tier,
		client:  client,
	}, nil
}

// Name implements Adapter.
func (f *WSFeed) Name() string { return f.name }

// Run connects, subscribes to every catalog match and market, and pumps
// frames onto the bus until ctx ends.
func (f *WSFeed) Run(ctx context.Context) error {
	if err := f.client.Start(); err != nil {
		return fmt.Errorf("start feed client: %w", err)
	}

	defer func() {
		_ = f.client.Close()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("ws-feed-stopped")
			return nil

		case frame, ok := <-f.client.Frames():
			if !ok {
				return fmt.Errorf("feed connection closed")
			}

			f.handleFrame(frame)
		}
	}
}

// subscribe registers interest in every mapped match and market. The client
// replays the payload after each reconnect.
func (f *WSFeed) subscribe() error {
	markets := make([]string, 0, f.catalog.Size())
	matchSet := make(map[string]bool)

	for _, m := range f.catalog.All() {
		markets = append(markets, m.MarketID)
		matchSet[m.MatchID] = true
	}

	matches := make([]string, 0, len(matchSet))
	for id := range matchSet {
		matches = append(matches, id)
	}

	sort.Strings(matches)

	return f.client.Subscribe(&subscribeRequest{
		Op:      "subscribe",
		Matches: matches,
		Markets: markets,
	})
}

// handleFrame decodes one provider frame and publishes the normalized
// event. Malformed or irrelevant frames are dropped with a log line; a bad
// frame must never take the feed down.
func (f *WSFeed) handleFrame(frame []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		f.logger.Warn("ws-frame-decode-failed", zap.Error(err))
		return
	}

	switch env.Type {
	case "match_event":
		f.handleMatchEvent(frame)
	case "book":
		f.handleBook(frame)
	default:
		f.logger.Debug("ws-frame-ignored", zap.String("type", env.Type))
	}
}

func (f *WSFeed) handleMatchEvent(frame []byte) {
	var w wireMatchEvent
	if err := json.Unmarshal(frame, &w); err != nil {
		f.logger.Warn("ws-match-event-decode-failed", zap.Error(err))
		return
	}

	if w.MatchID == "" {
		f.logger.Warn("ws-match-event-without-match-id")
		return
	}

	et, ok := knownEventTypes[strings.ToUpper(w.EventType)]
	if !ok {
		f.logger.Debug("ws-match-event-type-unknown",
			zap.String("match_id", w.MatchID),
			zap.String("event_type", w.EventType))
		return
	}

	ts := w.TsMs
	if ts <= 0 {
		ts = f.clk.NowMs()
	}

	ev := &types.MatchEvent{
		BaseEvent:     types.NewBase(ts),
		MatchID:       w.MatchID,
		EventType:     et,
		Source:        f.name,
		SourceTier:    f.tier,
		SourceEventID: w.EventID,
		Seq:           w.Seq,
		Payload:       w.Payload,
	}

	// Dedup keys on the provider id; synthesize one when the provider sent
	// none so distinct events never collide on the empty string.
	if ev.SourceEventID == "" {
		ev.SourceEventID = ev.ID
	}

	f.publish(ev)
}

func (f *WSFeed) handleBook(frame []byte) {
	var w wireBook
	if err := json.Unmarshal(frame, &w); err != nil {
		f.logger.Warn("ws-book-decode-failed", zap.Error(err))
		return
	}

	if w.MarketID == "" {
		f.logger.Warn("ws-book-without-market-id")
		return
	}

	mapping, ok := f.catalog.MappingForMarket(w.MarketID)
	if !ok {
		f.logger.Debug("ws-book-for-unmapped-market", zap.String("market_id", w.MarketID))
		return
	}

	ts := w.TsMs
	if ts <= 0 {
		ts = f.clk.NowMs()
	}

	f.publish(&types.BookUpdate{
		BaseEvent: types.NewBase(ts),
		MarketID:  w.MarketID,
		Yes:       bookSide(&w.Yes, mapping.YesTokenID),
		No:        bookSide(&w.No, mapping.NoTokenID),
	})
}

// bookSide converts one wire side, falling back to the catalog token id
// when the provider omits its own.
func bookSide(w *wireSide, fallbackToken string) *types.OrderBook {
	tokenID := w.TokenID
	if tokenID == "" {
		tokenID = fallbackToken
	}

	book := &types.OrderBook{
		TokenID: tokenID,
		Bids:    make([]types.Level, 0, len(w.Bids)),
		Asks:    make([]types.Level, 0, len(w.Asks)),
	}

	for _, l := range w.Bids {
		book.Bids = append(book.Bids, types.Level{Price: l.Price, Size: l.Size})
	}

	for _, l := range w.Asks {
		book.Asks = append(book.Asks, types.Level{Price: l.Price, Size: l.Size})
	}

	return book
}

func (f *WSFeed) publish(ev types.Event) {
	if !f.bus.Publish(ev) {
		f.logger.Debug("ws-publish-rejected",
			zap.String("kind", string(ev.Kind())),
			zap.String("partition", ev.PartitionKey()))
	}
}
