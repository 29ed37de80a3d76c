package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/pkg/types"
)

// stateHandler assembles the operational snapshot served at /api/state.
type stateHandler struct {
	logger  *zap.Logger
	bus     BusStats
	engines EngineStates
}

func newStateHandler(logger *zap.Logger, bus BusStats, engines EngineStates) *stateHandler {
	return &stateHandler{logger: logger, bus: bus, engines: engines}
}

// statePayload is the /api/state response body.
type statePayload struct {
	Bus     busState               `json:"bus"`
	Markets map[string]marketState `json:"markets"`
	Matches map[string]matchState  `json:"matches"`
}

type busState struct {
	QueueDepths map[string]int `json:"queue_depths"`
	DLQSize     int            `json:"dlq_size"`
}

// marketState is the trading view of one market, flattened for operators.
type marketState struct {
	Status             string  `json:"status"`
	QYes               float64 `json:"q_yes"`
	QNo                float64 `json:"q_no"`
	TotalCost          float64 `json:"total_cost"`
	GuaranteedPnL      float64 `json:"guaranteed_pnl"`
	OpenOrders         int     `json:"open_orders"`
	ConsecutiveRejects int     `json:"consecutive_rejects"`
}

// matchState is the truth view of one match.
type matchState struct {
	Status       string  `json:"status"`
	ScoreA       int     `json:"score_a"`
	ScoreB       int     `json:"score_b"`
	Confidence   float64 `json:"confidence"`
	WinnerTeamID string  `json:"winner_team_id,omitempty"`
}

func (h *stateHandler) handle(w http.ResponseWriter, _ *http.Request) {
	payload := statePayload{
		Bus: busState{
			QueueDepths: h.bus.QueueDepths(),
			DLQSize:     h.bus.DLQSize(),
		},
		Markets: make(map[string]marketState),
		Matches: make(map[string]matchState),
	}

	for marketID, st := range h.engines.TradingStates() {
		payload.Markets[marketID] = flattenTrading(st)
	}

	for matchID, st := range h.engines.TruthStates() {
		payload.Matches[matchID] = matchState{
			Status:       string(st.Status),
			ScoreA:       st.ScoreA,
			ScoreB:       st.ScoreB,
			Confidence:   st.Confidence,
			WinnerTeamID: st.WinnerTeamID,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("state-encode-failed", zap.Error(err))
	}
}

func flattenTrading(st types.TradingState) marketState {
	out := marketState{
		Status:             string(st.Status),
		OpenOrders:         len(st.OpenOrders),
		ConsecutiveRejects: st.ConsecutiveRejects,
	}

	if st.Position != nil {
		out.QYes = st.Position.QYes
		out.QNo = st.Position.QNo
		out.TotalCost = st.Position.TotalCost()
		out.GuaranteedPnL = st.Position.GuaranteedPnL()
	}

	return out
}
