// Package api provides the HTTP surface of the exchange: market management,
// order submission and cancellation, order-book snapshots, trade history,
// and the admin lifecycle endpoints.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/engine"
	"github.com/palpite/clob-engine/internal/fixed"
	"github.com/palpite/clob-engine/internal/model"
	"github.com/palpite/clob-engine/internal/risk"
	"github.com/palpite/clob-engine/internal/store"
)

// Service handles HTTP requests. All trading state lives in the engine; the
// store is used directly only for read paths the engine does not own.
type Service struct {
	engine *engine.Engine
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts

	// defaultSpreadBps is applied when market creation omits spread_bps.
	// Mirrored deployments set it via engine.default_spread_bps.
	defaultSpreadBps int64
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, hub *WSHub, defaultSpreadBps int64) *Service {
	return &Service{engine: eng, store: st, wsHub: hub, defaultSpreadBps: defaultSpreadBps}
}

// Routes mounts every endpoint on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/orderbook", s.GetOrderBook)
	r.Get("/markets/{marketID}/trades", s.GetMarketTrades)

	r.Post("/orders", s.SubmitOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Get("/users/{userID}/orders", s.GetUserOrders)
	r.Get("/trades", s.GetRecentTrades)

	// Admin lifecycle.
	r.Post("/markets/{marketID}/close", s.statusHandler(model.MarketClosed))
	r.Post("/markets/{marketID}/freeze", s.statusHandler(model.MarketFrozen))
	r.Post("/markets/{marketID}/unfreeze", s.statusHandler(model.MarketOpen))
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Title      string          `json:"title"`
	Category   string          `json:"category"`
	YesReserve decimal.Decimal `json:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve"`
	SpreadBps  *int64          `json:"spread_bps,omitempty"` // nil means the configured default
}

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	MarketID string          `json:"market_id"`
	UserID   string          `json:"user_id"`
	Side     string          `json:"side"`    // "buy" or "sell"
	Outcome  string          `json:"outcome"` // "yes" or "no"
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// CancelOrderRequest is the JSON body for DELETE /orders/{orderID}.
type CancelOrderRequest struct {
	UserID string `json:"user_id"`
}

// ResolveMarketRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// TradeView is one fill decorated with display fields for the trade feed.
type TradeView struct {
	model.Fill
	Username    string          `json:"username"`
	MarketTitle string          `json:"market_title"`
	Value       decimal.Decimal `json:"value"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spreadBps := s.defaultSpreadBps
	if req.SpreadBps != nil {
		spreadBps = *req.SpreadBps
	}

	market, err := s.engine.CreateMarket(r.Context(), engine.CreateMarketParams{
		Title:      req.Title,
		Category:   req.Category,
		YesReserve: req.YesReserve,
		NoReserve:  req.NoReserve,
		SpreadBps:  spreadBps,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets, optionally filtered by
// ?category=<name> and ?status=<status>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	category := r.URL.Query().Get("category")
	status := r.URL.Query().Get("status")
	if category != "" || status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if category != "" && m.Category != category {
				continue
			}
			if status != "" && string(m.Status) != status {
				continue
			}
			filtered = append(filtered, m)
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.Market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetOrderBook handles GET /api/v1/markets/{marketID}/orderbook.
// ?depth=N limits the number of aggregated price levels per side.
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "depth must be a non-negative integer", http.StatusBadRequest)
			return
		}
		depth = n
	}

	snap, err := s.engine.OrderBook(r.Context(), chi.URLParam(r, "marketID"), depth)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Order handlers ---

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.SubmitOrder(r.Context(), engine.SubmitRequest{
		MarketID: req.MarketID,
		UserID:   req.UserID,
		Side:     model.Side(req.Side),
		Outcome:  model.Outcome(req.Outcome),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcastMarket(r.Context(), req.MarketID, "order_executed")
	writeJSON(w, http.StatusOK, result)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}. The body carries the
// requesting user for the ownership check.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	order, err := s.engine.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcastMarket(r.Context(), order.MarketID, "order_cancelled")
	writeJSON(w, http.StatusOK, order)
}

// GetUserOrders handles GET /api/v1/users/{userID}/orders.
func (s *Service) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrdersByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// --- Trade feed handlers ---

// GetRecentTrades handles GET /api/v1/trades?limit=N across all markets.
func (s *Service) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	fills, err := s.store.ListRecentFills(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.decorateFills(r, fills))
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades?limit=N.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	fills, err := s.store.ListFillsByMarket(r.Context(), chi.URLParam(r, "marketID"), limit)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.decorateFills(r, fills))
}

// decorateFills attaches display fields to fills for the trade feed. Market
// titles are looked up once per distinct market.
func (s *Service) decorateFills(r *http.Request, fills []model.Fill) []TradeView {
	titles := make(map[string]string)
	views := make([]TradeView, 0, len(fills))
	for _, f := range fills {
		title, ok := titles[f.MarketID]
		if !ok {
			if m, err := s.store.GetMarket(r.Context(), f.MarketID); err == nil {
				title = m.Title
			}
			titles[f.MarketID] = title
		}
		views = append(views, TradeView{
			Fill:        f,
			Username:    f.TakerUserID,
			MarketTitle: title,
			Value:       f.Value(),
		})
	}
	return views
}

// --- Admin handlers ---

// statusHandler returns a handler applying one lifecycle transition.
func (s *Service) statusHandler(next model.MarketStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		market, err := s.engine.SetStatus(r.Context(), chi.URLParam(r, "marketID"), next)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		s.broadcastMarket(r.Context(), market.ID, "market_status")
		writeJSON(w, http.StatusOK, market)
	}
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "marketID"), model.Outcome(req.Outcome))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcastMarket(r.Context(), market.ID, "market_resolved")
	writeJSON(w, http.StatusOK, market)
}

// --- Helpers ---

// broadcastMarket pushes the market's fresh implied price to WebSocket
// clients after a state change.
func (s *Service) broadcastMarket(ctx context.Context, marketID, msgType string) {
	if s.wsHub == nil {
		return
	}
	market, err := s.engine.Market(ctx, marketID)
	if err != nil {
		return
	}
	yes := market.ImpliedYesPrice()
	s.wsHub.Broadcast(WSMessage{
		Type:     msgType,
		MarketID: market.ID,
		Title:    market.Title,
		Status:   string(market.Status),
		PriceYes: yes.String(),
		PriceNo:  fixed.Complement(yes).String(),
	})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrMarketNotFound), errors.Is(err, model.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrMarketClosed),
		errors.Is(err, model.ErrMarketFrozen),
		errors.Is(err, model.ErrAlreadyTerminal),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrInsufficientLiquidity),
		errors.Is(err, risk.ErrMarketLimitExceeded),
		errors.Is(err, risk.ErrCategoryLimitExceeded):
		status = http.StatusConflict
	default:
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
