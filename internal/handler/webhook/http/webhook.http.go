package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
	"github.com/romnatson3/copy-trade/internal/infrastructure"
	"github.com/romnatson3/copy-trade/internal/service/signal"
	"github.com/sirupsen/logrus"
)

var (
	errSourceIPRejected = errors.New("source ip is not allowed")
	errInvalidSide      = errors.New("side must be LONG or SHORT")
)

// SignalRequest is the body an external signal source posts. Side uses the
// LONG/SHORT vocabulary of signal providers, not the exchange BUY/SELL one.
type SignalRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	SignalName string `json:"signal_name"`
}

type OpenPositionHTTPRequest struct {
	Symbol                          string  `json:"symbol"`
	Side                            string  `json:"side"`
	OrderType                       string  `json:"order_type"`
	AmountUSDT                      float64 `json:"amount_usdt"`
	Price                           float64 `json:"price"`
	Leverage                        int     `json:"leverage"`
	TakeProfitRate                  float64 `json:"take_profit_rate"`
	StopLossRate                    float64 `json:"stop_loss_rate"`
	TrailingStopCallbackRate        float64 `json:"trailing_stop_callback_rate"`
	TrailingStopActivationPriceRate float64 `json:"trailing_stop_activation_price_rate"`
}

type ClosePositionsRequest struct {
	PositionID     int64 `json:"position_id"`
	ProfitableOnly bool  `json:"profitable_only"`
}

type ReducePositionRequest struct {
	PositionID   int64   `json:"position_id"`
	QuantityRate float64 `json:"quantity_rate"`
	PriceRate    float64 `json:"price_rate"`
}

type IncreasePositionRequest struct {
	PositionID int64 `json:"position_id"`
	Multiplier int   `json:"multiplier"`
}

type PositionSettingsRequest struct {
	PositionID                      int64   `json:"position_id"`
	TakeProfitRate                  float64 `json:"take_profit_rate"`
	StopLossRate                    float64 `json:"stop_loss_rate"`
	TrailingStopCallbackRate        float64 `json:"trailing_stop_callback_rate"`
	TrailingStopActivationPriceRate float64 `json:"trailing_stop_activation_price_rate"`
}

type Handler struct {
	signalService *signal.Service
}

func NewWebhookHTTPHandler(signalService *signal.Service) *Handler {
	return &Handler{signalService: signalService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook/v1/signal", h.Signal)
	mux.HandleFunc("/api/v1/positions/open", h.OpenPosition)
	mux.HandleFunc("/api/v1/positions/close", h.ClosePositions)
	mux.HandleFunc("/api/v1/positions/reduce", h.ReducePosition)
	mux.HandleFunc("/api/v1/positions/increase", h.IncreasePosition)
	mux.HandleFunc("/api/v1/positions/settings", h.UpdatePositionSettings)
	mux.HandleFunc("/api/v1/symbols", h.ListSymbols)
}

func (h *Handler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	symbols, err := h.signalService.ActiveSymbols(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type symbolView struct {
		Symbol   string `json:"symbol"`
		Leverage int    `json:"leverage"`
	}
	views := make([]symbolView, 0, len(symbols))
	for _, symbol := range symbols {
		views = append(views, symbolView{Symbol: symbol.Symbol, Leverage: symbol.Leverage})
	}

	writeJSON(w, http.StatusOK, map[string]any{"symbols": views})
}

// Signal admits an external trading signal. The request is validated
// synchronously so the source gets a meaningful rejection, the order
// placement itself happens asynchronously on the queue.
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	if err := validateSourceIP(r); err != nil {
		logrus.WithField("ip", infrastructure.ClientIP(r)).Warn("rejected signal from unknown source")
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error()})
		return
	}

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	logrus.WithFields(logrus.Fields{
		"symbol":      req.Symbol,
		"side":        req.Side,
		"signal_name": req.SignalName,
	}).Info("received signal")

	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Side) == "" || strings.TrimSpace(req.SignalName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return
	}

	side, err := mapSignalSide(req.Side)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	err = h.signalService.ValidateSignal(r.Context(), req.Symbol, side, entity.SignalSource(req.SignalName))
	if err != nil {
		logrus.WithField("symbol", req.Symbol).Warn(err)
		writeJSON(w, signalRejectionStatus(err), map[string]any{"error": err.Error()})
		return
	}

	if err := h.signalService.FanOutSignal(r.Context(), req.Symbol, side); err != nil {
		logrus.Error(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req OpenPositionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateOpenPositionRequest(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	placed, err := h.signalService.OpenPositionManually(r.Context(), signal.OpenPositionRequest{
		Symbol:     req.Symbol,
		Side:       entity.OrderSide(strings.ToUpper(req.Side)),
		OrderType:  entity.OrderType(strings.ToUpper(req.OrderType)),
		AmountUSDT: req.AmountUSDT,
		Price:      req.Price,
		Leverage:   req.Leverage,
		Rates: entity.ProtectiveRates{
			TakeProfitRate:                  req.TakeProfitRate,
			StopLossRate:                    req.StopLossRate,
			TrailingStopCallbackRate:        req.TrailingStopCallbackRate,
			TrailingStopActivationPriceRate: req.TrailingStopActivationPriceRate,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": placed.OrderID,
		"status":   placed.Status,
		"orig_qty": placed.OrigQty,
	})
}

func (h *Handler) ClosePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req ClosePositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if req.PositionID != 0 {
		if err := h.signalService.ClosePosition(r.Context(), req.PositionID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"position_id": req.PositionID, "closed": true})
		return
	}

	results, err := h.signalService.CloseOpenPositions(r.Context(), req.ProfitableOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) ReducePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req ReducePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if req.PositionID == 0 || req.QuantityRate <= 0 || req.QuantityRate > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "position_id and a quantity_rate in (0, 100] are required"})
		return
	}

	if err := h.signalService.ReducePosition(r.Context(), req.PositionID, req.QuantityRate, req.PriceRate); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"position_id": req.PositionID})
}

func (h *Handler) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req IncreasePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if req.PositionID == 0 || req.Multiplier < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "position_id and a multiplier >= 1 are required"})
		return
	}

	if err := h.signalService.IncreasePosition(r.Context(), req.PositionID, req.Multiplier); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"position_id": req.PositionID})
}

func (h *Handler) UpdatePositionSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req PositionSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if req.PositionID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "position_id is required"})
		return
	}
	if err := validateProtectiveRates(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	err := h.signalService.ReplaceProtectiveOrders(r.Context(), req.PositionID, entity.ProtectiveRates{
		TakeProfitRate:                  req.TakeProfitRate,
		StopLossRate:                    req.StopLossRate,
		TrailingStopCallbackRate:        req.TrailingStopCallbackRate,
		TrailingStopActivationPriceRate: req.TrailingStopActivationPriceRate,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"position_id": req.PositionID})
}

func validateOpenPositionRequest(req *OpenPositionHTTPRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return errors.New("symbol is required")
	}
	side := strings.ToUpper(req.Side)
	if side != string(entity.OrderSideBuy) && side != string(entity.OrderSideSell) {
		return errors.New("side must be BUY or SELL")
	}
	orderType := strings.ToUpper(req.OrderType)
	if orderType != string(entity.OrderTypeMarket) && orderType != string(entity.OrderTypeLimit) {
		return errors.New("order_type must be MARKET or LIMIT")
	}
	if req.AmountUSDT <= 0 {
		return errors.New("amount_usdt must be greater than zero")
	}
	if orderType == string(entity.OrderTypeLimit) && req.Price <= 0 {
		return errors.New("price is required for limit order")
	}
	if req.Leverage < 1 {
		return errors.New("leverage must be at least 1")
	}
	return validateProtectiveRates(&PositionSettingsRequest{
		TakeProfitRate:                  req.TakeProfitRate,
		StopLossRate:                    req.StopLossRate,
		TrailingStopCallbackRate:        req.TrailingStopCallbackRate,
		TrailingStopActivationPriceRate: req.TrailingStopActivationPriceRate,
	})
}

// validateProtectiveRates enforces the exchange-side constraints on the
// protective-order combination: a take profit cannot coexist with a trailing
// stop, and both trailing rates must be set together.
func validateProtectiveRates(req *PositionSettingsRequest) error {
	if req.TakeProfitRate != 0 && (req.TrailingStopCallbackRate != 0 || req.TrailingStopActivationPriceRate != 0) {
		return errors.New("take profit rate cannot be set with trailing stop")
	}
	if req.TrailingStopCallbackRate > 0 && req.TrailingStopActivationPriceRate == 0 {
		return errors.New("trailing stop activation price rate is required")
	}
	if req.TrailingStopCallbackRate == 0 && req.TrailingStopActivationPriceRate > 0 {
		return errors.New("trailing stop callback rate is required")
	}
	if req.TrailingStopCallbackRate > 0 && (req.TrailingStopCallbackRate < 0.1 || req.TrailingStopCallbackRate > 10) {
		return errors.New("trailing stop callback rate must be between 0.1 and 10")
	}
	return nil
}

func mapSignalSide(side string) (entity.OrderSide, error) {
	switch strings.ToUpper(side) {
	case "LONG":
		return entity.OrderSideBuy, nil
	case "SHORT":
		return entity.OrderSideSell, nil
	default:
		return "", errInvalidSide
	}
}

// validateSourceIP admits only the configured signal sources. An empty
// allowlist means the check is disabled.
func validateSourceIP(r *http.Request) error {
	allowed := config.Env.Signal.SourceIPs
	if len(allowed) == 0 {
		return nil
	}

	ip := infrastructure.ClientIP(r)
	for _, candidate := range allowed {
		if ip == strings.TrimSpace(candidate) {
			return nil
		}
	}
	return errSourceIPRejected
}

func signalRejectionStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrSymbolInactive),
		errors.Is(err, entity.ErrPositionOpen),
		errors.Is(err, entity.ErrPositionLimit),
		errors.Is(err, entity.ErrSignalSource),
		errors.Is(err, entity.ErrTradeSideDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrSymbolNotFound), errors.Is(err, entity.ErrPositionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrPlaceOrder), errors.Is(err, entity.ErrCancelOrder):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		logrus.Error(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
