package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bot-trading-core/internal/engine"
	"bot-trading-core/internal/order"
	"bot-trading-core/pkg/db"
	"bot-trading-core/pkg/exchanges/common"
)

type subscribeRequest struct {
	Allocation decimal.Decimal `json:"allocated_usdt"`
	ExpiresAt  *time.Time      `json:"expires_at"`
}

type placeOrderRequest struct {
	Pair     string              `json:"pair" binding:"required,min=3"`
	Side     string              `json:"side" binding:"required"`
	Type     string              `json:"type"`
	Quantity decimal.Decimal     `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
}

type depositRequest struct {
	Asset  string          `json:"asset" binding:"required,min=1"`
	Amount decimal.Decimal `json:"amount"`
}

type tradingModeRequest struct {
	Live *bool `json:"live" binding:"required"`
}

type evictRequest struct {
	Reason string `json:"reason"`
}

type orderView struct {
	ID              string           `json:"id"`
	BotID           int64            `json:"bot_id,omitempty"`
	Pair            string           `json:"pair"`
	Side            common.Side      `json:"side"`
	Type            common.OrderType `json:"type"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	FilledQuantity  decimal.Decimal  `json:"filled_quantity"`
	Status          string           `json:"status"`
	ExchangeOrderID string           `json:"exchange_order_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

type walletView struct {
	Asset     string          `json:"asset"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	Available decimal.Decimal `json:"available"`
}

type subscriptionView struct {
	ID            int64           `json:"id"`
	BotID         int64           `json:"bot_id"`
	AllocatedUSDT decimal.Decimal `json:"allocated_usdt"`
	StartedAt     time.Time       `json:"started_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

type botView struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	StrategyType     string          `json:"strategy_type"`
	Pair             string          `json:"pair"`
	Status           db.BotStatus    `json:"status"`
	MaxDrawdownLimit decimal.Decimal `json:"max_drawdown_limit"`
	MonthlyFee       decimal.Decimal `json:"monthly_fee"`
	KillSwitch       bool            `json:"kill_switch"`
	Subscribers      int             `json:"subscribers"`
}

func newOrderView(o db.Order) orderView {
	v := orderView{
		ID:              o.ID,
		BotID:           o.BotID,
		Pair:            o.Pair,
		Side:            o.Side,
		Type:            o.Type,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Status:          string(o.Status),
		ExchangeOrderID: o.ExchangeOrderID,
		CreatedAt:       o.CreatedAt,
	}
	if o.Price.Valid {
		p := o.Price.Decimal
		v.Price = &p
	}
	return v
}

func newWalletView(w db.Wallet) walletView {
	return walletView{Asset: w.Asset, Balance: w.Balance, Locked: w.LockedBalance, Available: w.Available()}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and store sentinels onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrNotSubscribed):
		respondError(c, http.StatusNotFound, "NOT_SUBSCRIBED", err.Error())
	case errors.Is(err, engine.ErrAlreadySubscribed):
		respondError(c, http.StatusConflict, "ALREADY_SUBSCRIBED", err.Error())
	case errors.Is(err, engine.ErrCapitalExposed):
		respondError(c, http.StatusConflict, "CAPITAL_EXPOSED", err.Error())
	case errors.Is(err, engine.ErrBotInactive):
		respondError(c, http.StatusConflict, "BOT_INACTIVE", err.Error())
	case errors.Is(err, order.ErrOrderNotOpen):
		respondError(c, http.StatusConflict, "ORDER_NOT_OPEN", err.Error())
	case errors.Is(err, order.ErrInsufficientBalance):
		respondError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, order.ErrNoPrice):
		respondError(c, http.StatusServiceUnavailable, "NO_PRICE", err.Error())
	case errors.Is(err, order.ErrLiveUnavailable):
		respondError(c, http.StatusServiceUnavailable, "LIVE_UNAVAILABLE", err.Error())
	case errors.Is(err, order.ErrLimitUnsupported),
		errors.Is(err, common.ErrBelowMinQty),
		errors.Is(err, common.ErrBelowMinNotional):
		respondError(c, http.StatusUnprocessableEntity, "ORDER_REJECTED", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func botIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_BOT_ID", "bot id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.Engine.ListBots(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	out := make([]botView, 0, len(bots))
	for _, b := range bots {
		out = append(out, botView{
			ID:               b.ID,
			Name:             b.Name,
			Description:      b.Description,
			StrategyType:     b.StrategyType,
			Pair:             b.Pair,
			Status:           b.Status,
			MaxDrawdownLimit: b.MaxDrawdownLimit,
			MonthlyFee:       b.MonthlyFee,
			KillSwitch:       b.KillSwitch,
			Subscribers:      b.Subscribers,
		})
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (s *Server) subscribe(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		}
	}
	if req.Allocation.IsNegative() {
		respondError(c, http.StatusBadRequest, "INVALID_ALLOCATION", "allocated_usdt must not be negative")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		respondError(c, http.StatusBadRequest, "INVALID_EXPIRY", "expires_at must be in the future")
		return
	}

	sub, err := s.Engine.Subscribe(c.Request.Context(), CurrentUserID(c), botID, req.Allocation, req.ExpiresAt)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	view := subscriptionView{ID: sub.ID, BotID: sub.BotID, AllocatedUSDT: sub.AllocatedUSDT, StartedAt: sub.StartedAt}
	if sub.ExpiresAt.Valid {
		t := sub.ExpiresAt.Time
		view.ExpiresAt = &t
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) unsubscribe(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}
	if err := s.Engine.Unsubscribe(c.Request.Context(), CurrentUserID(c), botID); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getPosition(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}
	pos, found, err := s.Engine.Position(c.Request.Context(), CurrentUserID(c), botID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"bot_id": botID, "open": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "open": true, "position": pos})
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.Engine.OpenOrders(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if _, err := common.ParseSide(req.Side); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SIDE", err.Error())
		return
	}
	if !req.Quantity.IsPositive() {
		respondError(c, http.StatusBadRequest, "INVALID_QUANTITY", "quantity must be positive")
		return
	}
	switch common.OrderType(strings.ToLower(req.Type)) {
	case "", common.OrderTypeMarket:
	case common.OrderTypeLimit:
		if !req.Price.Valid || !req.Price.Decimal.IsPositive() {
			respondError(c, http.StatusBadRequest, "INVALID_PRICE", "limit orders need a positive price")
			return
		}
	default:
		respondError(c, http.StatusBadRequest, "INVALID_TYPE", "type must be market or limit")
		return
	}
	if _, _, err := common.SplitPair(strings.ToUpper(req.Pair)); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAIR", err.Error())
		return
	}

	o, res, err := s.Engine.PlaceOrder(c.Request.Context(), CurrentUserID(c), engine.OrderRequest{
		Pair:     req.Pair,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}
	body := gin.H{"order": newOrderView(o), "filled": res.Filled}
	if res.Filled {
		body["fill_price"] = res.FillPrice
	}
	c.JSON(http.StatusCreated, body)
}

func (s *Server) cancelOrder(c *gin.Context) {
	o, err := s.Engine.CancelOrder(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderView(o)})
}

func (s *Server) listWallets(c *gin.Context) {
	wallets, err := s.Engine.Wallets(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	out := make([]walletView, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, newWalletView(w))
	}
	c.JSON(http.StatusOK, gin.H{"wallets": out})
}

func (s *Server) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be positive")
		return
	}
	w, err := s.Engine.Deposit(c.Request.Context(), CurrentUserID(c), req.Asset, req.Amount)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, newWalletView(w))
}

func (s *Server) getTradingMode(c *gin.Context) {
	live, err := s.Engine.TradingMode(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"live": live})
}

func (s *Server) setTradingMode(c *gin.Context) {
	var req tradingModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if err := s.Engine.SetLiveTrading(c.Request.Context(), *req.Live); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"live": *req.Live})
}

func (s *Server) setKillSwitch(c *gin.Context)   { s.killSwitch(c, true) }
func (s *Server) clearKillSwitch(c *gin.Context) { s.killSwitch(c, false) }

func (s *Server) killSwitch(c *gin.Context, on bool) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}
	if err := s.Engine.SetKillSwitch(c.Request.Context(), botID, on); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "kill_switch": on})
}

func (s *Server) evictBot(c *gin.Context) {
	botID, ok := botIDParam(c)
	if !ok {
		return
	}
	var req evictRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual eviction by " + CurrentUserID(c)
	}
	if err := s.Engine.EvictBot(c.Request.Context(), botID, req.Reason); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "status": db.BotEvicted})
}

func (s *Server) runMonthlyEvaluation(c *gin.Context) {
	evicted, err := s.Engine.MonthlyEvaluation(c.Request.Context(), c.Query("period"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": nonNil(evicted)})
}

func (s *Server) runDailyDrawdownCheck(c *gin.Context) {
	evicted, err := s.Engine.DailyDrawdownCheck(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": nonNil(evicted)})
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
