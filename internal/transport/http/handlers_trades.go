package transporthttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"algotrader/internal/types"
)

type newTradeRequest struct {
	Ticker          string          `json:"ticker"`
	BuyDate         string          `json:"buy_date"`
	ShareQty        float64         `json:"share_qty"`
	InvestmentTotal float64         `json:"investment_total"`
	BuyPrice        float64         `json:"buy_price"`
	CurrentPrice    float64         `json:"current_price"`
	TakeProfit      float64         `json:"take_profit"`
	StopLoss        float64         `json:"stop_loss"`
	Figure          json.RawMessage `json:"figure"`
	ProfitLossPct   float64         `json:"profit_loss_pct"`
}

func (s *Server) handleOpenTrade(c *gin.Context) {
	var req newTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	buyDate, ok := parseDate(req.BuyDate)
	if !ok {
		badRequest(c, "buy_date must be YYYY-MM-DD")
		return
	}
	trade := types.NewTrade{
		Ticker:          req.Ticker,
		BuyDate:         buyDate,
		ShareQty:        req.ShareQty,
		InvestmentTotal: req.InvestmentTotal,
		BuyPrice:        req.BuyPrice,
		CurrentPrice:    req.CurrentPrice,
		TakeProfit:      req.TakeProfit,
		StopLoss:        req.StopLoss,
		Figure:          req.Figure,
		ProfitLossPct:   req.ProfitLossPct,
	}
	if props, err := s.ctrl.Properties(c.Request.Context()); err == nil {
		trade.BacktestID = props.BacktestID
	}
	id, err := s.store.OpenTrade(c.Request.Context(), trade)
	if err != nil {
		writeError(c, err)
		return
	}
	s.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: gin.H{"trade_id": id}})
	c.JSON(http.StatusCreated, gin.H{"trade_id": id})
}

func (s *Server) handleTickTrades(c *gin.Context) {
	var ticks []types.TradeTick
	if err := c.ShouldBindJSON(&ticks); err != nil {
		badRequest(c, err.Error())
		return
	}
	outcomes, err := s.store.UpdateOpenTrades(c.Request.Context(), ticks)
	if err != nil {
		writeError(c, err)
		return
	}
	s.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: outcomes})
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

type closeTradeRequest struct {
	TradeID    int64    `json:"trade_id"`
	SellDate   string   `json:"sell_date"`
	SellPrice  float64  `json:"sell_price"`
	ProfitLoss *float64 `json:"profit_loss"`
}

func (s *Server) handleCloseTrades(c *gin.Context) {
	var reqs []closeTradeRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		badRequest(c, err.Error())
		return
	}
	closes := make([]types.TradeClose, 0, len(reqs))
	for _, r := range reqs {
		sellDate, ok := parseDate(r.SellDate)
		if !ok {
			badRequest(c, "sell_date must be YYYY-MM-DD")
			return
		}
		closes = append(closes, types.TradeClose{
			TradeID:    r.TradeID,
			SellDate:   sellDate,
			SellPrice:  r.SellPrice,
			ProfitLoss: r.ProfitLoss,
		})
	}
	if err := s.store.CloseTrades(c.Request.Context(), closes); err != nil {
		writeError(c, err)
		return
	}
	s.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: gin.H{"closed": len(closes)}})
	c.JSON(http.StatusOK, gin.H{"closed": len(closes)})
}

func (s *Server) handleListTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	backtestID := c.Query("backtest_id")
	if backtestID == "" {
		if props, err := s.ctrl.Properties(c.Request.Context()); err == nil {
			backtestID = props.BacktestID
		}
	}
	list, err := s.store.ListTrades(c.Request.Context(), backtestID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
