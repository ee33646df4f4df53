package transporthttp

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"algotrader/internal/types"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, bool) {
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (s *Server) handleInitialise(c *gin.Context) {
	var req struct {
		BacktestDate string  `json:"backtest_date" binding:"required"`
		StartBalance float64 `json:"start_balance" binding:"required"`
		StrategyID   *int64  `json:"strategy_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	date, ok := parseDate(req.BacktestDate)
	if !ok {
		badRequest(c, "backtest_date must be YYYY-MM-DD")
		return
	}
	props, err := s.ctrl.Initialise(c.Request.Context(), date, req.StartBalance, req.StrategyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleProperties(c *gin.Context) {
	props, err := s.ctrl.Properties(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleAdvanceDate(c *gin.Context) {
	var req struct {
		BacktestDate string `json:"backtest_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	date, ok := parseDate(req.BacktestDate)
	if !ok {
		badRequest(c, "backtest_date must be YYYY-MM-DD")
		return
	}
	props, err := s.ctrl.AdvanceDate(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleGetDate(c *gin.Context) {
	props, err := s.ctrl.Properties(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtest_date": props.BacktestDate.Format("02/01/2006")})
}

func (s *Server) handleAvailableBalance(c *gin.Context) {
	var req struct {
		AvailableBalance *float64 `json:"available_balance" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	props, err := s.ctrl.SetAvailableBalance(c.Request.Context(), *req.AvailableBalance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleUpdateBalances(c *gin.Context) {
	var req types.BalanceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	props, err := s.ctrl.UpdateBalances(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handlePause(c *gin.Context) {
	var req struct {
		IsPaused *bool `json:"is_paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.ctrl.SetPaused(c.Request.Context(), *req.IsPaused); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_paused": *req.IsPaused})
}

func (s *Server) handleAvailability(c *gin.Context) {
	var req struct {
		Available *bool `json:"available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.ctrl.SetAvailability(c.Request.Context(), *req.Available)
	c.JSON(http.StatusOK, gin.H{"available": *req.Available})
}

func (s *Server) handleFinalise(c *gin.Context) {
	props, err := s.ctrl.Finalise(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleReport(c *gin.Context) {
	if s.reports == nil {
		writeError(c, &types.NotFoundError{Entity: "report", ID: "builder"})
		return
	}
	backtestID := c.Query("backtest_id")
	if backtestID == "" {
		if props, err := s.ctrl.Properties(c.Request.Context()); err == nil {
			backtestID = props.BacktestID
		}
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.reports.Render(c.Request.Context(), c.Writer, backtestID); err != nil {
		writeError(c, err)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, ok := parseDate(raw)
		if !ok {
			badRequest(c, "since must be YYYY-MM-DD")
			return
		}
		since = parsed
	}
	backtestID := ""
	if props, err := s.ctrl.Properties(c.Request.Context()); err == nil {
		backtestID = props.BacktestID
	}
	summary, err := s.stats.Compute(c.Request.Context(), backtestID, since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
