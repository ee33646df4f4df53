package transporthttp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"algotrader/internal/types"
)

func (s *Server) strategyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "strategy id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListStrategies(c *gin.Context) {
	all, err := s.strategies.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": all})
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req types.Strategy
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := s.strategies.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	strat, err := s.strategies.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, strat)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	var req types.Strategy
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.StrategyID = id
	updated, err := s.strategies.Update(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	if err := s.strategies.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
