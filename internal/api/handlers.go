package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fx-signal-engine/internal/lifecycle"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// engineSummary is the per-instrument row in the overview response.
type engineSummary struct {
	Symbol             string  `json:"symbol"`
	Trend              string  `json:"trend"`
	Bars               int     `json:"bars"`
	Balance            float64 `json:"balance"`
	OpenTrades         int     `json:"open_trades"`
	RequiredConfluence int     `json:"required_confluence"`
	RecentWinRate      float64 `json:"recent_win_rate"`
	RecentAvgR         float64 `json:"recent_avg_r"`
}

func (s *Server) handleStatus(c *gin.Context) {
	summaries := make([]engineSummary, 0, len(s.engines))
	for _, e := range s.engines {
		st := e.Status()
		summaries = append(summaries, engineSummary{
			Symbol:             st.Symbol,
			Trend:              string(st.Trend),
			Bars:               st.Bars,
			Balance:            st.Balance,
			OpenTrades:         len(st.OpenTrades),
			RequiredConfluence: st.RequiredConfluence,
			RecentWinRate:      st.RecentWinRate,
			RecentAvgR:         st.RecentAvgR,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Symbol < summaries[j].Symbol })

	c.JSON(http.StatusOK, gin.H{"engines": summaries})
}

func (s *Server) handleEngine(c *gin.Context) {
	symbol := c.Param("symbol")
	e, ok := s.engines[symbol]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
		return
	}
	c.JSON(http.StatusOK, e.Status())
}

func (s *Server) handleTrades(c *gin.Context) {
	trades := make(map[string][]lifecycle.ActiveTrade, len(s.engines))
	total := 0
	for symbol, e := range s.engines {
		open := e.OpenTrades()
		trades[symbol] = open
		total += len(open)
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total})
}

func (s *Server) handlePerformance(c *gin.Context) {
	records, err := s.store.All(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("performance query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "performance store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.ring == nil {
		c.JSON(http.StatusOK, gin.H{"events": []struct{}{}})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{"events": s.ring.Recent(limit)})
}
