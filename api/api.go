// Package api exposes a small read-only HTTP surface over the running
// orchestrator — health, session status, and Prometheus metrics. There are no
// user-facing mutation endpoints; every state change happens inside a cycle.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecycle/engine"
	"tradecycle/metrics"
)

// Server wraps the orchestrator whose state the HTTP surface reports on.
type Server struct {
	orchestrator *engine.Orchestrator
	engine       *gin.Engine
}

// NewServer builds the route table. gin runs in debug mode unless the caller
// switches it with gin.SetMode (or GIN_MODE) before calling NewServer.
func NewServer(o *engine.Orchestrator) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{orchestrator: o, engine: r}
	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	return s
}

// Handler returns the underlying http.Handler for use with an http.Server (so
// the caller controls listen address, TLS, and graceful shutdown).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports the orchestrator's current session id, cycle id, daily
// halt flag, open position count, and the cash/realized-P&L components of
// equity — enough for an operator dashboard without exposing mutation.
func (s *Server) handleStatus(c *gin.Context) {
	st := s.orchestrator.Status()
	c.JSON(http.StatusOK, gin.H{
		"session_id":             st.SessionID,
		"cycle_id":               st.CycleID,
		"halt_new_entries_today": st.HaltNewEntriesToday,
		"open_positions":         st.OpenPositions,
		"cash_balance":           st.CashBalance.StringFixed(2),
		"total_realized_pnl":     st.TotalRealizedPnL.StringFixed(2),
	})
}
