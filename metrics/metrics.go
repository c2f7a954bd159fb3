// Package metrics exposes Prometheus gauges/counters for cycle, equity, drift,
// regime, risk-on, and fill activity behind a private registry and a
// Namespace/Subsystem naming convention so these metrics never collide with a
// host process's own registrations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the private prometheus registry for tradecycle metrics — never the
// global default registry, so embedding this engine in a larger process never
// collides with its metric names.
var Registry = prometheus.NewRegistry()

var (
	// CyclesTotal counts completed orchestrator cycles per session.
	CyclesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "engine", Name: "cycles_total", Help: "Completed cycles"},
		[]string{"session_id"},
	)

	// CycleDurationSeconds observes wall-clock cycle duration.
	CycleDurationSeconds = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "tradecycle", Subsystem: "engine", Name: "cycle_duration_seconds", Help: "Cycle duration in seconds"},
		[]string{"session_id"},
	)

	// EquityTotal tracks the recomputed total equity after each cycle.
	EquityTotal = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "tradecycle", Subsystem: "portfolio", Name: "equity_total", Help: "Recomputed total equity"},
		[]string{"session_id"},
	)

	// EquityDriftTotal counts EQUITY_DRIFT_DETECTED occurrences.
	EquityDriftTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "portfolio", Name: "equity_drift_total", Help: "Post-cycle equity drift events beyond tolerance"},
		[]string{"session_id"},
	)

	// InvariantViolationsTotal counts rolled-back fill transactions.
	InvariantViolationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "portfolio", Name: "invariant_violations_total", Help: "Rolled-back fill-application transactions"},
		[]string{"session_id"},
	)

	// FillsTotal counts simulated fills by side.
	FillsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "orders", Name: "fills_total", Help: "Simulated fills"},
		[]string{"session_id", "side"},
	)

	// RegimeGauge is registered for the regime classification per symbol as
	// 0=unknown, 1=range, 2=trend; no code in this repository sets it.
	RegimeGauge = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "tradecycle", Subsystem: "regime", Name: "classification", Help: "0=unknown 1=range 2=trend"},
		[]string{"session_id", "symbol"},
	)

	// RiskOnActive reports whether a symbol's risk-on window is currently active.
	RiskOnActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "tradecycle", Subsystem: "regime", Name: "risk_on_active", Help: "1 while a risk-on window is active"},
		[]string{"session_id", "symbol"},
	)

	// PricingCacheHits is incremented by the engine once per mark it resolves from
	// the cycle's snapshot. PricingCacheMisses is registered but never incremented.
	// Neither reads pricing.Manager's own HitMissCounter.
	PricingCacheHits = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "pricing", Name: "cache_hits_total", Help: "Pricing snapshot lookups resolved against the active cycle"},
		[]string{"session_id"},
	)
	PricingCacheMisses = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "pricing", Name: "cache_misses_total", Help: "Pricing lookups rejected for cycle-id mismatch"},
		[]string{"session_id"},
	)

	// DecisionTraceTotal counts decision traces by final action.
	DecisionTraceTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{Namespace: "tradecycle", Subsystem: "engine", Name: "decision_trace_total", Help: "Decision traces emitted by final action"},
		[]string{"session_id", "action"},
	)
)
