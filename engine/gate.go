package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"tradecycle/config"
	"tradecycle/regime"
)

// Candidate is one symbol that survived price/RR preflight and is eligible for
// the entry gate.
type Candidate struct {
	Symbol          string
	Score           decimal.Decimal // signed composite score; sign is direction
	Confidence      decimal.Decimal
	WinningStrategy string
	WinningScore    decimal.Decimal
	Regime          regime.Result
	EntryPrice      decimal.Decimal
	RR              decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
}

// AdmittedEntry is a Candidate the gate let through, tagged with the reason
// (which fallback, if any, admitted it) and the size/stop multipliers the
// fallback path applies.
type AdmittedEntry struct {
	Candidate Candidate
	Reason    string // "top_k" | "threshold" | "pilot" | "exploration"
	SizeMult  decimal.Decimal
	StopMult  decimal.Decimal
}

// explorationState is the per-day forced-trade budget, persisted via
// session_metadata so it survives a restart within the same trading day.
type explorationState struct {
	ForcedCountToday  int
	UsedNotionalToday decimal.Decimal
}

func absScore(c Candidate) decimal.Decimal { return c.Score.Abs() }

// effectiveHardFloor returns cfg's hard_floor_min, overridden downward when a
// risk-on window is active for this symbol.
func effectiveHardFloor(symbol string, cfg config.EntryGateConfig, riskOnFloors map[string]decimal.Decimal) decimal.Decimal {
	floor := cfg.HardFloorMin
	if override, ok := riskOnFloors[symbol]; ok && override.LessThan(floor) {
		return override
	}
	return floor
}

// selectEntries implements the entry gate: top-K mode or threshold mode, then —
// only if the ordinary gate admits nothing — the pilot-trade and
// exploration-budget fallbacks in order. Every evaluated candidate that is not
// admitted yields a SKIP decision trace.
func selectEntries(
	candidates []Candidate,
	gcfg config.EntryGateConfig,
	rrRelaxForPilot decimal.Decimal,
	pilotMult decimal.Decimal,
	riskOnFloors map[string]decimal.Decimal,
	explCfg config.ExplorationConfig,
	expl explorationState,
	equity decimal.Decimal,
) (admitted []AdmittedEntry, traces []DecisionTrace, newExpl explorationState) {
	newExpl = expl
	admittedSet := make(map[string]bool)

	if gcfg.EnableTopK {
		sorted := make([]Candidate, len(candidates))
		copy(sorted, candidates)
		sort.SliceStable(sorted, func(i, j int) bool { return absScore(sorted[i]).GreaterThan(absScore(sorted[j])) })

		k := gcfg.TopKEntries
		if k <= 0 {
			k = len(sorted)
		}
		for i, c := range sorted {
			floor := effectiveHardFloor(c.Symbol, gcfg, riskOnFloors)
			if absScore(c).LessThan(floor) {
				traces = append(traces, skipTrace(c, floor, "below_hard_floor_min"))
				continue
			}
			if i >= k {
				traces = append(traces, skipTrace(c, floor, "top_k_overflow"))
				continue
			}
			admitted = append(admitted, AdmittedEntry{Candidate: c, Reason: "top_k", SizeMult: decimal.NewFromInt(1), StopMult: decimal.NewFromInt(1)})
			admittedSet[c.Symbol] = true
		}
	} else {
		for _, c := range candidates {
			floor := effectiveHardFloor(c.Symbol, gcfg, riskOnFloors)
			effectiveThreshold := c.Regime.MinScore
			if override, ok := riskOnFloors[c.Symbol]; ok && override.LessThan(effectiveThreshold) {
				effectiveThreshold = override
			}
			effectiveGate := effectiveThreshold.Sub(gcfg.GateMargin)
			if effectiveGate.LessThan(floor) {
				effectiveGate = floor
			}
			if gcfg.VolatilityEasing.IsPositive() {
				effectiveGate = effectiveGate.Sub(gcfg.VolatilityEasing)
			}
			if absScore(c).GreaterThanOrEqual(effectiveGate) {
				admitted = append(admitted, AdmittedEntry{Candidate: c, Reason: "threshold", SizeMult: decimal.NewFromInt(1), StopMult: decimal.NewFromInt(1)})
				admittedSet[c.Symbol] = true
			} else {
				traces = append(traces, skipTrace(c, effectiveGate, "below_effective_gate"))
			}
		}
	}

	if len(admitted) > 0 {
		return admitted, traces, newExpl
	}

	// Ordinary gate admitted nothing: pilot trade fallback.
	best, ok := bestCandidate(candidates)
	if ok {
		floor := effectiveHardFloor(best.Symbol, gcfg, riskOnFloors)
		if absScore(best).GreaterThanOrEqual(floor) && best.RR.GreaterThanOrEqual(rrRelaxForPilot) {
			admitted = append(admitted, AdmittedEntry{Candidate: best, Reason: "pilot", SizeMult: pilotMult, StopMult: decimal.NewFromInt(1)})
			return admitted, traces, newExpl
		}
	}

	// Exploration budget fallback.
	if ok && explCfg.Enabled {
		dailyNotionalBudget := explCfg.BudgetPctPerDay.Mul(equity)
		underCount := explCfg.MaxForcedPerDay <= 0 || newExpl.ForcedCountToday < explCfg.MaxForcedPerDay
		underBudget := newExpl.UsedNotionalToday.LessThan(dailyNotionalBudget)
		if underCount && underBudget && absScore(best).GreaterThanOrEqual(explCfg.MinScore) {
			admitted = append(admitted, AdmittedEntry{
				Candidate: best, Reason: "exploration",
				SizeMult: explCfg.SizeMultVsNormal, StopMult: explCfg.TighterStopMult,
			})
			newExpl.ForcedCountToday++
			return admitted, traces, newExpl
		}
	}

	if ok {
		traces = append(traces, skipTrace(best, decimal.Zero, "no_admits_no_fallback"))
	}
	return admitted, traces, newExpl
}

func bestCandidate(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absScore(c).GreaterThan(absScore(best)) {
			best = c
		}
	}
	return best, true
}

func skipTrace(c Candidate, threshold decimal.Decimal, reason string) DecisionTrace {
	return DecisionTrace{
		Symbol: c.Symbol, Regime: string(c.Regime.Regime), CompositeScore: c.Score, Threshold: threshold,
		Confidence: c.Confidence, WinningStrategy: c.WinningStrategy, WinningScore: c.WinningScore,
		FinalAction: ActionSkip, Reason: reason,
		HasEntryPrice: c.EntryPrice.IsPositive(), EntryPrice: c.EntryPrice,
		HasSizing: false,
	}
}
