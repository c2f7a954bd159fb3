package connector

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecycle/risk"
)

// SimConnector is the mandatory pure-Go paper venue: it reports a configurable
// fee schedule and symbol-rule table in-memory and never makes a network call.
// It is the default connector for dry-run sessions and the only connector the
// deterministic test suite ever exercises.
type SimConnector struct {
	DefaultFees FeeInfo
	Fees        map[string]FeeInfo
	Rules       map[string]risk.SymbolRules
	// SupportedTypes defaults to every type the engine can emit when nil, so a
	// bare SimConnector never triggers the downgrade chain.
	SupportedTypes map[string]bool
}

// NewSimConnector returns a SimConnector with the reference implementation's
// default fee schedule (maker 10bps, taker 20bps) and full order-type support.
func NewSimConnector() *SimConnector {
	return &SimConnector{
		DefaultFees: FeeInfo{MakerFeeBps: decimal.NewFromFloat(10), TakerFeeBps: decimal.NewFromFloat(20)},
		Fees:        make(map[string]FeeInfo),
		Rules:       make(map[string]risk.SymbolRules),
		SupportedTypes: map[string]bool{
			"market": true, "limit": true, "stop": true, "stop_limit": true,
			"take_profit": true, "take_profit_limit": true,
		},
	}
}

func (s *SimConnector) Name() string { return "sim" }

func (s *SimConnector) GetFeeInfo(_ context.Context, symbol string) (FeeInfo, error) {
	if fi, ok := s.Fees[symbol]; ok {
		return fi, nil
	}
	return s.DefaultFees, nil
}

func (s *SimConnector) GetSupportedOrderTypes() map[string]bool {
	if s.SupportedTypes == nil {
		return map[string]bool{
			"market": true, "limit": true, "stop": true, "stop_limit": true,
			"take_profit": true, "take_profit_limit": true,
		}
	}
	return s.SupportedTypes
}

func (s *SimConnector) GetSymbolRules(_ context.Context, symbol string) (risk.SymbolRules, error) {
	if r, ok := s.Rules[symbol]; ok {
		return r, nil
	}
	return risk.DefaultSymbolRules, nil
}
