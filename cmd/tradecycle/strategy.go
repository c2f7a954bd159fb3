package main

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecycle/money"
	"tradecycle/signal"
)

// defaultSignalEngine is a minimal deterministic composite-signal supplier: a
// single EMA-crossover sub-signal scaled by ADX conviction. spec.md §1 scopes the
// real strategy implementations (technical indicators, sentiment models) out of
// core — they are pluggable black boxes supplied by the host application. This
// engine exists only so `cmd/tradecycle` has something to evaluate end-to-end
// when no richer strategy is wired in; a production deployment replaces it with
// its own signal.Engine.
type defaultSignalEngine struct {
	data         signal.DataEngine
	strategyName string
}

func newDefaultSignalEngine(data signal.DataEngine, strategyName string) *defaultSignalEngine {
	return &defaultSignalEngine{data: data, strategyName: strategyName}
}

func (e *defaultSignalEngine) Evaluate(ctx context.Context, symbol string) (signal.Composite, error) {
	ema50, ok50, err := e.data.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.EMA, Period: 50})
	if err != nil || !ok50 {
		return signal.Composite{}, err
	}
	ema200, ok200, err := e.data.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.EMA, Period: 200})
	if err != nil || !ok200 {
		return signal.Composite{}, err
	}
	adx, okAdx, err := e.data.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.ADX, Period: 14})
	if err != nil || !okAdx {
		return signal.Composite{}, err
	}

	spread := ema50.Sub(ema200)
	if ema200.IsZero() {
		return signal.Composite{}, nil
	}
	// Direction from the EMA spread as a fraction of price, magnitude scaled by
	// ADX conviction (0 at ADX=0, saturating to 1 at ADX>=40), clamped to [-1, 1].
	pctSpread := spread.Div(ema200)
	conviction := money.Min(adx.Div(decimal.NewFromInt(40)), decimal.NewFromInt(1))
	raw := pctSpread.Mul(decimal.NewFromInt(20)).Mul(conviction)
	score := money.Max(decimal.NewFromInt(-1), money.Min(decimal.NewFromInt(1), raw))

	sub := signal.SubSignal{StrategyName: e.strategyName, Score: score, Confidence: conviction}
	return signal.Composite{
		Symbol:          symbol,
		CompositeScore:  score,
		Confidence:      conviction,
		PerStrategy:     map[string]signal.SubSignal{e.strategyName: sub},
		WinningStrategy: e.strategyName,
		WinningScore:    score,
	}, nil
}
