package main

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"tradecycle/connector"
	"tradecycle/pricing"
	"tradecycle/ratelimit"
	"tradecycle/signal"
)

// binanceDataEngine implements signal.DataEngine against Binance Spot market
// data: get_ticker from the REST book-ticker endpoint, get_ohlcv from klines, and the
// indicator set the Regime Detector and Risk Manager need computed locally (Binance
// exposes raw candles, not indicators). This is the one concrete DataEngine this
// repository ships — a real host application plugs in its own, per spec.md §1's
// "supplier of well-typed data" contract.
type binanceDataEngine struct {
	client    *binance.Client
	timeframe string
	limiter   *ratelimit.TokenBucket
}

func newBinanceDataEngine(client *binance.Client, timeframe string, limiter *ratelimit.TokenBucket) *binanceDataEngine {
	return &binanceDataEngine{client: client, timeframe: timeframe, limiter: limiter}
}

func (e *binanceDataEngine) GetTicker(ctx context.Context, symbol string) (pricing.Ticker, error) {
	sym := connector.BinanceSymbol(symbol)

	if err := e.limiter.Wait(ctx); err != nil {
		return pricing.Ticker{}, fmt.Errorf("marketdata: rate limit wait: %w", err)
	}
	books, err := e.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return pricing.Ticker{}, fmt.Errorf("marketdata: book ticker %s: %w", symbol, err)
	}
	if len(books) == 0 {
		return pricing.Ticker{}, fmt.Errorf("marketdata: no book ticker for %s", symbol)
	}
	book := books[0]
	bid, _ := decimal.NewFromString(book.BidPrice)
	ask, _ := decimal.NewFromString(book.AskPrice)

	prices, err := e.client.NewListPricesService().Symbol(sym).Do(ctx)
	var last decimal.Decimal
	hasLast := false
	if err == nil && len(prices) > 0 {
		if v, perr := decimal.NewFromString(prices[0].Price); perr == nil {
			last, hasLast = v, true
		}
	}

	t := pricing.Ticker{Bid: bid, Ask: ask, HasBidAsk: bid.IsPositive() && ask.IsPositive(), Source: "binance"}
	if t.HasBidAsk {
		t.Mid = bid.Add(ask).Div(decimal.NewFromInt(2))
		t.HasMid = true
		t.Price = t.Mid
	}
	if hasLast {
		t.Last, t.HasLast = last, true
		if !t.HasMid {
			t.Price = last
		}
	}
	return t, nil
}

func (e *binanceDataEngine) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Bar, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketdata: rate limit wait: %w", err)
	}
	klines, err := e.client.NewKlinesService().
		Symbol(connector.BinanceSymbol(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketdata: klines %s %s: %w", symbol, timeframe, err)
	}
	bars := make([]signal.Bar, 0, len(klines))
	for _, k := range klines {
		o, _ := decimal.NewFromString(k.Open)
		h, _ := decimal.NewFromString(k.High)
		l, _ := decimal.NewFromString(k.Low)
		c, _ := decimal.NewFromString(k.Close)
		v, _ := decimal.NewFromString(k.Volume)
		bars = append(bars, signal.Bar{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open: o, High: h, Low: l, Close: c, Volume: v,
		})
	}
	return bars, nil
}

// GetIndicator computes EMA/ADX/ATR/SMA(ATR) from klines locally since Binance's
// REST API only serves raw candles. EMA/ADX/ATR pull 3*req.Period+50 bars and
// SMA(ATR) pulls req.OfPeriod+req.Period+50, so the series has settled by the
// time the final value is read.
func (e *binanceDataEngine) GetIndicator(ctx context.Context, symbol string, req signal.IndicatorRequest) (decimal.Decimal, bool, error) {
	switch req.Name {
	case signal.EMA:
		bars, err := e.GetOHLCV(ctx, symbol, e.timeframe, req.Period*3+50)
		if err != nil || len(bars) < req.Period {
			return decimal.Zero, false, nil
		}
		return emaOf(closes(bars), req.Period), true, nil

	case signal.ADX:
		bars, err := e.GetOHLCV(ctx, symbol, e.timeframe, req.Period*3+50)
		if err != nil || len(bars) < req.Period+1 {
			return decimal.Zero, false, nil
		}
		return adxOf(bars, req.Period), true, nil

	case signal.ATR:
		bars, err := e.GetOHLCV(ctx, symbol, e.timeframe, req.Period*3+50)
		if err != nil || len(bars) < req.Period+1 {
			return decimal.Zero, false, nil
		}
		series := atrSeries(bars, req.Period)
		if len(series) == 0 {
			return decimal.Zero, false, nil
		}
		return series[len(series)-1], true, nil

	case signal.SMAOf:
		if req.Of != signal.ATR {
			return decimal.Zero, false, nil
		}
		bars, err := e.GetOHLCV(ctx, symbol, e.timeframe, req.OfPeriod+req.Period+50)
		if err != nil || len(bars) < req.OfPeriod+req.Period {
			return decimal.Zero, false, nil
		}
		series := atrSeries(bars, req.OfPeriod)
		if len(series) < req.Period {
			return decimal.Zero, false, nil
		}
		return smaOf(series[len(series)-req.Period:]), true, nil
	}
	return decimal.Zero, false, nil
}

func closes(bars []signal.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// emaOf seeds the EMA with an SMA of the first period values, matching the common
// warm-up convention, then applies the standard smoothing recurrence.
func emaOf(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period {
		return decimal.Zero
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period) + 1))
	ema := smaOf(values[:period])
	for _, v := range values[period:] {
		ema = v.Sub(ema).Mul(k).Add(ema)
	}
	return ema
}

func smaOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(cur, prev signal.Bar) decimal.Decimal {
	hl := cur.High.Sub(cur.Low)
	hc := cur.High.Sub(prev.Close).Abs()
	lc := cur.Low.Sub(prev.Close).Abs()
	max := hl
	if hc.GreaterThan(max) {
		max = hc
	}
	if lc.GreaterThan(max) {
		max = lc
	}
	return max
}

// atrSeries computes Wilder's ATR (RMA smoothing of true range) for every bar
// from index period onward; index 0 of the returned slice corresponds to bars[period].
func atrSeries(bars []signal.Bar, period int) []decimal.Decimal {
	if len(bars) < period+1 {
		return nil
	}
	trs := make([]decimal.Decimal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}
	return wilderSmooth(trs, period)
}

// wilderSmooth applies Wilder's smoothing (RMA): seed with the SMA of the first
// period values, then each subsequent value is prev + (cur-prev)/period.
func wilderSmooth(values []decimal.Decimal, period int) []decimal.Decimal {
	if len(values) < period {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(values)-period+1)
	cur := smaOf(values[:period])
	out = append(out, cur)
	pd := decimal.NewFromInt(int64(period))
	for _, v := range values[period:] {
		cur = cur.Mul(pd.Sub(decimal.NewFromInt(1))).Add(v).Div(pd)
		out = append(out, cur)
	}
	return out
}

// adxOf computes Wilder's ADX(period): +DM/-DM smoothed the same way as true
// range, DI+ and DI- from the smoothed values, then a smoothed DX series whose
// final value is the reported ADX.
func adxOf(bars []signal.Bar, period int) decimal.Decimal {
	if len(bars) < period*2 {
		return decimal.Zero
	}
	plusDM := make([]decimal.Decimal, 0, len(bars)-1)
	minusDM := make([]decimal.Decimal, 0, len(bars)-1)
	trs := make([]decimal.Decimal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		upMove := bars[i].High.Sub(bars[i-1].High)
		downMove := bars[i-1].Low.Sub(bars[i].Low)
		switch {
		case upMove.GreaterThan(downMove) && upMove.IsPositive():
			plusDM = append(plusDM, upMove)
			minusDM = append(minusDM, decimal.Zero)
		case downMove.GreaterThan(upMove) && downMove.IsPositive():
			plusDM = append(plusDM, decimal.Zero)
			minusDM = append(minusDM, downMove)
		default:
			plusDM = append(plusDM, decimal.Zero)
			minusDM = append(minusDM, decimal.Zero)
		}
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}

	smoothedPlusDM := wilderSmooth(plusDM, period)
	smoothedMinusDM := wilderSmooth(minusDM, period)
	smoothedTR := wilderSmooth(trs, period)
	n := len(smoothedTR)
	if n == 0 || len(smoothedPlusDM) < n || len(smoothedMinusDM) < n {
		return decimal.Zero
	}

	dx := make([]decimal.Decimal, 0, n)
	hundred := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		if smoothedTR[i].IsZero() {
			dx = append(dx, decimal.Zero)
			continue
		}
		diPlus := smoothedPlusDM[i].Div(smoothedTR[i]).Mul(hundred)
		diMinus := smoothedMinusDM[i].Div(smoothedTR[i]).Mul(hundred)
		sum := diPlus.Add(diMinus)
		if sum.IsZero() {
			dx = append(dx, decimal.Zero)
			continue
		}
		dx = append(dx, diPlus.Sub(diMinus).Abs().Div(sum).Mul(hundred))
	}
	if len(dx) < period {
		return decimal.Zero
	}
	adxSeries := wilderSmooth(dx, period)
	if len(adxSeries) == 0 {
		return decimal.Zero
	}
	return adxSeries[len(adxSeries)-1]
}
