package connector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"tradecycle/ratelimit"
	"tradecycle/risk"
)

// BinanceSymbol strips the canonical "BASE/QUOTE" separator, mapping it to the
// bare form Binance's REST API expects ("BTC/USDT" -> "BTCUSDT"). Every call into
// the Binance client goes through this so storage keys stay canonical while wire
// calls use the venue's native form.
func BinanceSymbol(canonical string) string {
	return strings.ReplaceAll(canonical, "/", "")
}

// BinanceConnector serves the connector contract (fee info, supported order
// types, symbol-rule lookups) for Binance Spot via the official client; it does
// not submit orders. It is only ever constructed by cmd/tradecycle when
// trading.live_mode is set; the deterministic test suite never touches it.
type BinanceConnector struct {
	client      *binance.Client
	makerFeeBps decimal.Decimal
	takerFeeBps decimal.Decimal
	limiter     *ratelimit.TokenBucket
}

// NewBinanceConnector builds a connector against the given API credentials.
// defaultFees seeds the fallback used when Binance's own fee endpoint cannot be
// reached; limiter (nil = unlimited) gates every REST call this connector makes.
func NewBinanceConnector(apiKey, secretKey string, defaultFees FeeInfo, limiter *ratelimit.TokenBucket) *BinanceConnector {
	return &BinanceConnector{
		client:      binance.NewClient(apiKey, secretKey),
		makerFeeBps: defaultFees.MakerFeeBps,
		takerFeeBps: defaultFees.TakerFeeBps,
		limiter:     limiter,
	}
}

func (b *BinanceConnector) Name() string { return "binance" }

// GetFeeInfo returns the configured default fee schedule. Binance's REST API only
// exposes trade-fee data per-account via a signed endpoint requiring additional
// scopes not assumed here; this connector intentionally falls back to the
// configured defaults rather than failing the cycle over a fee lookup.
func (b *BinanceConnector) GetFeeInfo(_ context.Context, _ string) (FeeInfo, error) {
	return FeeInfo{MakerFeeBps: b.makerFeeBps, TakerFeeBps: b.takerFeeBps}, nil
}

func (b *BinanceConnector) GetSupportedOrderTypes() map[string]bool {
	return map[string]bool{
		"market": true, "limit": true, "stop": true, "stop_limit": true,
		"take_profit": true, "take_profit_limit": true,
	}
}

// GetSymbolRules pulls PRICE_FILTER/LOT_SIZE/MIN_NOTIONAL straight off Binance's
// exchange info.
func (b *BinanceConnector) GetSymbolRules(ctx context.Context, symbol string) (risk.SymbolRules, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return risk.SymbolRules{}, fmt.Errorf("connector: rate limit wait: %w", err)
	}
	info, err := b.client.NewExchangeInfoService().Symbol(BinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return risk.SymbolRules{}, fmt.Errorf("connector: binance exchange info for %s: %w", symbol, err)
	}
	if len(info.Symbols) == 0 {
		return risk.SymbolRules{}, fmt.Errorf("connector: binance has no symbol info for %s", symbol)
	}

	rules := risk.DefaultSymbolRules
	for _, filter := range info.Symbols[0].Filters {
		switch filter["filterType"] {
		case "PRICE_FILTER":
			if v, ok := parseFloatField(filter["tickSize"]); ok {
				rules.PriceTick = decimal.NewFromFloat(v)
			}
		case "LOT_SIZE":
			if v, ok := parseFloatField(filter["stepSize"]); ok {
				rules.QtyStep = decimal.NewFromFloat(v)
			}
			if v, ok := parseFloatField(filter["minQty"]); ok {
				rules.MinQty = decimal.NewFromFloat(v)
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if v, ok := parseFloatField(filter["minNotional"]); ok {
				rules.MinNotional = decimal.NewFromFloat(v)
			}
		}
	}
	return rules, nil
}

func parseFloatField(v interface{}) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
