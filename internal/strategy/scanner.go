package strategy

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"perp-core/internal/indicators"
	"perp-core/pkg/exchanges/common"
)

// SymbolLister lists candidate symbols; market.Catalog implements it.
type SymbolLister interface {
	Symbols() []string
}

// Scanner ranks perpetual USDT contracts by trend and volatility.
type Scanner struct {
	gw     common.Gateway
	rules  RuleSource
	lister SymbolLister
	params Params
	log    *zap.Logger
}

// NewScanner wires a scanner over the catalog and gateway.
func NewScanner(gw common.Gateway, rules RuleSource, lister SymbolLister, params Params, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{gw: gw, rules: rules, lister: lister, params: params, log: log.Named("scanner")}
}

type candidate struct {
	symbol string
	atr    float64
}

// Select returns at most maxSymbols symbols in an uptrend with ATR above the
// volatility floor, least volatile first. Per-symbol failures are skipped.
func (s *Scanner) Select(ctx context.Context, maxSymbols int) ([]string, error) {
	symbols := s.lister.Symbols()
	if len(symbols) == 0 {
		return nil, fmt.Errorf("scan: no perpetual USDT symbols listed")
	}

	var picked []candidate
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, ok, err := s.evaluate(ctx, sym)
		if err != nil {
			s.log.Warn("scan symbol failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if ok {
			picked = append(picked, c)
		}
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].atr < picked[j].atr })
	if maxSymbols > 0 && len(picked) > maxSymbols {
		picked = picked[:maxSymbols]
	}

	out := make([]string, len(picked))
	for i, c := range picked {
		out[i] = c.symbol
	}
	s.log.Info("scan complete", zap.Int("scanned", len(symbols)), zap.Strings("selected", out))
	return out, nil
}

func (s *Scanner) evaluate(ctx context.Context, symbol string) (candidate, bool, error) {
	bars, err := fetchWindow(ctx, s.gw, symbol, s.params)
	if err != nil {
		return candidate{}, false, err
	}
	if len(bars) < s.params.Periods.Window() {
		return candidate{}, false, nil
	}
	rule, ok, err := s.rules.Get(ctx, symbol)
	if err != nil || !ok {
		return candidate{}, false, err
	}

	closes := indicators.Closes(bars)
	trend, ok := indicators.EMA(closes, s.params.Periods.Trend)
	if !ok {
		return candidate{}, false, nil
	}
	atr, ok := indicators.ATR(bars, s.params.Periods.ATR)
	if !ok {
		return candidate{}, false, nil
	}

	last := closes[len(closes)-1]
	if last <= trend || atr < volatilityFloor(rule, s.params.MinATRMult) {
		return candidate{}, false, nil
	}
	return candidate{symbol: symbol, atr: atr}, true, nil
}
