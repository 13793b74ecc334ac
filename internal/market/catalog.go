// Package market caches instrument trading rules and quantizes quantities and
// prices against them.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

const (
	contractPerpetual = "PERPETUAL"
	statusTrading     = "TRADING"
	quoteUSDT         = "USDT"
)

// Rule is the trading rule set of one perpetual contract.
type Rule struct {
	Symbol     string
	QuoteAsset string

	StepSize       decimal.Decimal
	TickSize       decimal.Decimal
	QtyPrecision   int32
	PricePrecision int32

	MinQty       float64
	MaxQty       float64
	MarketMaxQty float64
	MinPrice     float64
	MaxPrice     float64
	MinNotional  float64
}

// Step returns the quantity increment as a float.
func (r Rule) Step() float64 {
	return r.StepSize.InexactFloat64()
}

// FloorQty truncates q down to a multiple of the step size.
func (r Rule) FloorQty(q float64) float64 {
	if r.StepSize.IsZero() {
		return q
	}
	d := decimal.NewFromFloat(q).Div(r.StepSize).Floor().Mul(r.StepSize)
	return d.Round(r.QtyPrecision).InexactFloat64()
}

// CeilQty raises q to the next multiple of the step size.
func (r Rule) CeilQty(q float64) float64 {
	if r.StepSize.IsZero() {
		return q
	}
	d := decimal.NewFromFloat(q).Div(r.StepSize).Ceil().Mul(r.StepSize)
	return d.Round(r.QtyPrecision).InexactFloat64()
}

// RoundQty rounds q to the quantity precision.
func (r Rule) RoundQty(q float64) float64 {
	return decimal.NewFromFloat(q).Round(r.QtyPrecision).InexactFloat64()
}

// RoundPrice rounds p to the price precision.
func (r Rule) RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(r.PricePrecision).InexactFloat64()
}

// Precision is the number of decimals in a step literal: "0.00100000" is 3,
// "1" and "10" are 0.
func Precision(step string) (int32, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return 0, fmt.Errorf("parse step %q: %w", step, err)
	}
	s := d.String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0, nil
	}
	return int32(len(s) - i - 1), nil
}

// Catalog caches Rules fetched from the exchange metadata.
type Catalog struct {
	gw  common.Gateway
	log *zap.Logger

	mu        sync.RWMutex
	rules     map[string]Rule
	refreshed bool
}

// NewCatalog returns an empty catalog; the first Get or Refresh fills it.
func NewCatalog(gw common.Gateway, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{gw: gw, log: log.Named("catalog"), rules: make(map[string]Rule)}
}

// Get returns the Rule for symbol. A catalog that was never filled is
// refreshed once before the symbol is reported missing.
func (c *Catalog) Get(ctx context.Context, symbol string) (Rule, bool, error) {
	c.mu.RLock()
	rule, ok := c.rules[symbol]
	cold := !c.refreshed || len(c.rules) == 0
	c.mu.RUnlock()
	if ok || !cold {
		return rule, ok, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return Rule{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok = c.rules[symbol]
	return rule, ok, nil
}

// Refresh reloads every tradable perpetual contract and swaps the cache.
func (c *Catalog) Refresh(ctx context.Context) error {
	infos, err := c.gw.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	rules := make(map[string]Rule, len(infos))
	for _, info := range infos {
		if info.ContractType != contractPerpetual || info.Status != statusTrading {
			continue
		}
		rule, err := ruleFromInfo(info)
		if err != nil {
			c.log.Debug("skip symbol", zap.String("symbol", info.Symbol), zap.Error(err))
			continue
		}
		rules[info.Symbol] = rule
	}

	c.mu.Lock()
	c.rules = rules
	c.refreshed = true
	c.mu.Unlock()

	c.log.Info("catalog refreshed", zap.Int("symbols", len(rules)))
	return nil
}

// Symbols lists cached USDT-quoted perpetuals in name order.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rules))
	for sym, r := range c.rules {
		if r.QuoteAsset == quoteUSDT || strings.HasSuffix(sym, quoteUSDT) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports the number of cached rules.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

func ruleFromInfo(info common.SymbolInfo) (Rule, error) {
	if info.LotSize == nil || info.MarketLotSize == nil || info.PriceFilter == nil || info.MinNotional == "" {
		return Rule{}, fmt.Errorf("missing filters")
	}

	step, err := decimal.NewFromString(info.LotSize.StepSize)
	if err != nil {
		return Rule{}, fmt.Errorf("step size: %w", err)
	}
	tick, err := decimal.NewFromString(info.PriceFilter.TickSize)
	if err != nil {
		return Rule{}, fmt.Errorf("tick size: %w", err)
	}
	qtyPrec, err := Precision(info.LotSize.StepSize)
	if err != nil {
		return Rule{}, err
	}
	pricePrec, err := Precision(info.PriceFilter.TickSize)
	if err != nil {
		return Rule{}, err
	}

	rule := Rule{
		Symbol:         info.Symbol,
		QuoteAsset:     info.QuoteAsset,
		StepSize:       step,
		TickSize:       tick,
		QtyPrecision:   qtyPrec,
		PricePrecision: pricePrec,
	}
	fields := []struct {
		dst *float64
		raw string
	}{
		{&rule.MinQty, info.LotSize.MinQty},
		{&rule.MaxQty, info.LotSize.MaxQty},
		{&rule.MarketMaxQty, info.MarketLotSize.MaxQty},
		{&rule.MinPrice, info.PriceFilter.MinPrice},
		{&rule.MaxPrice, info.PriceFilter.MaxPrice},
		{&rule.MinNotional, info.MinNotional},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Rule{}, fmt.Errorf("parse filter value %q: %w", f.raw, err)
		}
		*f.dst = d.InexactFloat64()
	}
	return rule, nil
}
