package futures_usdt

import (
	"strconv"

	"perp-core/pkg/exchanges/common"
)

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func (r orderResp) toResult() common.OrderResult {
	return common.OrderResult{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		ClientID:    r.ClientOrderID,
		Symbol:      r.Symbol,
		Status:      mapStatus(r.Status),
		ExecutedQty: parseFloat(r.ExecutedQty),
		AvgPrice:    parseFloat(r.AvgPrice),
	}
}

type openOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecQty       string `json:"executedQty"`
	StopPrice     string `json:"stopPrice"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

func (o openOrder) toCommon() common.OpenOrder {
	return common.OpenOrder{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Status:        mapStatus(o.Status),
		Side:          common.Side(o.Side),
		Type:          common.OrderType(o.Type),
		OrigQty:       parseFloat(o.OrigQty),
		ExecutedQty:   parseFloat(o.ExecQty),
		StopPrice:     parseFloat(o.StopPrice),
		ReduceOnly:    o.ReduceOnly,
	}
}

type futuresBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

type accountInfo struct {
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalWalletBalance    string `json:"totalWalletBalance"`
	AvailableBalance      string `json:"availableBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	TotalMaintMargin      string `json:"totalMaintMargin"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	InitialMargin    string `json:"initialMargin"`
	IsolatedMargin   string `json:"isolatedMargin"`
	Notional         string `json:"notional"`
}

func (p positionRisk) toCommon() common.PositionRisk {
	lev, _ := strconv.Atoi(p.Leverage)
	im := parseFloat(p.InitialMargin)
	if im == 0 && lev > 0 {
		// v2 positionRisk omits initialMargin; derive it from notional.
		n := parseFloat(p.Notional)
		if n < 0 {
			n = -n
		}
		im = n / float64(lev)
	}
	return common.PositionRisk{
		Symbol:           p.Symbol,
		PositionAmt:      parseFloat(p.PositionAmt),
		EntryPrice:       parseFloat(p.EntryPrice),
		MarkPrice:        parseFloat(p.MarkPrice),
		UnRealizedProfit: parseFloat(p.UnRealizedProfit),
		Leverage:         lev,
		InitialMargin:    im,
	}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol       string           `json:"symbol"`
		Status       string           `json:"status"`
		ContractType string           `json:"contractType"`
		QuoteAsset   string           `json:"quoteAsset"`
		Filters      []map[string]any `json:"filters"`
	} `json:"symbols"`
}

func (e exchangeInfo) toCommon() []common.SymbolInfo {
	out := make([]common.SymbolInfo, 0, len(e.Symbols))
	for _, s := range e.Symbols {
		info := common.SymbolInfo{
			Symbol:       s.Symbol,
			Status:       s.Status,
			ContractType: s.ContractType,
			QuoteAsset:   s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch str(f["filterType"]) {
			case "LOT_SIZE":
				info.LotSize = &common.LotFilter{MinQty: str(f["minQty"]), MaxQty: str(f["maxQty"]), StepSize: str(f["stepSize"])}
			case "MARKET_LOT_SIZE":
				info.MarketLotSize = &common.LotFilter{MinQty: str(f["minQty"]), MaxQty: str(f["maxQty"]), StepSize: str(f["stepSize"])}
			case "PRICE_FILTER":
				info.PriceFilter = &common.PriceFilter{MinPrice: str(f["minPrice"]), MaxPrice: str(f["maxPrice"]), TickSize: str(f["tickSize"])}
			case "MIN_NOTIONAL":
				info.MinNotional = str(f["notional"])
			}
		}
		out = append(out, info)
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatFloat(t)
	default:
		return ""
	}
}
