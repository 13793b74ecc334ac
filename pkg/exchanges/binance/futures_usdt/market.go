package futures_usdt

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"perp-core/pkg/exchanges/common"
)

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil)
	return err
}

// ServerTime fetches futures server time in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := sonic.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

// ExchangeInfo returns instrument metadata with the filters the engine needs.
func (c *Client) ExchangeInfo(ctx context.Context) ([]common.SymbolInfo, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := sonic.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	return info.toCommon(), nil
}

// Klines fetches the most recent bars, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]common.Kline, 0, len(raw))
	for _, item := range raw {
		if len(item) < 7 {
			continue
		}
		out = append(out, common.Kline{
			OpenTime:  toInt64(item[0]),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
			CloseTime: toInt64(item[6]),
		})
	}
	return out, nil
}

// TickerPrice returns the latest traded price.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Price string `json:"price"`
	}
	if err := sonic.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	return parseFloat(res.Price), nil
}
