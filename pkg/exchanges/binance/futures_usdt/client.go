package futures_usdt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the production/testnet host when set
}

// Client handles Binance USDT-M futures.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

var _ common.Gateway = (*Client)(nil)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.Named("binance"),
	}
	c.timeSync = common.NewTimeSync(c.ServerTime, c.log)
	// 2400 weight/min for futures; 20 req/s keeps a full scan well under it.
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute, 20, 40, c.log)
	return c
}

// SyncTime refreshes the server clock offset used for signed timestamps.
func (c *Client) SyncTime(ctx context.Context) error {
	return c.timeSync.Sync(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && !c.timeSync.LastSync().IsZero() {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) requireKeys() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return fmt.Errorf("binance usdt futures: %w", common.ErrCredentialsMissing)
	}
	return nil
}

// CreateOrder places an order and returns the RESULT acknowledgement, which
// carries executed quantity and average price for market orders.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", formatFloat(req.Qty))
	params.Set("newOrderRespType", "RESULT")

	if req.Type == common.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", string(toBinanceTIF(req.TimeInForce)))
	}
	if req.Type.IsTrigger() {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	params.Set("newClientOrderId", clientID)

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toResult(), nil
}

// GetOrder queries one order's status.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toResult(), nil
}

// CancelAllOpenOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// AccountBalance returns futures wallet balances per asset.
func (c *Client) AccountBalance(ctx context.Context) ([]common.AssetBalance, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw []futuresBalance
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	out := make([]common.AssetBalance, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.AssetBalance{
			Asset:            b.Asset,
			Balance:          parseFloat(b.Balance),
			AvailableBalance: parseFloat(b.AvailableBalance),
		})
	}
	return out, nil
}

// AccountInfo returns account-wide margin totals.
func (c *Client) AccountInfo(ctx context.Context) (common.AccountInfo, error) {
	if err := c.requireKeys(); err != nil {
		return common.AccountInfo{}, err
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return common.AccountInfo{}, err
	}
	var info accountInfo
	if err := sonic.Unmarshal(body, &info); err != nil {
		return common.AccountInfo{}, fmt.Errorf("decode account info: %w", err)
	}
	return common.AccountInfo{
		TotalMarginBalance:    parseFloat(info.TotalMarginBalance),
		TotalWalletBalance:    parseFloat(info.TotalWalletBalance),
		AvailableBalance:      parseFloat(info.AvailableBalance),
		TotalUnrealizedProfit: parseFloat(info.TotalUnrealizedProfit),
		TotalMaintMargin:      parseFloat(info.TotalMaintMargin),
	}, nil
}

// Positions returns the position risk view; symbol optional.
func (c *Client) Positions(ctx context.Context, symbol string) ([]common.PositionRisk, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var raw []positionRisk
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.PositionRisk, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toCommon())
	}
	return out, nil
}

// OpenOrders returns open orders; symbol optional.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []openOrder
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]common.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, o.toCommon())
	}
	return out, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// doSigned handles signing and sending requests. A timestamp rejection
// triggers one clock resync and a resend.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		params.Del("signature")
		params.Set("timestamp", strconv.FormatInt(c.now(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

		var (
			req *http.Request
			err error
		)
		encoded := params.Encode()
		switch method {
		case http.MethodGet, http.MethodDelete:
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
		default:
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
			if req != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

		body, err := c.send(req)
		var apiErr *common.APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Code == common.CodeInvalidTimestamp {
			c.log.Warn("timestamp outside recvWindow, resyncing clock", zap.String("path", path))
			if syncErr := c.SyncTime(ctx); syncErr != nil {
				return nil, err
			}
			continue
		}
		return body, err
	}
}

// doPublic sends an unsigned GET.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		apiErr := &common.APIError{HTTPStatus: res.StatusCode}
		if decErr := sonic.Unmarshal(body, apiErr); decErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("binance usdt futures %s %s: %w", req.Method, req.URL.Path, apiErr)
	}
	return body, nil
}

func toBinanceTIF(tif common.TimeInForce) common.TimeInForce {
	if tif == "" {
		return common.TIFGTC
	}
	return tif
}
