// Package binance implements the futures exchange gateway against the
// Binance USDⓈ-M REST and websocket APIs. Signed requests are authenticated
// with an HMAC-SHA256 query signature and throttled through the shared rate
// limiter before they leave the process.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/crypto"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

const (
	// defaultRecvWindowMs bounds how old a signed request may be when the
	// exchange processes it.
	defaultRecvWindowMs = 5000

	// depthLevels is how many book levels the depth query requests.
	depthLevels = 5

	// signedLimitKey is the rate-limiter bucket shared by all signed calls.
	signedLimitKey = "binance:signed"
)

// Client is the production ExchangeGateway. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	recvWindow int
	limiter    domain.RateLimiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a futures REST client. The limiter may be nil, in which
// case signed calls are not throttled locally.
func NewClient(cfg config.ExchangeConfig, auth *crypto.HMACAuth, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	recvWindow := cfg.RecvWindowMs
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindowMs
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:       auth,
		recvWindow: recvWindow,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "binance")),
		now:        time.Now,
	}
}

// SubmitOrder places one order. The request's client order ID becomes the
// exchange newClientOrderId so resubmits of the same decision attempt are
// rejected server-side as duplicates.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", orderSide(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Quantity))
	params.Set("newClientOrderId", req.ClientOrderID)
	if req.Price > 0 {
		params.Set("price", formatFloat(req.Price))
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.TimeInForce != "" && req.Type != domain.OrderTypeMarket {
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: submitting order %s: %w", req.ClientOrderID, err)
	}

	c.logger.InfoContext(ctx, "order submitted",
		slog.String("symbol", req.Symbol),
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("status", resp.Status),
	)
	return resp.ToAck(), nil
}

// CancelOrder cancels by client order ID and returns the order's resulting
// status so the caller can distinguish a confirmed cancel from a racing fill.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params, &resp); err != nil {
		return "", fmt.Errorf("binance: canceling order %s: %w", clientOrderID, err)
	}
	return domain.OrderStatus(resp.Status), nil
}

// QueryOrder returns the current fill state of an order.
func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (domain.FillState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return domain.FillState{}, fmt.Errorf("binance: querying order %s: %w", clientOrderID, err)
	}
	return resp.ToFillState(), nil
}

// QueryDepth returns the USD notional resting on the top book levels.
func (c *Client) QueryDepth(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depthLevels))

	var resp depthResponse
	if err := c.doPublic(ctx, "/fapi/v1/depth", params, &resp); err != nil {
		return 0, fmt.Errorf("binance: querying depth for %s: %w", symbol, err)
	}
	return resp.NotionalUSD(), nil
}

// QueryFunding returns the last funding rate for the symbol.
func (c *Client) QueryFunding(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp premiumIndexResponse
	if err := c.doPublic(ctx, "/fapi/v1/premiumIndex", params, &resp); err != nil {
		return 0, fmt.Errorf("binance: querying funding for %s: %w", symbol, err)
	}
	return parseFloat(resp.LastFundingRate), nil
}

// SetLeverage sets the initial leverage for the symbol. The exchange only
// accepts integer leverage, so the value is truncated.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := int(leverage)
	if lev < 1 {
		lev = 1
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(lev))

	if err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params, &json.RawMessage{}); err != nil {
		return fmt.Errorf("binance: setting leverage for %s: %w", symbol, err)
	}
	return nil
}

// QueryPosition returns the open position for the symbol, or a zero-quantity
// Position when the account holds none.
func (c *Client) QueryPosition(ctx context.Context, symbol string) (domain.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []positionRiskResponse
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &resp); err != nil {
		return domain.Position{}, fmt.Errorf("binance: querying position for %s: %w", symbol, err)
	}
	for _, p := range resp {
		if p.Symbol == symbol && parseFloat(p.PositionAmt) != 0 {
			return p.ToPosition(), nil
		}
	}
	return domain.Position{Symbol: symbol}, nil
}

// QueryLeverageBrackets returns the tiered leverage caps for the symbol.
func (c *Client) QueryLeverageBrackets(ctx context.Context, symbol string) ([]domain.LeverageBracket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []bracketResponse
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params, &resp); err != nil {
		return nil, fmt.Errorf("binance: querying leverage brackets for %s: %w", symbol, err)
	}
	for _, b := range resp {
		if b.Symbol == symbol {
			return b.ToBrackets(), nil
		}
	}
	return nil, fmt.Errorf("binance: no leverage brackets returned for %s", symbol)
}

// QueryContract returns the instrument trading rules for the symbol.
func (c *Client) QueryContract(ctx context.Context, symbol string) (domain.ContractMeta, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfoResponse
	if err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", params, &resp); err != nil {
		return domain.ContractMeta{}, fmt.Errorf("binance: querying exchange info for %s: %w", symbol, err)
	}
	meta, ok := resp.ContractFor(symbol)
	if !ok {
		return domain.ContractMeta{}, fmt.Errorf("binance: symbol %s not found in exchange info", symbol)
	}
	return meta, nil
}

// Equity returns the available USDT wallet balance.
func (c *Client) Equity(ctx context.Context) (float64, error) {
	var resp []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &resp); err != nil {
		return 0, fmt.Errorf("binance: querying balance: %w", err)
	}
	for _, b := range resp {
		if b.Asset == "USDT" {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

// doSigned performs an authenticated request. The timestamp, recvWindow, and
// HMAC signature are appended to the query string per the exchange's
// SIGNED-endpoint rules.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.auth == nil {
		return fmt.Errorf("no API credentials configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, signedLimitKey); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	query := c.auth.SignQuery(params.Encode())

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)

	return c.do(req, out)
}

// doPublic performs an unauthenticated GET request.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request and decodes the JSON response into out. Non-2xx
// responses are surfaced with the exchange's error code and message.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
