package binance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/crypto"
	"github.com/pivox/tradingV3-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	auth := &crypto.HMACAuth{Key: "test-key", Secret: "test-secret"}
	return NewClient(config.ExchangeConfig{BaseURL: srv.URL, RecvWindowMs: 5000}, auth, nil, testLogger())
}

func TestSubmitOrderSignsRequest(t *testing.T) {
	var gotQuery, gotHeader string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"orderId":12345,"clientOrderId":"abc-m1","status":"NEW"}`))
	})

	ack, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.SideLong,
		Type:          domain.OrderTypeLimit,
		Price:         50000.5,
		Quantity:      0.01,
		TimeInForce:   domain.TIFPostOnly,
		ClientOrderID: "abc-m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", ack.OrderID)
	assert.Equal(t, domain.OrderStatusNew, ack.Status)

	assert.Equal(t, "test-key", gotHeader)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "side=BUY")
	assert.Contains(t, gotQuery, "type=LIMIT")
	assert.Contains(t, gotQuery, "timeInForce=GTX")
	assert.Contains(t, gotQuery, "newClientOrderId=abc-m1")
	assert.Contains(t, gotQuery, "recvWindow=5000")
	assert.Contains(t, gotQuery, "timestamp=")

	// The signature must cover everything before the signature parameter.
	idx := strings.LastIndex(gotQuery, "&signature=")
	require.Greater(t, idx, 0)
	payload, sig := gotQuery[:idx], gotQuery[idx+len("&signature="):]
	auth := &crypto.HMACAuth{Secret: "test-secret"}
	assert.Equal(t, auth.Sign(payload), sig)
}

func TestSubmitOrderShortSellsReduceOnly(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"orderId":1,"status":"NEW"}`))
	})

	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:        "ETHUSDT",
		Side:          domain.SideShort,
		Type:          domain.OrderTypeStopMarket,
		StopPrice:     3000,
		Quantity:      1,
		ReduceOnly:    true,
		ClientOrderID: "abc-sl",
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "side=SELL")
	assert.Contains(t, gotQuery, "stopPrice=3000")
	assert.Contains(t, gotQuery, "reduceOnly=true")
}

func TestCancelOrderReturnsStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Contains(t, r.URL.RawQuery, "origClientOrderId=abc-m1")
		w.Write([]byte(`{"orderId":12345,"status":"CANCELED"}`))
	})

	status, err := c.CancelOrder(context.Background(), "BTCUSDT", "abc-m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
}

func TestQueryOrderMapsFillState(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":12345,"status":"PARTIALLY_FILLED","executedQty":"0.005","avgPrice":"50010.2"}`))
	})

	fill, err := c.QueryOrder(context.Background(), "BTCUSDT", "abc-m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, fill.Status)
	assert.InDelta(t, 0.005, fill.ExecutedQty, 1e-12)
	assert.InDelta(t, 50010.2, fill.AvgPrice, 1e-9)
}

func TestQueryDepthSumsBidNotional(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/depth", r.URL.Path)
		w.Write([]byte(`{"bids":[["100","10"],["99","20"]],"asks":[["101","5"]]}`))
	})

	depth, err := c.QueryDepth(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100*10+99*20, depth, 1e-9)
}

func TestQueryFunding(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"50000","lastFundingRate":"0.00012"}`))
	})

	rate, err := c.QueryFunding(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.00012, rate, 1e-12)
}

func TestSetLeverageTruncatesToInteger(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"leverage":12,"symbol":"BTCUSDT"}`))
	})

	require.NoError(t, c.SetLeverage(context.Background(), "BTCUSDT", 12.5))
	assert.Contains(t, gotQuery, "leverage=12")

	require.NoError(t, c.SetLeverage(context.Background(), "BTCUSDT", 0.4))
	assert.Contains(t, gotQuery, "leverage=1")
}

func TestQueryPositionMapsShort(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.02","entryPrice":"50000","markPrice":"49900","unRealizedProfit":"2.0","leverage":"10"}]`))
	})

	pos, err := c.QueryPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.InDelta(t, 0.02, pos.Quantity, 1e-12)
	assert.InDelta(t, 50000, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 10, pos.Leverage, 1e-9)
}

func TestQueryPositionFlatReturnsZero(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0"}]`))
	})

	pos, err := c.QueryPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Zero(t, pos.Quantity)
}

func TestQueryLeverageBrackets(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","brackets":[{"notionalCap":50000,"initialLeverage":125},{"notionalCap":250000,"initialLeverage":100}]}]`))
	})

	brackets, err := c.QueryLeverageBrackets(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, brackets, 2)
	assert.Equal(t, domain.LeverageBracket{NotionalCap: 50000, MaxLeverage: 125}, brackets[0])
}

func TestQueryContractParsesFilters(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","stepSize":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}
		]}]}`))
	})

	meta, err := c.QueryContract(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, meta.TickSize, 1e-12)
	assert.InDelta(t, 0.001, meta.LotSize, 1e-12)
	assert.InDelta(t, 100, meta.MinNotional, 1e-9)
	assert.Equal(t, "BTC", meta.BaseCcy)
	assert.Equal(t, "USDT", meta.QuoteCcy)
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})

	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideLong, Type: domain.OrderTypeMarket,
		Quantity: 1, ClientOrderID: "abc-t",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-2019")
	assert.Contains(t, err.Error(), "Margin is insufficient")
}

func TestEquityReadsUSDTBalance(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"asset":"BNB","availableBalance":"1.5"},{"asset":"USDT","availableBalance":"10000.25"}]`))
	})

	eq, err := c.Equity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000.25, eq, 1e-9)
}

type countingLimiter struct {
	calls int
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(ctx context.Context, key string) error {
	l.calls++
	return nil
}

func TestSignedCallsGoThroughLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":1,"status":"NEW"}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	c := NewClient(config.ExchangeConfig{BaseURL: srv.URL}, auth, limiter, testLogger())

	_, err := c.QueryOrder(context.Background(), "BTCUSDT", "abc-m1")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.calls)

	// Public endpoints are not throttled locally.
	srvPub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[],"asks":[]}`))
	}))
	defer srvPub.Close()
	c2 := NewClient(config.ExchangeConfig{BaseURL: srvPub.URL}, auth, limiter, testLogger())
	_, err = c2.QueryDepth(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.calls)
}

func TestNoCredentialsRejected(t *testing.T) {
	c := NewClient(config.ExchangeConfig{BaseURL: "http://localhost:1"}, nil, nil, testLogger())
	_, err := c.QueryOrder(context.Background(), "BTCUSDT", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}
