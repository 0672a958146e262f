package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFPostOnly          TimeInForce = "GTX" // maker-only: rejected instead of crossing
)

// OrderRequest is one logical order the plan emits toward the exchange
// adapter. The adapter owns wire serialization.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64 // 0 for market orders
	StopPrice     float64 // trigger price for protective orders
	Quantity      float64
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// RiskMetrics summarises the risk content of an order plan.
type RiskMetrics struct {
	NotionalUSD  float64
	RiskUSD      float64
	StopDistance float64
	TPDistance   float64
}

// OrderPlan is the full, risk-bounded execution plan for one decision:
// maker ladder, optional taker fallback, and the protective pair.
type OrderPlan struct {
	Symbol    string
	Side      Side
	Timeframe string

	Quantity float64 // lot-quantized total
	Leverage float64 // bracket- and cap-clamped, 2 decimals

	MakerOrders []OrderRequest
	Fallback    *OrderRequest // nil when taker fallback is disabled
	StopLoss    OrderRequest
	TakeProfit  OrderRequest

	EntryPrice float64 // reference entry (zone midpoint)

	ClientOrderID string
	DecisionKey   string
	Attempt       int

	Risk RiskMetrics
}

// clientOrderIDLen is the fixed truncation length for derived client order
// IDs. Binance futures allows up to 36 characters.
const clientOrderIDLen = 20

// ClientOrderID derives the idempotent client order ID for a decision
// attempt. Two calls with identical inputs produce identical IDs; changing
// the attempt number changes the ID.
func ClientOrderID(symbol string, side Side, candleClose time.Time, timeframe string, attempt int) string {
	seed := fmt.Sprintf("%s|%s|%d|%s|%d", symbol, side, candleClose.Unix(), timeframe, attempt)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:clientOrderIDLen]
}

// DecisionKey identifies "this symbol, this timeframe, this candle". It is
// attempt-independent so duplicate runs for the same candle collide on it.
func DecisionKey(symbol, timeframe string, candleClose time.Time) string {
	return fmt.Sprintf("%s:%s:%d", symbol, timeframe, candleClose.Unix())
}
