package domain

import (
	"context"
	"io"
	"time"
)

// OrderStatus is the exchange-side lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Final reports whether the status can no longer change.
func (s OrderStatus) Final() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderAck is the exchange response to a submit request.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
}

// FillState describes how much of an order has executed.
type FillState struct {
	Status      OrderStatus
	ExecutedQty float64
	AvgPrice    float64
}

// Position is an open futures position as reported by the exchange.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64
	EntryPrice    float64
	Leverage      float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// ExchangeGateway is the capability interface the execution state machine
// drives. Production and simulated implementations both satisfy it.
type ExchangeGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (FillState, error)
	QueryDepth(ctx context.Context, symbol string) (float64, error)
	QueryFunding(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
	QueryPosition(ctx context.Context, symbol string) (Position, error)
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function that must be called to release the lock; it returns
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles outbound exchange requests. Allow counts a request
// against a sliding window; Wait blocks until one is permitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// DecisionCache is the idempotency hook keyed by decision key. Claim
// returns true when this caller is the first to run the key within the TTL;
// false means a decision for the same candle already ran.
type DecisionCache interface {
	Claim(ctx context.Context, decisionKey string, ttl time.Duration) (bool, error)
	Outcome(ctx context.Context, decisionKey string) (string, error)
	RecordOutcome(ctx context.Context, decisionKey string, outcome DecisionOutcome, ttl time.Duration) error
}

// DecisionStore persists decisions with their transition logs for audit.
type DecisionStore interface {
	Save(ctx context.Context, d Decision) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]Decision, error)
}

// EventBus publishes serialized decision events to interested consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter archives evidence bundles to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// IndicatorSet carries externally computed indicators for one symbol.
type IndicatorSet struct {
	VWAP        float64
	ATR1m       float64
	ATR5m       float64
	RSI14       float64
	VolumeRatio float64
}

// IndicatorSource supplies indicator values; computation happens upstream.
type IndicatorSource interface {
	Indicators(ctx context.Context, symbol string) (IndicatorSet, error)
}

// SnapshotSource assembles a fresh MarketSnapshot for one symbol.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
}

// EquitySource reports the available wallet equity in quote currency.
type EquitySource interface {
	Equity(ctx context.Context) (float64, error)
}
