package execution

import (
	"context"
	"sync"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Simulator is a deterministic in-memory ExchangeGateway used by dry-run
// mode and tests. Maker orders fill instantly when FillMaker is true; the
// taker fallback fills when FillTaker is true. It is safe for concurrent
// use, although a machine drives it sequentially.
type Simulator struct {
	FillMaker bool
	FillTaker bool
	Depth     float64
	Funding   float64

	mu        sync.Mutex
	orders    map[string]simOrder
	leverage  map[string]float64
	positions map[string]domain.Position
}

type simOrder struct {
	req    domain.OrderRequest
	status domain.OrderStatus
	filled float64
	avg    float64
}

// NewSimulator creates a Simulator whose maker orders fill immediately.
func NewSimulator() *Simulator {
	return &Simulator{
		FillMaker: true,
		FillTaker: true,
		orders:    make(map[string]simOrder),
		leverage:  make(map[string]float64),
		positions: make(map[string]domain.Position),
	}
}

// SubmitOrder accepts the order and, depending on its type and the
// simulator flags, fills it instantly at its limit price.
func (s *Simulator) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := simOrder{req: req, status: domain.OrderStatusNew}

	fills := false
	switch req.Type {
	case domain.OrderTypeLimit:
		if req.TimeInForce == domain.TIFImmediateOrCancel {
			fills = s.FillTaker
			if !fills {
				o.status = domain.OrderStatusExpired
			}
		} else {
			fills = s.FillMaker
		}
	default:
		// Protective orders rest untriggered.
	}

	if fills {
		o.status = domain.OrderStatusFilled
		o.filled = req.Quantity
		o.avg = req.Price
		s.applyFill(req)
	}

	s.orders[req.ClientOrderID] = o
	return domain.OrderAck{OrderID: "sim-" + req.ClientOrderID, Status: o.status}, nil
}

// applyFill accumulates entry fills into the simulated position. Must be
// called with the lock held.
func (s *Simulator) applyFill(req domain.OrderRequest) {
	if req.ReduceOnly {
		return
	}
	pos := s.positions[req.Symbol]
	pos.Symbol = req.Symbol
	pos.Side = req.Side
	total := pos.Quantity + req.Quantity
	if total > 0 {
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + req.Price*req.Quantity) / total
	}
	pos.Quantity = total
	pos.Leverage = s.leverage[req.Symbol]
	s.positions[req.Symbol] = pos
}

// CancelOrder marks a resting order cancelled and reports the final status.
func (s *Simulator) CancelOrder(_ context.Context, _ string, clientOrderID string) (domain.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[clientOrderID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if !o.status.Final() {
		o.status = domain.OrderStatusCanceled
		s.orders[clientOrderID] = o
	}
	return o.status, nil
}

// QueryOrder reports the current fill state of an order.
func (s *Simulator) QueryOrder(_ context.Context, _ string, clientOrderID string) (domain.FillState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[clientOrderID]
	if !ok {
		return domain.FillState{}, domain.ErrNotFound
	}
	return domain.FillState{Status: o.status, ExecutedQty: o.filled, AvgPrice: o.avg}, nil
}

// QueryDepth returns the configured simulated depth.
func (s *Simulator) QueryDepth(_ context.Context, _ string) (float64, error) {
	return s.Depth, nil
}

// QueryFunding returns the configured simulated funding rate.
func (s *Simulator) QueryFunding(_ context.Context, _ string) (float64, error) {
	return s.Funding, nil
}

// SetLeverage records the requested leverage.
func (s *Simulator) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
	return nil
}

// QueryPosition returns the simulated position for the symbol.
func (s *Simulator) QueryPosition(_ context.Context, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[symbol], nil
}

// Compile-time interface check.
var _ domain.ExchangeGateway = (*Simulator)(nil)
