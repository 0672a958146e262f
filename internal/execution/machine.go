// Package execution drives an order plan through exchange submission to an
// open position: maker ladder, bounded fill wait, taker fallback, protective
// orders, and position opening, with every transition recorded for audit.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Result is the outcome of one machine run. FinalState is MONITORING on
// success and FAILED otherwise; the transition log is complete either way.
type Result struct {
	FinalState  domain.ExecutionState
	Transitions []domain.Transition
	FilledVia   string // "maker" or "taker"
	FilledQty   float64
	AvgPrice    float64
	Err         error
}

// Config holds the machine's timing and protection parameters.
type Config struct {
	FillTimeout     time.Duration
	PollInterval    time.Duration
	UsePositionTPSL bool
}

// Machine is the per-invocation execution state machine. It owns exactly
// one mutable current-state field and an append-only transition log; state
// changes happen only inside transition(). A Machine must not be shared
// across decisions.
type Machine struct {
	gw     domain.ExchangeGateway
	plan   *domain.OrderPlan
	zone   domain.EntryZone
	cfg    Config
	logger *slog.Logger

	state domain.ExecutionState
	log   []domain.Transition
	now   func() time.Time
}

// NewMachine creates a Machine in the READY state for one plan.
func NewMachine(gw domain.ExchangeGateway, plan *domain.OrderPlan, zone domain.EntryZone, cfg Config, logger *slog.Logger) *Machine {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Machine{
		gw:     gw,
		plan:   plan,
		zone:   zone,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "execution"), slog.String("symbol", plan.Symbol)),
		state:  domain.StateReady,
		now:    time.Now,
	}
}

// State returns the current state. State is mutated only by transition().
func (m *Machine) State() domain.ExecutionState {
	return m.state
}

// Transitions returns a copy of the audit log so far.
func (m *Machine) Transitions() []domain.Transition {
	out := make([]domain.Transition, len(m.log))
	copy(out, m.log)
	return out
}

// transition records the state change in the audit log and then updates the
// current-state field. Illegal transitions are rejected; there is no state
// mutation without a recorded transition.
func (m *Machine) transition(action domain.ExecutionAction, to domain.ExecutionState, detail string) error {
	if !domain.CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s via %s", domain.ErrIllegalTransition, m.state, to, action)
	}
	m.log = append(m.log, domain.Transition{
		From:   m.state,
		To:     to,
		Action: action,
		At:     m.now().UTC(),
		Detail: detail,
	})
	m.logger.Debug("state transition",
		slog.String("from", string(m.state)),
		slog.String("to", string(to)),
		slog.String("action", action.String()),
	)
	m.state = to
	return nil
}

// fail moves the machine to FAILED, recording the triggering error. The
// original error is returned for the Result.
func (m *Machine) fail(action domain.ExecutionAction, err error) error {
	_ = m.transition(action, domain.StateFailed, err.Error())
	return err
}

// Run executes the full submission sequence. It never panics out; every
// failure lands in FAILED with the error captured in the Result.
func (m *Machine) Run(ctx context.Context) Result {
	res := Result{}
	err := m.run(ctx, &res)
	res.FinalState = m.state
	res.Transitions = m.Transitions()
	res.Err = err
	return res
}

func (m *Machine) run(ctx context.Context, res *Result) error {
	// Validate the zone and set leverage before any order leaves.
	if !m.zone.Valid() {
		return m.fail(domain.ActionBuildEntryZone, fmt.Errorf("entry zone failed quality gate"))
	}
	if err := m.gw.SetLeverage(ctx, m.plan.Symbol, m.plan.Leverage); err != nil {
		return m.fail(domain.ActionBuildEntryZone, fmt.Errorf("set leverage: %w", err))
	}
	if err := m.transition(domain.ActionBuildEntryZone, domain.StateEntryZoneBuilt,
		fmt.Sprintf("zone [%.8g, %.8g]", m.zone.EntryMin, m.zone.EntryMax)); err != nil {
		return err
	}

	// Submit the maker ladder. A failure mid-ladder must not leave the
	// rungs already accepted resting on the book.
	var submitted []domain.OrderRequest
	for _, ord := range m.plan.MakerOrders {
		ack, err := m.gw.SubmitOrder(ctx, ord)
		if err != nil {
			m.abortMakers(ctx, submitted)
			return m.fail(domain.ActionSubmitMaker, fmt.Errorf("submit maker %s: %w", ord.ClientOrderID, err))
		}
		if ack.Status == domain.OrderStatusRejected {
			m.abortMakers(ctx, submitted)
			return m.fail(domain.ActionSubmitMaker, fmt.Errorf("maker %s: %w", ord.ClientOrderID, domain.ErrOrderRejected))
		}
		submitted = append(submitted, ord)
	}
	if err := m.transition(domain.ActionSubmitMaker, domain.StateSubmittedMaker,
		fmt.Sprintf("%d maker orders", len(m.plan.MakerOrders))); err != nil {
		return err
	}

	// Bounded fill wait.
	filled, avg, err := m.waitForFill(ctx)
	if err != nil {
		m.abortMakers(ctx, m.plan.MakerOrders)
		return m.fail(domain.ActionWaitFill, err)
	}

	switch {
	case filled >= m.plan.Quantity:
		res.FilledVia, res.FilledQty, res.AvgPrice = "maker", filled, avg
		if err := m.transition(domain.ActionWaitFill, domain.StateFilled,
			fmt.Sprintf("maker filled %.8g @ %.8g", filled, avg)); err != nil {
			return err
		}

	case filled > 0:
		// Partial fill at deadline: cancel the resting remainder and
		// proceed with what we have.
		if err := m.cancelMakers(ctx); err != nil {
			m.abortMakers(ctx, m.plan.MakerOrders)
			return m.fail(domain.ActionCancelMaker, err)
		}
		res.FilledVia, res.FilledQty, res.AvgPrice = "maker", filled, avg
		if err := m.transition(domain.ActionWaitFill, domain.StatePartial,
			fmt.Sprintf("maker partial %.8g of %.8g", filled, m.plan.Quantity)); err != nil {
			return err
		}

	default:
		// Nothing filled: cancel definitively, then fall back to taker.
		if err := m.cancelMakers(ctx); err != nil {
			m.abortMakers(ctx, m.plan.MakerOrders)
			return m.fail(domain.ActionCancelMaker, err)
		}
		if err := m.transition(domain.ActionCancelMaker, domain.StateTimeout, "maker fill timed out"); err != nil {
			return err
		}
		takerQty, takerAvg, err := m.submitTaker(ctx)
		if err != nil {
			return m.fail(domain.ActionSubmitTaker, err)
		}
		res.FilledVia, res.FilledQty, res.AvgPrice = "taker", takerQty, takerAvg
		if err := m.transition(domain.ActionSubmitTaker, domain.StateFilled,
			fmt.Sprintf("taker filled %.8g @ %.8g", takerQty, takerAvg)); err != nil {
			return err
		}
	}

	// Attach the protective pair, sized to what actually filled.
	if m.cfg.UsePositionTPSL {
		if err := m.attachProtection(ctx, res.FilledQty); err != nil {
			return m.fail(domain.ActionAttachProtection, err)
		}
	}
	if err := m.transition(domain.ActionAttachProtection, domain.StateAttachTPSL, "protection attached"); err != nil {
		return err
	}

	// Confirm the position is open on the exchange.
	pos, err := m.gw.QueryPosition(ctx, m.plan.Symbol)
	if err != nil {
		return m.fail(domain.ActionOpenPosition, fmt.Errorf("query position: %w", err))
	}
	if pos.Quantity <= 0 {
		return m.fail(domain.ActionOpenPosition, fmt.Errorf("position not open after fill"))
	}
	if err := m.transition(domain.ActionOpenPosition, domain.StateOpened,
		fmt.Sprintf("position %.8g @ %.8g", pos.Quantity, pos.EntryPrice)); err != nil {
		return err
	}

	// Hand off to the (external) monitoring workflow.
	return m.transition(domain.ActionStartMonitoring, domain.StateMonitoring, "")
}

// waitForFill polls the maker orders until the full quantity executes or
// the fill timeout elapses. It returns the executed quantity and weighted
// average price at the moment it gives up or completes.
func (m *Machine) waitForFill(ctx context.Context) (qty, avg float64, err error) {
	deadline := m.now().Add(m.cfg.FillTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		qty, avg, err = m.executedQuantity(ctx)
		if err != nil {
			return 0, 0, err
		}
		if qty >= m.plan.Quantity {
			return qty, avg, nil
		}
		if !m.now().Before(deadline) {
			return qty, avg, nil
		}

		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// executedQuantity sums fills across the maker ladder.
func (m *Machine) executedQuantity(ctx context.Context) (qty, avg float64, err error) {
	var notional float64
	for _, ord := range m.plan.MakerOrders {
		fs, err := m.gw.QueryOrder(ctx, m.plan.Symbol, ord.ClientOrderID)
		if err != nil {
			return 0, 0, fmt.Errorf("query maker %s: %w", ord.ClientOrderID, err)
		}
		qty += fs.ExecutedQty
		notional += fs.ExecutedQty * fs.AvgPrice
	}
	if qty > 0 {
		avg = notional / qty
	}
	return qty, avg, nil
}

// cancelMakers cancels every maker order and insists on a definitive final
// state before returning, so the taker fallback can never double the
// position.
func (m *Machine) cancelMakers(ctx context.Context) error {
	for _, ord := range m.plan.MakerOrders {
		status, err := m.gw.CancelOrder(ctx, m.plan.Symbol, ord.ClientOrderID)
		if err != nil {
			// The order may already be in a final state; check before
			// declaring the cancel unconfirmed.
			fs, qerr := m.gw.QueryOrder(ctx, m.plan.Symbol, ord.ClientOrderID)
			if qerr != nil || !fs.Status.Final() {
				return fmt.Errorf("cancel maker %s: %w (%v)", ord.ClientOrderID, domain.ErrCancelUnconfirmed, err)
			}
			continue
		}
		if !status.Final() {
			return fmt.Errorf("cancel maker %s: %w: status %s", ord.ClientOrderID, domain.ErrCancelUnconfirmed, status)
		}
	}
	return nil
}

// abortMakers cancels maker orders on the way to FAILED so no GTC order
// outlives the decision. Best effort: the run is already failing for
// another reason, so cancel errors are logged, not returned. Runs on a
// detached context because the caller's may already be cancelled.
func (m *Machine) abortMakers(ctx context.Context, orders []domain.OrderRequest) {
	if len(orders) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, ord := range orders {
		if _, err := m.gw.CancelOrder(cctx, m.plan.Symbol, ord.ClientOrderID); err != nil {
			m.logger.Warn("aborting maker order failed",
				slog.String("client_order_id", ord.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// submitTaker submits the fallback order and reads its fill. A missing or
// unfilled fallback is the "maker/taker failed" terminal case.
func (m *Machine) submitTaker(ctx context.Context) (qty, avg float64, err error) {
	if m.plan.Fallback == nil {
		return 0, 0, errors.New("maker/taker failed: fill timeout and taker fallback disabled")
	}
	ack, err := m.gw.SubmitOrder(ctx, *m.plan.Fallback)
	if err != nil {
		return 0, 0, fmt.Errorf("maker/taker failed: submit taker: %w", err)
	}
	if ack.Status == domain.OrderStatusRejected {
		return 0, 0, fmt.Errorf("maker/taker failed: taker %w", domain.ErrOrderRejected)
	}
	fs, err := m.gw.QueryOrder(ctx, m.plan.Symbol, m.plan.Fallback.ClientOrderID)
	if err != nil {
		return 0, 0, fmt.Errorf("maker/taker failed: query taker: %w", err)
	}
	if fs.ExecutedQty <= 0 {
		return 0, 0, errors.New("maker/taker failed: taker order did not fill")
	}
	return fs.ExecutedQty, fs.AvgPrice, nil
}

// attachProtection submits the stop-loss / take-profit pair sized to the
// filled quantity.
func (m *Machine) attachProtection(ctx context.Context, filledQty float64) error {
	for _, ord := range []domain.OrderRequest{m.plan.StopLoss, m.plan.TakeProfit} {
		ord.Quantity = filledQty
		ack, err := m.gw.SubmitOrder(ctx, ord)
		if err != nil {
			return fmt.Errorf("attach %s: %w", ord.ClientOrderID, err)
		}
		if ack.Status == domain.OrderStatusRejected {
			return fmt.Errorf("attach %s: %w", ord.ClientOrderID, domain.ErrOrderRejected)
		}
	}
	return nil
}
