// Package decision composes the pipeline stages into a single call:
// timeframe selection, entry-zone construction, order planning, guard
// evaluation, and execution, producing one OPEN or SKIP decision with full
// evidence. The orchestrator never lets an error or panic escape.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/domain"
	"github.com/pivox/tradingV3-sub003/internal/execution"
	"github.com/pivox/tradingV3-sub003/internal/guard"
	"github.com/pivox/tradingV3-sub003/internal/plan"
	"github.com/pivox/tradingV3-sub003/internal/timeframe"
	"github.com/pivox/tradingV3-sub003/internal/zone"
)

// Request carries everything one decision run needs. The snapshot is
// produced fresh by the caller and is not mutated here.
type Request struct {
	Symbol      string
	Side        domain.Side
	Snapshot    domain.MarketSnapshot
	Alignment   timeframe.Alignment
	Equity      float64
	CandleClose time.Time
	Attempt     int
	Conviction  bool
}

// Orchestrator runs the full decision pipeline. Construct once; safe for
// concurrent use across symbols (each run owns its own state machine).
type Orchestrator struct {
	selector *timeframe.Selector
	zones    *zone.Builder
	plans    *plan.Builder
	guards   *guard.Evaluator
	gateway  domain.ExchangeGateway
	cache    domain.DecisionCache // optional idempotency hook

	execCfg        execution.Config
	idempotencyTTL time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator. The cache may be nil, in which case the
// idempotency check is the caller's responsibility.
func New(
	selector *timeframe.Selector,
	zones *zone.Builder,
	plans *plan.Builder,
	guards *guard.Evaluator,
	gateway domain.ExchangeGateway,
	cache domain.DecisionCache,
	execCfg execution.Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		selector:       selector,
		zones:          zones,
		plans:          plans,
		guards:         guards,
		gateway:        gateway,
		cache:          cache,
		execCfg:        execCfg,
		idempotencyTTL: 15 * time.Minute,
		logger:         logger.With(slog.String("component", "orchestrator")),
		now:            time.Now,
	}
}

// SetClock overrides the time source; tests use this.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Decide runs the pipeline against the live gateway.
func (o *Orchestrator) Decide(ctx context.Context, req Request) domain.Decision {
	return o.run(ctx, req, o.gateway, false)
}

// DryRun performs every step except real order submission: after guards
// pass, execution is driven through a fresh simulator that fills the maker
// ladder instantly.
func (o *Orchestrator) DryRun(ctx context.Context, req Request) domain.Decision {
	return o.run(ctx, req, execution.NewSimulator(), true)
}

// run is the shared pipeline. Any panic is converted into a SKIP decision;
// the pipeline never throws out of the top-level call.
func (o *Orchestrator) run(ctx context.Context, req Request, gw domain.ExchangeGateway, dry bool) (d domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panic recovered",
				slog.String("symbol", req.Symbol),
				slog.Any("panic", r),
			)
			d = o.skip(req, "", fmt.Sprintf("internal error: %v", r), nil, nil, nil, nil, dry)
		}
	}()

	if !req.Side.Valid() {
		return o.skip(req, "", fmt.Sprintf("invalid side %q", req.Side), nil, nil, nil, nil, dry)
	}
	if req.Snapshot.Symbol != req.Symbol {
		return o.skip(req, "", fmt.Sprintf("snapshot symbol %q does not match request %q", req.Snapshot.Symbol, req.Symbol), nil, nil, nil, nil, dry)
	}

	// Timeframe selection fixes the decision key for the rest of the run.
	tf := o.selector.Select(req.Snapshot, req.Side, req.Alignment)
	key := domain.DecisionKey(req.Symbol, tf, req.CandleClose)

	log := o.logger.With(
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("timeframe", tf),
		slog.String("decision_key", key),
		slog.Bool("dry_run", dry),
	)

	// Idempotency: refuse to re-run a candle that already produced a
	// decision elsewhere.
	if o.cache != nil && !dry {
		claimed, err := o.cache.Claim(ctx, key, o.idempotencyTTL)
		if err != nil {
			log.Warn("idempotency claim failed, proceeding without it", slog.String("error", err.Error()))
		} else if !claimed {
			prior, _ := o.cache.Outcome(ctx, key)
			return o.skip(req, tf, fmt.Sprintf("duplicate run for candle (prior outcome: %s): %v", prior, domain.ErrDuplicateDecision), nil, nil, nil, nil, dry)
		}
	}

	// Entry zone and its quality gate.
	z := o.zones.Build(req.Side, req.Snapshot, tf)
	if !z.QualityPassed {
		return o.finish(ctx, log, o.skip(req, tf, "entry zone quality gate failed", &z, nil, nil, nil, dry))
	}

	// Order plan.
	p, err := o.plans.Build(plan.Request{
		Side:        req.Side,
		Snapshot:    req.Snapshot,
		Zone:        z,
		Timeframe:   tf,
		Equity:      req.Equity,
		CandleClose: req.CandleClose,
		Attempt:     req.Attempt,
		Conviction:  req.Conviction,
	})
	if err != nil {
		return o.finish(ctx, log, o.skip(req, tf, fmt.Sprintf("plan construction: %v", err), &z, nil, nil, nil, dry))
	}
	if len(p.MakerOrders) == 0 {
		return o.finish(ctx, log, o.skip(req, tf, fmt.Sprintf("plan has no orders: %v", domain.ErrZeroQuantity), &z, p, nil, nil, dry))
	}

	// Pre-execution guards.
	report := o.guards.Evaluate(req.Snapshot, p)
	if !report.AllPassed {
		return o.finish(ctx, log, o.skip(req, tf, "guards failed: "+report.FailureSummary(), &z, p, &report, nil, dry))
	}

	// Execution.
	machine := execution.NewMachine(gw, p, z, o.execCfg, o.logger)
	res := machine.Run(ctx)
	if res.FinalState != domain.StateMonitoring {
		reason := "execution failed"
		if res.Err != nil {
			reason = "execution failed: " + res.Err.Error()
		}
		return o.finish(ctx, log, o.skip(req, tf, reason, &z, p, &report, res.Transitions, dry))
	}

	d = domain.Decision{
		Outcome:     domain.DecisionOpen,
		Reason:      fmt.Sprintf("opened via %s", res.FilledVia),
		Symbol:      req.Symbol,
		Timeframe:   tf,
		DecisionKey: key,
		Zone:        &z,
		Plan:        p,
		Guards:      &report,
		Transitions: res.Transitions,
		Evidence:    o.evidence(req, tf, dry, map[string]any{
			"filled_via": res.FilledVia,
			"filled_qty": res.FilledQty,
			"avg_price":  res.AvgPrice,
		}),
		DryRun:    dry,
		CreatedAt: o.now().UTC(),
	}
	log.Info("decision", slog.String("outcome", string(d.Outcome)), slog.String("reason", d.Reason))
	return o.finish(ctx, log, d)
}

// skip assembles a SKIP decision carrying whatever the pipeline produced
// before stopping.
func (o *Orchestrator) skip(req Request, tf, reason string, z *domain.EntryZone, p *domain.OrderPlan, g *domain.GuardReport, transitions []domain.Transition, dry bool) domain.Decision {
	key := ""
	if tf != "" {
		key = domain.DecisionKey(req.Symbol, tf, req.CandleClose)
	}
	return domain.Decision{
		Outcome:     domain.DecisionSkip,
		Reason:      reason,
		Symbol:      req.Symbol,
		Timeframe:   tf,
		DecisionKey: key,
		Zone:        z,
		Plan:        p,
		Guards:      g,
		Transitions: transitions,
		Evidence:    o.evidence(req, tf, dry, nil),
		DryRun:      dry,
		CreatedAt:   o.now().UTC(),
	}
}

// finish records the outcome against the idempotency key and logs SKIPs.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, d domain.Decision) domain.Decision {
	if d.Outcome == domain.DecisionSkip {
		log.Info("decision", slog.String("outcome", string(d.Outcome)), slog.String("reason", d.Reason))
	}
	if o.cache != nil && !d.DryRun && d.DecisionKey != "" {
		if err := o.cache.RecordOutcome(ctx, d.DecisionKey, d.Outcome, o.idempotencyTTL); err != nil {
			log.Warn("record outcome failed", slog.String("error", err.Error()))
		}
	}
	return d
}

// evidence builds the diagnostic bundle common to every decision.
func (o *Orchestrator) evidence(req Request, tf string, dry bool, extra map[string]any) map[string]any {
	ev := map[string]any{
		"symbol":       req.Symbol,
		"side":         string(req.Side),
		"timeframe":    tf,
		"equity":       req.Equity,
		"candle_close": req.CandleClose.Unix(),
		"attempt":      req.Attempt,
		"conviction":   req.Conviction,
		"dry_run":      dry,
	}
	for k, v := range extra {
		ev[k] = v
	}
	return ev
}
