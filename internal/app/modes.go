package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pivox/tradingV3-sub003/internal/decision"
	"github.com/pivox/tradingV3-sub003/internal/domain"
	"github.com/pivox/tradingV3-sub003/internal/metrics"
	"github.com/pivox/tradingV3-sub003/internal/timeframe"
)

// signalChannel is the Pub/Sub channel the upstream signal generator
// publishes entry signals on.
const signalChannel = "signals"

// signalEvent is the JSON shape of one upstream entry signal.
type signalEvent struct {
	Symbol      string            `json:"symbol"`
	Side        string            `json:"side"`
	CandleClose int64             `json:"candle_close"`
	Attempt     int               `json:"attempt"`
	Conviction  bool              `json:"conviction"`
	Alignment   map[string]string `json:"alignment"`
}

// LiveMode consumes entry signals and executes decisions against the real
// exchange.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.runSignalLoop(ctx, deps, false)
}

// DryRunMode consumes entry signals and runs the full pipeline with
// simulated execution. Nothing reaches the exchange.
func (a *App) DryRunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dry-run mode")
	return a.runSignalLoop(ctx, deps, true)
}

// OnceMode runs a single dry-run decision per configured symbol against the
// current market state, then exits. Useful as a configuration smoke test.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	g, ctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g.Go(func() error {
		err := deps.Feed.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer stop()
		// Let the feed populate the tracker before deciding.
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-time.After(5 * time.Second):
		}

		candleClose := time.Now().UTC().Truncate(5 * time.Minute)
		for _, symbol := range a.cfg.Symbols {
			sig := signalEvent{
				Symbol:      symbol,
				Side:        string(domain.SideLong),
				CandleClose: candleClose.Unix(),
			}
			a.handleSignal(runCtx, deps, sig, true)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSignalLoop starts the market feed, the optional metrics server, and the
// signal consumer, and blocks until the context is cancelled.
func (a *App) runSignalLoop(ctx context.Context, deps *Dependencies, dry bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	if a.cfg.Metrics.Enabled {
		srv := metrics.NewServer(a.cfg.Metrics.Port, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	g.Go(func() error {
		ch, err := deps.Bus.Subscribe(ctx, signalChannel)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", signalChannel, err)
		}
		a.logger.InfoContext(ctx, "signal consumer started", slog.String("channel", signalChannel))

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				var sig signalEvent
				if err := json.Unmarshal(payload, &sig); err != nil {
					a.logger.Warn("dropping malformed signal", slog.String("error", err.Error()))
					continue
				}
				a.handleSignal(ctx, deps, sig, dry)
			}
		}
	})

	return g.Wait()
}

// handleSignal runs one lock-bracketed decision for a signal and fans the
// result out to persistence, notifications, metrics, and archival.
func (a *App) handleSignal(ctx context.Context, deps *Dependencies, sig signalEvent, dry bool) {
	log := a.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("side", sig.Side),
	)

	if !a.watchesSymbol(sig.Symbol) {
		log.Debug("ignoring signal for unconfigured symbol")
		return
	}

	// One decision per symbol at a time across all replicas.
	unlock, err := deps.LockManager.Acquire(ctx, "decide:"+sig.Symbol, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Debug("decision already in flight, skipping signal")
		} else {
			log.Warn("lock acquisition failed", slog.String("error", err.Error()))
		}
		return
	}
	defer unlock()

	snap, err := deps.Snapshots.Snapshot(ctx, sig.Symbol)
	if err != nil {
		log.Warn("snapshot unavailable", slog.String("error", err.Error()))
		return
	}
	equity, err := deps.Equity.Equity(ctx)
	if err != nil {
		log.Warn("equity unavailable", slog.String("error", err.Error()))
		return
	}

	alignment := make(timeframe.Alignment, len(sig.Alignment))
	for tf, side := range sig.Alignment {
		alignment[tf] = domain.Side(strings.ToUpper(side))
	}

	req := decision.Request{
		Symbol:      sig.Symbol,
		Side:        domain.Side(strings.ToUpper(sig.Side)),
		Snapshot:    snap,
		Alignment:   alignment,
		Equity:      equity,
		CandleClose: time.Unix(sig.CandleClose, 0).UTC(),
		Attempt:     sig.Attempt,
		Conviction:  sig.Conviction,
	}

	started := time.Now()
	var d domain.Decision
	if dry {
		d = deps.Orchestrator.DryRun(ctx, req)
	} else {
		d = deps.Orchestrator.Decide(ctx, req)
	}

	a.recordDecision(ctx, deps, d, time.Since(started))
}

// recordDecision fans a completed decision out to every sink. Sink failures
// are logged but never affect the decision itself.
func (a *App) recordDecision(ctx context.Context, deps *Dependencies, d domain.Decision, elapsed time.Duration) {
	log := a.logger.With(
		slog.String("symbol", d.Symbol),
		slog.String("decision_key", d.DecisionKey),
	)

	metrics.ObserveDecision(d.Symbol, string(d.Outcome), elapsed)
	if d.Guards != nil {
		for _, name := range d.Guards.FailedNames() {
			metrics.GuardFailuresTotal.WithLabelValues(name).Inc()
		}
	}
	for _, tr := range d.Transitions {
		metrics.StateTransitionsTotal.WithLabelValues(string(tr.To)).Inc()
	}

	if err := deps.DecisionStore.Save(ctx, d); err != nil {
		log.Error("persisting decision failed", slog.String("error", err.Error()))
	}

	if payload, err := json.Marshal(decisionEvent(d)); err == nil {
		if err := deps.Bus.Publish(ctx, "decisions", payload); err != nil {
			log.Warn("publishing decision failed", slog.String("error", err.Error()))
		}
		if err := deps.Bus.StreamAppend(ctx, "decisions:log", payload); err != nil {
			log.Warn("appending decision to stream failed", slog.String("error", err.Error()))
		}
	}

	if err := deps.Notifier.NotifyDecision(ctx, d); err != nil {
		log.Warn("decision notification failed", slog.String("error", err.Error()))
	}

	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveDecision(ctx, d); err != nil {
			log.Warn("archiving decision evidence failed", slog.String("error", err.Error()))
		}
	}
}

// decisionEvent is the compact JSON shape published to consumers.
func decisionEvent(d domain.Decision) map[string]any {
	ev := map[string]any{
		"decision_key": d.DecisionKey,
		"symbol":       d.Symbol,
		"timeframe":    d.Timeframe,
		"outcome":      string(d.Outcome),
		"reason":       d.Reason,
		"dry_run":      d.DryRun,
		"created_at":   d.CreatedAt.Format(time.RFC3339),
	}
	if d.Plan != nil {
		ev["quantity"] = d.Plan.Quantity
		ev["leverage"] = d.Plan.Leverage
		ev["entry_price"] = d.Plan.EntryPrice
	}
	return ev
}

// watchesSymbol reports whether the symbol is in the configured watch list.
func (a *App) watchesSymbol(symbol string) bool {
	for _, s := range a.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
