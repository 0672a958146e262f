// Package feed maintains live market state from the exchange websocket
// streams and assembles per-decision market snapshots from it.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/exchange/binance"
	"github.com/pivox/tradingV3-sub003/internal/metrics"
)

// MarketFeed connects to the futures websocket, subscribes to the book and
// mark price streams for the configured symbols, and keeps a Tracker current.
// Reconnection is handled inside the websocket client.
type MarketFeed struct {
	wsURL     string
	symbols   []string
	tracker   *Tracker
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed for the given symbols.
func NewMarketFeed(wsURL string, symbols []string, tracker *Tracker, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:   wsURL,
		symbols: symbols,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "market_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled or Close is
// called. A failed initial connect is retried with a fixed delay.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *MarketFeed) runConnection(ctx context.Context) error {
	client := binance.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBookTicker(func(tick binance.BookTicker) {
		metrics.FeedUpdatesTotal.WithLabelValues("book_ticker").Inc()
		f.tracker.ApplyBookTicker(tick)
	})
	client.OnMarkPrice(func(update binance.MarkPriceUpdate) {
		metrics.FeedUpdatesTotal.WithLabelValues("mark_price").Inc()
		f.tracker.ApplyMarkPrice(update)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.SubscribeSymbols(ctx, f.symbols); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed", slog.Int("symbols", len(f.symbols)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
