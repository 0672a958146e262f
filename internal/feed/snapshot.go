package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pivox/tradingV3-sub003/internal/domain"
	"github.com/pivox/tradingV3-sub003/internal/exchange/binance"
)

// contractRefreshInterval bounds how often contract metadata and leverage
// brackets are re-fetched from the REST API.
const contractRefreshInterval = time.Hour

// symbolState is the latest websocket-derived market state for one symbol.
type symbolState struct {
	bid, bidQty float64
	ask, askQty float64
	bookAt      time.Time

	mark, index, funding float64
	markAt               time.Time
}

// Tracker holds the most recent book and mark price state per symbol. It is
// written by the websocket feed and read by the snapshot source.
type Tracker struct {
	mu    sync.RWMutex
	state map[string]*symbolState
	now   func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state: make(map[string]*symbolState),
		now:   time.Now,
	}
}

// ApplyBookTicker records a top-of-book update.
func (t *Tracker) ApplyBookTicker(tick binance.BookTicker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensure(tick.Symbol)
	s.bid, s.bidQty = tick.BidPx, tick.BidQty
	s.ask, s.askQty = tick.AskPx, tick.AskQty
	s.bookAt = tick.EventAt
	if s.bookAt.IsZero() {
		s.bookAt = t.now()
	}
}

// ApplyMarkPrice records a mark/index/funding update.
func (t *Tracker) ApplyMarkPrice(update binance.MarkPriceUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ensure(update.Symbol)
	s.mark, s.index, s.funding = update.MarkPrice, update.IndexPrice, update.FundingRate
	s.markAt = update.EventAt
	if s.markAt.IsZero() {
		s.markAt = t.now()
	}
}

// ensure returns the state for a symbol, creating it. Caller must hold t.mu.
func (t *Tracker) ensure(symbol string) *symbolState {
	s, ok := t.state[symbol]
	if !ok {
		s = &symbolState{}
		t.state[symbol] = s
	}
	return s
}

// book returns a copy of the symbol state, or false when the symbol has
// never received a book update.
func (t *Tracker) book(symbol string) (symbolState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.state[symbol]
	if !ok || s.bookAt.IsZero() {
		return symbolState{}, false
	}
	return *s, true
}

// ContractSource supplies instrument trading rules and leverage brackets.
// The REST client implements it.
type ContractSource interface {
	QueryContract(ctx context.Context, symbol string) (domain.ContractMeta, error)
	QueryLeverageBrackets(ctx context.Context, symbol string) ([]domain.LeverageBracket, error)
	QueryDepth(ctx context.Context, symbol string) (float64, error)
}

// cachedContract is contract metadata with its fetch time.
type cachedContract struct {
	meta      domain.ContractMeta
	brackets  []domain.LeverageBracket
	fetchedAt time.Time
}

// SnapshotSource assembles fresh MarketSnapshots from the tracker, the
// indicator source, and REST-fetched contract metadata. Contract metadata
// changes rarely and is cached with a refresh interval; everything else is
// read live per call.
type SnapshotSource struct {
	tracker    *Tracker
	contracts  ContractSource
	indicators domain.IndicatorSource
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedContract
}

// NewSnapshotSource creates a SnapshotSource.
func NewSnapshotSource(tracker *Tracker, contracts ContractSource, indicators domain.IndicatorSource, logger *slog.Logger) *SnapshotSource {
	return &SnapshotSource{
		tracker:    tracker,
		contracts:  contracts,
		indicators: indicators,
		logger:     logger.With(slog.String("component", "snapshot_source")),
		now:        time.Now,
		cache:      make(map[string]cachedContract),
	}
}

// Snapshot builds the current market snapshot for one symbol. It fails when
// the tracker has not yet seen a book update for the symbol; a decision must
// never run against invented prices.
func (s *SnapshotSource) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	state, ok := s.tracker.book(symbol)
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("feed: no market data received yet for %s", symbol)
	}

	ind, err := s.indicators.Indicators(ctx, symbol)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed: loading indicators for %s: %w", symbol, err)
	}

	contract, err := s.contract(ctx, symbol)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	depth := state.bid*state.bidQty + state.ask*state.askQty
	if rest, err := s.contracts.QueryDepth(ctx, symbol); err == nil && rest > depth {
		depth = rest
	}

	snap := domain.MarketSnapshot{
		Symbol:      symbol,
		LastPrice:   (state.bid + state.ask) / 2,
		BestBid:     state.bid,
		BestAsk:     state.ask,
		MarkPrice:   state.mark,
		IndexPrice:  state.index,
		DepthUSD:    depth,
		VWAP:        ind.VWAP,
		ATR1m:       ind.ATR1m,
		ATR5m:       ind.ATR5m,
		RSI14:       ind.RSI14,
		VolumeRatio: ind.VolumeRatio,
		FundingRate: state.funding,
		UpdatedAt:   state.bookAt,
		Contract:    contract.meta,
		Brackets:    contract.brackets,
	}
	if mid := snap.Mid(); mid > 0 && state.ask > state.bid {
		snap.SpreadBps = (state.ask - state.bid) / mid * 10_000
	}
	return snap, nil
}

// contract returns cached contract metadata, refreshing it from the REST API
// when missing or older than the refresh interval.
func (s *SnapshotSource) contract(ctx context.Context, symbol string) (cachedContract, error) {
	s.mu.Lock()
	cached, ok := s.cache[symbol]
	s.mu.Unlock()

	if ok && s.now().Sub(cached.fetchedAt) < contractRefreshInterval {
		return cached, nil
	}

	meta, err := s.contracts.QueryContract(ctx, symbol)
	if err != nil {
		if ok {
			// Keep serving the stale copy rather than blocking decisions.
			s.logger.WarnContext(ctx, "contract refresh failed, using cached",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return cachedContract{}, fmt.Errorf("feed: loading contract for %s: %w", symbol, err)
	}
	brackets, err := s.contracts.QueryLeverageBrackets(ctx, symbol)
	if err != nil {
		if ok {
			return cached, nil
		}
		return cachedContract{}, fmt.Errorf("feed: loading leverage brackets for %s: %w", symbol, err)
	}

	fresh := cachedContract{meta: meta, brackets: brackets, fetchedAt: s.now()}
	s.mu.Lock()
	s.cache[symbol] = fresh
	s.mu.Unlock()
	return fresh, nil
}
