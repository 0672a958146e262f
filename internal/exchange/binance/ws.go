package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookTicker is a top-of-book update from the bookTicker stream.
type BookTicker struct {
	Symbol  string
	BidPx   float64
	BidQty  float64
	AskPx   float64
	AskQty  float64
	EventAt time.Time
}

// MarkPriceUpdate is a mark/index/funding update from the markPrice stream.
type MarkPriceUpdate struct {
	Symbol      string
	MarkPrice   float64
	IndexPrice  float64
	FundingRate float64
	EventAt     time.Time
}

// BookTickerHandler is called for every top-of-book update.
type BookTickerHandler func(BookTicker)

// MarkPriceHandler is called for every mark price update.
type MarkPriceHandler func(MarkPriceUpdate)

// wsCommand is the subscribe/unsubscribe request frame.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// WSClient is a WebSocket client for the futures market data streams. It
// manages the connection lifecycle, subscriptions, and dispatches messages to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool
	nextID int64

	// Stream names to restore on reconnect.
	subscriptions []string

	bookHandlers []BookTickerHandler
	markHandlers []MarkPriceHandler
	handlerMu    sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given endpoint, e.g.
// "wss://fstream.binance.com/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores any tracked
// subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendCommand("SUBSCRIBE", w.subscriptions); err != nil {
			return fmt.Errorf("binance/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// SubscribeSymbols subscribes to the bookTicker and markPrice streams for the
// given symbols.
func (w *WSClient) SubscribeSymbols(ctx context.Context, symbols []string) error {
	streams := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@bookTicker", lower+"@markPrice@1s")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	if err := w.sendCommand("SUBSCRIBE", streams); err != nil {
		return fmt.Errorf("binance/ws: subscribe: %w", err)
	}

	// Track for reconnection.
	w.subscriptions = append(w.subscriptions, streams...)
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnBookTicker registers a handler for top-of-book updates.
func (w *WSClient) OnBookTicker(handler BookTickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnMarkPrice registers a handler for mark price updates.
func (w *WSClient) OnMarkPrice(handler MarkPriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.markHandlers = append(w.markHandlers, handler)
}

// sendCommand sends a subscribe/unsubscribe frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(method string, streams []string) error {
	w.nextID++
	cmd := wsCommand{Method: method, Params: streams, ID: w.nextID}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream event and routes it by event type.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Event {
	case "bookTicker":
		var msg struct {
			Symbol string `json:"s"`
			BidPx  string `json:"b"`
			BidQty string `json:"B"`
			AskPx  string `json:"a"`
			AskQty string `json:"A"`
			Time   int64  `json:"E"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		tick := BookTicker{
			Symbol:  msg.Symbol,
			BidPx:   parseFloat(msg.BidPx),
			BidQty:  parseFloat(msg.BidQty),
			AskPx:   parseFloat(msg.AskPx),
			AskQty:  parseFloat(msg.AskQty),
			EventAt: time.UnixMilli(msg.Time),
		}

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tick)
		}

	case "markPriceUpdate":
		var msg struct {
			Symbol      string `json:"s"`
			MarkPrice   string `json:"p"`
			IndexPrice  string `json:"i"`
			FundingRate string `json:"r"`
			Time        int64  `json:"E"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		update := MarkPriceUpdate{
			Symbol:      msg.Symbol,
			MarkPrice:   parseFloat(msg.MarkPrice),
			IndexPrice:  parseFloat(msg.IndexPrice),
			FundingRate: parseFloat(msg.FundingRate),
			EventAt:     time.UnixMilli(msg.Time),
		}

		w.handlerMu.RLock()
		handlers := w.markHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(update)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
