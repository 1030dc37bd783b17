// Package stream delivers live kline bars over a public websocket and
// maintains per-symbol rolling series for open subscriptions.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"journal-core/internal/domain"
	"journal-core/internal/numeric"
)

// streamIntervals maps core intervals to the exchange's kline topic
// codes (Bybit v5 convention).
var streamIntervals = map[domain.Interval]string{
	domain.Interval1m:  "1",
	domain.Interval5m:  "5",
	domain.Interval15m: "15",
	domain.Interval1h:  "60",
	domain.Interval4h:  "240",
	domain.Interval1d:  "D",
}

// BarEvent is one live kline update. Confirmed marks a closed bar; an
// unconfirmed event updates the still-forming bar at the same start time.
type BarEvent struct {
	Symbol    string
	Interval  domain.Interval
	Bar       domain.Candle
	Confirmed bool
}

// Topic builds the exchange kline topic for a symbol/interval pair.
func Topic(symbol string, interval domain.Interval) string {
	code, ok := streamIntervals[interval]
	if !ok {
		code = string(interval)
	}
	return fmt.Sprintf("kline.%s.%s", code, symbol)
}

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSClient streams kline topics from the exchange public websocket
// using gorilla/websocket. One channel is held per topic; subscribing
// to an already-open topic returns the existing channel. Delivery
// channels are never closed: teardown is signaled through a per-topic
// done channel so the read loop cannot race an Unsubscribe into a send
// on a closed channel. After Unsubscribe or Close, delivery simply
// stops; receivers must watch their own context.
type WSClient struct {
	endpoint string
	config   WSClientConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// subs maps topic to its delivery state; topics double as the
	// resubscription set after reconnect.
	subs   map[string]*topicSub
	subsMu sync.RWMutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool

	onReconnect func()
}

// topicSub is one open topic. done stops dispatch for this topic only;
// ch stays open so a dispatcher blocked on it can never hit a closed
// channel.
type topicSub struct {
	ch   chan BarEvent
	done chan struct{}
}

// NewWSClient creates a websocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		subs:     make(map[string]*topicSub),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// SetReconnectHook registers a callback invoked after every successful
// reconnect, before resubscription. Must be set before traffic starts.
func (c *WSClient) SetReconnectHook(fn func()) {
	c.onReconnect = fn
}

// connect establishes the WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe opens a kline topic for symbol/interval and returns its
// event channel. Re-subscribing to an open topic is a no-op returning
// the same channel.
func (c *WSClient) Subscribe(ctx context.Context, symbol string, interval domain.Interval) (<-chan BarEvent, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if _, ok := streamIntervals[interval]; !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	topic := Topic(symbol, interval)

	c.subsMu.Lock()
	if sub, ok := c.subs[topic]; ok {
		c.subsMu.Unlock()
		return sub.ch, nil
	}
	// Buffer absorbs bursts; delivery blocks rather than dropping bars.
	sub := &topicSub{
		ch:   make(chan BarEvent, 1024),
		done: make(chan struct{}),
	}
	c.subs[topic] = sub
	c.subsMu.Unlock()

	if err := c.writeOp(ctx, "subscribe", topic); err != nil {
		c.subsMu.Lock()
		delete(c.subs, topic)
		c.subsMu.Unlock()
		close(sub.done)
		return nil, err
	}

	return sub.ch, nil
}

// Unsubscribe stops delivery for a kline topic. The topic's delivery
// channel is left open; a dispatch blocked on it unblocks through the
// per-topic done signal. Unsubscribing an unknown topic is not an
// error.
func (c *WSClient) Unsubscribe(symbol string, interval domain.Interval) error {
	topic := Topic(symbol, interval)

	c.subsMu.Lock()
	sub, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	close(sub.done)

	if c.closed.Load() {
		return nil
	}
	return c.writeOp(context.Background(), "unsubscribe", topic)
}

// writeOp sends a subscribe/unsubscribe frame for one topic.
func (c *WSClient) writeOp(_ context.Context, op, topic string) error {
	req := wsRequest{Op: op, Args: []string{topic}}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}
	return nil
}

// Close closes the WebSocket connection and stops all topic delivery.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for topic, sub := range c.subs {
		close(sub.done)
		delete(c.subs, topic)
	}
	c.subsMu.Unlock()

	return nil
}

// readLoop reads messages from the WebSocket and dispatches to topic
// channels, reconnecting with exponential backoff on errors.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe to open topics.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if c.onReconnect != nil {
		c.onReconnect()
	}

	c.resubscribeAll()
}

// resubscribeAll replays subscribe frames for every open topic.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subsMu.RUnlock()

	for _, topic := range topics {
		if err := c.writeOp(context.Background(), "subscribe", topic); err != nil {
			// Failed topics recover on the next reconnect cycle
			continue
		}
	}
}

// handleMessage processes one incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	var push wsKlinePush
	if err := json.Unmarshal(message, &push); err != nil {
		return
	}
	if push.Topic == "" || len(push.Data) == 0 {
		// Op acks and pong frames carry no topic; nothing to dispatch.
		return
	}

	symbol, interval, ok := parseTopic(push.Topic)
	if !ok {
		return
	}

	c.subsMu.RLock()
	sub, subscribed := c.subs[push.Topic]
	c.subsMu.RUnlock()
	if !subscribed {
		return
	}

	for _, row := range push.Data {
		ev := BarEvent{
			Symbol:   symbol,
			Interval: interval,
			Bar: domain.Candle{
				Time:   row.Start,
				Open:   numeric.ParseFinite(row.Open),
				High:   numeric.ParseFinite(row.High),
				Low:    numeric.ParseFinite(row.Low),
				Close:  numeric.ParseFinite(row.Close),
				Volume: numeric.ParseFinite(row.Volume),
			},
			Confirmed: row.Confirm,
		}

		// Block until we can send - never drop bars. An Unsubscribe
		// racing this send unblocks it through sub.done.
		select {
		case sub.ch <- ev:
		case <-sub.done:
			return
		case <-c.done:
			return
		}
	}
}

// parseTopic splits "kline.{code}.{symbol}" back into its parts.
func parseTopic(topic string) (symbol string, interval domain.Interval, ok bool) {
	parts := strings.SplitN(topic, ".", 3)
	if len(parts) != 3 || parts[0] != "kline" || parts[2] == "" {
		return "", "", false
	}
	for iv, code := range streamIntervals {
		if code == parts[1] {
			return parts[2], iv, true
		}
	}
	return "", "", false
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteJSON(wsRequest{Op: "ping"}); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsKlinePush struct {
	Topic string         `json:"topic"`
	Type  string         `json:"type"`
	Data  []wsKlineEntry `json:"data"`
}

type wsKlineEntry struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}
