package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

const defaultLiveDataWSURL = "wss://ws-live-data.polymarket.com/"

const (
	// defaultPongWait is how long a quiet connection stays trusted. Pings go
	// out every defaultPingPeriod; a peer that answers none of them inside
	// the window is treated as gone.
	defaultPongWait   = 90 * time.Second
	defaultPingPeriod = 30 * time.Second
)

// TradeHandler receives each matched trade for a watched wallet.
type TradeHandler func(trade models.Trade)

// StatusHandler receives connection status changes. false means the socket
// dropped; the owner decides whether to reconnect.
type StatusHandler func(connected bool)

// StreamClient consumes the Polymarket live-data feed over one WebSocket
// connection per Connect call. It does not reconnect on its own: when the
// read loop dies it reports the drop and stops, leaving the reconnect policy
// to the caller.
type StreamClient struct {
	url  string
	log  *zap.Logger
	conn *websocket.Conn
	// connMu guards conn; gorilla connections do not allow concurrent writers.
	connMu sync.Mutex

	onTrade  TradeHandler
	onStatus StatusHandler

	watched   map[string]bool
	watchedMu sync.RWMutex

	// keepalive tuning, shortened in tests
	pongWait   time.Duration
	pingPeriod time.Duration

	closed  bool
	closeMu sync.Mutex
	doneCh  chan struct{}
}

// NewStreamClient creates a live feed client. Handlers must be set before
// Connect.
func NewStreamClient(url string, log *zap.Logger) *StreamClient {
	if url == "" {
		url = defaultLiveDataWSURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		url:        url,
		log:        log.Named("stream"),
		watched:    make(map[string]bool),
		pongWait:   defaultPongWait,
		pingPeriod: defaultPingPeriod,
	}
}

// SetHandlers installs the trade and status callbacks.
func (c *StreamClient) SetHandlers(onTrade TradeHandler, onStatus StatusHandler) {
	c.onTrade = onTrade
	c.onStatus = onStatus
}

// Watch replaces the set of wallet addresses whose trades are delivered.
// Trades from other wallets are dropped client-side.
func (c *StreamClient) Watch(wallets []string) {
	c.watchedMu.Lock()
	defer c.watchedMu.Unlock()
	c.watched = make(map[string]bool, len(wallets))
	for _, w := range wallets {
		c.watched[utils.NormalizeAddress(w)] = true
	}
	c.log.Info("watching wallets", zap.Int("count", len(c.watched)))
}

// Connect dials the feed, subscribes to matched orders, and starts the read
// loop. Returns an error if the dial or subscription fails; after a
// successful return the status handler fires with connected=true.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return fmt.Errorf("stream client closed")
	}
	c.doneCh = make(chan struct{})
	c.closeMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, _, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", models.ErrTransport, c.url, err)
	}

	subMsg := map[string]interface{}{
		"action": "subscribe",
		"subscriptions": []map[string]interface{}{
			{"topic": "activity", "type": "orders_matched"},
		},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		conn.Close()
		return fmt.Errorf("%w: subscribe: %v", models.ErrTransport, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.log.Info("connected", zap.String("url", c.url))
	if c.onStatus != nil {
		c.onStatus(true)
	}

	go c.readLoop(ctx, conn)
	go c.pingLoop(conn, c.doneCh)
	return nil
}

// readLoop consumes the feed until the first read error. A gorilla connection
// is unusable after any read error, deadline expiries included, so every error
// ends the loop; the ping/pong keepalive is what keeps a healthy-but-quiet
// connection from ever reaching the deadline.
func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.doneCh)

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.closeMu.Lock()
			closed := c.closed
			c.closeMu.Unlock()
			if !closed {
				c.log.Warn("read error, feed dropped", zap.Error(err))
				if c.onStatus != nil {
					c.onStatus(false)
				}
			}
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop keeps the connection alive while the feed is quiet. It stops when
// the read loop ends or the first ping write fails.
func (c *StreamClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *StreamClient) handleMessage(data []byte) {
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			ProxyWallet     string  `json:"proxyWallet"`
			Side            string  `json:"side"`
			Size            float64 `json:"size"`
			Price           float64 `json:"price"`
			Outcome         string  `json:"outcome"`
			Title           string  `json:"title"`
			Slug            string  `json:"slug"`
			TransactionHash string  `json:"transactionHash"`
			AssetID         string  `json:"asset_id"`
			Timestamp       int64   `json:"timestamp"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "orders_matched" {
		return
	}

	wallet := utils.NormalizeAddress(msg.Payload.ProxyWallet)

	c.watchedMu.RLock()
	watched := c.watched[wallet]
	c.watchedMu.RUnlock()
	if !watched {
		return
	}

	ts := msg.Payload.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	trade := models.Trade{
		TransactionHash: msg.Payload.TransactionHash,
		Wallet:          wallet,
		Asset:           msg.Payload.AssetID,
		Side:            msg.Payload.Side,
		Size:            msg.Payload.Size,
		Price:           msg.Payload.Price,
		UsdcSize:        msg.Payload.Size * msg.Payload.Price,
		Timestamp:       ts,
		Title:           msg.Payload.Title,
		Outcome:         msg.Payload.Outcome,
		Slug:            msg.Payload.Slug,
	}

	if c.onTrade != nil {
		c.onTrade(trade)
	}
}

// Disconnect closes the current connection without marking the client
// closed, so a later Connect can establish a fresh one.
func (c *StreamClient) Disconnect() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Close shuts the client down for good. Idempotent.
func (c *StreamClient) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	done := c.doneCh
	c.closeMu.Unlock()

	c.Disconnect()

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.log.Warn("shutdown timeout")
		}
	}
	c.log.Info("stopped")
}
