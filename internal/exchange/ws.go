// ws.go implements the authenticated fills WebSocket feed.
//
// The feed subscribes to the "fill" channel and pushes fill notifications
// between reconciliation polls so order state converges faster than the
// cycle interval. Poll-based reconciliation remains the source of truth:
// a dropped or duplicated WS message is corrected by the next cycle's
// cursor replay, so consumers treat feed events as hints, not facts.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes on reconnection. A read deadline (90s) ensures silent
// server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	fillBufferSize   = 64
)

// FillEvent is a fill notification from the fills channel.
type FillEvent struct {
	TradeID  string `json:"trade_id"`
	OrderID  string `json:"order_id"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Count    int    `json:"count"`
	YesPrice int    `json:"yes_price"`
	NoPrice  int    `json:"no_price"`
	Ts       int64  `json:"ts"`
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSubscribe struct {
	ID     int    `json:"id"`
	Cmd    string `json:"cmd"`
	Params struct {
		Channels []string `json:"channels"`
	} `json:"params"`
}

// FillsFeed maintains the authenticated fills WebSocket connection.
type FillsFeed struct {
	url    string
	auth   *Auth
	connMu sync.Mutex
	conn   *websocket.Conn

	fillCh chan FillEvent
	logger *slog.Logger
}

// NewFillsFeed creates the feed. Auth is required: the fills channel is
// account-scoped.
func NewFillsFeed(wsURL string, auth *Auth, logger *slog.Logger) *FillsFeed {
	return &FillsFeed{
		url:    wsURL,
		auth:   auth,
		fillCh: make(chan FillEvent, fillBufferSize),
		logger: logger.With("component", "ws_fills"),
	}
}

// Fills returns a read-only channel of fill notifications.
func (f *FillsFeed) Fills() <-chan FillEvent { return f.fillCh }

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *FillsFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// connectAndRead dials, subscribes, and reads until the connection dies
// or ctx is cancelled.
func (f *FillsFeed) connectAndRead(ctx context.Context) error {
	headers := http.Header{}
	authHeaders, err := f.auth.Headers(http.MethodGet, "/trade-api/ws/v2")
	if err != nil {
		return fmt.Errorf("ws auth: %w", err)
	}
	for k, v := range authHeaders {
		headers.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, headers)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer conn.Close()

	sub := wsSubscribe{ID: 1, Cmd: "subscribe"}
	sub.Params.Channels = []string{"fill"}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("fills feed connected")

	// Keep-alive pings; exits with the read loop via ctx.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if env.Type != "fill" {
			continue
		}

		var fill FillEvent
		if err := json.Unmarshal(env.Msg, &fill); err != nil {
			f.logger.Warn("undecodable fill message", "error", err)
			continue
		}

		select {
		case f.fillCh <- fill:
		default:
			// Consumer behind; the next reconciliation poll covers the gap.
			f.logger.Warn("fill channel full, dropping event", "trade_id", fill.TradeID)
		}
	}
}

func (f *FillsFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears down the current connection, unblocking the read loop.
func (f *FillsFeed) Close() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}
