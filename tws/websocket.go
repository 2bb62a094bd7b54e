// Package tws runs WebSocket sessions as functions exchanging messages over
// channels
package tws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/tlog"
	"github.com/ridge/pistonen/tnet"
	"go.uber.org/zap"
	"time"
)

// Config is the WebSocket configuration
type Config struct {
	// HandshakeTimeout bounds the protocol upgrade
	HandshakeTimeout time.Duration

	// TCPTimeout drops the connection when sent data stays unacknowledged
	// this long; 0 keeps the kernel default
	TCPTimeout time.Duration

	// PingInterval is the period of pings; 0 disables them
	PingInterval time.Duration

	// RequirePong disconnects when a pong does not arrive within
	// PingInterval
	RequirePong bool

	// CheckOrigin returns true if the request Origin header is acceptable.
	// Server-only.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig is the default Config value
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,
	TCPTimeout:       30 * time.Second,
	PingInterval:     30 * time.Second,
	RequirePong:      true,
}

// Message is a WebSocket data message
type Message struct {
	Binary bool
	Data   []byte
}

// SessionFn implements a WebSocket interaction. It receives messages from
// incoming and sends them to outgoing. The incoming channel and ctx are
// closed when the connection closes; returning closes the connection.
type SessionFn func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error

// Serve upgrades the request to WebSocket and runs the session. The
// session context derives from the request context.
func Serve(w http.ResponseWriter, r *http.Request, config Config, sessionFn SessionFn) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      config.CheckOrigin,
	}
	logger := tlog.Get(r.Context())

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has answered the request
		logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	if err := tnet.TuneConn(ws.UnderlyingConn(), tnet.TuneConfig{UserTimeout: config.TCPTimeout}); err != nil {
		ws.Close()
		logger.Warn("Failed to serve WebSocket connection", zap.Error(err))
		return
	}

	err = run(r.Context(), ws, config, sessionFn)
	logger.Debug("WebSocket disconnected", zap.Error(err))
}

// Dial connects to a WebSocket server and runs the session
func Dial(ctx context.Context, url string, config Config, sessionFn SessionFn) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := tnet.TuneConn(conn, tnet.TuneConfig{UserTimeout: config.TCPTimeout}); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		HandshakeTimeout: config.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("failed to establish WebSocket connection to %s (%s): %w", url, resp.Status, err)
		}
		return fmt.Errorf("failed to establish WebSocket connection to %s: %w", url, err)
	}
	return run(tlog.With(ctx, zap.String("url", url)), ws, config, sessionFn)
}

func run(ctx context.Context, ws *websocket.Conn, config Config, sessionFn SessionFn) error {
	tlog.Get(ctx).Debug("WebSocket established")

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		var unanswered atomic.Int64
		incoming := make(chan Message)
		outgoing := make(chan Message)

		if config.RequirePong {
			ws.SetPongHandler(func(string) error {
				unanswered.Add(-1)
				return nil
			})
		}

		spawn("session", parallel.Continue, func(ctx context.Context) error {
			defer close(outgoing)
			return sessionFn(ctx, incoming, outgoing)
		})

		spawn("receiver", parallel.Continue, func(ctx context.Context) error {
			defer close(incoming)
			for {
				mt, data, err := ws.ReadMessage()
				switch {
				case ctx.Err() != nil:
					return ctx.Err()
				case err != nil:
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) {
						return nil
					}
					return err
				case mt != websocket.TextMessage && mt != websocket.BinaryMessage:
					return fmt.Errorf("unexpected WebSocket message type %d", mt)
				}
				select {
				case incoming <- Message{Binary: mt == websocket.BinaryMessage, Data: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})

		// the connection supports one writer at a time, so pings and
		// messages share this goroutine
		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			var ticks <-chan time.Time
			if config.PingInterval != 0 {
				ticker := time.NewTicker(config.PingInterval)
				defer ticker.Stop()
				ticks = ticker.C
			}
			for {
				select {
				case msg, ok := <-outgoing:
					if !ok {
						err := ws.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						if errors.Is(err, websocket.ErrCloseSent) {
							return nil
						}
						return err
					}
					messageType := websocket.TextMessage
					if msg.Binary {
						messageType = websocket.BinaryMessage
					}
					if err := ws.WriteMessage(messageType, msg.Data); err != nil {
						return err
					}
				case <-ticks:
					if config.RequirePong && unanswered.Add(1) > 1 {
						return errors.New("WebSocket ping timeout")
					}
					if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
						return err
					}
				}
			}
		})

		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			if err := ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return ctx.Err()
		})

		return nil
	})
}

// WithWSScheme changes http to ws and https to wss
func WithWSScheme(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		panic("no scheme in address")
	}
	return strings.Replace(addr, "http", "ws", 1)
}
