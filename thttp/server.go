package thttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/tlog"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"time"
)

const gracefulShutdownTimeout = 5 * time.Second

// Server serves HTTP/1.1 and cleartext HTTP/2 on a listener
type Server struct {
	listener net.Listener
	handler  http.Handler
	inflight sync.WaitGroup
}

// NewServer creates a Server
func NewServer(listener net.Listener, handler http.Handler) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
	}
}

type panicKeyType int

const panicKey panicKeyType = iota

// Run serves requests until ctx is closed or a handler panics, then shuts
// down gracefully for up to gracefulShutdownTimeout
func (s *Server) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		panics := make(chan error, 1)
		ctx = context.WithValue(ctx, panicKey, panics)
		ctx = tlog.With(ctx, zap.Stringer("httpServer", s.listener.Addr()))
		logger := tlog.Get(ctx)

		// requests outlive ctx by the shutdown grace period
		reqCtx, reqCancel := context.WithCancel(context.WithoutCancel(ctx))
		defer reqCancel()

		server := &http.Server{
			Handler:           h2c.NewHandler(s.track(s.handler), &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          must.OK1(zap.NewStdLogAt(logger, zap.WarnLevel)),
			BaseContext:       func(net.Listener) context.Context { return reqCtx },
			ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
				return tlog.With(ctx, zap.Stringer("remoteAddr", conn.RemoteAddr()))
			},
		}

		spawn("serve", parallel.Fail, func(ctx context.Context) error {
			logger.Info("Serving requests")
			err := server.Serve(s.listener)
			// ErrServerClosed means Shutdown was called
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		})

		spawn("panics", parallel.Fail, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-panics:
				return err
			}
		})

		spawn("shutdown", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(reqCtx, gracefulShutdownTimeout)
			defer cancel()
			defer server.Close()

			if err := server.Shutdown(shutdownCtx); err != nil && shutdownCtx.Err() != nil {
				logger.Info("Shutdown canceled", zap.Error(err))
				return err
			}

			// hijacked connections, websockets included, watch reqCtx
			reqCancel()
			s.inflight.Wait()

			logger.Info("Shutdown complete")
			return ctx.Err()
		})

		return nil
	})
}

// ListenAddr returns the local address of the server's listener
func (s *Server) ListenAddr() net.Addr {
	return s.listener.Addr()
}

// track keeps shutdown waiting for running handlers, including those that
// hijacked their connection
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		next.ServeHTTP(w, r)
	})
}

// Wrap installs a number of middleware on HTTP handler. The first
// middleware listed will be the first one to see the request.
func Wrap(handler http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// StandardMiddleware logs every request and turns handler panics into a 500
// response followed by server shutdown
func StandardMiddleware(next http.Handler) http.Handler {
	return Log(Recover(next))
}
