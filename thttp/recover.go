package thttp

import (
	"net/http"
	"runtime/debug"

	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/tlog"
	"go.uber.org/zap"
)

// Recover is a middleware that answers 500 when a handler panics, logs the
// panic with its stack and makes the enclosing Server shut down with the
// panic as its error
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			err := parallel.ErrPanic{Value: p, Stack: debug.Stack()}
			tlog.Get(r.Context()).Error("HTTP handler panicked", zap.Error(err), zap.ByteString("stack", err.Stack))
			w.WriteHeader(http.StatusInternalServerError)

			if panics, ok := r.Context().Value(panicKey).(chan error); ok {
				select {
				case panics <- err:
				default:
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}
