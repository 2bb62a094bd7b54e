package thttp

import (
	"net/http"

	"github.com/ridge/pistonen/tlog"
	"go.uber.org/zap"
	"time"
)

// Log is a middleware that logs before and after handling of each request
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx := tlog.With(r.Context(),
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("proto", r.Proto),
		)
		logger := tlog.Get(ctx)
		logger.Debug("HTTP request handling started")

		var res Captured
		next.ServeHTTP(Capture(w, &res), r.WithContext(ctx))
		logger.Debug("HTTP request handling ended",
			zap.Int("statusCode", res.Status),
			zap.Int64("bytes", res.Bytes),
			zap.Duration("elapsed", time.Since(started)))
	})
}
