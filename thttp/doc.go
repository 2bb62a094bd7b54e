// Package thttp runs HTTP servers under a context.
//
// Server serves until the context passed to Run is closed, then shuts down
// gracefully. Handlers see request contexts derived from that context, so
// they carry its logger, but those contexts stay open for the shutdown
// grace period. Cleartext HTTP/2 (h2c) is accepted alongside HTTP/1.1.
//
//	router := mux.NewRouter()
//	router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
//	server := thttp.NewServer(listener, thttp.Wrap(router, thttp.StandardMiddleware))
//	spawn("http", parallel.Fail, server.Run)
//
// A middleware takes an http.Handler and returns one wrapping it. Wrap
// applies several so that the first listed sees the request first.
// StandardMiddleware is Log followed by Recover; install it first.
//
// In handlers, log through the request context logger:
//
//	logger := tlog.Get(r.Context())
//
// It carries httpServer and remoteAddr fields, plus method, url and proto
// when Log is installed. Do not log internal errors explicitly: panic, and
// Recover logs the error with its stack, answers 500 and stops the server.
package thttp
