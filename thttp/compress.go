package thttp

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// Compress is a middleware that gzip- or deflate-encodes responses for
// clients accepting it. Do not install it on websocket endpoints.
func Compress(next http.Handler) http.Handler {
	return handlers.CompressHandler(next)
}
