package pistonen

import (
	"context"

	"github.com/ridge/pistonen/reactor"
)

// Run serves connections with handler until ctx is closed.
//
// Setup failures (the address is in use, epoll is unavailable) are returned
// immediately. Otherwise Run returns the error of the closed context after
// every live connection has been destroyed.
func Run(ctx context.Context, opts reactor.Options, handler reactor.Handler) error {
	r, err := reactor.New(ctx, opts, handler)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}
