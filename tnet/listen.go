package tnet

import (
	"context"
	"net"
	"strings"

	"github.com/ridge/must/v2"
	"time"
)

var lc = net.ListenConfig{
	KeepAlive: 3 * time.Minute,
}

// Listen installs a runtime-managed listener on the specified address. It
// serves the auxiliary HTTP surfaces; connections handled by the reactor are
// accepted from ListenTCP instead.
//
// A "unix:" prefix selects a UNIX domain socket at the path that follows,
// "tcp:" or no prefix selects a TCP socket with keep-alive enabled.
func Listen(address string) (net.Listener, error) {
	network := "tcp"
	if proto, rest, ok := strings.Cut(address, ":"); ok {
		switch proto {
		case "unix":
			network, address = "unix", rest
		case "tcp":
			address = rest
		}
	}
	return lc.Listen(context.Background(), network, address)
}

// ListenOnRandomPort installs a TCP listener on a random local port
func ListenOnRandomPort() net.Listener {
	return must.OK1(Listen("localhost:"))
}
