// Package server is the pistonen command: a static file HTTP server on the
// reactor, with optional TLS, certificate hot reload and an admin surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/admin"
	"github.com/ridge/pistonen/credentials"
	"github.com/ridge/pistonen/reactor"
	"github.com/ridge/pistonen/run"
	"github.com/ridge/pistonen/telemetry"
	"github.com/ridge/pistonen/thttp"
	"github.com/ridge/pistonen/tlog"
	"github.com/ridge/pistonen/tnet"
	"github.com/ridge/pistonen/transport"
	"github.com/ridge/pistonen/tws"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	passphraseEnv = "PISTONEN_TLS_KEY_PASSPHRASE"

	// feedHistory is the number of lifecycle events /events replays
	feedHistory = 1024
)

// Config contains the server parameters
type Config struct {
	// Reactor configures the listener. Its Transport and Observer fields
	// are filled by Run.
	Reactor reactor.Options

	// TLS enables TLS with the certificate and key in these files
	TLS *credentials.Files

	// Offload hands TLS sessions to the kernel after the handshake
	Offload bool

	// OpenSSL runs TLS through OpenSSL instead of crypto/tls
	OpenSSL bool

	// Root is the directory files are served from
	Root string

	// Admin serves the admin surface when not nil
	Admin net.Listener

	// Listening is called with the address the reactor is bound to
	Listening func(addr *net.TCPAddr)
}

// Main handles the command line and runs the server
func Main(args []string) {
	run.Server(func(ctx context.Context) error {
		opts := reactor.DefaultOptions()
		var certFile, keyFile, passphrase, adminAddr, backend string
		var offload bool
		config := Config{}

		pflag.StringVar(&opts.Host, "host", opts.Host, "address to listen on")
		pflag.IntVar(&opts.Port, "port", opts.Port, "port to listen on (0 picks a free one)")
		pflag.DurationVar(&opts.IdleTimeout, "timeout", opts.IdleTimeout, "idle connection timeout")
		pflag.IntVar(&opts.Backlog, "backlog", opts.Backlog, "listen queue length")
		pflag.DurationVar(&opts.TCPUserTimeout, "tcp-user-timeout", 0, "drop connections whose sent data stays unacknowledged this long")
		pflag.StringVar(&certFile, "tls-cert", "", "TLS certificate chain file (enables TLS)")
		pflag.StringVar(&keyFile, "tls-key", "", "TLS private key file")
		pflag.StringVar(&passphrase, "tls-key-passphrase", os.Getenv(passphraseEnv), "TLS private key passphrase (default $"+passphraseEnv+")")
		pflag.BoolVar(&offload, "ktls", false, "hand TLS 1.3 sessions to the kernel after the handshake; others stay in userspace")
		pflag.StringVar(&backend, "tls-backend", "crypto", "TLS implementation: crypto (Go) or openssl (cgo builds)")
		pflag.StringVar(&config.Root, "root", ".", "directory to serve files from")
		pflag.StringVar(&adminAddr, "admin", "", "admin HTTP address, e.g. localhost:9090 or unix:/run/pistonen.sock")
		if err := pflag.CommandLine.Parse(args[1:]); err != nil {
			return usageError{err}
		}

		switch {
		case certFile != "" && keyFile == "", certFile == "" && keyFile != "":
			return usageError{errors.New("--tls-cert and --tls-key go together")}
		case offload && certFile == "":
			return usageError{errors.New("--ktls requires --tls-cert and --tls-key")}
		case backend != "crypto" && backend != "openssl":
			return usageError{fmt.Errorf("unknown TLS backend %q", backend)}
		case backend == "openssl" && offload:
			return usageError{errors.New("--ktls is not available with --tls-backend=openssl")}
		}
		if certFile != "" {
			config.TLS = &credentials.Files{CertFile: certFile, KeyFile: keyFile, Passphrase: []byte(passphrase)}
			config.Offload = offload
			config.OpenSSL = backend == "openssl"
		}
		if adminAddr != "" {
			l, err := tnet.Listen(adminAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on admin address %s: %w", adminAddr, err)
			}
			config.Admin = l
		}
		config.Reactor = opts

		return Run(ctx, config)
	})
}

type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func (e usageError) Unwrap() error {
	return e.err
}

func (e usageError) ExitCode() int {
	return 2
}

// Run runs the server until ctx is closed
func Run(ctx context.Context, config Config) error {
	logger := tlog.Get(ctx)

	if info, err := os.Stat(config.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("document root %q is not a directory", config.Root)
	}

	metrics, err := telemetry.New()
	if err != nil {
		return err
	}
	defer func() {
		if err := metrics.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to shut down metrics", zap.Error(err))
		}
	}()
	registry := admin.NewRegistry()
	feed := admin.NewFeed(feedHistory)

	opts := config.Reactor
	opts.Observer = reactor.Observers{metrics, registry, feed}

	var store *credentials.Store
	if config.TLS != nil {
		store, err = credentials.NewStore(*config.TLS)
		if err != nil {
			return err
		}
		opts.Transport = transport.Config{TLS: store.TLSConfig(), Offload: config.Offload}
		if config.OpenSSL {
			if opts.Transport.OpenSSL, err = transport.NewOpenSSL(opts.Transport.TLS); err != nil {
				return err
			}
		}
	}

	r, err := reactor.New(ctx, opts, static{root: config.Root}.serve)
	if err != nil {
		return err
	}
	if config.Listening != nil {
		config.Listening(r.Addr())
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("reactor", parallel.Fail, r.Run)
		if store != nil {
			spawn("credentials", parallel.Fail, store.Watch)
		}
		if config.Admin != nil {
			handler := admin.Handler(admin.Config{
				Metrics:   metrics,
				Registry:  registry,
				Feed:      feed,
				WebSocket: tws.DefaultConfig,
			})
			spawn("admin", parallel.Fail, thttp.NewServer(config.Admin, thttp.StandardMiddleware(handler)).Run)
		}
		return nil
	})
}
