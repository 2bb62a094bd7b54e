package transport

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/ridge/pistonen/ioop"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Socket options from <linux/tcp.h> and <linux/tls.h>
const (
	tcpULP = 31
	solTLS = 282
	tlsTX  = 1
	tlsRX  = 2
)

// errNoULP means the kernel refused the "tls" upper layer protocol, usually
// because the tls module is not loaded
var errNoULP = errors.New("kernel TLS is not available")

// KTLS negotiates TLS in userspace and then hands the record layer to the
// kernel. Until the handshake completes it behaves as TLS; afterwards the
// socket carries plaintext from the application's point of view.
type KTLS struct {
	fd     int
	tls    *TLS
	keys   *keyLog
	logger *zap.Logger

	// offloaded is set once the kernel owns the record layer
	offloaded *Plain
}

// NewKTLS returns a TLS transport that offloads to the kernel after the
// handshake
func NewKTLS(fd int, s ioop.Suspender, config *tls.Config, logger *zap.Logger) *KTLS {
	keys := &keyLog{}
	t := NewTLS(fd, s, offloadConfig(config, keys))
	t.raw.framed = true
	return &KTLS{fd: fd, tls: t, keys: keys, logger: logger}
}

// Handshake implements ioop.Handshaker
func (k *KTLS) Handshake() ioop.Result {
	if k.offloaded != nil {
		return ioop.Progress
	}
	res := k.tls.Handshake()
	if res.State != ioop.HasNext {
		return res
	}

	err := k.offload()
	switch {
	case err == nil:
		k.offloaded = NewPlain(k.fd)
		k.logger.Debug("TLS record layer offloaded to kernel")
		return ioop.Progress
	case errors.Is(err, errNotOffloadable):
		k.tls.raw.framed = false
		k.logger.Debug("TLS session stays in userspace", zap.Error(err))
		return ioop.Progress
	case errors.Is(err, errNoULP):
		k.tls.raw.framed = false
		k.logger.Warn("Kernel TLS unavailable, staying in userspace", zap.Error(err))
		return ioop.Progress
	default:
		return ioop.Failed(fmt.Errorf("failed to offload TLS to kernel: %w", err))
	}
}

func (k *KTLS) offload() error {
	tx, rx, err := kernelParams(k.tls.conn.ConnectionState(), k.keys)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptString(k.fd, unix.IPPROTO_TCP, tcpULP, "tls"); err != nil {
		return fmt.Errorf("%w: %w", errNoULP, err)
	}
	if err := unix.SetsockoptString(k.fd, solTLS, tlsTX, string(tx)); err != nil {
		return fmt.Errorf("failed to install transmit keys: %w", err)
	}
	if err := unix.SetsockoptString(k.fd, solTLS, tlsRX, string(rx)); err != nil {
		return fmt.Errorf("failed to install receive keys: %w", err)
	}
	return nil
}

// Offloaded tells whether the kernel has taken over the record layer
func (k *KTLS) Offloaded() bool {
	return k.offloaded != nil
}

// Read implements ioop.Reader
func (k *KTLS) Read(p []byte) (int, ioop.Result) {
	if k.offloaded != nil {
		return k.offloaded.Read(p)
	}
	return k.tls.Read(p)
}

// Write implements ioop.Writer
func (k *KTLS) Write(p []byte) (int, ioop.Result) {
	if k.offloaded != nil {
		return k.offloaded.Write(p)
	}
	return k.tls.Write(p)
}

// SendFile implements ioop.FileSender
func (k *KTLS) SendFile(in int, offset *int64, count int) (int, ioop.Result) {
	if k.offloaded != nil {
		return k.offloaded.SendFile(in, offset, count)
	}
	return k.tls.SendFile(in, offset, count)
}

// Kind implements Transport
func (k *KTLS) Kind() Kind {
	return KindKTLS
}

// Session implements Transport
func (k *KTLS) Session() *tls.ConnectionState {
	return k.tls.Session()
}

// ZeroCopy implements Transport
func (k *KTLS) ZeroCopy() bool {
	return k.offloaded != nil
}

// Close implements Transport. After offload the session lives in the
// kernel and is released together with the descriptor.
func (k *KTLS) Close() error {
	if k.offloaded != nil {
		return nil
	}
	return k.tls.Close()
}
