package transport

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"time"
)

// echoOnce completes the handshake, reads one message and writes it back
func echoOnce(t *testing.T, tr Transport, s ioop.Suspender) {
	require.NoError(t, ioop.Drive(s, ioop.NewHandshakeOp(tr), nil))

	buf := make([]byte, 1024)
	op := ioop.NewReadOp(tr, buf)
	require.NoError(t, ioop.Drive(s, op, func() bool { return false }))
	require.NoError(t, ioop.Drive(s, ioop.NewWriteOp(tr, op.Filled()), nil))
}

func TestTLSEcho(t *testing.T) {
	cert := test.NewCertificate(t)
	fd, raw := tcpPair(t)

	s := &pollSuspender{fd: fd}
	tr := NewTLS(fd, s, cert.ServerConfig())
	assert.Nil(t, tr.Session())

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoOnce(t, tr, s)
	}()

	client := tls.Client(raw, cert.ClientConfig())
	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))
	<-done

	session := tr.Session()
	require.NotNil(t, session)
	assert.True(t, session.HandshakeComplete)
	assert.Equal(t, uint16(tls.VersionTLS13), session.Version)
	assert.False(t, tr.ZeroCopy())
	assert.Contains(t, s.suspends, ioop.Readable)
	assert.NotZero(t, s.touches)

	require.NoError(t, tr.Close())
	_, err = client.Read(reply)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTLSHandshakeRejected(t *testing.T) {
	cert := test.NewCertificate(t)
	fd, raw := tcpPair(t)

	s := &pollSuspender{fd: fd}
	tr := NewTLS(fd, s, cert.ServerConfig())

	result := make(chan error, 1)
	go func() {
		result <- ioop.Drive(s, ioop.NewHandshakeOp(tr), nil)
	}()

	// the client does not trust the certificate and aborts with an alert
	client := tls.Client(raw, &tls.Config{ServerName: "localhost"})
	assert.Error(t, client.Handshake())

	err := <-result
	require.Error(t, err)
	fields := ErrorFields(err)
	require.Len(t, fields, 2)
	assert.Equal(t, zap.Uint8("tlsAlert", 42), fields[0]) // bad_certificate
	assert.Equal(t, zap.String("tlsAlertSide", "remote"), fields[1])
}

func TestTLSPeerClosed(t *testing.T) {
	cert := test.NewCertificate(t)
	fd, raw := tcpPair(t)

	s := &pollSuspender{fd: fd}
	tr := NewTLS(fd, s, cert.ServerConfig())

	result := make(chan error, 1)
	go func() {
		if err := ioop.Drive(s, ioop.NewHandshakeOp(tr), nil); err != nil {
			result <- err
			return
		}
		result <- ioop.Drive(s, ioop.NewReadOp(tr, make([]byte, 16)), nil)
	}()

	client := tls.Client(raw, cert.ClientConfig())
	require.NoError(t, client.Handshake())
	require.NoError(t, client.Close())

	assert.ErrorIs(t, <-result, ioop.ErrPeerClosed)
}

// gatedConn holds back reads until the gate opens
type gatedConn struct {
	net.Conn
	gate <-chan struct{}
}

func (c gatedConn) Read(p []byte) (int, error) {
	<-c.gate
	return c.Conn.Read(p)
}

// writeSignaller opens a gate the first time a write is suspended
type writeSignaller struct {
	*pollSuspender
	once sync.Once
	gate chan struct{}
}

func (s *writeSignaller) Suspend(interest ioop.Interest) {
	if interest == ioop.Writable {
		s.once.Do(func() { close(s.gate) })
	}
	s.pollSuspender.Suspend(interest)
}

func TestTLSHandshakeSuspendsInBothDirections(t *testing.T) {
	cert := test.NewCertificate(t)

	// a server flight far larger than the socket buffers of both ends
	chain := make([][]byte, 100)
	for i := range chain {
		chain[i] = cert.TLS.Certificate[0]
	}
	config := &tls.Config{Certificates: []tls.Certificate{{Certificate: chain, PrivateKey: cert.TLS.PrivateKey}}}

	fd, raw := dialPair(t, &net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)
			})
			if err != nil {
				return err
			}
			return serr
		},
	})
	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	s := &writeSignaller{pollSuspender: &pollSuspender{fd: fd}, gate: make(chan struct{})}
	tr := NewTLS(fd, s, config)
	timer := time.AfterFunc(5*time.Second, func() { s.once.Do(func() { close(s.gate) }) })
	defer timer.Stop()

	result := make(chan error, 1)
	go func() {
		result <- ioop.Drive(s, ioop.NewHandshakeOp(tr), nil)
	}()

	client := tls.Client(gatedConn{Conn: raw, gate: s.gate}, cert.ClientConfig())
	require.NoError(t, client.Handshake())
	require.NoError(t, <-result)

	// the flight stalls on a full socket, then the server waits for the
	// client's Finished
	firstWrite := -1
	for i, interest := range s.suspends {
		if interest == ioop.Writable {
			firstWrite = i
			break
		}
	}
	require.NotEqual(t, -1, firstWrite, "suspends: %v", s.suspends)
	assert.Contains(t, s.suspends[firstWrite+1:], ioop.Readable)
	assert.True(t, tr.Session().HandshakeComplete)
}
