package transport

import (
	"crypto/tls"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKTLSEcho(t *testing.T) {
	cert := test.NewCertificate(t)
	fd, raw := tcpPair(t)

	s := &pollSuspender{fd: fd}
	tr := NewKTLS(fd, s, cert.ServerConfig(), zaptest.NewLogger(t))
	assert.Equal(t, KindKTLS, tr.Kind())
	assert.False(t, tr.ZeroCopy())

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoOnce(t, tr, s)
	}()

	client := tls.Client(raw, cert.ClientConfig())
	// handshake and first record in one flight: nothing may be read past
	// the client's Finished before the keys reach the kernel
	_, err := client.Write([]byte("hello kernel"))
	require.NoError(t, err)
	reply := make([]byte, 12)
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	assert.Equal(t, "hello kernel", string(reply))
	<-done

	session := tr.Session()
	require.NotNil(t, session)
	assert.Equal(t, uint16(tls.VersionTLS13), session.Version)
	if !tr.Offloaded() {
		t.Log("kernel TLS is not available, exercised the userspace fallback")
		return
	}
	assert.True(t, tr.ZeroCopy())

	// after offload, sendfile output is encrypted by the kernel
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte("zero-copy"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, ioop.Drive(s, ioop.NewSendFileOp(tr, int(f.Fd()), 0, 9), nil))

	got := make([]byte, 9)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, "zero-copy", string(got))
}

func TestKTLSKeepsTLS12InUserspace(t *testing.T) {
	cert := test.NewCertificate(t)
	fd, raw := tcpPair(t)

	s := &pollSuspender{fd: fd}
	tr := NewKTLS(fd, s, cert.ServerConfig(), zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoOnce(t, tr, s)
	}()

	cfg := cert.ClientConfig()
	cfg.MaxVersion = tls.VersionTLS12
	client := tls.Client(raw, cfg)
	_, err := client.Write([]byte("legacy"))
	require.NoError(t, err)
	reply := make([]byte, 6)
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(reply))
	<-done

	session := tr.Session()
	require.NotNil(t, session)
	assert.Equal(t, uint16(tls.VersionTLS12), session.Version)
	assert.False(t, tr.Offloaded())
	assert.False(t, tr.ZeroCopy())
}
