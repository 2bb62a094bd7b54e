package transport

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ridge/pistonen/ioop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"time"
)

func TestPlainReadStates(t *testing.T) {
	fd, client := tcpPair(t)
	p := NewPlain(fd)

	buf := make([]byte, 64)
	n, res := p.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, ioop.Suspended(ioop.Readable), res)

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)

	s := &pollSuspender{fd: fd}
	op := ioop.NewReadOp(p, buf)
	require.NoError(t, ioop.Drive(s, op, func() bool { return false }))
	assert.Equal(t, "hello", string(op.Filled()))
	assert.Equal(t, 59, op.Remaining())

	require.NoError(t, client.Close())
	s.Suspend(ioop.Readable)
	_, res = p.Read(buf)
	assert.Equal(t, ioop.Error, res.State)
	assert.ErrorIs(t, res.Err, ioop.ErrPeerClosed)
}

func TestPlainWriteSuspendsWhenFull(t *testing.T) {
	fd, _ := tcpPair(t)
	p := NewPlain(fd)

	chunk := make([]byte, 1<<16)
	var res ioop.Result
	for i := 0; i < 10000; i++ {
		_, res = p.Write(chunk)
		if res.State != ioop.HasNext {
			break
		}
	}
	assert.Equal(t, ioop.Suspended(ioop.Writable), res)
}

func TestPlainWriteWhole(t *testing.T) {
	fd, client := tcpPair(t)

	payload := make([]byte, 4<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	received := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(client)
		received <- data
	}()

	s := &pollSuspender{fd: fd}
	require.NoError(t, ioop.Drive(s, ioop.NewWriteOp(NewPlain(fd), payload), nil))
	require.NoError(t, unix.Shutdown(fd, unix.SHUT_WR))

	select {
	case data := <-received:
		assert.Equal(t, payload, data)
	case <-time.After(10 * time.Second):
		t.Fatal("payload not received")
	}
}

func TestPlainSendFile(t *testing.T) {
	fd, client := tcpPair(t)
	p := NewPlain(fd)

	path := filepath.Join(t.TempDir(), "index.html")
	content := []byte("<html>sendfile</html>")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	s := &pollSuspender{fd: fd}
	op := ioop.NewSendFileOp(p, int(f.Fd()), 6, int64(len(content)-6))
	require.NoError(t, ioop.Drive(s, op, nil))
	assert.Equal(t, int64(len(content)), op.Offset())

	got := make([]byte, len(content)-6)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, "sendfile</html>", string(got))
}

func TestPlainHandshake(t *testing.T) {
	p := NewPlain(-1)
	assert.Equal(t, ioop.Progress, p.Handshake())
	assert.Nil(t, p.Session())
	assert.True(t, p.ZeroCopy())
	assert.Equal(t, KindPlain, p.Kind())
}
