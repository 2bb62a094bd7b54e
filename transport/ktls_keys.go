package transport

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// Kernel crypto_info constants from <linux/tls.h>
const (
	kernelTLS13Version = 0x0304

	kernelCipherAESGCM128        = 51
	kernelCipherAESGCM256        = 52
	kernelCipherChaCha20Poly1305 = 54
)

const (
	labelClientTraffic = "CLIENT_TRAFFIC_SECRET_0"
	labelServerTraffic = "SERVER_TRAFFIC_SECRET_0"
)

// kernelSuite describes how a TLS 1.3 cipher suite maps onto the kernel's
// crypto_info layout: header, iv, key, salt, rec_seq
type kernelSuite struct {
	cipher  uint16
	keyLen  int
	saltLen int // leading bytes of the 12-byte TLS 1.3 IV passed as salt
	hash    func() hash.Hash
}

var kernelSuites = map[uint16]kernelSuite{
	tls.TLS_AES_128_GCM_SHA256:       {cipher: kernelCipherAESGCM128, keyLen: 16, saltLen: 4, hash: sha256.New},
	tls.TLS_AES_256_GCM_SHA384:       {cipher: kernelCipherAESGCM256, keyLen: 32, saltLen: 4, hash: sha512.New384},
	tls.TLS_CHACHA20_POLY1305_SHA256: {cipher: kernelCipherChaCha20Poly1305, keyLen: 32, saltLen: 0, hash: sha256.New},
}

const tls13IVLen = 12

// cryptoInfo derives the record protection key and IV from a traffic
// secret and serializes them in the kernel's crypto_info layout
func (ks kernelSuite) cryptoInfo(secret []byte, seq uint64) []byte {
	key := expandLabel(ks.hash, secret, "key", ks.keyLen)
	iv := expandLabel(ks.hash, secret, "iv", tls13IVLen)

	info := make([]byte, 0, 4+tls13IVLen+ks.keyLen+8)
	info = binary.NativeEndian.AppendUint16(info, kernelTLS13Version)
	info = binary.NativeEndian.AppendUint16(info, ks.cipher)
	info = append(info, iv[ks.saltLen:]...)
	info = append(info, key...)
	info = append(info, iv[:ks.saltLen]...)
	info = binary.BigEndian.AppendUint64(info, seq)
	return info
}

// expandLabel is HKDF-Expand-Label from RFC 8446 section 7.1 with an empty
// context
func expandLabel(h func() hash.Hash, secret []byte, label string, length int) []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(length))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 " + label))
	})
	b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {})

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(h, secret, b.BytesOrPanic()), out); err != nil {
		panic(fmt.Errorf("HKDF expansion of %d bytes failed: %w", length, err))
	}
	return out
}

// keyLog collects the secrets crypto/tls reports through
// tls.Config.KeyLogWriter for a single connection
type keyLog struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

func (kl *keyLog) Write(p []byte) (int, error) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if kl.secrets == nil {
		kl.secrets = map[string][]byte{}
	}
	sc := bufio.NewScanner(bytes.NewReader(p))
	for sc.Scan() {
		fields := bytes.Fields(sc.Bytes())
		if len(fields) != 3 {
			continue
		}
		secret, err := hex.AppendDecode(nil, fields[2])
		if err != nil {
			return 0, fmt.Errorf("malformed key log line: %w", err)
		}
		kl.secrets[string(fields[0])] = secret
	}
	return len(p), nil
}

func (kl *keyLog) secret(label string) ([]byte, bool) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s, ok := kl.secrets[label]
	return s, ok
}

// errNotOffloadable means the negotiated session has no kernel record layer
// counterpart; the connection stays in userspace
var errNotOffloadable = errors.New("session cannot be offloaded")

// offloadConfig derives the per-connection TLS configuration used for
// connections that may be offloaded: no session tickets (so the server
// sends no records after the handshake and both sequence numbers start at
// zero) and secrets reported to the connection's key log. Versions are left
// as configured; sessions below TLS 1.3 stay in userspace.
func offloadConfig(base *tls.Config, kl *keyLog) *tls.Config {
	config := base.Clone()
	config.SessionTicketsDisabled = true
	config.KeyLogWriter = kl
	return config
}

// kernelParams computes the transmit and receive crypto_info blobs for a
// freshly negotiated server-side session
func kernelParams(state tls.ConnectionState, kl *keyLog) (tx []byte, rx []byte, err error) {
	if state.Version != tls.VersionTLS13 {
		return nil, nil, fmt.Errorf("%w: negotiated %s, offload requires TLS 1.3", errNotOffloadable, tls.VersionName(state.Version))
	}
	ks, ok := kernelSuites[state.CipherSuite]
	if !ok {
		return nil, nil, fmt.Errorf("%w: cipher suite %s", errNotOffloadable, tls.CipherSuiteName(state.CipherSuite))
	}
	server, ok := kl.secret(labelServerTraffic)
	if !ok {
		return nil, nil, fmt.Errorf("missing %s", labelServerTraffic)
	}
	client, ok := kl.secret(labelClientTraffic)
	if !ok {
		return nil, nil, fmt.Errorf("missing %s", labelClientTraffic)
	}
	return ks.cryptoInfo(server, 0), ks.cryptoInfo(client, 0), nil
}
