package transport

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandLabel(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5a}, 32)

	key := expandLabel(sha256.New, secret, "key", 16)
	iv := expandLabel(sha256.New, secret, "iv", 12)
	assert.Len(t, key, 16)
	assert.Len(t, iv, 12)
	assert.NotEqual(t, key[:12], iv)
	assert.Equal(t, key, expandLabel(sha256.New, secret, "key", 16))

	// the output length is part of the HKDF info, so a longer expansion is
	// not an extension of a shorter one
	assert.NotEqual(t, key, expandLabel(sha256.New, secret, "key", 32)[:16])
}

func TestCryptoInfoLayout(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 48)
	for suiteID, ks := range kernelSuites {
		t.Run(tls.CipherSuiteName(suiteID), func(t *testing.T) {
			info := ks.cryptoInfo(secret, 7)
			require.Len(t, info, 4+12+ks.keyLen+8)

			assert.Equal(t, uint16(kernelTLS13Version), binary.NativeEndian.Uint16(info[0:]))
			assert.Equal(t, ks.cipher, binary.NativeEndian.Uint16(info[2:]))

			ivLen := 12 - ks.saltLen
			iv := expandLabel(ks.hash, secret, "iv", 12)
			key := expandLabel(ks.hash, secret, "key", ks.keyLen)

			off := 4
			assert.Equal(t, iv[ks.saltLen:], info[off:off+ivLen])
			off += ivLen
			assert.Equal(t, key, info[off:off+ks.keyLen])
			off += ks.keyLen
			assert.Equal(t, iv[:ks.saltLen], info[off:off+ks.saltLen])
			off += ks.saltLen
			assert.Equal(t, uint64(7), binary.BigEndian.Uint64(info[off:]))
		})
	}
}

func TestKeyLog(t *testing.T) {
	kl := &keyLog{}
	random := bytes.Repeat([]byte{0xab}, 32)
	server := bytes.Repeat([]byte{1}, 32)
	client := bytes.Repeat([]byte{2}, 32)

	for _, line := range []string{
		fmt.Sprintf("%s %x %x\n", "SERVER_HANDSHAKE_TRAFFIC_SECRET", random, client),
		fmt.Sprintf("%s %x %x\n", labelServerTraffic, random, server),
		fmt.Sprintf("%s %x %x\n", labelClientTraffic, random, client),
	} {
		n, err := kl.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}

	got, ok := kl.secret(labelServerTraffic)
	require.True(t, ok)
	assert.Equal(t, server, got)

	_, err := kl.Write([]byte("CLIENT_RANDOM zz zz\n"))
	assert.Error(t, err)
}

func TestKernelParams(t *testing.T) {
	kl := &keyLog{}
	state := tls.ConnectionState{Version: tls.VersionTLS13, CipherSuite: tls.TLS_AES_128_GCM_SHA256}

	_, _, err := kernelParams(state, kl)
	assert.ErrorContains(t, err, labelServerTraffic)

	_, err = kl.Write([]byte(fmt.Sprintf("%s 00 %x\n%s 00 %x\n",
		labelServerTraffic, bytes.Repeat([]byte{1}, 32), labelClientTraffic, bytes.Repeat([]byte{2}, 32))))
	require.NoError(t, err)

	tx, rx, err := kernelParams(state, kl)
	require.NoError(t, err)
	assert.Len(t, tx, 40)
	assert.Len(t, rx, 40)
	assert.NotEqual(t, tx, rx)

	_, _, err = kernelParams(tls.ConnectionState{Version: tls.VersionTLS12, CipherSuite: tls.TLS_AES_128_GCM_SHA256}, kl)
	assert.ErrorIs(t, err, errNotOffloadable)

	_, _, err = kernelParams(tls.ConnectionState{Version: tls.VersionTLS13, CipherSuite: tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, kl)
	assert.ErrorIs(t, err, errNotOffloadable)
}

func TestOffloadConfig(t *testing.T) {
	base := &tls.Config{MinVersion: tls.VersionTLS12}
	kl := &keyLog{}
	config := offloadConfig(base, kl)
	assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
	assert.Zero(t, config.MaxVersion)
	assert.True(t, config.SessionTicketsDisabled)
	assert.Same(t, kl, config.KeyLogWriter)
	assert.Equal(t, uint16(tls.VersionTLS12), base.MinVersion)
	assert.Nil(t, base.KeyLogWriter)
}
