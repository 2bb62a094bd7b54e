// Package credentials loads the server's TLS certificate and key from PEM
// files and keeps them current when the files change on disk.
package credentials

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// ErrPassphrase is returned when an encrypted key cannot be decrypted
var ErrPassphrase = errors.New("wrong or missing key passphrase")

// Files names the TLS material on disk
type Files struct {
	// CertFile holds the certificate chain, leaf first
	CertFile string

	// KeyFile holds the private key: PKCS#1, SEC 1 or PKCS#8, optionally
	// encrypted
	KeyFile string

	// Passphrase decrypts an encrypted key
	Passphrase []byte
}

// Load reads and validates the certificate chain and its private key
func Load(files Files) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(files.CertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(files.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
	}
	return Parse(certPEM, keyPEM, files.Passphrase)
}

// Parse builds a certificate from PEM-encoded chain and key
func Parse(certPEM, keyPEM, passphrase []byte) (tls.Certificate, error) {
	var cert tls.Certificate
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, errors.New("no certificate found in PEM data")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	cert.Leaf = leaf

	key, err := parseKey(keyPEM, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}
	if !publicKeyMatches(leaf.PublicKey, key) {
		return tls.Certificate{}, errors.New("private key does not match certificate")
	}
	cert.PrivateKey = key
	return cert, nil
}

func parseKey(keyPEM, passphrase []byte) (crypto.Signer, error) {
	for rest := keyPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no private key found in PEM data")
		}

		var key any
		var err error
		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(passphrase) == 0 {
				return nil, ErrPassphrase
			}
			key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPassphrase, err)
			}
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "RSA PRIVATE KEY", "EC PRIVATE KEY":
			der := block.Bytes
			if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // traditional OpenSSL encryption
				if len(passphrase) == 0 {
					return nil, ErrPassphrase
				}
				der, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrPassphrase, err)
				}
			}
			if block.Type == "RSA PRIVATE KEY" {
				key, err = x509.ParsePKCS1PrivateKey(der)
			} else {
				key, err = x509.ParseECPrivateKey(der)
			}
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
}

func publicKeyMatches(pub crypto.PublicKey, key crypto.Signer) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return pub.(equaler).Equal(key.Public())
	default:
		return false
	}
}
