//go:build linux && !cgo

package transport

import (
	"crypto/tls"
	"errors"

	"github.com/ridge/pistonen/ioop"
)

// OpenSSL is unavailable in builds without cgo
type OpenSSL struct{}

// NewOpenSSL reports that the OpenSSL backend is not built in
func NewOpenSSL(*tls.Config) (*OpenSSL, error) {
	return nil, errors.New("OpenSSL backend requires a cgo build")
}

// NewSSL is never reached: no OpenSSL value can be constructed
func NewSSL(int, ioop.Suspender, *OpenSSL) Transport {
	panic("OpenSSL backend requires a cgo build")
}
