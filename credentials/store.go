package credentials

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/ridge/pistonen/retry"
	"github.com/ridge/pistonen/tlog"
	"go.uber.org/zap"
	"time"
)

// reloadRetry covers files caught halfway through being rewritten
var reloadRetry = retry.ExpConfig{
	Min:         50 * time.Millisecond,
	Max:         2 * time.Second,
	Scale:       2,
	MaxAttempts: 8,
}

// Store holds the current certificate and hands it to TLS handshakes
type Store struct {
	files Files
	cert  atomic.Pointer[tls.Certificate]
}

// NewStore loads the certificate. Failing to load it is fatal.
func NewStore(files Files) (*Store, error) {
	s := &Store{files: files}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the certificate with the current contents of the files.
// The previous certificate stays in use if loading fails.
func (s *Store) Reload() error {
	cert, err := Load(s.files)
	if err != nil {
		return err
	}
	s.cert.Store(&cert)
	return nil
}

// Certificate returns the certificate in use
func (s *Store) Certificate() *tls.Certificate {
	return s.cert.Load()
}

// GetCertificate implements tls.Config.GetCertificate
func (s *Store) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.cert.Load(), nil
}

// TLSConfig returns a server configuration presenting the stored
// certificate. Connections accepted after a reload see the new certificate.
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.GetCertificate,
		NextProtos:     []string{"http/1.1"},
	}
}

// Watch reloads the certificate whenever the directories holding the files
// change, until ctx is closed
func (s *Store) Watch(ctx context.Context) error {
	logger := tlog.Get(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch TLS files: %w", err)
	}
	defer w.Close()

	dirs := map[string]bool{}
	for _, file := range []string{s.files.CertFile, s.files.KeyFile} {
		dir := filepath.Dir(file)
		if dirs[dir] {
			continue
		}
		// directories survive atomic replacement of the files
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("TLS files changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			err := retry.Do(ctx, reloadRetry, func() error {
				return retry.Retriable(s.Reload())
			})
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				logger.Warn("Failed to reload TLS certificate, keeping the previous one", zap.Error(err))
			default:
				logger.Info("TLS certificate reloaded", zap.Time("notAfter", s.Certificate().Leaf.NotAfter))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Error watching TLS files", zap.Error(err))
		}
	}
}
