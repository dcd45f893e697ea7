package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// DefaultDebounce is the quiet period after a file event before reloading.
const DefaultDebounce = 500 * time.Millisecond

// KeyPair serves a certificate loaded from a cert and key file. After
// Watch, a change to either file reloads it; a pair that fails to load is
// logged and the previous one stays in use.
type KeyPair struct {
	certFile string
	keyFile  string
	debounce time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a KeyPair.
type Option func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *KeyPair) { k.logger = l }
}

// WithDebounce sets the reload quiet period.
func WithDebounce(d time.Duration) Option {
	return func(k *KeyPair) { k.debounce = d }
}

// LoadKeyPair loads the pair once.
func LoadKeyPair(certFile, keyFile string, opts ...Option) (*KeyPair, error) {
	k := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = logger.Discard()
	}
	if err := k.reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

// NotAfter returns the expiry of the current certificate.
func (k *KeyPair) NotAfter() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.cert.Leaf == nil {
		return time.Time{}
	}
	return k.cert.Leaf.NotAfter
}

// ServerConfig returns a server TLS config that always presents the
// current certificate.
func (k *KeyPair) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: k.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Watch starts reloading on file changes. The directories are watched so
// editors and tools that replace files by rename are seen.
func (k *KeyPair) Watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.ErrIO.WithDetails("create certificate watcher").WithCause(err)
	}
	dirs := map[string]bool{filepath.Dir(k.certFile): true, filepath.Dir(k.keyFile): true}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return domain.ErrIO.Detailf("watch %s", dir).WithCause(err)
		}
	}
	k.watcher = fw
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.run()
	}()
	k.logger.Info("certificate watcher started", "cert_file", k.certFile, "key_file", k.keyFile)
	return nil
}

// Stop ends Watch. It is safe to call more than once or without Watch.
func (k *KeyPair) Stop() error {
	var err error
	k.stopOnce.Do(func() {
		close(k.done)
		k.wg.Wait()
		if k.watcher != nil {
			err = k.watcher.Close()
		}
	})
	return err
}

func (k *KeyPair) run() {
	names := map[string]bool{filepath.Clean(k.certFile): true, filepath.Clean(k.keyFile): true}
	timer := time.NewTimer(k.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if !names[filepath.Clean(ev.Name)] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(k.debounce)
		case <-timer.C:
			if err := k.reload(); err != nil {
				k.logger.Error("certificate reload failed, keeping the previous one", "error", err)
			}
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			k.logger.Error("certificate watcher error", "error", err)
		case <-k.done:
			return
		}
	}
}

func (k *KeyPair) reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return domain.ErrConfiguration.Detailf("load key pair %s", k.certFile).WithCause(err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		cert.Leaf, _ = x509.ParseCertificate(cert.Certificate[0])
	}

	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()

	attrs := []any{"cert_file", k.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "not_after", cert.Leaf.NotAfter)
	}
	k.logger.Info("certificate loaded", attrs...)
	return nil
}
