package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertReloader holds a certificate key pair and reloads it when either
// file changes.
type CertReloader struct {
	certFile string
	keyFile  string
	settle   time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCertReloader loads the key pair. A nil logger uses slog.Default.
func NewCertReloader(certFile, keyFile string, logger *slog.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CertReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		settle:   200 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair from disk. On error the previous certificate
// stays in use.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Start watches the directories of both files. Editors and cert managers
// often replace files by rename, which a watch on the file itself misses.
func (r *CertReloader) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	r.watcher = w

	r.wg.Add(1)
	go r.loop()
	r.logger.Info("certificate watcher started",
		"cert_file", r.certFile,
		"key_file", r.keyFile)
	return nil
}

func (r *CertReloader) loop() {
	defer r.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Cert and key are usually rewritten together; wait for both.
			if timer == nil {
				timer = time.NewTimer(r.settle)
			} else {
				timer.Reset(r.settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("certificate reload failed",
					"cert_file", r.certFile,
					"error", err)
				continue
			}
			r.logger.Info("certificate reloaded", "cert_file", r.certFile)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("certificate watcher error", "error", err)
		case <-r.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Stop ends watching. It is safe to call without Start.
func (r *CertReloader) Stop() error {
	select {
	case <-r.done:
		return nil
	default:
		close(r.done)
	}
	r.wg.Wait()
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
