package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// KeyWatcher reloads an RSAVerifier's public key when the PEM file on disk
// changes, so key rotation needs no process restart. A file that fails to
// parse is logged and skipped; the previous key keeps serving.
type KeyWatcher struct {
	path     string
	verifier *RSAVerifier
	watcher  *fsnotify.Watcher
	logger   *observability.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewKeyWatcher starts watching the key file. The watch is on the parent
// directory: editors and Kubernetes secret mounts replace the file rather
// than writing it in place, which silently drops a watch set on the file
// itself.
func NewKeyWatcher(path string, verifier *RSAVerifier, logger *observability.Logger) (*KeyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	kw := &KeyWatcher{
		path:     path,
		verifier: verifier,
		watcher:  watcher,
		logger:   logger.WithField("component", "key_watcher"),
		done:     make(chan struct{}),
	}
	go kw.loop()
	return kw, nil
}

func (kw *KeyWatcher) loop() {
	for {
		select {
		case event, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(kw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			kw.reload()
		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
			kw.logger.WithError(err).Warn("key watcher error")
		case <-kw.done:
			return
		}
	}
}

func (kw *KeyWatcher) reload() {
	pemBytes, err := os.ReadFile(kw.path)
	if err != nil {
		kw.logger.WithError(err).WithField("path", kw.path).Error("failed to read key file")
		return
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		kw.logger.WithError(err).WithField("path", kw.path).Error("failed to parse key file, keeping previous key")
		return
	}
	kw.verifier.SetKey(key)
	kw.logger.WithField("path", kw.path).Info("verification key reloaded")
}

// Close stops the watcher. Safe to call more than once.
func (kw *KeyWatcher) Close() error {
	var err error
	kw.closeOnce.Do(func() {
		close(kw.done)
		err = kw.watcher.Close()
	})
	return err
}

// NewVerifierWithRotation builds the verifier stack like NewVerifier and,
// when an RSA key file is among the configured sources, watches that file
// for rotation. The returned watcher is nil when nothing is watched.
func NewVerifierWithRotation(cfg Config, logger *observability.Logger) (TokenVerifier, *KeyWatcher, error) {
	verifier, err := NewVerifier(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	rsaVerifier := findRSAVerifier(verifier)
	if rsaVerifier == nil || cfg.RSAPublicKeyFile == "" {
		return verifier, nil, nil
	}
	kw, err := NewKeyWatcher(cfg.RSAPublicKeyFile, rsaVerifier, logger)
	if err != nil {
		return nil, nil, err
	}
	return verifier, kw, nil
}

func findRSAVerifier(v TokenVerifier) *RSAVerifier {
	switch t := v.(type) {
	case *RSAVerifier:
		return t
	case *multiVerifier:
		for _, sub := range t.verifiers {
			if rsaVerifier, ok := sub.(*RSAVerifier); ok {
				return rsaVerifier
			}
		}
	}
	return nil
}
