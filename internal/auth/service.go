// Package auth guards the medialink HTTP API with access keys read from
// access_keys.json in the config directory. With no keys configured the API
// is open.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeysFileName is the access key file inside the config directory.
const KeysFileName = "access_keys.json"

// AccessKey is one named client credential.
type AccessKey struct {
	Key     string `json:"key"`
	Created string `json:"created,omitempty"`
	// Disabled keys stay in the file but no longer authenticate.
	Disabled bool `json:"disabled,omitempty"`
}

// Service holds the current access keys and reloads them when the file
// changes.
type Service struct {
	mu        sync.RWMutex
	configDir string
	keys      map[string]AccessKey
	watcher   *fsnotify.Watcher
}

// NewService loads the keys in configDir and starts watching the file.
func NewService(configDir string) (*Service, error) {
	s := &Service{
		configDir: configDir,
		keys:      make(map[string]AccessKey),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher

	keysPath := s.keysPath()
	if err := watcher.Add(filepath.Dir(keysPath)); err != nil {
		slog.Warn("auth: could not watch config dir", "err", err)
	}

	go s.watchLoop(keysPath)
	return s, nil
}

func (s *Service) keysPath() string {
	return filepath.Join(s.configDir, KeysFileName)
}

// Reload re-reads the key file. A missing file clears every key.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.keysPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.keys = make(map[string]AccessKey)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var keys map[string]AccessKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if keys == nil {
		keys = make(map[string]AccessKey)
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Debug("auth: reloaded access keys", "count", len(keys))
	return nil
}

// IsOpenMode reports whether no enabled key is configured.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Key != "" && !k.Disabled {
			return false
		}
	}
	return true
}

// Verify returns the name of the enabled key matching key, comparing in
// constant time.
func (s *Service) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, k := range s.keys {
		if k.Disabled || k.Key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop(keysPath string) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != keysPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload access keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
