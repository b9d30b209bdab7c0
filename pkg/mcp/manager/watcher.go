// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadFunc produces the configuration to apply after a file change.
type LoadFunc func() (Config, error)

// WatcherConfig configures provider-file hot reload.
type WatcherConfig struct {
	Path       string
	Load       LoadFunc
	DebounceMs int
	Logger     *zap.Logger
	// OnReload is called after each reload attempt (optional)
	OnReload func(err error)
}

// Watcher reloads the registry when the provider file changes.
type Watcher struct {
	manager *Manager
	config  WatcherConfig
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	debounceMu sync.Mutex
	timer      *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher for config.Path. Load defaults to reading the
// file with LoadConfigFile.
func NewWatcher(m *Manager, config WatcherConfig) (*Watcher, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.DebounceMs == 0 {
		config.DebounceMs = 500
	}
	if config.Load == nil {
		path := config.Path
		config.Load = func() (Config, error) { return LoadConfigFile(path) }
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		manager: m,
		config:  config,
		logger:  config.Logger,
		watcher: w,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file by rename are seen.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.config.Path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("Started provider config watcher",
		zap.String("path", w.config.Path),
		zap.Int("debounce_ms", w.config.DebounceMs))

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	target := filepath.Clean(w.config.Path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) debounce(ctx context.Context) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	delay := time.Duration(w.config.DebounceMs) * time.Millisecond
	w.timer = time.AfterFunc(delay, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.config.Load()
	if err == nil {
		err = w.manager.Reload(ctx, cfg)
	}
	if err != nil {
		w.logger.Error("Provider config reload failed, keeping current providers",
			zap.String("path", w.config.Path),
			zap.Error(err))
	}
	if w.config.OnReload != nil {
		w.config.OnReload(err)
	}
}

// Stop ends the watch loop and releases the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()

		w.debounceMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.debounceMu.Unlock()
	})
	return err
}
