package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file on change and notifies a callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onReload func(*Config)

	mu   sync.Mutex
	done chan struct{}
}

// NewWatcher watches path for writes and invokes onReload with the freshly
// loaded config. The watch covers the containing directory so editors that
// replace the file atomically are still seen.
func NewWatcher(path string, logger zerolog.Logger, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		path:     path,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		onReload: onReload,
		done:     make(chan struct{}),
	}

	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Error().Err(err).Msg("Config reload failed")
					continue
				}
				w.logger.Info().Str("path", w.path).Msg("Config reloaded")
				if w.onReload != nil {
					w.onReload(cfg)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
