package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/pkg/types"
)

// debounceDelay coalesces bursts of filesystem events (editors often write
// a config file several times in quick succession).
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the configuration when a config file changes on disk.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onChange  func(*types.Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewWatcher creates a watcher over the global config directory and the
// project directory (plus its .kiln/ subdirectory). onChange receives the
// freshly loaded configuration after every reload.
func NewWatcher(directory string, onChange func(*types.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".kiln"))
	}

	watching := 0
	for _, dir := range dirs {
		// Missing directories are fine, the others still get watched.
		if err := w.Add(dir); err == nil {
			watching++
		}
	}
	if watching == 0 {
		w.Close()
		return nil, nil
	}

	logging.Debug().Int("dirs", watching).Msg("config watcher initialized")

	return &Watcher{
		watcher:   w,
		directory: directory,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				timerCh = timer.C
			} else {
				timer.Reset(debounceDelay)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	config, err := Load(w.directory)
	if err != nil {
		logging.Error().Err(err).Msg("config reload failed")
		return
	}
	logging.Info().Msg("configuration reloaded")
	w.onChange(config)
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range fileNames {
		if base == name {
			return true
		}
	}
	return false
}
