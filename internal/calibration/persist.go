package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"gpcmemory/internal/logging"
)

// =============================================================================
// WEIGHTS PERSISTENCE
// =============================================================================

// SaveWeights writes an adapted weight table to a YAML file so the
// external scoring formula picks it up on its next triage run. The
// write is atomic (temp file + rename).
func SaveWeights(path string, w *AdaptedWeights) error {
	if w == nil {
		return fmt.Errorf("weights are nil")
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create weights directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace weights file: %w", err)
	}
	logging.Calibration("Saved %d weights to %s", len(w.Weights), path)
	return nil
}

// LoadWeights reads a previously saved weight table. A missing file
// returns nil, nil so callers fall back to base weights.
func LoadWeights(path string) (*AdaptedWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var w AdaptedWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse weights file %s: %w", path, err)
	}
	return &w, nil
}

// =============================================================================
// WEIGHTS WATCHER
// =============================================================================

// WeightsWatcher reloads the weight file whenever the recalibration
// job rewrites it, and hands the fresh table to a callback. Writes
// are debounced since an atomic rename can surface as several events.
type WeightsWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onReload func(*AdaptedWeights)

	debounce  time.Duration
	lastEvent time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWeightsWatcher watches path and invokes onReload with each
// successfully parsed update.
func NewWeightsWatcher(path string, onReload func(*AdaptedWeights)) (*WeightsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &WeightsWatcher{
		watcher:  watcher,
		path:     path,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop.
func (ww *WeightsWatcher) Start() error {
	ww.mu.Lock()
	if ww.running {
		ww.mu.Unlock()
		return nil
	}
	ww.running = true
	ww.mu.Unlock()

	// Watch the directory, not the file: atomic renames replace the
	// inode and a file-level watch would go stale after one reload.
	dir := filepath.Dir(ww.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create weights directory: %w", err)
	}
	if err := ww.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go ww.run()
	logging.Calibration("Watching weights file: %s", ww.path)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (ww *WeightsWatcher) Stop() {
	ww.mu.Lock()
	if !ww.running {
		ww.mu.Unlock()
		return
	}
	ww.running = false
	ww.mu.Unlock()

	close(ww.stopCh)
	<-ww.doneCh
	if err := ww.watcher.Close(); err != nil {
		logging.Get(logging.CategoryCalibration).Error("Error closing weights watcher: %v", err)
	}
}

func (ww *WeightsWatcher) run() {
	defer close(ww.doneCh)

	for {
		select {
		case <-ww.stopCh:
			return

		case event, ok := <-ww.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(ww.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			ww.mu.Lock()
			recent := time.Since(ww.lastEvent) < ww.debounce
			ww.lastEvent = time.Now()
			ww.mu.Unlock()
			if recent {
				continue
			}
			ww.reload()

		case err, ok := <-ww.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCalibration).Error("Weights watcher error: %v", err)
		}
	}
}

func (ww *WeightsWatcher) reload() {
	w, err := LoadWeights(ww.path)
	if err != nil {
		logging.Get(logging.CategoryCalibration).Warn("Weights reload failed: %v", err)
		return
	}
	if w == nil {
		return
	}
	logging.CalibrationDebug("Weights reloaded: %d categories", len(w.Weights))
	if ww.onReload != nil {
		ww.onReload(w)
	}
}
