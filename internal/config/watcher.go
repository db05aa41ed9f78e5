package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the new pipeline thresholds after a reload.
type ChangeHandler func(PipelineConfig)

// Watcher reloads the pipeline section of the config file when it changes
// on disk. Other sections need a restart.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[PipelineConfig]

	mu       sync.Mutex
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher starts watching path. initial is served until the first valid
// reload.
func NewWatcher(path string, initial PipelineConfig, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// editors replace files via rename, so watch the directory
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	w := &Watcher{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: fw,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.current.Store(&initial)
	go w.loop()
	logger.Info("Config watcher started", zap.String("path", w.path))
	return w, nil
}

// Pipeline returns the latest valid thresholds.
func (w *Watcher) Pipeline() PipelineConfig {
	return *w.current.Load()
}

// OnChange registers h to run after each successful reload.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Stop ends the watch loop.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// let rapid successive writes settle
			time.Sleep(50 * time.Millisecond)
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload rejected, keeping previous thresholds", zap.Error(err))
		return
	}
	next := cfg.Pipeline
	w.current.Store(&next)
	w.logger.Info("Pipeline thresholds reloaded",
		zap.Int("major_ceiling", next.MajorCeiling),
		zap.Float64("entailment_threshold", next.EntailmentThreshold),
	)

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range handlers {
		h(next)
	}
}
