package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the scoring section of pipeline.yaml so the confidence
// weights and threshold can be tuned without restarting the worker. Only the
// scoring section is applied live; everything else requires a restart.
type Watcher struct {
	cfg      *Config
	path     string
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(cfg *Config, path string, logger *zap.Logger) *Watcher {
	return &Watcher{cfg: cfg, path: path, logger: logger, debounce: 500 * time.Millisecond}
}

// Run watches the config file until ctx is cancelled. Reload errors are
// logged and the previous scoring settings stay in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory, not the file: editors and k8s configmap updates
	// replace the file, which drops a file-level watch.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Config watcher started", zap.String("path", w.path))

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Debounce bursts of write events from a single save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-fire:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous scoring settings", zap.Error(err))
		return
	}
	if err := w.cfg.UpdateScoring(fresh.Scoring); err != nil {
		w.logger.Warn("Rejected reloaded scoring settings", zap.Error(err))
		return
	}
	w.logger.Info("Scoring configuration reloaded",
		zap.Float64("threshold", fresh.Scoring.Threshold),
		zap.Float64("w_keywords", fresh.Scoring.Weights.Keywords),
		zap.Float64("w_agreement", fresh.Scoring.Weights.Agreement),
		zap.Float64("w_volume", fresh.Scoring.Weights.Volume),
		zap.Float64("w_reported", fresh.Scoring.Weights.Reported),
		zap.Float64("w_graph", fresh.Scoring.Weights.Graph),
	)
}
