package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joripage/oms-core/pkg/logging"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"go.uber.org/zap"
)

// errLimitsUnchanged marks a rewrite of the snapshot already loaded; editors
// often emit several write events for one save.
var errLimitsUnchanged = errors.New("limits version unchanged")

// LimitsWatcher reloads the limits file on change and swaps the snapshot held
// by the store. A file that fails to parse, or whose version is not above the
// current one, leaves the previous snapshot in place.
type LimitsWatcher struct {
	path   string
	store  *riskrule.LimitStore
	logger *logging.Logger

	mu        sync.Mutex
	listeners []func(*riskrule.RiskLimits)
}

// NewLimitsWatcher loads path into store once; Run keeps it current.
func NewLimitsWatcher(path string, store *riskrule.LimitStore, logger *logging.Logger) (*LimitsWatcher, error) {
	w := &LimitsWatcher{
		path:   filepath.Clean(path),
		store:  store,
		logger: logger.Named("limits-watcher"),
	}
	if err := w.load(); err != nil {
		return nil, err
	}
	return w, nil
}

// OnReload registers callbacks run after every successful swap.
func (w *LimitsWatcher) OnReload(fns ...func(*riskrule.RiskLimits)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fns...)
	w.mu.Unlock()
}

func (w *LimitsWatcher) load() error {
	limits, err := LoadLimits(w.path)
	if err != nil {
		return err
	}
	if cur := w.store.Load(); cur != nil && limits.Version <= cur.Version {
		if limits.Version == cur.Version {
			return errLimitsUnchanged
		}
		return fmt.Errorf("%w: %d after %d", ErrVersionNotRaised, limits.Version, cur.Version)
	}
	w.store.Replace(limits)

	w.mu.Lock()
	listeners := append([]func(*riskrule.RiskLimits){}, w.listeners...)
	w.mu.Unlock()
	for _, f := range listeners {
		f(limits)
	}
	return nil
}

// Run watches the directory holding the limits file, so editors that replace
// the file by rename are still seen.
func (w *LimitsWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	for {
		select {
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if event.Has(fsnotify.Rename) {
				// the new file may not be in place yet
				time.Sleep(50 * time.Millisecond)
			}
			if err := w.load(); err != nil {
				if errors.Is(err, errLimitsUnchanged) {
					w.logger.Debug(ctx, "risk limits version unchanged, skipped", zap.String("path", w.path))
					continue
				}
				w.logger.Error(ctx, "unable to reload risk limits", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info(ctx, "risk limits reloaded",
				zap.String("path", w.path),
				zap.Int64("version", w.store.Load().Version))
		case err := <-watcher.Errors:
			w.logger.Error(ctx, "limits watcher error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}
