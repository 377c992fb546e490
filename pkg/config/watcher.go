package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/idlink/pkg/observability"
)

// reloadDelay coalesces the burst of events an editor save produces
const reloadDelay = 100 * time.Millisecond

// PolicyWatcher reloads a policy file when it changes on disk
type PolicyWatcher struct {
	path   string
	logger *observability.Logger
	apply  func(Policy)

	mu      sync.Mutex
	current Policy

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPolicyWatcher creates a watcher for path. apply is called with every
// valid policy read after a change. Invalid files are logged and ignored.
func NewPolicyWatcher(path string, current Policy, logger *observability.Logger, apply func(Policy)) *PolicyWatcher {
	return &PolicyWatcher{
		path:    filepath.Clean(path),
		logger:  logger.WithField("policy_file", path),
		apply:   apply,
		current: current,
		done:    make(chan struct{}),
	}
}

// Start watches the file's directory so replace-by-rename saves are seen
func (w *PolicyWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}
	w.watcher = watcher

	go w.loop(ctx)
	return nil
}

// Current returns the last applied policy
func (w *PolicyWatcher) Current() Policy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Done is closed when the watcher stops
func (w *PolicyWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *PolicyWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()
	defer observability.RecoverPanic(w.logger, "policy watcher")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(reloadDelay)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Policy watcher error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *PolicyWatcher) reload() {
	w.mu.Lock()
	base := w.current
	w.mu.Unlock()

	p, err := LoadPolicyFile(w.path, base)
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring invalid policy file")
		return
	}
	if p == base {
		return
	}

	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"retention":          p.Retention,
		"lease_ttl":          p.LeaseTTL.String(),
		"session_ttl":        p.SessionTTL.String(),
		"retry_max_attempts": p.Retry.MaxAttempts,
	}).Info("Policy reloaded")
	w.apply(p)
}
