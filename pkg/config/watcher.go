package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/flowgate/pkg/observability"
)

// PolicyWatcher reloads a policy file when it changes on disk and hands
// every valid revision to a callback. Invalid revisions are logged and the
// previous policy stays active.
type PolicyWatcher struct {
	path    string
	apply   func(Policy)
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	last    []byte
}

// NewPolicyWatcher watches the directory holding path. The directory is
// watched rather than the file so editors and mounted volumes that replace
// the file are seen.
func NewPolicyWatcher(path string, apply func(Policy), logger *observability.Logger) (*PolicyWatcher, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &PolicyWatcher{
		path:    path,
		apply:   apply,
		logger:  logger.WithField("policy_file", path),
		watcher: watcher,
		last:    current,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed
func (w *PolicyWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Policy watcher error")
		}
	}
}

// reload applies the file when its content differs from the last revision
func (w *PolicyWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// The file may be mid-replace; the following create event retries
		w.logger.WithError(err).Debug("Policy file not readable")
		return
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(data, w.last) {
		// Empty content is a truncated file that is still being written
		return
	}

	policy, err := ParsePolicy(data)
	if err != nil {
		w.logger.WithError(err).Error("Rejected policy update, keeping previous policy")
		w.last = data
		return
	}
	w.last = data
	w.apply(policy)
	w.logger.Info("Policy reloaded")
}

// Close stops watching
func (w *PolicyWatcher) Close() error {
	return w.watcher.Close()
}
