package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ManifestWatcher reloads a declarative discovery manifest (the same
// snapshot shape Save() produces) whenever it changes on disk. Discovery
// is specified as an offline step (spec §9): the core only ever consumes
// the resulting element list, never scans source itself.
type ManifestWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchManifest loads path once immediately, then starts watching it with
// fsnotify; every Write event triggers a reload into r. Close stops the
// watch. A missing file at startup is not an error — discovery manifests
// are optional.
func WatchManifest(ctx context.Context, r *Registry, path string) (*ManifestWatcher, error) {
	w := &ManifestWatcher{path: path, done: make(chan struct{})}

	if err := w.reload(ctx, r); err != nil {
		r.logger.Warn(ctx, "initial manifest load failed", zap.String("path", path), zap.Error(err))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = fw

	if err := fw.Add(path); err != nil {
		r.logger.Warn(ctx, "manifest watch unavailable, continuing without hot-reload",
			zap.String("path", path), zap.Error(err))
		return w, nil
	}

	go w.loop(ctx, r)
	return w, nil
}

func (w *ManifestWatcher) loop(ctx context.Context, r *Registry) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := w.reload(ctx, r); err != nil {
					r.logger.Warn(ctx, "manifest reload failed", zap.Error(err))
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(ctx, "manifest watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *ManifestWatcher) reload(ctx context.Context, r *Registry) error {
	raw, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	r.loadKind(ctx, KindTool, snap.Tools)
	r.loadKind(ctx, KindResource, snap.Resources)
	r.loadKind(ctx, KindPrompt, snap.Prompts)
	r.loadKind(ctx, KindResourceTemplate, snap.ResourceTemplates)
	return nil
}

// Close stops watching the manifest file.
func (w *ManifestWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
