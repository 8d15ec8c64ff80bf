package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a repository root's config.yaml for external edits
// (an operator hand-editing the file, or a sibling process updating it) and
// reloads RepositoryConfig on change, delivering it on Changes. Debounces
// rapid-fire writes behind a 500ms quiet period, the same window
// memory/watcher.go's StartWatcher used for its .md re-index debounce.
type ConfigWatcher struct {
	Changes <-chan RepositoryConfig
	Errors  <-chan error

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchRepositoryConfig starts watching root/config.yaml. Call Stop to
// release the underlying inotify/kqueue handle.
func WatchRepositoryConfig(root string) (*ConfigWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}

	changes := make(chan RepositoryConfig, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer fw.Close()
		timer := time.NewTimer(24 * time.Hour)
		timer.Stop()
		pending := false

		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if !isConfigFileEvent(event) {
					continue
				}
				pending = true
				timer.Reset(500 * time.Millisecond)

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}

			case <-timer.C:
				if !pending {
					continue
				}
				pending = false
				cfg, err := LoadRepositoryConfig(root)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					continue
				}
				select {
				case changes <- cfg:
				default: // drop if the consumer hasn't drained the previous reload yet
				}

			case <-done:
				return
			}
		}
	}()

	return &ConfigWatcher{Changes: changes, Errors: errs, watcher: fw, done: done}, nil
}

func isConfigFileEvent(event fsnotify.Event) bool {
	return filepath.Base(event.Name) == configFileName
}

// Stop ends the watch goroutine and closes the underlying fsnotify watcher.
func (w *ConfigWatcher) Stop() {
	close(w.done)
}
