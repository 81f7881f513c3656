package roster

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the roster file until ctx is cancelled and logs every
// change, re-parsing the file so malformed edits surface immediately
// instead of on the next daily tick. The engine always reads the file
// fresh per tick, so the watch carries no delivery state.
//
// The watch is set on the containing directory: editors typically replace
// the file via rename, which drops a watch placed on the file itself.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch roster directory %s: %w", dir, err)
	}
	l.logger.Info("Watching roster file for changes", "path", l.path)

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("roster watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			r := l.Load()
			l.logger.Info("Roster file changed",
				"op", event.Op.String(), "recipients", len(r.Recipients), "greeting_time", r.GreetingTime)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("roster watcher closed unexpectedly")
			}
			l.logger.Warn("Roster watcher error", "error", err)
		}
	}
}
