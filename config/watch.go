package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"vrpterm/util"
)

// reloadDelay collapses the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

// Watch calls reload whenever the file at path changes.  A failed
// reload is logged and the watch goes on; the caller keeps its previous
// settings.  Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, log *util.Logger, reload func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file rather than
	// writing to it, which drops a watch on the file itself.
	dir, base := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	log.Verbose().Str("file", path).Msg("watching config file")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(reloadDelay)

		case <-pending:
			pending = nil
			if err := reload(); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("config reload failed, keeping previous settings")
				continue
			}
			log.Info().Str("file", path).Msg("config reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
