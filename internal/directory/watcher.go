package directory

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the directory whenever its backing file changes.
// Rapid write bursts (editors, config management) are debounced.
// Blocks until the context is cancelled.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the containing directory: editors replace files via
	// rename, which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(d.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("directory: watch error: %v", err)

		case <-reload:
			if err := d.Reload(); err != nil {
				log.Printf("directory: reload failed, keeping previous roster: %v", err)
			} else {
				log.Printf("directory: reloaded %s (%d orgs)", d.path, len(d.IDs()))
			}
		}
	}
}
