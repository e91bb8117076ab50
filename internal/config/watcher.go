package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 60 * time.Second

// StartWatcher invokes onChange whenever the config file is rewritten.
// Falls back to mtime polling when fsnotify is unavailable (network mounts).
// The mapping is built once at startup, so presenced uses this to tell the
// operator a restart is needed rather than to hot-reload.
func StartWatcher(ctx context.Context, path string, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(path)
	}
	if err != nil {
		log.Printf("[WARN] config watcher: fsnotify unavailable (%v), polling every %s", err, pollInterval)
		go pollLoop(ctx, path, onChange)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Editors often write in bursts; let the file settle.
					time.Sleep(100 * time.Millisecond)
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[ERROR] config watcher: %v", err)
			}
		}
	}()
}

func pollLoop(ctx context.Context, path string, onChange func()) {
	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				onChange()
			}
		}
	}
}
