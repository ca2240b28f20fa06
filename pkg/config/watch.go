package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for before reloading.
const DefaultDebounce = 300 * time.Millisecond

// Watch reloads configPath whenever it changes and passes the result to
// onChange, until ctx is done. Bursts of events within debounce collapse
// into one reload. The parent directory is watched rather than the file, so
// editors that replace the file by renaming are followed too.
func Watch(ctx context.Context, configPath string, debounce time.Duration, onChange func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		fw.Close()
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	go func() {
		defer fw.Close()

		var timer *time.Timer
		reload := make(chan struct{}, 1)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
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

			case <-reload:
				cfg := LoadConfig(abs)
				log.Infof("Config reloaded from %s", abs)
				onChange(cfg)

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warnf("Config watcher error: %v", err)
			}
		}
	}()
	return nil
}
