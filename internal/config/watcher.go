package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWrite is how long Watcher waits after the last fsnotify event on
// the config file before reloading, coalescing editors that emit several
// events per save (teacher idiom: internal/config's debounce*Write vars).
var debounceWrite = 250 * time.Millisecond

// Watcher reloads Config from path whenever the file changes on disk and
// calls onReload with the new value. The previous Config is left untouched
// on a parse failure — a bad edit never takes down a running process.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	mu     sync.Mutex
	timer  *time.Timer
	closed chan struct{}
}

// NewWatcher starts watching path's directory (fsnotify does not follow
// renames of a watched file directly, so the teacher's pattern of watching
// the containing directory and filtering by name is used here too).
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dirOf(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onReload: onReload, closed: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWrite, func() {
		cfg, err := Load(w.path)
		if err != nil {
			log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
			return
		}
		log.Info().Str("path", w.path).Msg("config reloaded")
		w.onReload(cfg)
	})
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.closed)
	return w.watcher.Close()
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}
