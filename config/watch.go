package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads a configuration file whenever it changes and hands each
// successfully parsed result to the apply function. Parse failures are
// logged and the previous configuration stays in effect.
type Watcher struct {
	path  string
	fw    *fsnotify.Watcher
	done  chan struct{}
	apply func(*Config)
}

// Watch starts watching the configuration file at path. The containing
// directory is watched rather than the file itself, so editors that replace
// the file on save still trigger a reload.
func Watch(path string, apply func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: abs, fw: fw, done: make(chan struct{}), apply: apply}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload failed", "path", w.path, "err", err)
				continue
			}
			w.apply(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher", "path", w.path, "err", err)
		case <-w.done:
			return
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
