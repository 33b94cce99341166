package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed indicates the watcher has been closed.
var ErrWatcherClosed = errors.New("config: watcher closed")

// debounceInterval coalesces bursts of file events (editors often write
// a profile as several operations) into one reload.
const debounceInterval = 200 * time.Millisecond

// Watcher reloads a profile file on change and delivers the result to a
// callback. Watch errors are swallowed: a broken reload keeps the last
// good profile.
type Watcher struct {
	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	path   string
	onLoad func(Profile)
	closed bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches path and calls onLoad with each successfully
// reloaded profile. The parent directory is watched so the profile file
// may not exist yet.
func NewWatcher(path string, onLoad func(Profile)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		path:    abs,
		onLoad:  onLoad,
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// loop debounces file events and reloads the profile.
func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceInterval)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if p, err := Load(w.path); err == nil {
				w.onLoad(p)
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

		case <-w.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
