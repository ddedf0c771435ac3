package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/ember/engine/core"
)

const DefaultDebounce = 100 * time.Millisecond

// Watcher reports shader binaries and reflection sidecars that changed on
// disk. Bursts of events for one shader collapse into a single OnChange
// call, made on a timer goroutine with the binary path.
type Watcher struct {
	onChange func(path string)
	debounce time.Duration

	mutex  sync.Mutex
	timers map[string]*time.Timer

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewWatcher(debounce time.Duration, onChange func(path string)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		onChange: onChange,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// AddRecursive starts watching the named directory and all sub-directories.
// Directories created later are picked up as they appear.
func (w *Watcher) AddRecursive(name string) error {
	w.mutex.Lock()
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return errors.New("watcher already closed")
	}
	return w.watchRecursive(name)
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mutex.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			w.handleEvent(e)

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := w.watchRecursive(e.Name); err != nil {
				core.LogWarn("asset watcher: failed to watch %s: %s", e.Name, err)
			}
			return
		}
	}
	// Can't stat a deleted directory, so just try to drop it from the watch list.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		_ = w.fsnotify.Remove(e.Name)
		return
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if path, ok := ShaderPath(e.Name); ok {
		w.schedule(path)
	}
}

func (w *Watcher) schedule(path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mutex.Lock()
		delete(w.timers, path)
		closed := w.isClosed
		w.mutex.Unlock()
		if !closed && w.onChange != nil {
			core.LogDebug("asset watcher: %s changed", path)
			w.onChange(path)
		}
	})
}

func (w *Watcher) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}
