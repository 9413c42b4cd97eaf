package host

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce suppresses repeat focus reports for the same file. One
// save emits several write and create events; only the first of a burst
// is treated as focus. Focus reported by other sources reaches the
// controller unfiltered.
const DefaultDebounce = 250 * time.Millisecond

// skipDirs are never watched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Watcher treats a write to a file under a watched root as that file
// gaining focus.
type Watcher struct {
	fw       *fsnotify.Watcher
	onFocus  func(path string)
	debounce time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewWatcher creates a Watcher that reports focus through onFocus.
func NewWatcher(onFocus func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("host: create watcher: %w", err)
	}
	return &Watcher{
		fw:       fw,
		onFocus:  onFocus,
		debounce: DefaultDebounce,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}, nil
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("host: watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("host: watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if ignored(filepath.Base(ev.Name)) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.Add(ev.Name); err != nil {
				log.Printf("host: %v", err)
			}
		}
		return
	}
	if !w.admit(ev.Name) {
		return
	}
	w.onFocus(ev.Name)
}

// admit reports whether path is outside its debounce window, and starts a
// new window when it is.
func (w *Watcher) admit(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if prev, ok := w.last[path]; ok && now.Sub(prev) < w.debounce {
		return false
	}
	w.last[path] = now
	return true
}

// ignored reports names of hidden entries, editor swap files and skipped
// directories.
func ignored(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
