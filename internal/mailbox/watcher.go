package mailbox

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals on C when the mailbox file is rewritten by anyone,
// including the peer process. The containing directory is watched rather
// than the file itself because atomic replace renames a temp file over the
// target, which would detach a direct file watch. Signals are coalesced:
// C holds at most one pending wake.
type Watcher struct {
	fsw  *fsnotify.Watcher
	C    chan struct{}
	done chan struct{}
}

func WatchFile(path string) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:  fsw,
		C:    make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	base := filepath.Base(path)
	go w.pump(base)
	return w, nil
}

func (w *Watcher) pump(base string) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.C <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
