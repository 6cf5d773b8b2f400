//go:build darwin

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	noteChanged  = unix.NOTE_WRITE | unix.NOTE_ATTRIB | unix.NOTE_EXTEND
	noteReplaced = unix.NOTE_DELETE | unix.NOTE_RENAME
)

// InputWatcher calls onChange once per burst of writes to any watched file
type InputWatcher struct {
	kq       int
	watchMap map[int]string
	mu       sync.Mutex
	debounce *time.Timer
	onChange func(path string)
	log      io.Writer
}

func NewInputWatcher(onChange func(path string), log io.Writer) (*InputWatcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue failed: %v", err)
	}

	return &InputWatcher{
		kq:       kq,
		watchMap: make(map[int]string),
		onChange: onChange,
		log:      log,
	}, nil
}

func (w *InputWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.register(absPath)
}

// register opens path and subscribes to changes of the inode it names now
func (w *InputWatcher) register(absPath string) error {
	fd, err := unix.Open(absPath, unix.O_RDONLY|unix.O_EVTONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", absPath, err)
	}

	event := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: noteChanged | noteReplaced,
	}
	if _, err := unix.Kevent(w.kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to add kevent for %s: %v", absPath, err)
	}

	w.mu.Lock()
	w.watchMap[fd] = absPath
	w.mu.Unlock()

	return nil
}

// rewatch follows a path whose inode was deleted or renamed away. The new
// file may appear a moment after the old one goes.
func (w *InputWatcher) rewatch(fd int, absPath string) {
	w.mu.Lock()
	delete(w.watchMap, fd)
	w.mu.Unlock()
	unix.Close(fd)

	var err error
	for i := 0; i < 20; i++ {
		if err = w.register(absPath); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if w.log != nil {
		fmt.Fprintf(w.log, "watch: %v\n", err)
	}
}

// Watch blocks until stop is closed
func (w *InputWatcher) Watch(stop <-chan struct{}) {
	events := make([]unix.Kevent_t, 10)
	timeout := unix.NsecToTimespec(int64(250 * time.Millisecond))

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Kevent(w.kq, nil, events, &timeout)
		if err != nil {
			if err != unix.EINTR && w.log != nil {
				fmt.Fprintf(w.log, "watch: reading kevent: %v\n", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, event := range events[:n] {
			fd := int(event.Ident)
			w.mu.Lock()
			path := w.watchMap[fd]
			w.mu.Unlock()
			if path == "" {
				continue
			}
			if event.Fflags&noteReplaced != 0 {
				w.rewatch(fd, path)
			}
			w.debounced(path)
		}
	}
}

func (w *InputWatcher) debounced(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(500*time.Millisecond, func() {
		w.onChange(path)
	})
}

func (w *InputWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	for fd := range w.watchMap {
		unix.Close(fd)
	}
	return unix.Close(w.kq)
}
