// Completion: 100% - Platform-specific module complete
//go:build linux

package main

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compilers often write a temporary file and rename it over the input, which
// replaces the inode. Watching the parent directory sees both that and
// in-place writes.
const watchMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO | unix.IN_CREATE | unix.IN_MODIFY

// InputWatcher calls onChange once per burst of writes to any watched file
type InputWatcher struct {
	fd       int
	dirs     map[int]string             // watch descriptor -> directory
	files    map[string]map[string]bool // directory -> watched base names
	mu       sync.Mutex
	debounce *time.Timer
	onChange func(path string)
	log      io.Writer
}

func NewInputWatcher(onChange func(path string), log io.Writer) (*InputWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init failed: %v", err)
	}

	return &InputWatcher{
		fd:       fd,
		dirs:     make(map[int]string),
		files:    make(map[string]map[string]bool),
		onChange: onChange,
		log:      log,
	}, nil
}

func (w *InputWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir, base := filepath.Split(absPath)
	dir = filepath.Clean(dir)

	w.mu.Lock()
	defer w.mu.Unlock()

	if names, ok := w.files[dir]; ok {
		names[base] = true
		return nil
	}

	wd, err := unix.InotifyAddWatch(w.fd, dir, watchMask)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %v", dir, err)
	}
	w.dirs[wd] = dir
	w.files[dir] = map[string]bool{base: true}
	return nil
}

// Watch blocks until stop is closed
func (w *InputWatcher) Watch(stop <-chan struct{}) {
	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*16)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Read(w.fd, buf)
		if err != nil || n <= 0 {
			if err != nil && err != unix.EAGAIN && err != unix.EINTR && w.log != nil {
				fmt.Fprintf(w.log, "watch: reading inotify events: %v\n", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameStart := offset + unix.SizeofInotifyEvent
			nameEnd := nameStart + int(event.Len)
			offset = nameEnd
			if nameEnd > n || event.Mask&watchMask == 0 || event.Len == 0 {
				continue
			}

			name := string(bytes.TrimRight(buf[nameStart:nameEnd], "\x00"))
			if path, ok := w.lookup(int(event.Wd), name); ok {
				w.debounced(path)
			}
		}
	}
}

// lookup maps a directory event to the watched file it concerns
func (w *InputWatcher) lookup(wd int, name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir, ok := w.dirs[wd]
	if !ok || !w.files[dir][name] {
		return "", false
	}
	return filepath.Join(dir, name), true
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
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	return unix.Close(w.fd)
}
