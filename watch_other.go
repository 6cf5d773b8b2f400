//go:build !linux && !darwin

package main

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InputWatcher polls modification times where no change notification API is wired up
type InputWatcher struct {
	watchMap map[string]time.Time
	mu       sync.Mutex
	debounce *time.Timer
	onChange func(path string)
}

func NewInputWatcher(onChange func(path string), log io.Writer) (*InputWatcher, error) {
	return &InputWatcher{
		watchMap: make(map[string]time.Time),
		onChange: onChange,
	}, nil
}

func (w *InputWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.watchMap[absPath] = info.ModTime()
	w.mu.Unlock()

	return nil
}

// Watch blocks until stop is closed
func (w *InputWatcher) Watch(stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkFiles()
		case <-stop:
			return
		}
	}
}

func (w *InputWatcher) checkFiles() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, lastMod := range w.watchMap {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(lastMod) {
			w.watchMap[path] = info.ModTime()
			w.debouncedLocked(path)
		}
	}
}

func (w *InputWatcher) debouncedLocked(path string) {
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
	return nil
}
