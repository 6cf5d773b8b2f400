// Completion: 100% - Platform-specific module complete
//go:build unix

package objfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-only. The returned release func unmaps it.
func mapFile(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := fi.Size()
	if size == 0 || int64(int(size)) != size {
		// Nothing to map, or too large for this address space
		data, err := os.ReadFile(path)
		return data, func() {}, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		// Some filesystems refuse mmap; read the file instead
		data, err := os.ReadFile(path)
		return data, func() {}, err
	}

	return data, func() { unix.Munmap(data) }, nil
}
