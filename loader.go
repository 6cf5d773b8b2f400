package main

import (
	"sync"

	"github.com/xyproto/flatlink/internal/objfile"
)

// loadInputs decodes every path concurrently and returns the files in argument order.
// Open names the path in its errors; when several inputs fail, the earliest one wins.
func loadInputs(paths []string) ([]*objfile.FileInfo, error) {
	files := make([]*objfile.FileInfo, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			files[i], errs[i] = objfile.Open(path)
		}(i, path)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
