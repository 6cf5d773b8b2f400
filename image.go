// Completion: 100% - Flat image output complete
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/xyproto/flatlink/internal/link"
)

// WriteImage writes the image as one flat file: byte 0 of the file is the
// image start and every section lands at its address minus the start.
// Gaps are zero-filled; zero-fill sections take no file space.
func WriteImage(w io.Writer, img *link.Image) (int64, error) {
	var written int64
	for _, sec := range img.Sections {
		if sec.Kind.ZeroFill() || sec.Size == 0 {
			continue
		}
		at := sec.Address - img.Start
		if at < uint64(written) {
			return written, fmt.Errorf("section %s at 0x%x overlaps the previous one", sec.Kind, sec.Address)
		}
		if gap := at - uint64(written); gap > 0 {
			n, err := w.Write(make([]byte, gap))
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
		n, err := w.Write(sec.Data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeImageFile writes the image to filename and makes it executable
func writeImageFile(filename string, img *link.Image) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if _, err := WriteImage(bw, img); err != nil {
		f.Close()
		os.Remove(filename)
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteMap writes a human-readable link map: sections, symbols by address and GOT slots
func WriteMap(w io.Writer, img *link.Image) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# image 0x%x-0x%x, entry 0x%x\n\n", img.Start, img.End(), img.Entry)

	fmt.Fprintf(bw, "# sections\n")
	for _, sec := range img.Sections {
		fmt.Fprintf(bw, "%-8s 0x%016x 0x%08x align %d\n", sec.Kind, sec.Address, sec.Size, sec.Align)
	}

	symbols := append([]*link.SymbolInfo(nil), img.Symbols...)
	sort.SliceStable(symbols, func(i, j int) bool {
		return symbols[i].Address() < symbols[j].Address()
	})
	fmt.Fprintf(bw, "\n# symbols\n")
	for _, s := range symbols {
		scope := "global"
		if s.Local {
			scope = "local"
		}
		fmt.Fprintf(bw, "0x%016x %-8s %-6s %s", s.Address(), s.Section, scope, s.Name)
		if s.BSSSize > 0 {
			fmt.Fprintf(bw, " size 0x%x", s.BSSSize)
		}
		fmt.Fprintf(bw, " (%s)\n", s.File)
	}

	if img.GOT != nil && img.GOT.Len() > 0 {
		fmt.Fprintf(bw, "\n# got\n")
		for _, name := range img.GOT.Names() {
			slot, _ := img.GOT.Slot(name)
			fmt.Fprintf(bw, "0x%016x %s\n", slot, name)
		}
	}
	return bw.Flush()
}

func writeMapFile(filename string, img *link.Image) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteMap(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
