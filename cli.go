// Completion: 100% - Utility module complete
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/xyproto/flatlink/internal/link"
	"github.com/xyproto/flatlink/internal/objfile"
)

// cli.go - subcommands of flatlink
//
// - flatlink <file.o>... (shorthand for link)
// - flatlink link <file.o>... (link into a flat image)
// - flatlink syms <file.o>... (list the symbols of the inputs)

// CommandContext holds the execution context for a CLI command
type CommandContext struct {
	Args    []string
	Options *Options
	Stdout  io.Writer
	Stderr  io.Writer
}

// RunCLI determines which command to run based on arguments
func RunCLI(args []string, opts *Options, stdout, stderr io.Writer) error {
	ctx := &CommandContext{
		Args:    args,
		Options: opts,
		Stdout:  stdout,
		Stderr:  stderr,
	}

	if len(args) == 0 {
		return cmdHelp(ctx)
	}

	switch subcmd := args[0]; subcmd {
	case "link":
		return cmdLink(ctx, args[1:])

	case "syms":
		if len(args) < 2 {
			return fmt.Errorf("usage: flatlink syms <file.o>...")
		}
		return cmdSyms(ctx, args[1:])

	case "help", "--help", "-h":
		return cmdHelp(ctx)

	case "version", "--version":
		fmt.Fprintln(ctx.Stdout, versionString)
		return nil

	default:
		if _, err := os.Stat(subcmd); err != nil && !strings.HasSuffix(subcmd, ".o") {
			return fmt.Errorf("unknown command: %s\n\nRun 'flatlink help' for usage information", subcmd)
		}
		return cmdLink(ctx, args)
	}
}

// cmdLink links the given objects and writes the image, then keeps relinking in watch mode
func cmdLink(ctx *CommandContext, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: flatlink link [-o output] <file.o>...")
	}

	if !ctx.Options.Watch {
		return linkPaths(ctx, paths)
	}

	// A failed first link is reported but the inputs are still watched
	if err := linkPaths(ctx, paths); err != nil {
		reportError(err, false)
	}
	return watchAndRelink(ctx, paths)
}

func linkPaths(ctx *CommandContext, paths []string) error {
	files, err := loadInputs(paths)
	if err != nil {
		return err
	}
	return linkFiles(ctx, files)
}

// linkFiles runs the link and writes the image and the optional map
func linkFiles(ctx *CommandContext, files []*objfile.FileInfo) error {
	img, err := link.Link(ctx.Options.linkConfig(ctx.Stderr), files...)
	if err != nil {
		return err
	}

	if err := writeImageFile(ctx.Options.Output, img); err != nil {
		return err
	}
	if ctx.Options.MapFile != "" {
		if err := writeMapFile(ctx.Options.MapFile, img); err != nil {
			return fmt.Errorf("failed to write link map: %w", err)
		}
	}

	if ctx.Options.Verbose {
		fmt.Fprintf(ctx.Stderr, "-> Wrote %s: %d bytes, %d symbols, entry 0x%x\n",
			ctx.Options.Output, img.FileSize(), len(img.Symbols), img.Entry)
	}
	return nil
}

// watchAndRelink relinks after every change to an input until interrupted
func watchAndRelink(ctx *CommandContext, paths []string) error {
	var mu sync.Mutex
	relink := func(changed string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(ctx.Stderr, "-> %s changed, relinking\n", changed)
		if err := linkPaths(ctx, paths); err != nil {
			reportError(err, false)
			return
		}
		fmt.Fprintf(ctx.Stderr, "-> Wrote %s\n", ctx.Options.Output)
	}

	watcher, err := NewInputWatcher(relink, ctx.Stderr)
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range paths {
		if err := watcher.AddFile(path); err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		close(stop)
	}()

	fmt.Fprintf(ctx.Stderr, "-> Watching %d inputs (Ctrl+C to stop)\n", len(paths))
	watcher.Watch(stop)
	return nil
}

// cmdSyms lists the symbols of each input in nm style
func cmdSyms(ctx *CommandContext, paths []string) error {
	files, err := loadInputs(paths)
	if err != nil {
		return err
	}
	for i, f := range files {
		if len(files) > 1 {
			if i > 0 {
				fmt.Fprintln(ctx.Stdout)
			}
			fmt.Fprintf(ctx.Stdout, "%s:\n", f.Name)
		}
		printSymbols(ctx.Stdout, f)
	}
	return nil
}

// printSymbols writes one line per symbol: address, type letter and name.
// The letter is upper case for external symbols.
func printSymbols(w io.Writer, f *objfile.FileInfo) {
	for _, s := range f.Symbols {
		if s.Stab() {
			continue
		}
		if s.Undefined() {
			fmt.Fprintf(w, "%16s U %s\n", "", s.Name)
			continue
		}

		letter := byte('s')
		if sec, ok := f.Section(int(s.Sect)); ok {
			switch {
			case sec.Code:
				letter = 't'
			case sec.ZeroFill:
				letter = 'b'
			case sec.Segment == "__TEXT" || sec.Segment == "__DATA_CONST":
				letter = 'r'
			default:
				letter = 'd'
			}
		}
		if s.External() {
			letter -= 'a' - 'A'
		}
		fmt.Fprintf(w, "%016x %c %s\n", s.Value, letter, s.Name)
	}
}

// cmdHelp displays usage information
func cmdHelp(ctx *CommandContext) error {
	fmt.Fprintf(ctx.Stdout, `%s - a static linker for x86_64 Mach-O objects

USAGE:
    flatlink [flags] <command> [arguments]

COMMANDS:
    link <file.o>...      Link objects into a flat image
    syms <file.o>...      List the symbols of each object
    help                  Show this help message
    version               Show version information

SHORTHAND:
    flatlink <file.o>...  Same as 'flatlink link <file.o>...'

FLAGS (must come before the command):
    -o, -output <file>    Output image filename (default: %s)
    -map <file>           Also write a link map
    -base <addr>          Load address of the image (default: 0x%x)
    -align <n>            Minimum alignment of every output section
    -entry <symbol>       Entry symbol (default: start of text)
    -allow-dup <symbol>   Symbol that may be defined more than once (repeatable)
    -arch <arch>          Target architecture (only x86_64)
    -watch                Relink whenever an input changes
    -v, -verbose          Show link progress
    -V, -version          Show version information

ENVIRONMENT:
    FLATLINK_OUTPUT, FLATLINK_MAP, FLATLINK_BASE, FLATLINK_ALIGN,
    FLATLINK_ENTRY, FLATLINK_ALLOW_DUP, FLATLINK_VERBOSE, NO_COLOR

EXAMPLES:
    flatlink -o kernel.bin start.o main.o
    flatlink -base 0x7c00 -map boot.map boot.o
    flatlink syms main.o

`, versionString, defaultOutputFilename, link.DefaultImageStart)
	return nil
}
