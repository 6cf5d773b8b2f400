// Completion: 100% - CLI entry point complete
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/flatlink/internal/link"
)

// A static linker that turns x86_64 Mach-O relocatable objects into one flat image

const versionString = "flatlink 0.1.0"

func main() {
	opts, args, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.Version {
		fmt.Println(versionString)
		return
	}

	if err := RunCLI(args, opts, os.Stdout, os.Stderr); err != nil {
		reportError(err, opts.Color && isTerminal(os.Stderr.Fd()))
		os.Exit(1)
	}
}

// reportError prints link errors with their full context and anything else on one line
func reportError(err error, useColor bool) {
	var le *link.Error
	if errors.As(err, &le) {
		fmt.Fprint(os.Stderr, le.Format(useColor))
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
