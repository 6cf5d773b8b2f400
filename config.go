package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"
	"github.com/xyproto/flatlink/internal/engine"
	"github.com/xyproto/flatlink/internal/link"
)

const defaultOutputFilename = "a.out"

// Options is everything the command line and the environment can set
type Options struct {
	Output   string
	MapFile  string
	Base     uint64
	Align    uint64
	Entry    string
	AllowDup []string
	Arch     engine.Arch
	Verbose  bool
	Color    bool
	Watch    bool
	Version  bool
}

// stringList is a repeatable flag
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// envOptions returns the defaults, overridden by FLATLINK_* variables
func envOptions() (Options, error) {
	opts := Options{
		Output:  env.Str("FLATLINK_OUTPUT", defaultOutputFilename),
		MapFile: env.Str("FLATLINK_MAP"),
		Base:    link.DefaultImageStart,
		Entry:   env.Str("FLATLINK_ENTRY"),
		Arch:    engine.ArchX86_64,
		Verbose: env.Bool("FLATLINK_VERBOSE"),
		Color:   !env.Has("NO_COLOR"),
	}

	var err error
	if opts.Base, err = envUint("FLATLINK_BASE", opts.Base); err != nil {
		return opts, err
	}
	if opts.Align, err = envUint("FLATLINK_ALIGN", 0); err != nil {
		return opts, err
	}
	if s := env.Str("FLATLINK_ALLOW_DUP"); s != "" {
		list := stringList{}
		list.Set(s)
		opts.AllowDup = list
	}
	return opts, nil
}

// envUint reads an address-like variable; 0x, 0o and 0b prefixes are accepted
func envUint(name string, def uint64) (uint64, error) {
	s := env.Str(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %v", name, s, err)
	}
	return v, nil
}

// parseFlags parses args on top of the environment defaults and returns the remaining arguments.
// Flags must come before the input files.
func parseFlags(args []string, output io.Writer) (*Options, []string, error) {
	opts, err := envOptions()
	if err != nil {
		return nil, nil, err
	}

	fs := flag.NewFlagSet("flatlink", flag.ContinueOnError)
	fs.SetOutput(output)

	var archName string
	allow := stringList(opts.AllowDup)
	fs.StringVar(&opts.Output, "o", opts.Output, "output image filename")
	fs.StringVar(&opts.Output, "output", opts.Output, "output image filename")
	fs.StringVar(&opts.MapFile, "map", opts.MapFile, "write a link map to this file")
	fs.Uint64Var(&opts.Base, "base", opts.Base, "load address of the image")
	fs.Uint64Var(&opts.Align, "align", opts.Align, "minimum alignment of every output section")
	fs.StringVar(&opts.Entry, "entry", opts.Entry, "entry symbol (default: start of text)")
	fs.Var(&allow, "allow-dup", "symbol that may be defined more than once (repeatable)")
	fs.StringVar(&archName, "arch", opts.Arch.String(), "target architecture")
	fs.BoolVar(&opts.Verbose, "v", opts.Verbose, "verbose mode (show link progress)")
	fs.BoolVar(&opts.Verbose, "verbose", opts.Verbose, "verbose mode (show link progress)")
	fs.BoolVar(&opts.Version, "V", false, "print version information and exit")
	fs.BoolVar(&opts.Version, "version", false, "print version information and exit")
	fs.BoolVar(&opts.Watch, "watch", false, "relink whenever an input changes")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	opts.AllowDup = allow
	if opts.Arch, err = engine.ParseArch(archName); err != nil {
		return nil, nil, err
	}
	if opts.Arch != engine.ArchX86_64 {
		return nil, nil, fmt.Errorf("unsupported architecture: %s (only x86_64 objects can be linked)", opts.Arch)
	}
	return &opts, fs.Args(), nil
}

// linkConfig turns the options into a link configuration; progress goes to logger when verbose
func (o *Options) linkConfig(logger io.Writer) link.Config {
	cfg := link.NewConfig()
	cfg.ImageStart = o.Base
	cfg.SectionAlign = o.Align
	cfg.Entry = o.Entry
	cfg.AllowDuplicates = append(cfg.AllowDuplicates, o.AllowDup...)
	if o.Verbose {
		cfg.Logger = logger
	}
	return cfg
}
