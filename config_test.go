package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/xyproto/flatlink/internal/link"
)

var envNames = []string{
	"FLATLINK_OUTPUT", "FLATLINK_MAP", "FLATLINK_BASE", "FLATLINK_ALIGN",
	"FLATLINK_ENTRY", "FLATLINK_ALLOW_DUP", "FLATLINK_VERBOSE", "NO_COLOR",
}

// clearEnv unsets every variable flatlink reads, restoring them after the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	clearEnv(t)

	opts, args, err := parseFlags([]string{"a.o", "b.o"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.Output != defaultOutputFilename {
		t.Errorf("Output = %q", opts.Output)
	}
	if opts.Base != link.DefaultImageStart {
		t.Errorf("Base = 0x%x", opts.Base)
	}
	if opts.Verbose || opts.Watch || opts.Version || !opts.Color {
		t.Errorf("Unexpected defaults: %+v", opts)
	}
	if len(args) != 2 || args[0] != "a.o" {
		t.Errorf("args = %v", args)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	clearEnv(t)

	opts, args, err := parseFlags([]string{
		"-o", "kernel.bin", "-map", "kernel.map", "-base", "0x8000", "-align", "16",
		"-entry", "_start", "-allow-dup", "_a,_b", "-allow-dup", "_c", "-v", "link", "x.o",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.Output != "kernel.bin" || opts.MapFile != "kernel.map" || opts.Entry != "_start" {
		t.Errorf("Strings not set: %+v", opts)
	}
	if opts.Base != 0x8000 || opts.Align != 16 {
		t.Errorf("Base 0x%x, align %d", opts.Base, opts.Align)
	}
	if len(opts.AllowDup) != 3 || opts.AllowDup[2] != "_c" {
		t.Errorf("AllowDup = %v", opts.AllowDup)
	}
	if !opts.Verbose {
		t.Error("Verbose not set")
	}
	if len(args) != 2 || args[0] != "link" {
		t.Errorf("args = %v", args)
	}
}

func TestParseFlagsRejectsArch(t *testing.T) {
	clearEnv(t)
	if _, _, err := parseFlags([]string{"-arch", "arm64", "a.o"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error for arm64")
	}
	if _, _, err := parseFlags([]string{"-arch", "pdp11", "a.o"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error for an unknown architecture")
	}
	if _, _, err := parseFlags([]string{"-arch", "amd64", "a.o"}, &bytes.Buffer{}); err != nil {
		t.Errorf("amd64: %v", err)
	}
}

func TestEnvOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLATLINK_OUTPUT", "env.bin")
	t.Setenv("FLATLINK_BASE", "0x200000")
	t.Setenv("FLATLINK_ALIGN", "0x20")
	t.Setenv("FLATLINK_ALLOW_DUP", "_x, _y")
	t.Setenv("FLATLINK_VERBOSE", "true")
	t.Setenv("NO_COLOR", "1")

	opts, _, err := parseFlags(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.Output != "env.bin" || opts.Base != 0x200000 || opts.Align != 0x20 {
		t.Errorf("Environment not applied: %+v", opts)
	}
	if len(opts.AllowDup) != 2 || opts.AllowDup[1] != "_y" {
		t.Errorf("AllowDup = %v", opts.AllowDup)
	}
	if !opts.Verbose || opts.Color {
		t.Errorf("Verbose %v, color %v", opts.Verbose, opts.Color)
	}

	// Flags win over the environment
	opts, _, err = parseFlags([]string{"-o", "flag.bin"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Output != "flag.bin" {
		t.Errorf("Output = %q", opts.Output)
	}
}

func TestEnvOptionsInvalidBase(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLATLINK_BASE", "lots")
	if _, _, err := parseFlags(nil, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error for FLATLINK_BASE=lots")
	}
}

func TestLinkConfig(t *testing.T) {
	var log bytes.Buffer
	opts := &Options{Base: 0x4000, Align: 32, Entry: "_go", AllowDup: []string{"_twice"}}

	cfg := opts.linkConfig(&log)
	if cfg.ImageStart != 0x4000 || cfg.SectionAlign != 32 || cfg.Entry != "_go" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Logger != nil {
		t.Error("Logger set without verbose")
	}
	if len(cfg.AllowDuplicates) != len(link.DefaultAllowDuplicates)+1 {
		t.Errorf("AllowDuplicates = %v", cfg.AllowDuplicates)
	}

	opts.Verbose = true
	if cfg = opts.linkConfig(&log); cfg.Logger != &log {
		t.Error("Verbose should log to the given writer")
	}
}
