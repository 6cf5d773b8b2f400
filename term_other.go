//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package main

// isTerminal is false where there is no termios; diagnostics stay uncolored
func isTerminal(fd uintptr) bool {
	return false
}
