//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd,!dragonfly

package cli

// isTerminal is conservative on platforms without termios: plain output.
func isTerminal(fd uintptr) bool { return false }
