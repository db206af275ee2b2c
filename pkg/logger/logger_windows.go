//go:build windows

package logger

import (
	"os"
	"syscall"
)

// isTerminal reports whether fd refers to a console.
func isTerminal(fd uintptr) bool {
	var st uint32
	err := syscall.GetConsoleMode(syscall.Handle(fd), &st)
	return err == nil
}

// IsTerminal reports whether the file is attached to a console.
func IsTerminal(w *os.File) bool {
	return isTerminal(w.Fd())
}
