//go:build !windows

package colors

// EnableColor turns ANSI output on unless NO_COLOR is set. Terminals outside windows handle escape codes natively.
func EnableColor() {
	enabled = !noColorRequested()
}
