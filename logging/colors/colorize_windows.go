//go:build windows

package colors

import (
	"os"

	"golang.org/x/sys/windows"
)

// EnableColor switches the console to virtual terminal processing. Colors stay off if NO_COLOR is set or the
// console refuses the mode.
func EnableColor() {
	if noColorRequested() {
		enabled = false
		return
	}
	handle := windows.Handle(os.Stdout.Fd())
	var mode uint32
	if err := windows.GetConsoleMode(handle, &mode); err != nil {
		enabled = false
		return
	}
	enabled = mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 ||
		windows.SetConsoleMode(handle, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING) == nil
}
