package colors

import (
	"fmt"
	"os"
)

// Color is an ANSI SGR code.
type Color int

// ANSI codes, following zerolog's console writer.
const (
	BLACK Color = iota + 30
	RED
	GREEN
	YELLOW
	BLUE
	MAGENTA
	CYAN
	WHITE
	BOLD      Color = 1
	DARK_GRAY Color = 90
)

// LEFT_ARROW is the glyph printed in place of the "info" level on console output.
const LEFT_ARROW = "⇾"

// ColorFunc is a coloring function accepting anything and returning a colorized string.
type ColorFunc = func(s any) string

// enabled reports whether ANSI output is emitted at all. It is set by EnableColor.
var enabled = true

func init() {
	EnableColor()
}

// noColorRequested reports whether the NO_COLOR convention asks for plain output.
func noColorRequested() bool {
	return os.Getenv("NO_COLOR") != ""
}

// Enabled reports whether colors are currently emitted.
func Enabled() bool {
	return enabled
}

// DisableColor turns every ColorFunc into Reset.
func DisableColor() {
	enabled = false
}

// Colorize wraps s in the ANSI code c, or returns it unchanged if colors are disabled.
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// Reset returns the input as a plain string. It is used to reset the color context within a log message.
func Reset(s any) string {
	return fmt.Sprintf("%v", s)
}

func bold(c Color) ColorFunc {
	return func(s any) string {
		return Colorize(Colorize(s, c), BOLD)
	}
}

func plain(c Color) ColorFunc {
	return func(s any) string {
		return Colorize(s, c)
	}
}

var (
	Red          = plain(RED)
	RedBold      = bold(RED)
	Green        = plain(GREEN)
	GreenBold    = bold(GREEN)
	Yellow       = plain(YELLOW)
	YellowBold   = bold(YELLOW)
	Blue         = plain(BLUE)
	BlueBold     = bold(BLUE)
	Magenta      = plain(MAGENTA)
	MagentaBold  = bold(MAGENTA)
	Cyan         = plain(CYAN)
	CyanBold     = bold(CYAN)
	DarkGray     = plain(DARK_GRAY)
	DarkGrayBold = bold(DARK_GRAY)
	Bold         = plain(BOLD)
)
