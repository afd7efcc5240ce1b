package colors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNoColor verifies NO_COLOR keeps ANSI codes out of colorized strings.
func TestNoColor(t *testing.T) {
	t.Cleanup(EnableColor)
	t.Setenv("NO_COLOR", "1")

	EnableColor()
	assert.False(t, Enabled())
	assert.Equal(t, "plain", Colorize("plain", RED))
	assert.Equal(t, "42", Bold(42))
}
