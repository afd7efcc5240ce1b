package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteCompletion verifies every listed shell gets a script naming the binary and other shells are rejected.
func TestWriteCompletion(t *testing.T) {
	for _, shell := range completionShells {
		t.Run(shell, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, writeCompletion(rootCmd, shell, &out))
			assert.Contains(t, out.String(), "hydra")
		})
	}

	var out bytes.Buffer
	assert.Error(t, writeCompletion(rootCmd, "powershell", &out))
	assert.Error(t, completionCmd.Args(completionCmd, []string{"powershell"}))
	assert.NoError(t, completionCmd.Args(completionCmd, []string{"zsh"}))
	assert.Contains(t, completionCmd.Long, "hydra completion zsh")
}
