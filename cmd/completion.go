package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// completionShells are the shells a completion script can be generated for.
var completionShells = []string{"bash", "zsh", "fish"}

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish]",
	Short:     "Generate a shell completion script",
	ValidArgs: completionShells,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Long: `Prints a completion script for hydra's commands and flags.

Bash:
  $ source <(%[1]s completion bash)
  $ %[1]s completion bash > /etc/bash_completion.d/%[1]s

Zsh:
  $ %[1]s completion zsh > "${fpath[1]}/_%[1]s"

Fish:
  $ %[1]s completion fish > ~/.config/fish/completions/%[1]s.fish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd.Root(), args[0], os.Stdout)
	},
}

func init() {
	completionCmd.Long = fmt.Sprintf(completionCmd.Long, rootCmd.Name())
	rootCmd.AddCommand(completionCmd)
}

// writeCompletion writes the completion script of root for shell to w.
func writeCompletion(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	}
	return fmt.Errorf("unsupported shell %q", shell)
}
