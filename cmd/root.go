package cmd

import (
	"os"

	"github.com/crytic/hydra/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hydra",
	Short: "A stateful coverage-guided fuzzer for EVM smart contracts",
	Long:  "hydra is a stateful, coverage-guided fuzzer for EVM smart contracts",
}

// cmdLogger is the logger used by the cmd package. It logs to stdout until a command configures the global logger.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel)

func init() {
	cmdLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED, true)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
