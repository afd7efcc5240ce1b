package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/hydra/cmd/exitcodes"
	"github.com/crytic/hydra/fuzzing"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/logging/colors"
	"github.com/spf13/cobra"
)

// replayCmd represents the command provider for replaying saved sequences
var replayCmd = &cobra.Command{
	Use:   "replay <files or directories...>",
	Short: "Replays saved transaction sequences",
	Long: `Replays saved transaction sequences from the initial state and prints the trace of every transaction.
Directories are expanded to the sequence files they contain.`,
	Args:              cmdValidateReplayArgs,
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunReplay,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the replay command
	err := addReplayFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the replay command", err)
	}

	// Add the replay command and its associated flags to the root command
	rootCmd.AddCommand(replayCmd)
}

// cmdValidateReplayArgs makes sure that at least one sequence path is provided
func cmdValidateReplayArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
		err = fmt.Errorf("replay requires at least one sequence file or directory")
		cmdLogger.Error("Failed to validate args to the replay command", err)
		return err
	}
	return nil
}

// cmdRunReplay executes the CLI replay command. Like fuzz, it exits with ExitCodeTestFailed when a replayed sequence
// reproduces a finding.
func cmdRunReplay(cmd *cobra.Command, args []string) error {
	// Sequence paths are given relative to the invocation directory, which we leave below.
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			cmdLogger.Error("Failed to run the replay command", err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
		}
		paths = append(paths, path)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	// JSON output owns stdout, so command logs move to stderr.
	if asJSON {
		cmdLogger.RemoveWriter(os.Stdout, logging.UNSTRUCTURED, true)
		cmdLogger.AddWriter(os.Stderr, logging.UNSTRUCTURED, true)
	}

	projectConfig, configDirectory, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	err = updateProjectConfigWithReplayFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	err = os.Chdir(configDirectory)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// The fuzzer logs to stdout once configured, so it stays quiet in JSON mode.
	if !asJSON {
		closeLog, err := configureLogging(projectConfig)
		if err != nil {
			cmdLogger.Error("Failed to run the replay command", err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
		}
		defer closeLog()
	}

	fuzzer, err := fuzzing.NewFuzzer(*projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to create the fuzzer", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	report, err := fuzzer.Replay(paths)
	if err != nil {
		cmdLogger.Error("Failed to replay", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}

	if asJSON {
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	} else {
		printReplayReport(report)
	}

	if len(report.Findings()) > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
	}
	return nil
}

// printReplayReport logs the traces and findings of every replayed file.
func printReplayReport(report *fuzzing.ReplayReport) {
	for _, file := range report.Files {
		var sb strings.Builder
		for i, tx := range file.Transactions {
			sb.WriteString(fmt.Sprintf("[%d] %s => %s\n", i+1, tx.Description, tx.Status))
			if tx.Trace != "" {
				sb.WriteString(tx.Trace)
				if !strings.HasSuffix(tx.Trace, "\n") {
					sb.WriteString("\n")
				}
			}
			for _, finding := range tx.Findings {
				sb.WriteString(fmt.Sprintf("  %s\n", colors.Red(finding.String())))
			}
		}
		cmdLogger.Info("Replayed ", colors.Bold(file.Path), "\n", sb.String())
		if file.Error != "" {
			cmdLogger.Warn("Replay of ", file.Path, " stopped early: ", file.Error)
		}
	}
	if report.CoveragePath != "" {
		cmdLogger.Info("Coverage report written to ", colors.Bold(report.CoveragePath))
	}
}
