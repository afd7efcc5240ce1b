package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/crytic/hydra/fuzzing"
	"github.com/crytic/hydra/logging/colors"
	"github.com/spf13/cobra"
)

// corpusCmd represents the corpus command group
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the fuzzing corpus",
	Long:  `Commands for managing the fuzzing corpus, including cleaning invalid sequences.`,
}

// corpusCleanCmd represents the corpus clean subcommand
var corpusCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove invalid sequences from the corpus",
	Long: `Validates each sequence in the corpus by executing it from the initial state of the targets.
Sequences that fail (calls to addresses without code, unknown selectors, or execution errors) are removed from disk.

This command is useful after refactoring contracts when the corpus contains many invalid sequences.`,
	Args:          cobra.NoArgs,
	RunE:          cmdRunCorpusClean,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add flags
	err := addCorpusCleanFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the corpus command", err)
	}

	// Add subcommands to corpus command
	corpusCmd.AddCommand(corpusCleanCmd)

	// Add corpus command to root
	rootCmd.AddCommand(corpusCmd)
}

// cmdRunCorpusClean executes the corpus clean command
func cmdRunCorpusClean(cmd *cobra.Command, args []string) error {
	projectConfig, configDirectory, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to read the configuration", err)
		return err
	}
	if cmd.Flags().Changed("work-dir") {
		if projectConfig.Fuzzing.WorkDirectory, err = cmd.Flags().GetString("work-dir"); err != nil {
			return err
		}
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	// Change to config directory
	if err := os.Chdir(configDirectory); err != nil {
		cmdLogger.Error("Failed to change to config directory", err)
		return err
	}

	// Check if the work directory exists
	workDir := projectConfig.Fuzzing.WorkDirectory
	if workDir == "" {
		return fmt.Errorf("no work directory configured")
	}
	if _, err := os.Stat(workDir); os.IsNotExist(err) {
		cmdLogger.Error("Work directory does not exist", nil)
		return fmt.Errorf("work directory does not exist: %s", workDir)
	}

	closeLog, err := configureLogging(projectConfig)
	if err != nil {
		return err
	}
	defer closeLog()

	// Create fuzzer (this handles artifact loading and deployment)
	cmdLogger.Info("Initializing fuzzer...")
	fuzzer, err := fuzzing.NewFuzzer(*projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to initialize fuzzer", err)
		return err
	}

	// Create context with cancellation for interrupt handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			cmdLogger.Info("Interrupted, stopping...")
			cancel()
		}
	}()

	absWorkDir, _ := filepath.Abs(workDir)
	cmdLogger.Info("Loading and validating corpus from: ", colors.Bold(absWorkDir))

	start := time.Now()
	result, err := fuzzer.CleanCorpus(ctx, dryRun)
	if err != nil {
		cmdLogger.Error("Error during corpus cleaning", err)
		return err
	}
	cmdLogger.Info("Corpus cleaning completed in ", time.Since(start).Round(time.Millisecond))

	// Report results
	invalidCount := len(result.InvalidSequences)
	cmdLogger.Info(
		"Results: ",
		colors.Bold(result.ValidSequences), " valid, ",
		colors.Bold(invalidCount), " invalid out of ",
		colors.Bold(result.TotalSequences), " total sequences",
	)

	if invalidCount > 0 {
		if dryRun {
			cmdLogger.Info(colors.Bold(invalidCount), " invalid sequences kept (dry run)")
		} else {
			cmdLogger.Info(colors.Bold(invalidCount), " invalid sequences removed from disk")
		}
	}
	return nil
}
