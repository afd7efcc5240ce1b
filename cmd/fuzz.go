package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/crytic/hydra/cmd/exitcodes"
	"github.com/crytic/hydra/fuzzing"
	"github.com/crytic/hydra/fuzzing/api"
	"github.com/crytic/hydra/logging/colors"
	"github.com/spf13/cobra"
)

// fuzzCmd represents the command provider for fuzzing
var fuzzCmd = &cobra.Command{
	Use:               "fuzz",
	Short:             "Starts a fuzzing campaign",
	Long:              `Starts a fuzzing campaign`,
	Args:              cmdValidateFuzzArgs,
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunFuzz,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the fuzz command
	err := addFuzzFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the fuzz command", err)
	}

	// Add the fuzz command and its associated flags to the root command
	rootCmd.AddCommand(fuzzCmd)
}

// cmdValidateFuzzArgs makes sure that there are no positional arguments provided to the fuzz command
func cmdValidateFuzzArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("fuzz does not accept any positional arguments, only flags and their associated values")
		cmdLogger.Error("Failed to validate args to the fuzz command", err)
		return err
	}
	return nil
}

// cmdRunFuzz executes the CLI fuzz command. It exits with ExitCodeTestFailed when the campaign produced findings.
func cmdRunFuzz(cmd *cobra.Command, args []string) error {
	projectConfig, configDirectory, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Update the project configuration given whatever flags were set using the CLI
	err = updateProjectConfigWithFuzzFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Relative paths in the configuration are relative to the directory it was read from.
	err = os.Chdir(configDirectory)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	closeLog, err := configureLogging(projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the fuzz command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer closeLog()

	if !projectConfig.Fuzzing.Feedback.Coverage {
		cmdLogger.Warn("Disabling coverage feedback may limit efficacy of fuzzing. Consider enabling it for better results.")
	}

	fuzzer, err := fuzzing.NewFuzzer(*projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to create the fuzzer", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Stop our fuzzing on keyboard interrupts
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	go func() {
		if _, ok := <-c; ok {
			cmdLogger.Info("Interrupted, stopping the campaign...")
			fuzzer.Stop()
		}
	}()

	// Serve the status API for as long as the campaign runs
	if projectConfig.Api.Enabled {
		apiCtx, stopApi := context.WithCancel(context.Background())
		defer stopApi()
		go func() {
			if err := api.Start(apiCtx, fuzzer); err != nil {
				cmdLogger.Warn("Status API stopped", err)
			}
		}()
	}

	err = fuzzer.Start()
	if err != nil {
		cmdLogger.Error("Fuzzing campaign failed", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeFuzzerError)
	}

	// If we have findings, we'll want to return a special exit code
	if findings := fuzzer.Findings(); len(findings) > 0 {
		cmdLogger.Info(colors.Bold(len(findings)), " finding(s) reported")
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
	}
	return nil
}
