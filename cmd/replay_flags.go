package cmd

import (
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/spf13/cobra"
)

// addReplayFlags adds the various flags for the replay command
func addReplayFlags() error {
	// Prevent alphabetical sorting of usage message
	replayCmd.Flags().SortFlags = false

	// Config file
	replayCmd.Flags().String("config", "", "path to config file")

	// Target
	replayCmd.Flags().String("target", "", TargetFlagDescription)

	// Work directory, which receives the coverage report
	replayCmd.Flags().String("work-dir", "", "directory receiving the coverage report of the replay")

	// Output format
	replayCmd.Flags().Bool("json", false, "print the replay report as JSON instead of traces")

	// Logging color
	replayCmd.Flags().Bool("no-color", false, "disable colored terminal output")
	return nil
}

// updateProjectConfigWithReplayFlags will update the given projectConfig with any CLI arguments that were provided to
// the replay command
func updateProjectConfigWithReplayFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error
	flags := cmd.Flags()

	if flags.Changed("target") {
		if projectConfig.Fuzzing.Target, err = flags.GetString("target"); err != nil {
			return err
		}
	}
	if flags.Changed("work-dir") {
		if projectConfig.Fuzzing.WorkDirectory, err = flags.GetString("work-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("no-color") {
		if projectConfig.Logging.NoColor, err = flags.GetBool("no-color"); err != nil {
			return err
		}
	}
	return nil
}
