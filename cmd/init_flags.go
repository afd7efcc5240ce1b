package cmd

import (
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/spf13/cobra"
)

// addInitFlags adds the various flags for the init command
func addInitFlags() error {
	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file (.json, .yaml or .yml)")

	// Target file / directory
	initCmd.Flags().String("target", "", TargetFlagDescription)

	// Skip the overwrite prompt
	initCmd.Flags().Bool("force", false, "overwrite an existing configuration file without asking")
	return nil
}

// updateProjectConfigWithInitFlags will update the given projectConfig with any CLI arguments that were provided to the init command
func updateProjectConfigWithInitFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	if cmd.Flags().Changed("target") {
		target, err := cmd.Flags().GetString("target")
		if err != nil {
			return err
		}
		projectConfig.Fuzzing.Target = target
	}
	return nil
}
