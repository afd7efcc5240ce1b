package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/logging/colors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// loadProjectConfig resolves the project configuration of a command and navigates through the following possibilities:
// #1: We will search for either a custom config file (via --config) or the default (hydra.json).
// If we find it, read it. If we can't read it, throw an error.
// #2: If a custom file was provided (--config was used), and we can't find the file, throw an error.
// #3: If hydra.json can't be found, use the default project configuration.
// The returned directory is the one relative paths of the configuration resolve against.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, string, error) {
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	if !configFlagUsed {
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	_, existenceError := os.Stat(configPath)

	// Possibility #1
	if existenceError == nil {
		cmdLogger.Info("Reading the configuration file at: ", colors.Bold(configPath))
		projectConfig, err := config.ReadProjectConfigFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		return projectConfig, filepath.Dir(configPath), nil
	}

	// Possibility #2
	if configFlagUsed {
		return nil, "", fmt.Errorf("config file not found at %s", configPath)
	}

	// Possibility #3
	cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default project configuration instead", configPath))
	return config.GetDefaultProjectConfig(), workingDirectory, nil
}

// configureLogging applies the logging section of projectConfig to the global logger and the cmd logger. The returned
// function releases the log file.
func configureLogging(projectConfig *config.ProjectConfig) (func() error, error) {
	level, err := projectConfig.Logging.ZerologLevel()
	if err != nil {
		return nil, err
	}
	closeLog, err := logging.ConfigureGlobalLogger(level, projectConfig.Logging.NoColor, projectConfig.Logging.LogDirectory)
	if err != nil {
		return nil, err
	}
	cmdLogger.SetLevel(level)
	return closeLog, nil
}

// cmdValidFlagArgs returns the flags of cmd that have not been used yet, for dynamic completion.
func cmdValidFlagArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var unusedFlags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			// The "--" prefix marks the suggestion as a flag rather than a positional argument.
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}
