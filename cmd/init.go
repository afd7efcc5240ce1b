package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/logging/colors"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:               "init",
	Short:             "Write a default project configuration",
	Long:              `Writes the default project configuration, adjusted by the given flags. YAML is written when the output path ends in .yaml or .yml, JSON otherwise.`,
	Args:              cmdValidateInitArgs,
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunInit,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	if err := addInitFlags(); err != nil {
		cmdLogger.Panic("Failed to initialize the init command", err)
	}
	rootCmd.AddCommand(initCmd)
}

func cmdValidateInitArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("init does not accept any positional arguments, use --out to choose the output path")
		cmdLogger.Error("Failed to validate args to the init command", err)
		return err
	}
	return nil
}

func cmdRunInit(cmd *cobra.Command, args []string) error {
	outputPath, err := initOutputPath(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}

	projectConfig := config.GetDefaultProjectConfig()
	if err = updateProjectConfigWithInitFlags(cmd, projectConfig); err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	if _, err = os.Stat(outputPath); err == nil && !force {
		overwrite, err := confirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout(), outputPath)
		if err != nil {
			cmdLogger.Error("Failed to read the overwrite confirmation", err)
			return err
		}
		if !overwrite {
			cmdLogger.Info("Kept the existing configuration at ", colors.Bold(outputPath))
			return nil
		}
	}

	if err = projectConfig.WriteToFile(outputPath); err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	if absoluteOutputPath, err := filepath.Abs(outputPath); err == nil {
		outputPath = absoluteOutputPath
	}
	cmdLogger.Info("Project configuration written to ", colors.Bold(outputPath))
	return nil
}

// initOutputPath returns --out, or the default configuration file in the working directory.
func initOutputPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("out") {
		return cmd.Flags().GetString("out")
	}
	workingDirectory, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(workingDirectory, DefaultProjectConfigFilename), nil
}

// confirmOverwrite asks on out whether path may be replaced and reads a y/n answer from in. Anything but y or yes,
// in any case, keeps the file.
func confirmOverwrite(in io.Reader, out io.Writer, path string) (bool, error) {
	fmt.Fprintf(out, "%s already exists. Overwrite? (y/n): ", path)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
