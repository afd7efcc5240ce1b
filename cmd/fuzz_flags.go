package cmd

import (
	"fmt"

	"github.com/crytic/hydra/fuzzing/config"
	"github.com/spf13/cobra"
)

// addFuzzFlags adds the various flags for the fuzz command
func addFuzzFlags() error {
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	fuzzCmd.Flags().SortFlags = false

	// Config file
	fuzzCmd.Flags().String("config", "", "path to config file")

	// Target
	fuzzCmd.Flags().String("target", "", TargetFlagDescription)
	fuzzCmd.Flags().String("target-type", "",
		fmt.Sprintf("how the target is interpreted, %q or %q (unless a config file is provided, default is %q)",
			config.TargetTypeGlob, config.TargetTypeAddress, defaultConfig.Fuzzing.TargetType))

	// Work directory
	fuzzCmd.Flags().String("work-dir", "",
		fmt.Sprintf("directory for the corpus, solutions and coverage reports (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.WorkDirectory))

	// Seed
	fuzzCmd.Flags().Int64("seed", 0, "seed of the random provider. 0 seeds from the current time")

	// Timeout
	fuzzCmd.Flags().Int("timeout", 0,
		fmt.Sprintf("number of seconds to run the fuzzer campaign for (unless a config file is provided, default is %d). 0 means that timeout is not enforced", defaultConfig.Fuzzing.Timeout))

	// Test limit
	fuzzCmd.Flags().Uint64("test-limit", 0,
		fmt.Sprintf("number of transactions to test before exiting (unless a config file is provided, default is %d). 0 means that test limit is not enforced", defaultConfig.Fuzzing.TestLimit))

	// Senders
	fuzzCmd.Flags().StringSlice("senders", []string{},
		"account address(es) used to send state-changing txns")

	// Deployer address
	fuzzCmd.Flags().String("deployer", "",
		"account address used to deploy contracts")

	// Deployment order
	fuzzCmd.Flags().StringSlice("deployment-order", []string{},
		fmt.Sprintf("order in which to deploy target contracts (unless a config file is provided, default is %v)", defaultConfig.Fuzzing.DeploymentOrder))

	// Feedback
	fuzzCmd.Flags().Bool("no-cmp", false, "disable comparison feedback")
	fuzzCmd.Flags().Bool("no-dataflow", false, "disable dataflow feedback")

	// Concolic stage
	fuzzCmd.Flags().Bool("concolic", false,
		fmt.Sprintf("enable the concolic stage (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.Concolic.Enabled))

	// Continue after findings
	fuzzCmd.Flags().Bool("continue", false,
		fmt.Sprintf("keep fuzzing after a finding (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.ContinueOnFinding))

	// On-chain fetching
	fuzzCmd.Flags().String("onchain-url", "", "enable on-chain state fetching from the given RPC endpoint")
	fuzzCmd.Flags().Uint64("onchain-block", 0, "block number to fork from. 0 uses the latest block")

	// Status API
	fuzzCmd.Flags().Bool("api", false, "serve the read-only status API while fuzzing")
	fuzzCmd.Flags().Int("api-port", 0,
		fmt.Sprintf("first port tried by the status API (unless a config file is provided, default is %d)", defaultConfig.Api.Port))

	// Slither
	fuzzCmd.Flags().String("slither-target", "",
		"compiled Solidity project analyzed by slither to seed the value set with its constants")

	// Logging color
	fuzzCmd.Flags().Bool("no-color", false, "disable colored terminal output")
	return nil
}

// updateProjectConfigWithFuzzFlags will update the given projectConfig with any CLI arguments that were provided to the fuzz command
func updateProjectConfigWithFuzzFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error
	flags := cmd.Flags()
	fuzzing := &projectConfig.Fuzzing

	// Update target
	if flags.Changed("target") {
		if fuzzing.Target, err = flags.GetString("target"); err != nil {
			return err
		}
	}
	if flags.Changed("target-type") {
		if fuzzing.TargetType, err = flags.GetString("target-type"); err != nil {
			return err
		}
	}

	// Update work directory
	if flags.Changed("work-dir") {
		if fuzzing.WorkDirectory, err = flags.GetString("work-dir"); err != nil {
			return err
		}
	}

	// Update seed
	if flags.Changed("seed") {
		if fuzzing.Seed, err = flags.GetInt64("seed"); err != nil {
			return err
		}
	}

	// Update timeout
	if flags.Changed("timeout") {
		if fuzzing.Timeout, err = flags.GetInt("timeout"); err != nil {
			return err
		}
	}

	// Update test limit
	if flags.Changed("test-limit") {
		if fuzzing.TestLimit, err = flags.GetUint64("test-limit"); err != nil {
			return err
		}
	}

	// Update sender addresses
	if flags.Changed("senders") {
		if fuzzing.SenderAddresses, err = flags.GetStringSlice("senders"); err != nil {
			return err
		}
	}

	// Update deployer address
	if flags.Changed("deployer") {
		if fuzzing.DeployerAddress, err = flags.GetString("deployer"); err != nil {
			return err
		}
	}

	// Update deployment order
	if flags.Changed("deployment-order") {
		if fuzzing.DeploymentOrder, err = flags.GetStringSlice("deployment-order"); err != nil {
			return err
		}
	}

	// Update feedback
	if flags.Changed("no-cmp") {
		noCmp, err := flags.GetBool("no-cmp")
		if err != nil {
			return err
		}
		fuzzing.Feedback.Comparison = !noCmp
	}
	if flags.Changed("no-dataflow") {
		noDataflow, err := flags.GetBool("no-dataflow")
		if err != nil {
			return err
		}
		fuzzing.Feedback.Dataflow = !noDataflow
	}

	// Update concolic stage
	if flags.Changed("concolic") {
		if fuzzing.Concolic.Enabled, err = flags.GetBool("concolic"); err != nil {
			return err
		}
	}

	// Update continue on finding
	if flags.Changed("continue") {
		if fuzzing.ContinueOnFinding, err = flags.GetBool("continue"); err != nil {
			return err
		}
	}

	// Update on-chain fetching. A URL enables it.
	if flags.Changed("onchain-url") {
		if fuzzing.Onchain.RPCURL, err = flags.GetString("onchain-url"); err != nil {
			return err
		}
		fuzzing.Onchain.Enabled = fuzzing.Onchain.RPCURL != ""
	}
	if flags.Changed("onchain-block") {
		if fuzzing.Onchain.BlockNumber, err = flags.GetUint64("onchain-block"); err != nil {
			return err
		}
	}

	// Update the status API
	if flags.Changed("api") {
		if projectConfig.Api.Enabled, err = flags.GetBool("api"); err != nil {
			return err
		}
	}
	if flags.Changed("api-port") {
		if projectConfig.Api.Port, err = flags.GetInt("api-port"); err != nil {
			return err
		}
	}

	// Update slither, enabling it when a target is given
	if flags.Changed("slither-target") {
		if projectConfig.Slither.Target, err = flags.GetString("slither-target"); err != nil {
			return err
		}
		projectConfig.Slither.UseSlither = projectConfig.Slither.Target != ""
	}

	// Update logging color mode
	if flags.Changed("no-color") {
		if projectConfig.Logging.NoColor, err = flags.GetBool("no-color"); err != nil {
			return err
		}
	}
	return nil
}
