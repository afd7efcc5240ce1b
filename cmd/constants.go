package cmd

// DefaultProjectConfigFilename describes the default config filename for a given project folder.
const DefaultProjectConfigFilename = "hydra.json"

// TargetFlagDescription is the description of the --target flag shared by several commands.
const TargetFlagDescription = "glob of contract artifacts (.abi/.bin pairs), or comma separated addresses when the " +
	"target type is \"address\""
