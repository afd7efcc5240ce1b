package cmd

// addCorpusCleanFlags adds flags for the corpus clean subcommand
func addCorpusCleanFlags() error {
	// Prevent alphabetical sorting of usage message
	corpusCleanCmd.Flags().SortFlags = false

	// Config file path
	corpusCleanCmd.Flags().String("config", "",
		"path to config file (default: hydra.json in current directory)")

	// Work directory holding the corpus
	corpusCleanCmd.Flags().String("work-dir", "", "work directory holding the corpus to clean")

	// Report without deleting
	corpusCleanCmd.Flags().Bool("dry-run", false, "report invalid sequences without removing them")
	return nil
}
