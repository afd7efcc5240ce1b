package exitcodes

// Process exit codes. Codes 0 and 1 keep their conventional meaning; the others are specific to hydra.
const (
	// ExitCodeSuccess means the command finished without findings or errors.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError is returned for errors which were not logged yet.
	ExitCodeGeneralError = 1

	// ExitCodeHandledError is returned for errors which were already logged and must not be printed twice.
	ExitCodeHandledError = 2

	// ExitCodeFuzzerError means the campaign itself failed, for example while deploying targets.
	ExitCodeFuzzerError = 6

	// ExitCodeTestFailed means the campaign reported at least one finding.
	ExitCodeTestFailed = 7
)
