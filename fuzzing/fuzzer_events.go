package fuzzing

import (
	"github.com/crytic/hydra/events"
	"github.com/crytic/hydra/fuzzing/oracles"
)

// FuzzerEvents defines event emitters for a Fuzzer.
type FuzzerEvents struct {
	// FuzzerStarting emits events when the Fuzzer initialized state and is about to begin the main fuzzing loop.
	FuzzerStarting events.EventEmitter[FuzzerStartingEvent]

	// FuzzerStopping emits events when the Fuzzer is exiting its main fuzzing loop.
	FuzzerStopping events.EventEmitter[FuzzerStoppingEvent]

	// FindingReported emits events when an oracle reports a bug not seen before in the run.
	FindingReported events.EventEmitter[FindingReportedEvent]
}

// FuzzerStartingEvent describes an event where a fuzzing.Fuzzer has initialized all state variables and is about to
// begin fuzzing.
type FuzzerStartingEvent struct {
	// Fuzzer represents the instance of the fuzzing.Fuzzer for which the event occurred.
	Fuzzer *Fuzzer
}

// FuzzerStoppingEvent describes an event where a fuzzing.Fuzzer is exiting the main fuzzing loop.
type FuzzerStoppingEvent struct {
	// Fuzzer represents the instance of the fuzzing.Fuzzer for which the event occurred.
	Fuzzer *Fuzzer

	// Err describes a potential error returned by the fuzzer run.
	Err error
}

// FindingReportedEvent describes a new finding and the sequence which triggered it.
type FindingReportedEvent struct {
	Fuzzer   *Fuzzer
	Finding  oracles.Finding
	Solution Solution
}
