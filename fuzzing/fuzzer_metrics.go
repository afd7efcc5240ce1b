package fuzzing

import (
	"sync"
	"time"
)

// FuzzerMetrics represents a struct tracking metrics for a Fuzzer run.
type FuzzerMetrics struct {
	lock sync.Mutex

	startTime time.Time

	// executions counts executed inputs, failures those which could not run at all.
	executions uint64
	failures   uint64

	transactionCorpus int
	stateCorpus       int
	edges             int
	findings          int
}

// MetricsSnapshot is a point-in-time copy of the metrics of a run.
type MetricsSnapshot struct {
	Elapsed             time.Duration `json:"elapsed"`
	Executions          uint64        `json:"executions"`
	Failures            uint64        `json:"failures"`
	ExecutionsPerSecond uint64        `json:"executionsPerSecond"`
	TransactionCorpus   int           `json:"transactionCorpus"`
	StateCorpus         int           `json:"stateCorpus"`
	Edges               int           `json:"edges"`
	Findings            int           `json:"findings"`
}

func newFuzzerMetrics() *FuzzerMetrics {
	return &FuzzerMetrics{startTime: time.Now()}
}

// start resets the clock the execution rate is computed against.
func (m *FuzzerMetrics) start() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.startTime = time.Now()
}

func (m *FuzzerMetrics) recordExecution() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.executions++
}

func (m *FuzzerMetrics) recordFailure() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.failures++
}

// update sets the sizes of the corpora and the number of findings.
func (m *FuzzerMetrics) update(transactions, states, edges, findings int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.transactionCorpus = transactions
	m.stateCorpus = states
	m.edges = edges
	m.findings = findings
}

// Executions returns the number of inputs executed so far.
func (m *FuzzerMetrics) Executions() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.executions
}

// Snapshot returns a copy of the current metrics.
func (m *FuzzerMetrics) Snapshot() MetricsSnapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	elapsed := time.Since(m.startTime)
	snapshot := MetricsSnapshot{
		Elapsed:           elapsed,
		Executions:        m.executions,
		Failures:          m.failures,
		TransactionCorpus: m.transactionCorpus,
		StateCorpus:       m.stateCorpus,
		Edges:             m.edges,
		Findings:          m.findings,
	}
	if seconds := uint64(elapsed.Seconds()); seconds > 0 {
		snapshot.ExecutionsPerSecond = m.executions / seconds
	}
	return snapshot
}
