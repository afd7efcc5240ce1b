package reverts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// RevertReporter is responsible for tracking the RevertMetrics of a campaign and writing them next to the coverage
// report.
type RevertReporter struct {
	// Path is the directory the metrics are written to, and the previous campaign's metrics are read from.
	Path string

	// RevertMetrics holds the revert metrics for the current campaign.
	RevertMetrics *RevertMetrics

	// PrevRevertMetrics holds the revert metrics for the previous campaign.
	PrevRevertMetrics *RevertMetrics

	logger *logging.Logger
}

// NewRevertReporter creates a reporter writing below path. An empty path keeps the metrics in memory. If the previous
// artifact exists but cannot be loaded, an error is returned.
func NewRevertReporter(path string) (*RevertReporter, error) {
	reporter := &RevertReporter{
		Path:              path,
		RevertMetrics:     NewRevertMetrics(),
		PrevRevertMetrics: NewRevertMetrics(),
		logger:            logging.GlobalLogger.NewSubLogger("module", logging.FUZZING_SERVICE),
	}
	if path == "" {
		return reporter, nil
	}
	prev, err := LoadRevertMetrics(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load previous revert metrics")
	}
	reporter.PrevRevertMetrics = prev
	return reporter, nil
}

// Record counts one transaction.
func (r *RevertReporter) Record(contractName, functionName string, result *executor.ExecutionResult, contractAbi *abi.ABI) {
	r.RevertMetrics.Update(contractName, functionName, result, contractAbi)
}

// WriteReport finalizes the metrics against the previous campaign and writes them to Path. It returns the written
// file, or an empty string when the reporter has no path.
func (r *RevertReporter) WriteReport() (string, error) {
	r.RevertMetrics.Finalize(r.PrevRevertMetrics)
	if r.Path == "" {
		return "", nil
	}
	if err := utils.MakeDirectory(r.Path); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(r.RevertMetrics, "", "    ")
	if err != nil {
		return "", errors.WithStack(err)
	}
	path := filepath.Join(r.Path, ReportFileName)
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", errors.WithStack(err)
	}
	r.logger.Info("Revert metrics written to file: ", path)
	return path, nil
}

// Summary renders the functions that reverted, most reverting first, one line each.
func (r *RevertReporter) Summary() string {
	type row struct {
		name    string
		metrics *FunctionRevertMetrics
	}
	var rows []row
	for contractName, contractRevertMetrics := range r.RevertMetrics.ContractRevertMetrics {
		for functionName, functionRevertMetrics := range contractRevertMetrics.FunctionRevertMetrics {
			if functionRevertMetrics.TotalReverts > 0 {
				rows = append(rows, row{name: contractName + "." + functionName, metrics: functionRevertMetrics})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].metrics.TotalReverts != rows[j].metrics.TotalReverts {
			return rows[i].metrics.TotalReverts > rows[j].metrics.TotalReverts
		}
		return rows[i].name < rows[j].name
	})

	var sb strings.Builder
	for _, row := range rows {
		m := row.metrics
		sb.WriteString(fmt.Sprintf("%s: %d/%d reverted (%.1f%%)\n", row.name, m.TotalReverts, m.TotalCalls,
			100*float64(m.TotalReverts)/float64(m.TotalCalls)))
	}
	return sb.String()
}
