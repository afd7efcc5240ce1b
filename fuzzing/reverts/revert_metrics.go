package reverts

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// ReportFileName is the name of the revert metrics artifact within the report directory.
const ReportFileName = "revert_report.json"

// RevertMetrics is used to track the number of times calls to various contracts and functions revert and why.
type RevertMetrics struct {
	// ContractRevertMetrics holds the revert metrics for each contract in the fuzzing campaign.
	ContractRevertMetrics map[string]*ContractRevertMetrics `json:"contractRevertMetrics"`
}

// ContractRevertMetrics is used to track the number of times calls to various functions in a contract revert and why.
type ContractRevertMetrics struct {
	// Name is the name of the contract.
	Name string `json:"name"`
	// FunctionRevertMetrics holds the revert metrics for each function in the contract.
	FunctionRevertMetrics map[string]*FunctionRevertMetrics `json:"functionRevertMetrics"`
}

// FunctionRevertMetrics is used to track the number of times a function reverted and why
type FunctionRevertMetrics struct {
	// Name is the name of the function.
	Name string `json:"name"`
	// TotalCalls is the total number of calls to the function.
	TotalCalls uint64 `json:"totalCalls"`
	// TotalReverts is the total number of times the function reverted or faulted.
	TotalReverts uint64 `json:"totalReverts"`
	// Pct is the fraction of calls to this function that reverted.
	Pct float64 `json:"pct"`
	// PrevPct is Pct in the previous campaign.
	PrevPct float64 `json:"prevPct"`
	// RevertReasonMetrics holds the revert reason metrics for the function.
	RevertReasonMetrics map[string]*RevertReasonMetrics `json:"revertReasonMetrics"`
}

// RevertReasonMetrics is used to track the number of times a revert reason occurred for a function.
type RevertReasonMetrics struct {
	// Reason is the revert reason.
	Reason string `json:"reason"`
	// Count is the number of times the revert reason occurred.
	Count uint64 `json:"count"`
	// Pct is the fraction of calls to the function that ended with this reason.
	Pct float64 `json:"pct"`
	// PrevPct is Pct in the previous campaign.
	PrevPct float64 `json:"prevPct"`
}

// NewRevertMetrics will create a new RevertMetrics object.
func NewRevertMetrics() *RevertMetrics {
	return &RevertMetrics{
		ContractRevertMetrics: make(map[string]*ContractRevertMetrics),
	}
}

// LoadRevertMetrics reads the artifact written to dir by an earlier campaign. A missing artifact yields empty
// metrics.
func LoadRevertMetrics(dir string) (*RevertMetrics, error) {
	if dir == "" {
		return nil, errors.New("empty path was provided")
	}
	b, err := os.ReadFile(filepath.Join(dir, ReportFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewRevertMetrics(), nil
		}
		return nil, errors.WithStack(err)
	}
	metrics := NewRevertMetrics()
	if err := json.Unmarshal(b, metrics); err != nil {
		return nil, errors.Wrap(err, "malformed revert metrics")
	}
	return metrics, nil
}

// Update counts a call to functionName of contractName and, if it reverted, its reason. contractAbi resolves custom
// errors and may be nil.
func (m *RevertMetrics) Update(contractName, functionName string, result *executor.ExecutionResult, contractAbi *abi.ABI) {
	if result == nil {
		return
	}

	contractRevertMetrics := m.ContractRevertMetrics[contractName]
	if contractRevertMetrics == nil {
		contractRevertMetrics = &ContractRevertMetrics{
			Name:                  contractName,
			FunctionRevertMetrics: make(map[string]*FunctionRevertMetrics),
		}
		m.ContractRevertMetrics[contractName] = contractRevertMetrics
	}

	functionRevertMetrics := contractRevertMetrics.FunctionRevertMetrics[functionName]
	if functionRevertMetrics == nil {
		functionRevertMetrics = &FunctionRevertMetrics{
			Name:                functionName,
			RevertReasonMetrics: make(map[string]*RevertReasonMetrics),
		}
		contractRevertMetrics.FunctionRevertMetrics[functionName] = functionRevertMetrics
	}

	functionRevertMetrics.TotalCalls++
	if !result.Reverted() {
		return
	}
	functionRevertMetrics.TotalReverts++

	reason := revertReason(result, contractAbi)
	revertReasonMetrics := functionRevertMetrics.RevertReasonMetrics[reason]
	if revertReasonMetrics == nil {
		revertReasonMetrics = &RevertReasonMetrics{Reason: reason}
		functionRevertMetrics.RevertReasonMetrics[reason] = revertReasonMetrics
	}
	revertReasonMetrics.Count++
}

// revertReason names why result reverted. Faults other than REVERT are named by their error.
func revertReason(result *executor.ExecutionResult, contractAbi *abi.ABI) string {
	if result.Err != nil && !errors.Is(result.Err, vm.ErrExecutionReverted) {
		return result.Err.Error()
	}
	return abiutils.DescribeRevert(contractAbi, result.Output)
}

// Finalize computes the percentages of every function and revert reason. When other is provided, the percentages of
// matching entries are copied into the PrevPct fields.
func (m *RevertMetrics) Finalize(other *RevertMetrics) {
	for contractName, contractRevertMetrics := range m.ContractRevertMetrics {
		var otherContractRevertMetrics *ContractRevertMetrics
		if other != nil {
			otherContractRevertMetrics = other.ContractRevertMetrics[contractName]
		}
		for functionName, functionRevertMetrics := range contractRevertMetrics.FunctionRevertMetrics {
			if functionRevertMetrics.TotalCalls > 0 {
				functionRevertMetrics.Pct = float64(functionRevertMetrics.TotalReverts) / float64(functionRevertMetrics.TotalCalls)
			}

			var otherFunctionRevertMetrics *FunctionRevertMetrics
			if otherContractRevertMetrics != nil {
				if otherFunctionRevertMetrics = otherContractRevertMetrics.FunctionRevertMetrics[functionName]; otherFunctionRevertMetrics != nil {
					functionRevertMetrics.PrevPct = otherFunctionRevertMetrics.Pct
				}
			}
			for reason, revertReasonMetrics := range functionRevertMetrics.RevertReasonMetrics {
				if functionRevertMetrics.TotalCalls > 0 {
					revertReasonMetrics.Pct = float64(revertReasonMetrics.Count) / float64(functionRevertMetrics.TotalCalls)
				}
				if otherFunctionRevertMetrics == nil {
					continue
				}
				if otherRevertReasonMetrics := otherFunctionRevertMetrics.RevertReasonMetrics[reason]; otherRevertReasonMetrics != nil {
					revertReasonMetrics.PrevPct = otherRevertReasonMetrics.Pct
				}
			}
		}
	}
}
