package oracles

import (
	"fmt"
	"strings"

	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"golang.org/x/exp/slices"
)

// DefaultInvariantPrefixes are the name prefixes of invariant functions.
var DefaultInvariantPrefixes = []string{"invariant_", "echidna_"}

// invariant is one zero-argument boolean function of a deployed contract.
type invariant struct {
	address common.Address
	method  abi.Method
}

// InvariantOracle calls every invariant function after each execution. An invariant which returns false or reverts
// is violated.
type InvariantOracle struct {
	caller     common.Address
	contracts  map[common.Address]*abiutils.Contract
	invariants []invariant
}

// NewInvariantOracle collects the invariants of contracts whose names start with one of prefixes. Invariants are
// called from caller.
func NewInvariantOracle(contracts map[common.Address]*abiutils.Contract, prefixes []string, caller common.Address) *InvariantOracle {
	if len(prefixes) == 0 {
		prefixes = DefaultInvariantPrefixes
	}
	o := &InvariantOracle{caller: caller, contracts: contracts}
	for address, contract := range contracts {
		for _, method := range contract.ABI().Methods {
			if IsInvariant(method, prefixes) {
				o.invariants = append(o.invariants, invariant{address: address, method: method})
			}
		}
	}
	slices.SortFunc(o.invariants, func(a, b invariant) int {
		if c := a.address.Cmp(b.address); c != 0 {
			return c
		}
		return strings.Compare(a.method.Name, b.method.Name)
	})
	return o
}

// IsInvariant reports whether method is a zero-argument function returning a single bool, named with one of
// prefixes.
func IsInvariant(method abi.Method, prefixes []string) bool {
	if len(method.Inputs) != 0 || len(method.Outputs) != 1 || method.Outputs[0].Type.T != abi.BoolTy {
		return false
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(method.Name, prefix) {
			return true
		}
	}
	return false
}

// Count returns the number of invariants checked.
func (o *InvariantOracle) Count() int {
	return len(o.invariants)
}

// Name implements Oracle.
func (o *InvariantOracle) Name() string { return "invariant" }

// Inspect implements Oracle.
func (o *InvariantOracle) Inspect(ctx *Context) []Finding {
	if ctx.Executor == nil || ctx.Result.Reverted() {
		return nil
	}
	var findings []Finding
	for _, inv := range o.invariants {
		result, err := ctx.Executor.StaticCall(ctx.Post, o.caller, inv.address, inv.method.ID)
		if err != nil {
			continue
		}
		finding := Finding{
			Kind:    KindInvariantViolation,
			Address: inv.address,
			Name:    inv.method.Name,
			Message: fmt.Sprintf("invariant %s of %s violated", inv.method.Name, inv.address.Hex()),
		}
		if result.Reverted() {
			finding.Detail = abiutils.DescribeRevert(o.contracts[inv.address].ABI(), result.Output)
			findings = append(findings, finding)
			continue
		}
		values, err := o.contracts[inv.address].DecodeOutputs(&inv.method, result.Output)
		if err != nil || len(values) != 1 {
			finding.Detail = "malformed return data"
			findings = append(findings, finding)
			continue
		}
		if holds, ok := values[0].(bool); !ok || !holds {
			finding.Detail = "returned false"
			findings = append(findings, finding)
		}
	}
	return findings
}
