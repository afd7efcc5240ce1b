package oracles

import (
	"fmt"

	evm "github.com/crytic/medusa-geth/core/vm"
)

// ReentrancyOracle reports writes, after control returned from a leaked call, to slots read before the call.
type ReentrancyOracle struct{}

// Name implements Oracle.
func (ReentrancyOracle) Name() string { return "reentrancy" }

// Inspect implements Oracle.
func (ReentrancyOracle) Inspect(ctx *Context) []Finding {
	var findings []Finding
	for _, observation := range ctx.Post.Observations.Reentrancies {
		findings = append(findings, Finding{
			Kind:    KindReentrancy,
			Address: observation.Address,
			PC:      observation.PC,
			Name:    observation.Slot.Hex(),
			Message: fmt.Sprintf("%s wrote slot %s after an external call, having read it before", observation.Address.Hex(), observation.Slot.Hex()),
		})
	}
	return findings
}

// IntegerOverflowOracle reports wrapping arithmetic.
type IntegerOverflowOracle struct{}

// Name implements Oracle.
func (IntegerOverflowOracle) Name() string { return "integer-overflow" }

// Inspect implements Oracle.
func (IntegerOverflowOracle) Inspect(ctx *Context) []Finding {
	var findings []Finding
	for _, observation := range ctx.Post.Observations.IntegerOverflows {
		op := evm.OpCode(observation.Op).String()
		findings = append(findings, Finding{
			Kind:    KindIntegerOverflow,
			Address: observation.Address,
			PC:      observation.PC,
			Name:    op,
			Message: fmt.Sprintf("%s wrapped around at pc %d of %s", op, observation.PC, observation.Address.Hex()),
		})
	}
	return findings
}

// ArbitraryCallOracle reports calls to targets taken from calldata.
type ArbitraryCallOracle struct{}

// Name implements Oracle.
func (ArbitraryCallOracle) Name() string { return "arbitrary-call" }

// Inspect implements Oracle.
func (ArbitraryCallOracle) Inspect(ctx *Context) []Finding {
	var findings []Finding
	for _, observation := range ctx.Post.Observations.ArbitraryCalls {
		findings = append(findings, Finding{
			Kind:    KindArbitraryCall,
			Address: observation.Caller,
			PC:      observation.PC,
			Message: fmt.Sprintf("%s called %s, an address supplied by the caller", observation.Caller.Hex(), observation.Target.Hex()),
		})
	}
	return findings
}

// SelfDestructOracle reports reachable SELFDESTRUCT instructions.
type SelfDestructOracle struct{}

// Name implements Oracle.
func (SelfDestructOracle) Name() string { return "self-destruct" }

// Inspect implements Oracle.
func (SelfDestructOracle) Inspect(ctx *Context) []Finding {
	var findings []Finding
	for _, observation := range ctx.Post.Observations.SelfDestructs {
		findings = append(findings, Finding{
			Kind:    KindSelfDestruct,
			Address: observation.Address,
			PC:      observation.PC,
			Message: fmt.Sprintf("%s self-destructed", observation.Address.Hex()),
		})
	}
	return findings
}

// TypedBugOracle reports bug() and typed_bug(string) marker events.
type TypedBugOracle struct{}

// Name implements Oracle.
func (TypedBugOracle) Name() string { return "typed-bug" }

// Inspect implements Oracle.
func (TypedBugOracle) Inspect(ctx *Context) []Finding {
	var findings []Finding
	observations := ctx.Post.Observations
	if observations.BugHit {
		findings = append(findings, Finding{
			Kind:    KindTypedBug,
			Address: ctx.Input.Contract,
			Name:    "bug()",
			Message: "bug() marker reached",
		})
	}
	for _, observation := range observations.TypedBugs {
		findings = append(findings, Finding{
			Kind:    KindTypedBug,
			Address: observation.Address,
			PC:      observation.PC,
			Name:    observation.Name,
			Message: fmt.Sprintf("typed bug %q reached in %s", observation.Name, observation.Address.Hex()),
		})
	}
	return findings
}
