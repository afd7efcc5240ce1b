package types

import (
	"bytes"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"golang.org/x/exp/slices"
)

// CompiledContract is one deployable contract artifact.
type CompiledContract struct {
	// Name is the artifact name, the file name without extension.
	Name string

	// Abi describes the contract's functions, events and errors.
	Abi abi.ABI

	// InitBytecode is the bytecode used to deploy the contract.
	InitBytecode []byte

	// RuntimeBytecode is the code expected once deployed, when the artifact provides it.
	RuntimeBytecode []byte
}

// IsMatch reports whether deployed runtime code belongs to this contract. Contracts are matched on their metadata
// bytecode hash when both carry one, and on their code without the metadata trailer otherwise.
func (c *CompiledContract) IsMatch(runtimeBytecode []byte) bool {
	if len(runtimeBytecode) == 0 || len(c.RuntimeBytecode) == 0 {
		return false
	}
	deployed := ExtractContractMetadata(runtimeBytecode)
	definition := ExtractContractMetadata(c.RuntimeBytecode)
	if deployed != nil && definition != nil {
		deployedHash, definitionHash := deployed.ExtractBytecodeHash(), definition.ExtractBytecodeHash()
		if deployedHash != nil && definitionHash != nil {
			return bytes.Equal(deployedHash, definitionHash)
		}
	}
	return bytes.Equal(RemoveContractMetadata(runtimeBytecode), RemoveContractMetadata(c.RuntimeBytecode))
}

// FuzzableMethods returns the methods the fuzzer should call: every function which may modify state, sorted by
// signature so iteration is deterministic.
func (c *CompiledContract) FuzzableMethods() []abi.Method {
	methods := make([]abi.Method, 0)
	for _, method := range c.Abi.Methods {
		if method.IsConstant() {
			continue
		}
		methods = append(methods, method)
	}
	sortMethods(methods)
	return methods
}

// PropertyMethods returns zero-argument functions returning a single bool whose name starts with one of the
// prefixes, sorted by signature.
func (c *CompiledContract) PropertyMethods(prefixes []string) []abi.Method {
	methods := make([]abi.Method, 0)
	for _, method := range c.Abi.Methods {
		if len(method.Inputs) != 0 || len(method.Outputs) != 1 || method.Outputs[0].Type.T != abi.BoolTy {
			continue
		}
		if slices.ContainsFunc(prefixes, func(prefix string) bool { return strings.HasPrefix(method.Name, prefix) }) {
			methods = append(methods, method)
		}
	}
	sortMethods(methods)
	return methods
}

func sortMethods(methods []abi.Method) {
	slices.SortFunc(methods, func(a, b abi.Method) int {
		return strings.Compare(a.Sig, b.Sig)
	})
}
