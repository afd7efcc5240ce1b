package abiutils

import (
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// SelectorLength is the length of a function selector prefixing calldata.
const SelectorLength = 4

// Contract is the ABI capability for one contract: it encodes calls, decodes calldata and return data, and
// classifies methods.
type Contract struct {
	abi abi.ABI
}

// NewContract wraps a parsed ABI.
func NewContract(contractAbi abi.ABI) *Contract {
	return &Contract{abi: contractAbi}
}

// ABI returns the wrapped ABI.
func (c *Contract) ABI() *abi.ABI {
	return &c.abi
}

// MethodBySelector resolves the method a selector identifies.
func (c *Contract) MethodBySelector(selector []byte) (*abi.Method, error) {
	if len(selector) < SelectorLength {
		return nil, errors.Errorf("selector too short: %d bytes", len(selector))
	}
	method, err := c.abi.MethodById(selector[:SelectorLength])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return method, nil
}

// Encode packs args for the method a selector identifies, returning the full calldata.
func (c *Contract) Encode(selector []byte, args []any) ([]byte, error) {
	method, err := c.MethodBySelector(selector)
	if err != nil {
		return nil, err
	}
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode arguments for %s", method.Sig)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

// Decode unpacks the arguments of calldata, which includes its selector.
func (c *Contract) Decode(calldata []byte) (*abi.Method, []any, error) {
	method, err := c.MethodBySelector(calldata)
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(calldata[SelectorLength:])
	if err != nil {
		return method, nil, errors.Wrapf(err, "could not decode arguments for %s", method.Sig)
	}
	return method, args, nil
}

// DecodeOutputs unpacks the return data of method.
func (c *Contract) DecodeOutputs(method *abi.Method, output []byte) ([]any, error) {
	values, err := method.Outputs.Unpack(output)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode return data of %s", method.Sig)
	}
	return values, nil
}

// IsStatic reports whether method cannot modify state.
func IsStatic(method *abi.Method) bool {
	return method.IsConstant()
}

// IsPayable reports whether method accepts native value.
func IsPayable(method *abi.Method) bool {
	return method.IsPayable()
}
