package abiutils

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/crytic/medusa-geth/accounts/abi"
)

// Solidity `Panic(uint256)` codes.
// Reference: https://docs.soliditylang.org/en/latest/control-structures.html#panic-via-assert-and-error-via-require
const (
	PanicCodeCompilerInserted              = 0x00
	PanicCodeAssertFailed                  = 0x01
	PanicCodeArithmeticUnderOverflow       = 0x11
	PanicCodeDivideByZero                  = 0x12
	PanicCodeEnumTypeConversionOutOfBounds = 0x21
	PanicCodeIncorrectStorageAccess        = 0x22
	PanicCodePopEmptyArray                 = 0x31
	PanicCodeOutOfBoundsArrayAccess        = 0x32
	PanicCodeAllocateTooMuchMemory         = 0x41
	PanicCodeCallUninitializedVariable     = 0x51
)

var (
	uint256Type, _ = abi.NewType("uint256", "", nil)
	stringType, _  = abi.NewType("string", "", nil)

	panicMethod = abi.NewMethod("Panic", "Panic", abi.Function, "", false, false,
		abi.Arguments{{Type: uint256Type}}, abi.Arguments{})
	errorMethod = abi.NewMethod("Error", "Error", abi.Function, "", false, false,
		abi.Arguments{{Type: stringType}}, abi.Arguments{})
)

// GetSolidityPanicCode decodes `Panic(uint256)` revert data, or returns nil.
func GetSolidityPanicCode(returnData []byte) *big.Int {
	if len(returnData) != 4+32 || !bytes.Equal(returnData[:4], panicMethod.ID) {
		return nil
	}
	values, err := panicMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	code, _ := values[0].(*big.Int)
	return code
}

// GetSolidityRevertErrorString decodes `Error(string)` revert data, or returns nil.
func GetSolidityRevertErrorString(returnData []byte) *string {
	if len(returnData) <= 4 || !bytes.Equal(returnData[:4], errorMethod.ID) {
		return nil
	}
	values, err := errorMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	message, ok := values[0].(string)
	if !ok {
		return nil
	}
	return &message
}

// GetSolidityCustomRevertError resolves a custom error declared in contractAbi from revert data. It returns nil
// outputs when no declared error matches.
func GetSolidityCustomRevertError(contractAbi *abi.ABI, returnData []byte) (*abi.Error, []any) {
	if contractAbi == nil || len(returnData) < 4 {
		return nil, nil
	}
	for _, abiError := range contractAbi.Errors {
		if bytes.Equal(abiError.ID.Bytes()[:4], returnData[:4]) {
			matched := abiError
			args, err := matched.Inputs.Unpack(returnData[4:])
			if err == nil {
				return &matched, args
			}
		}
	}
	return nil, nil
}

// GetPanicReason describes a panic code.
func GetPanicReason(panicCode uint64) string {
	switch panicCode {
	case PanicCodeCompilerInserted:
		return "panic: compiler inserted panic"
	case PanicCodeAssertFailed:
		return "panic: assertion failed"
	case PanicCodeArithmeticUnderOverflow:
		return "panic: arithmetic underflow"
	case PanicCodeDivideByZero:
		return "panic: division by zero"
	case PanicCodeEnumTypeConversionOutOfBounds:
		return "panic: enum access out of bounds"
	case PanicCodeIncorrectStorageAccess:
		return "panic: incorrect storage access"
	case PanicCodePopEmptyArray:
		return "panic: pop on empty array"
	case PanicCodeOutOfBoundsArrayAccess:
		return "panic: out of bounds array access"
	case PanicCodeAllocateTooMuchMemory:
		return "panic: overallocation of memory"
	case PanicCodeCallUninitializedVariable:
		return "panic: call on uninitialized variable"
	default:
		return fmt.Sprintf("unknown panic code(%v)", panicCode)
	}
}

// DescribeRevert renders revert data as a readable reason: a panic, an error string, a custom error from
// contractAbi, or the raw data.
func DescribeRevert(contractAbi *abi.ABI, returnData []byte) string {
	if code := GetSolidityPanicCode(returnData); code != nil {
		return GetPanicReason(code.Uint64())
	}
	if message := GetSolidityRevertErrorString(returnData); message != nil {
		return fmt.Sprintf("error: %s", *message)
	}
	if customError, args := GetSolidityCustomRevertError(contractAbi, returnData); customError != nil {
		return fmt.Sprintf("error: %s%v", customError.Name, args)
	}
	if len(returnData) == 0 {
		return "revert"
	}
	return fmt.Sprintf("revert: 0x%x", returnData)
}
