package valuegeneration

import (
	"fmt"
	"reflect"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// GenerateAbiValue generates a value of inputType with generator, as the Go type go-ethereum's ABI packer expects.
func GenerateAbiValue(generator ValueGenerator, inputType *abi.Type) any {
	switch inputType.T {
	case abi.AddressTy:
		return generator.GenerateAddress()
	case abi.UintTy:
		value := generator.GenerateInteger(false, inputType.Size)
		switch inputType.Size {
		case 64:
			return value.Uint64()
		case 32:
			return uint32(value.Uint64())
		case 16:
			return uint16(value.Uint64())
		case 8:
			return uint8(value.Uint64())
		}
		return value
	case abi.IntTy:
		value := generator.GenerateInteger(true, inputType.Size)
		switch inputType.Size {
		case 64:
			return value.Int64()
		case 32:
			return int32(value.Int64())
		case 16:
			return int16(value.Int64())
		case 8:
			return int8(value.Int64())
		}
		return value
	case abi.BoolTy:
		return generator.GenerateBool()
	case abi.StringTy:
		return generator.GenerateString()
	case abi.BytesTy:
		return generator.GenerateBytes()
	case abi.FixedBytesTy:
		// Fixed byte arrays must be real arrays, which can only be created through reflection.
		array := reflect.Indirect(reflect.New(inputType.GetType()))
		reflect.Copy(array, reflect.ValueOf(generator.GenerateFixedBytes(inputType.Size)))
		return array.Interface()
	case abi.ArrayTy:
		array := reflect.Indirect(reflect.New(inputType.GetType()))
		for i := 0; i < array.Len(); i++ {
			array.Index(i).Set(reflect.ValueOf(GenerateAbiValue(generator, inputType.Elem)))
		}
		return array.Interface()
	case abi.SliceTy:
		length := generator.GenerateArrayOfLength()
		slice := reflect.MakeSlice(inputType.GetType(), length, length)
		for i := 0; i < length; i++ {
			slice.Index(i).Set(reflect.ValueOf(GenerateAbiValue(generator, inputType.Elem)))
		}
		return slice.Interface()
	case abi.TupleTy:
		// Tuples are packed from structs matching the tuple's generated type.
		st := reflect.Indirect(reflect.New(inputType.GetType()))
		for i, elem := range inputType.TupleElems {
			st.Field(i).Set(reflect.ValueOf(GenerateAbiValue(generator, elem)))
		}
		return st.Interface()
	}
	// Mappings cannot appear in external signatures and fixed point types are unsupported by the packer.
	panic(fmt.Sprintf("attempt to generate function argument of unsupported type: '%s'", inputType.String()))
}

// GenerateCalldata generates arguments for method and returns its calldata.
func GenerateCalldata(generator ValueGenerator, method *abi.Method) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, errors.Errorf("could not generate arguments for %s: %v", method.Sig, r)
		}
	}()
	args := make([]any, len(method.Inputs))
	for i, input := range method.Inputs {
		args[i] = GenerateAbiValue(generator, &input.Type)
	}
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode arguments for %s", method.Sig)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}
