package abiutils

import (
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
)

// UnpackEventAndValues resolves the event definition for a log (given as its topics and data) and unpacks its
// input values in declaration order. It returns nil for both if no definition matches or unpacking fails.
func UnpackEventAndValues(contractAbi *abi.ABI, topics []common.Hash, data []byte) (*abi.Event, []any) {
	if contractAbi == nil || len(topics) == 0 {
		return nil, nil
	}
	event, err := contractAbi.EventByID(topics[0])
	if err != nil {
		return nil, nil
	}

	// go-ethereum will not unpack indexed arguments, so they are re-declared as un-indexed and unpacked from the
	// concatenated topics, then merged back in declaration order.
	var (
		unindexedInputArguments abi.Arguments
		indexedInputArguments   abi.Arguments
	)
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexedInputArguments = append(indexedInputArguments, abi.Argument{
				Name: arg.Name,
				Type: arg.Type,
			})
		} else {
			unindexedInputArguments = append(unindexedInputArguments, arg)
		}
	}
	if len(topics) < len(indexedInputArguments)+1 {
		return nil, nil
	}

	var indexedInputData []byte
	for i := range indexedInputArguments {
		indexedInputData = append(indexedInputData, topics[i+1].Bytes()...)
	}
	unindexedInputValues, err := unindexedInputArguments.Unpack(data)
	if err != nil {
		return nil, nil
	}
	indexedInputValues, err := indexedInputArguments.Unpack(indexedInputData)
	if err != nil {
		return nil, nil
	}

	var (
		currentIndexed   int
		currentUnindexed int
		inputValues      []any
	)
	for _, arg := range event.Inputs {
		if arg.Indexed {
			inputValues = append(inputValues, indexedInputValues[currentIndexed])
			currentIndexed++
		} else {
			inputValues = append(inputValues, unindexedInputValues[currentUnindexed])
			currentUnindexed++
		}
	}
	return event, inputValues
}
