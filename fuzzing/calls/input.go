package calls

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)


// Environment is the block and transaction context an input executes with.
type Environment struct {
	BlockNumber uint64         `json:"number,omitempty"`
	Timestamp   uint64         `json:"timestamp,omitempty"`
	Coinbase    common.Address `json:"coinbase,omitempty"`
	GasLimit    uint64         `json:"gasLimit,omitempty"`
	ChainID     uint64         `json:"chainId,omitempty"`
}

// Input is one fuzzed transaction.
type Input struct {
	// Caller sends the transaction.
	Caller common.Address
	// Contract receives it.
	Contract common.Address
	// Data is the calldata, a selector followed by ABI-encoded arguments. For resume inputs it is the data the leaked
	// call returns to the suspended contract.
	Data []byte
	// Value is the native value sent along.
	Value uint256.Int
	// Env is the block context.
	Env Environment
	// Repeat is the number of times the call is executed. Zero and one both mean once.
	Repeat uint64
	// Resume continues the newest suspended execution of the seed state instead of making a new call.
	Resume bool
}

// NewInput creates a call input.
func NewInput(caller, contract common.Address, data []byte, value *uint256.Int) *Input {
	input := &Input{Caller: caller, Contract: contract, Data: common.CopyBytes(data), Repeat: 1}
	if value != nil {
		input.Value.Set(value)
	}
	return input
}

// NewResumeInput creates an input continuing the newest suspended execution, which sees returnData as the result of
// its leaked call.
func NewResumeInput(caller common.Address, returnData []byte) *Input {
	return &Input{Caller: caller, Data: common.CopyBytes(returnData), Repeat: 1, Resume: true}
}

// Selector returns the function selector of the calldata, or nil for resume inputs and short calldata.
func (i *Input) Selector() []byte {
	if i.Resume || len(i.Data) < abiutils.SelectorLength {
		return nil
	}
	return i.Data[:abiutils.SelectorLength]
}

// Executions returns how many times the call runs.
func (i *Input) Executions() uint64 {
	return max(i.Repeat, 1)
}

// Bucket identifies the (contract, selector) group an input is scheduled in.
type Bucket struct {
	Contract common.Address
	Selector [4]byte
	Resume   bool
}

// Bucket returns the scheduling bucket of the input.
func (i *Input) Bucket() Bucket {
	bucket := Bucket{Contract: i.Contract, Resume: i.Resume}
	copy(bucket.Selector[:], i.Selector())
	return bucket
}

// Clone returns a deep copy of the input.
func (i *Input) Clone() *Input {
	clone := *i
	clone.Data = common.CopyBytes(i.Data)
	return &clone
}

// Equal reports whether two inputs are identical.
func (i *Input) Equal(other *Input) bool {
	return i.Caller == other.Caller && i.Contract == other.Contract && bytes.Equal(i.Data, other.Data) &&
		i.Value.Eq(&other.Value) && i.Env == other.Env && i.Executions() == other.Executions() && i.Resume == other.Resume
}

// String renders the input with raw calldata.
func (i *Input) String() string {
	return i.Describe(nil)
}

// Describe renders the input, decoding the call with contract when it is given and the calldata matches.
func (i *Input) Describe(contract *abiutils.Contract) string {
	var call string
	switch {
	case i.Resume:
		call = fmt.Sprintf("resume(returning %s)", hexutil.Encode(i.Data))
	case contract != nil:
		if method, args, err := contract.Decode(i.Data); err == nil {
			call = fmt.Sprintf("%s.%s%v", i.Contract.Hex(), method.Name, args)
		}
	}
	if call == "" {
		call = fmt.Sprintf("%s(%s)", i.Contract.Hex(), hexutil.Encode(i.Data))
	}
	description := fmt.Sprintf("%s from %s", call, i.Caller.Hex())
	if !i.Value.IsZero() {
		description += fmt.Sprintf(" value %s", i.Value.Dec())
	}
	if i.Executions() > 1 {
		description += fmt.Sprintf(" x%d", i.Executions())
	}
	if i.Env.BlockNumber != 0 || i.Env.Timestamp != 0 {
		description += fmt.Sprintf(" (block %d, time %d)", i.Env.BlockNumber, i.Env.Timestamp)
	}
	return description
}

// conciseInput is the single-line serialized form of an Input.
type conciseInput struct {
	Caller   common.Address `json:"caller"`
	Contract common.Address `json:"contract,omitempty"`
	Data     hexutil.Bytes  `json:"data"`
	Value    string         `json:"value,omitempty"`
	Env      Environment    `json:"env"`
	Repeat   uint64         `json:"repeat,omitempty"`
	Resume   bool           `json:"resume,omitempty"`
}

// MarshalLine serializes the input as one line of JSON. The data of a resume input is its return data.
func (i *Input) MarshalLine() ([]byte, error) {
	line := conciseInput{Caller: i.Caller, Contract: i.Contract, Data: i.Data, Env: i.Env, Resume: i.Resume}
	if i.Resume {
		line.Contract = common.Address{}
	}
	if !i.Value.IsZero() {
		line.Value = i.Value.Hex()
	}
	if i.Executions() > 1 {
		line.Repeat = i.Repeat
	}
	b, err := json.Marshal(line)
	return b, errors.WithStack(err)
}

// ParseLine parses one serialized input.
func ParseLine(b []byte) (*Input, error) {
	var line conciseInput
	if err := json.Unmarshal(bytes.TrimSpace(b), &line); err != nil {
		return nil, errors.Wrap(err, "malformed input line")
	}
	input := &Input{
		Caller:   line.Caller,
		Contract: line.Contract,
		Data:     line.Data,
		Env:      line.Env,
		Repeat:   max(line.Repeat, 1),
		Resume:   line.Resume,
	}
	if line.Value != "" {
		value, err := uint256.FromHex(line.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed value %q", line.Value)
		}
		input.Value.Set(value)
	}
	if input.Data == nil {
		input.Data = []byte{}
	}
	return input, nil
}
