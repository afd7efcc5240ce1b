// Package slither reads the constants and function properties that slither's echidna printer extracts from a
// Solidity project, so they can seed the value set.
package slither

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/crytic/hydra/fuzzing/valuegeneration"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// EchidnaPrinter is the name of the slither printer whose output is parsed.
const EchidnaPrinter = "echidna"

// SlitherData is the data structure that holds the results from slither's echidna printer
type SlitherData struct {
	// Payable holds all the functions that are marked as payable
	Payable map[string][]string `json:"payable"`
	// Timestamp holds all the functions that use `block.timestamp`
	Timestamp map[string][]string `json:"timestamp"`
	// BlockNumber holds all the functions that use `block.number`
	BlockNumber map[string][]string `json:"block_number"`
	// MsgSender holds all the functions that use `msg.sender`
	MsgSender map[string][]string `json:"msg_sender"`
	// Assert holds all the functions that have an `assert` statement
	Assert map[string][]string `json:"assert"`
	// ConstantsUsed holds all the various constants identified in all the functions
	ConstantsUsed rawConstants `json:"constants_used"`
	// Constants is ConstantsUsed flattened, ordered by contract and method name.
	Constants []*Constant `json:"-"`
}

// rawConstants is the printer's constant format: contractName -> methodName -> list of lists of constants.
type rawConstants map[string]map[string][][]map[string]string

// Constant represents a constant that was identified by slither, and the contract and method it was found in.
type Constant struct {
	ContractName string
	MethodName   string
	// Type represents what kind of constant this is (e.g. uint256, string, bytes32, etc.)
	Type abi.Type
	// Value is the string representation of the value.
	Value string
}

// rawSlitherOutput is the envelope of `slither --json -`. The printer output itself is a JSON string in the
// description of the first printer result.
type rawSlitherOutput struct {
	Success bool                        `json:"success"`
	Error   any                         `json:"error"`
	Results map[string][]map[string]any `json:"results"`
}

// RunPrinter runs slither's echidna printer on target, which must already be compiled, and returns its raw JSON
// output. args are passed to slither after the printer arguments.
func RunPrinter(ctx context.Context, target string, args ...string) ([]byte, error) {
	if target == "" {
		return nil, errors.New("must provide a target to run slither's echidna printer")
	}
	cmdArgs := append([]string{target, "--print", EchidnaPrinter, "--ignore-compile", "--json", "-"}, args...)
	cmd := exec.CommandContext(ctx, "slither", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("error while running slither: %v\n\nCommand Output:\n%s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// ParsePrinterOutput decodes the JSON output of a printer run.
func ParsePrinterOutput(output []byte) (*SlitherData, error) {
	var rawOutput rawSlitherOutput
	if err := json.Unmarshal(output, &rawOutput); err != nil {
		return nil, errors.Wrap(err, "error while unmarshaling slither's output")
	}
	if rawOutput.Error != nil {
		return nil, errors.Errorf("slither returned the following error: %v", rawOutput.Error)
	}

	printers := rawOutput.Results["printers"]
	if len(printers) != 1 || printers[0]["printer"] != EchidnaPrinter {
		return nil, errors.New("expected the slither output to contain the results from the echidna printer")
	}
	description, ok := printers[0]["description"].(string)
	if !ok {
		return nil, errors.New("the echidna printer result has no description")
	}

	var data SlitherData
	if err := json.Unmarshal([]byte(description), &data); err != nil {
		return nil, errors.Wrap(err, "error while unmarshaling slither's echidna printer results")
	}
	constants, err := makeConstantsList(data.ConstantsUsed)
	if err != nil {
		return nil, errors.Wrap(err, "error while parsing the constants in the output")
	}
	data.Constants = constants
	return &data, nil
}

// Load returns the printer data of target. When cachePath names an existing file it is parsed instead of running
// slither; otherwise slither runs and, with a non-empty cachePath, its output is written there.
func Load(ctx context.Context, target, cachePath string, args ...string) (*SlitherData, error) {
	logger := logging.GlobalLogger.NewSubLogger("module", logging.SLITHER_SERVICE)
	if cachePath != "" {
		if output, err := os.ReadFile(cachePath); err == nil {
			logger.Info("Using cached slither results at ", cachePath)
			return ParsePrinterOutput(output)
		}
	}

	logger.Info("Running slither on ", target)
	output, err := RunPrinter(ctx, target, args...)
	if err != nil {
		return nil, err
	}
	data, err := ParsePrinterOutput(output)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := utils.MakeDirectory(filepath.Dir(cachePath)); err != nil {
			return data, err
		}
		if err := os.WriteFile(cachePath, output, 0644); err != nil {
			return data, errors.WithStack(err)
		}
	}
	return data, nil
}

// makeConstantsList flattens constantsUsed.
func makeConstantsList(constantsUsed rawConstants) ([]*Constant, error) {
	constants := make([]*Constant, 0)
	for _, contractName := range sortedKeys(constantsUsed) {
		constantsInContract := constantsUsed[contractName]
		for _, methodName := range sortedKeys(constantsInContract) {
			for _, constantsList := range constantsInContract[methodName] {
				for _, rawConstant := range constantsList {
					slitherType, ok := rawConstant["type"]
					if !ok {
						return nil, fmt.Errorf("cannot find the `type` key in the following constant: %v", rawConstant)
					}
					value, ok := rawConstant["value"]
					if !ok {
						return nil, fmt.Errorf("cannot find the `value` key in the following constant: %v", rawConstant)
					}
					abiType, err := abi.NewType(slitherType, "", nil)
					if err != nil {
						return nil, errors.WithStack(err)
					}
					constants = append(constants, &Constant{
						ContractName: contractName,
						MethodName:   methodName,
						Type:         abiType,
						Value:        value,
					})
				}
			}
		}
	}
	return constants, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddConstantsToValueSet adds every constant to vs and returns how many were added. Constants that cannot be
// converted are skipped, and the first such error is returned alongside the count.
func (s *SlitherData) AddConstantsToValueSet(vs *valuegeneration.ValueSet) (int, error) {
	var firstErr error
	added := 0
	for _, constant := range s.Constants {
		ok, err := addConstant(vs, constant)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			added++
		}
	}
	return added, firstErr
}

func addConstant(vs *valuegeneration.ValueSet, constant *Constant) (bool, error) {
	switch constant.Type.T {
	case abi.IntTy, abi.UintTy:
		b, success := new(big.Int).SetString(constant.Value, 10)
		if !success {
			return false, fmt.Errorf("unable to convert %v into a base-10 integer", constant.Value)
		}
		vs.AddBigInteger(b)
	case abi.AddressTy:
		addr, err := utils.HexStringToAddress(constant.Value)
		if err != nil {
			return false, err
		}
		vs.AddAddress(addr)
	case abi.StringTy, abi.BytesTy, abi.FixedBytesTy:
		vs.AddBytes([]byte(constant.Value))
	case abi.BoolTy:
		// booleans are always generated
		return false, nil
	default:
		return false, fmt.Errorf("invalid abi type identified for slither constant: %v", constant.Type.String())
	}
	return true, nil
}

// GetConstantsInContract will return all the constants associated with a given contract
func (s *SlitherData) GetConstantsInContract(contractName string) []*Constant {
	constantsInContract := make([]*Constant, 0)
	for _, constant := range s.Constants {
		if constant.ContractName == contractName {
			constantsInContract = append(constantsInContract, constant)
		}
	}
	return constantsInContract
}
