package types

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
)

// ignoredArtifactName is the name of helper artifacts that are never fuzzed.
const ignoredArtifactName = "FuzzLand"

// ErrNoContracts is returned when a target matches no deployable artifact.
var ErrNoContracts = errors.New("no contract artifacts found")

// LoadContracts loads every contract matching target. Target is a glob over artifact files or a directory. An
// artifact is a pair of X.abi (JSON ABI) and X.bin (hex init code), with an optional X.bin-runtime. Files without a
// counterpart are skipped. Contracts are returned sorted by name.
func LoadContracts(target string) ([]*CompiledContract, error) {
	pattern := target
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		pattern = filepath.Join(target, "*")
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid target pattern %s", target)
	}

	abiFiles := make(map[string]string)
	binFiles := make(map[string]string)
	for _, path := range paths {
		base := filepath.Base(path)
		switch filepath.Ext(path) {
		case ".abi":
			if strings.TrimSuffix(base, ".abi") != ignoredArtifactName {
				abiFiles[strings.TrimSuffix(path, ".abi")] = path
			}
		case ".bin":
			if strings.TrimSuffix(base, ".bin") != ignoredArtifactName {
				binFiles[strings.TrimSuffix(path, ".bin")] = path
			}
		}
	}

	contracts := make([]*CompiledContract, 0)
	for prefix, abiPath := range abiFiles {
		binPath, ok := binFiles[prefix]
		if !ok {
			continue
		}
		contract, err := loadContract(prefix, abiPath, binPath)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}
	if len(contracts) == 0 {
		return nil, errors.Wrapf(ErrNoContracts, "target %s", target)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].Name < contracts[j].Name
	})
	return contracts, nil
}

// LoadAbi parses a JSON ABI file.
func LoadAbi(abiPath string) (abi.ABI, error) {
	abiData, err := os.ReadFile(abiPath)
	if err != nil {
		return abi.ABI{}, errors.WithStack(err)
	}
	parsedAbi, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "could not parse ABI %s", abiPath)
	}
	return parsedAbi, nil
}

func loadContract(prefix, abiPath, binPath string) (*CompiledContract, error) {
	parsedAbi, err := LoadAbi(abiPath)
	if err != nil {
		return nil, err
	}
	initBytecode, err := readHexFile(binPath)
	if err != nil {
		return nil, err
	}

	contract := &CompiledContract{
		Name:         filepath.Base(prefix),
		Abi:          parsedAbi,
		InitBytecode: initBytecode,
	}
	if _, err := os.Stat(prefix + ".bin-runtime"); err == nil {
		contract.RuntimeBytecode, err = readHexFile(prefix + ".bin-runtime")
		if err != nil {
			return nil, err
		}
	}
	return contract, nil
}

// readHexFile reads a file holding hex-encoded bytes, with or without a 0x prefix.
func readHexFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	text := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hex in %s", path)
	}
	return decoded, nil
}
