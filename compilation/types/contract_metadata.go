package types

import (
	"bytes"
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/fxamacker/cbor"
	"github.com/pkg/errors"
)

// ContractMetadata is the CBOR-encoded structure the Solidity compiler appends to contract bytecode.
// Reference: https://docs.soliditylang.org/en/v0.8.16/metadata.html
type ContractMetadata map[string]any

// metadataHashPrefixes are the CBOR headers which start known metadata trailers.
var metadataHashPrefixes = [][]byte{
	{0xa1, 0x65, 98, 122, 122, 114, 48, 0x58, 0x20},  // a1 65 "bzzr0" 0x58 0x20 (solc <= 0.5.8)
	{0xa2, 0x65, 98, 122, 122, 114, 48, 0x58, 0x20},  // a2 65 "bzzr0" 0x58 0x20 (solc >= 0.5.9)
	{0xa2, 0x65, 98, 122, 122, 114, 49, 0x58, 0x20},  // a2 65 "bzzr1" 0x58 0x20 (solc >= 0.5.11)
	{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73, 0x58, 0x22}, // a2 64 "ipfs" 0x58 0x22 (solc >= 0.6.0)
}

// byteCodeHashMetadataKeys are the metadata keys holding a bytecode hash.
var byteCodeHashMetadataKeys = [...]string{
	"bzzr0",
	"bzzr1",
	"ipfs",
}

// metadataOffset returns the offset of the metadata trailer in bytecode, or -1.
func metadataOffset(bytecode []byte) int {
	for _, prefix := range metadataHashPrefixes {
		if offset := bytes.LastIndex(bytecode, prefix); offset != -1 {
			var metadata ContractMetadata
			if cbor.Unmarshal(bytecode[offset:], &metadata) == nil {
				return offset
			}
		}
	}
	return -1
}

// ExtractContractMetadata decodes the metadata trailer of bytecode, or returns nil if there is none.
func ExtractContractMetadata(bytecode []byte) *ContractMetadata {
	offset := metadataOffset(bytecode)
	if offset == -1 {
		return nil
	}
	var metadata ContractMetadata
	if err := cbor.Unmarshal(bytecode[offset:], &metadata); err != nil {
		return nil
	}
	return &metadata
}

// RemoveContractMetadata returns bytecode without its metadata trailer and anything following it, such as
// constructor arguments. Bytecode without a trailer is returned as-is.
func RemoveContractMetadata(bytecode []byte) []byte {
	if offset := metadataOffset(bytecode); offset != -1 {
		return bytecode[:offset]
	}
	return bytecode
}

// ExtractBytecodeHash returns the bytecode hash held by the metadata, or nil.
func (m ContractMetadata) ExtractBytecodeHash() []byte {
	for _, key := range byteCodeHashMetadataKeys {
		if data, ok := m[key]; ok {
			if hash, ok := data.([]byte); ok {
				return hash
			}
		}
	}
	return nil
}

// SolcVersion returns the compiler version recorded in the metadata. Release builds store three version bytes,
// pre-release builds a version string.
func (m ContractMetadata) SolcVersion() (*semver.Version, error) {
	data, ok := m["solc"]
	if !ok {
		return nil, errors.New("metadata does not record a solc version")
	}
	switch v := data.(type) {
	case []byte:
		if len(v) != 3 {
			return nil, errors.Errorf("unexpected solc version length %d", len(v))
		}
		return semver.NewVersion(fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2]))
	case string:
		return semver.NewVersion(v)
	default:
		return nil, errors.Errorf("unexpected solc version type %T", data)
	}
}
