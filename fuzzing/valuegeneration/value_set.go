package valuegeneration

import (
	"encoding/hex"
	"hash"
	"math/big"

	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// MaxValues bounds each kind of value held by a ValueSet. Values added beyond it replace the oldest ones.
const MaxValues = 4096

// ValueSet is the fuzzing dictionary: addresses, integers and byte strings of significance to the targets, such as
// deployed addresses, constants pushed by their code, and operands of comparisons they made. Values are kept in
// insertion order so selection is reproducible under a seeded random provider.
type ValueSet struct {
	addresses    []common.Address
	addressIndex map[common.Address]bool

	integers     []*uint256.Int
	integerIndex map[uint256.Int]bool

	bytes      [][]byte
	bytesIndex map[string]bool

	// hashProvider creates keys for byte strings.
	hashProvider hash.Hash
}

// NewValueSet creates an empty ValueSet.
func NewValueSet() *ValueSet {
	return &ValueSet{
		addressIndex: make(map[common.Address]bool),
		integerIndex: make(map[uint256.Int]bool),
		bytesIndex:   make(map[string]bool),
		hashProvider: sha3.NewLegacyKeccak256(),
	}
}

// Addresses returns the addresses of the set. The slice must not be modified.
func (vs *ValueSet) Addresses() []common.Address {
	return vs.addresses
}

// AddAddress adds an address.
func (vs *ValueSet) AddAddress(address common.Address) {
	if vs.addressIndex[address] {
		return
	}
	if len(vs.addresses) >= MaxValues {
		delete(vs.addressIndex, vs.addresses[0])
		vs.addresses = vs.addresses[1:]
	}
	vs.addressIndex[address] = true
	vs.addresses = append(vs.addresses, address)
}

// Integers returns the integers of the set. The slice must not be modified.
func (vs *ValueSet) Integers() []*uint256.Int {
	return vs.integers
}

// AddInteger adds an integer.
func (vs *ValueSet) AddInteger(value *uint256.Int) {
	if vs.integerIndex[*value] {
		return
	}
	if len(vs.integers) >= MaxValues {
		delete(vs.integerIndex, *vs.integers[0])
		vs.integers = vs.integers[1:]
	}
	vs.integerIndex[*value] = true
	vs.integers = append(vs.integers, new(uint256.Int).Set(value))
}

// AddHint adds a comparison operand, and its neighbours so ordering comparisons can flip either way.
func (vs *ValueSet) AddHint(value *uint256.Int) {
	vs.AddInteger(value)
	if !value.IsZero() {
		vs.AddInteger(new(uint256.Int).SubUint64(value, 1))
	}
	if maxWord := new(uint256.Int).SetAllOne(); !value.Eq(maxWord) {
		vs.AddInteger(new(uint256.Int).AddUint64(value, 1))
	}
}

// Bytes returns the byte strings of the set. The slice must not be modified.
func (vs *ValueSet) Bytes() [][]byte {
	return vs.bytes
}

// AddBytes adds a byte string.
func (vs *ValueSet) AddBytes(b []byte) {
	vs.hashProvider.Write(b)
	key := hex.EncodeToString(vs.hashProvider.Sum(nil))
	vs.hashProvider.Reset()
	if vs.bytesIndex[key] {
		return
	}
	if len(vs.bytes) >= MaxValues {
		vs.hashProvider.Write(vs.bytes[0])
		delete(vs.bytesIndex, hex.EncodeToString(vs.hashProvider.Sum(nil)))
		vs.hashProvider.Reset()
		vs.bytes = vs.bytes[1:]
	}
	vs.bytesIndex[key] = true
	vs.bytes = append(vs.bytes, common.CopyBytes(b))
}

// AddBigInteger adds an integer given as a big.Int, wrapped to 256 bits.
func (vs *ValueSet) AddBigInteger(value *big.Int) {
	word, _ := uint256.FromBig(value)
	vs.AddInteger(word)
}

// AddCodeConstants adds the constants pushed by code: every PUSH operand as an integer, and 20-byte operands as
// addresses too.
func (vs *ValueSet) AddCodeConstants(code []byte) {
	for pc := 0; pc < len(code); pc++ {
		op := evm.OpCode(code[pc])
		if op < evm.PUSH1 || op > evm.PUSH32 {
			continue
		}
		size := int(op-evm.PUSH1) + 1
		end := min(pc+1+size, len(code))
		operand := code[pc+1 : end]
		vs.AddInteger(new(uint256.Int).SetBytes(operand))
		if size == common.AddressLength {
			vs.AddAddress(common.BytesToAddress(operand))
		}
		pc += size
	}
}

// Len returns the total number of values in the set.
func (vs *ValueSet) Len() int {
	return len(vs.addresses) + len(vs.integers) + len(vs.bytes)
}
