package state

import (
	"encoding/json"

	"github.com/crytic/medusa-geth/common"
	"github.com/fxamacker/cbor"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// snapshotEntry is one flattened key/value pair of a state snapshot.
type snapshotEntry struct {
	Address []byte `cbor:"a"`
	Key     []byte `cbor:"k,omitempty"`
	Value   []byte `cbor:"v"`
}

// snapshot is the CBOR representation of an EVMState. Suspended executions are stored as their JSON encoding, since
// frames already define one.
type snapshot struct {
	Storage  []snapshotEntry `cbor:"storage"`
	Balances []snapshotEntry `cbor:"balances"`
	Code     []snapshotEntry `cbor:"code"`
	Nonces   []snapshotEntry `cbor:"nonces"`
	Leaks    []byte          `cbor:"leaks"`
}

// EncodeSnapshot serializes the state to CBOR. Entries are written in sorted order, so equal states encode to equal
// bytes.
func (s *EVMState) EncodeSnapshot() ([]byte, error) {
	snap := snapshot{}
	for _, address := range sortedAddresses(s.Storage) {
		accountStorage := s.Storage[address]
		for _, slot := range sortedHashes(accountStorage) {
			value := accountStorage[slot]
			snap.Storage = append(snap.Storage, snapshotEntry{Address: address.Bytes(), Key: slot.Bytes(), Value: value.Bytes()})
		}
	}
	for _, address := range sortedAddresses(s.Balances) {
		snap.Balances = append(snap.Balances, snapshotEntry{Address: address.Bytes(), Value: s.Balances[address].Bytes()})
	}
	for _, address := range sortedAddresses(s.Code) {
		snap.Code = append(snap.Code, snapshotEntry{Address: address.Bytes(), Value: s.Code[address]})
	}
	for _, address := range sortedAddresses(s.Nonces) {
		snap.Nonces = append(snap.Nonces, snapshotEntry{Address: address.Bytes(), Value: uint256.NewInt(s.Nonces[address]).Bytes()})
	}

	leaks, err := json.Marshal(s.PostExecution)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	snap.Leaks = leaks

	b, err := cbor.Marshal(snap, cbor.EncOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode state snapshot")
	}
	return b, nil
}

// DecodeSnapshot restores a state written by EncodeSnapshot.
func DecodeSnapshot(b []byte) (*EVMState, error) {
	var snap snapshot
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return nil, errors.Wrap(err, "could not decode state snapshot")
	}

	s := NewEVMState()
	for _, entry := range snap.Storage {
		s.ImportSlot(common.BytesToAddress(entry.Address), common.BytesToHash(entry.Key), common.BytesToHash(entry.Value))
	}
	for _, entry := range snap.Balances {
		s.Balances[common.BytesToAddress(entry.Address)] = new(uint256.Int).SetBytes(entry.Value)
	}
	for _, entry := range snap.Code {
		s.Code[common.BytesToAddress(entry.Address)] = entry.Value
	}
	for _, entry := range snap.Nonces {
		s.Nonces[common.BytesToAddress(entry.Address)] = new(uint256.Int).SetBytes(entry.Value).Uint64()
	}
	if len(snap.Leaks) > 0 {
		if err := json.Unmarshal(snap.Leaks, &s.PostExecution); err != nil {
			return nil, errors.Wrap(err, "could not decode suspended executions")
		}
	}
	if s.PostExecution == nil {
		s.PostExecution = make([]*PostExecutionContext, 0)
	}
	return s, nil
}

func sortedHashes[V any](m map[common.Hash]V) []common.Hash {
	keys := make([]common.Hash, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortHashes(keys)
	return keys
}
