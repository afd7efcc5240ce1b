package state

import (
	"testing"

	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractA = common.HexToAddress("0xa")
	userB     = common.HexToAddress("0xb")
	slot1     = common.HexToHash("0x1")
	value7    = common.HexToHash("0x7")
)

// TestReadAbsentSlot verifies absent slots read as zero without allocating an account map.
func TestReadAbsentSlot(t *testing.T) {
	s := NewEVMState()
	assert.Equal(t, common.Hash{}, s.ReadSlot(contractA, slot1))
	assert.False(t, s.HasSlot(contractA, slot1))
	assert.Empty(t, s.Storage)
}

// TestWriteObserver verifies writes notify the observer and imports do not.
func TestWriteObserver(t *testing.T) {
	s := NewEVMState()
	var observed []common.Hash
	s.SetWriteObserver(func(_ common.Address, slot, _ common.Hash) {
		observed = append(observed, slot)
	})

	s.WriteSlot(contractA, slot1, value7)
	s.ImportSlot(contractA, common.HexToHash("0x2"), value7)
	assert.Equal(t, []common.Hash{slot1}, observed)
	assert.Equal(t, value7, s.ReadSlot(contractA, slot1))
	assert.True(t, s.HasSlot(contractA, common.HexToHash("0x2")))
}

// TestDebit verifies debits beyond the balance fail and leave the balance unchanged.
func TestDebit(t *testing.T) {
	s := NewEVMState()
	s.SetBalance(userB, uint256.NewInt(10))

	err := s.Debit(userB, uint256.NewInt(11))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, uint64(10), s.Balance(userB).Uint64())

	require.NoError(t, s.Debit(userB, uint256.NewInt(4)))
	s.Credit(userB, uint256.NewInt(1))
	assert.Equal(t, uint64(7), s.Balance(userB).Uint64())
}

// TestCloneIsolation verifies a clone shares nothing mutable with its source and drops observations.
func TestCloneIsolation(t *testing.T) {
	s := NewEVMState()
	s.WriteSlot(contractA, slot1, value7)
	s.SetBalance(userB, uint256.NewInt(5))
	s.PushLeak(&PostExecutionContext{
		Frames:    []*vm.Frame{vm.NewFrame(vm.CallKindCall, userB, contractA, contractA, nil, []byte{1}, []byte{0x00}, 100)},
		LeakedTo:  userB,
		Value:     uint256.NewInt(1),
		ReadSlots: []SlotRef{{Address: contractA, Slot: slot1}},
	})
	s.RecordBug()

	clone := s.Clone()
	assert.False(t, clone.Observations.BugHit)
	assert.Equal(t, s.Hash(), clone.Hash())

	clone.WriteSlot(contractA, slot1, common.HexToHash("0x8"))
	clone.Credit(userB, uint256.NewInt(1))
	clone.PostExecution[0].Frames[0].PC = 9
	clone.PostExecution[0].ReadSlots[0].Slot = common.HexToHash("0x9")

	assert.Equal(t, value7, s.ReadSlot(contractA, slot1))
	assert.Equal(t, uint64(5), s.Balance(userB).Uint64())
	assert.Equal(t, uint64(0), s.PostExecution[0].Frames[0].PC)
	assert.True(t, s.PostExecution[0].WasRead(contractA, slot1))
	assert.NotEqual(t, s.Hash(), clone.Hash())
}

// TestLeakStack verifies the suspended execution stack is LIFO.
func TestLeakStack(t *testing.T) {
	s := NewEVMState()
	_, ok := s.PopLeak()
	assert.False(t, ok)

	first := &PostExecutionContext{LeakedTo: contractA}
	second := &PostExecutionContext{LeakedTo: userB}
	s.PushLeak(first)
	s.PushLeak(second)
	assert.Equal(t, 2, s.PendingLeaks())

	popped, ok := s.PopLeak()
	require.True(t, ok)
	assert.Same(t, second, popped)
	popped, ok = s.PopLeak()
	require.True(t, ok)
	assert.Same(t, first, popped)
	assert.Equal(t, 0, s.PendingLeaks())
}

// TestObservationDedup verifies repeated observations are recorded once.
func TestObservationDedup(t *testing.T) {
	s := NewEVMState()
	s.RecordSelfDestruct(contractA, 10)
	s.RecordSelfDestruct(contractA, 10)
	s.RecordTypedBug("bad", contractA, 3)
	s.RecordTypedBug("bad", contractA, 3)
	s.RecordReentrancy(contractA, 4, slot1)
	assert.Len(t, s.Observations.SelfDestructs, 1)
	assert.Len(t, s.Observations.TypedBugs, 1)
	assert.Len(t, s.Observations.Reentrancies, 1)
	assert.False(t, s.Observations.Empty())

	s.ResetObservations()
	assert.True(t, s.Observations.Empty())
}

// TestHashIgnoresOrderAndZeroes verifies equal contents hash equally.
func TestHashIgnoresOrderAndZeroes(t *testing.T) {
	a := NewEVMState()
	a.WriteSlot(contractA, slot1, value7)
	a.WriteSlot(userB, slot1, value7)

	b := NewEVMState()
	b.WriteSlot(userB, slot1, value7)
	b.WriteSlot(contractA, slot1, value7)
	b.WriteSlot(contractA, common.HexToHash("0x3"), common.Hash{})
	assert.Equal(t, a.Hash(), b.Hash())
}

// TestSnapshotRoundTrip verifies the CBOR snapshot restores an equal state, including suspended executions.
func TestSnapshotRoundTrip(t *testing.T) {
	s := NewEVMState()
	s.WriteSlot(contractA, slot1, value7)
	s.SetBalance(userB, uint256.NewInt(1000))
	s.SetCode(contractA, []byte{0x60, 0x00})
	s.Nonces[contractA] = 3
	frame := vm.NewFrame(vm.CallKindCall, userB, contractA, contractA, uint256.NewInt(2), []byte{1, 2}, []byte{0x60, 0x00}, 500)
	frame.PC = 2
	s.PushLeak(&PostExecutionContext{Frames: []*vm.Frame{frame}, LeakedFrom: contractA, LeakedTo: userB, Value: uint256.NewInt(1)})

	encoded, err := s.EncodeSnapshot()
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(encoded)
	require.NoError(t, err)

	assert.Equal(t, s.Hash(), decoded.Hash())
	assert.Equal(t, uint64(3), decoded.Nonces[contractA])
	require.Equal(t, 1, decoded.PendingLeaks())
	assert.Equal(t, uint64(2), decoded.PostExecution[0].Frames[0].PC)
	assert.Equal(t, uint64(2), decoded.PostExecution[0].Frames[0].Value.Uint64())

	again, err := decoded.EncodeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
}
