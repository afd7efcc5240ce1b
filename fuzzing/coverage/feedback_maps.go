package coverage

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

// MapSize is the number of entries in each feedback map.
const MapSize = 1 << 16

// MaxCompareRecords bounds the compare records kept for one execution.
const MaxCompareRecords = 512

// maxDistance is the initial, "never compared", value of compare map entries.
var maxDistance = *new(uint256.Int).SetAllOne()

// CompareRecord is one comparison observed during an execution.
type CompareRecord struct {
	Address common.Address
	PC      uint64
	Op      byte
	// A is the top operand of the comparison, B the second.
	A uint256.Int
	B uint256.Int
	// Distance is |A - B|.
	Distance uint256.Int
}

// FeedbackMaps hold the raw signals one execution produces. The jump, write and compare maps describe only the
// current execution and are cleared by ResetExecution. The read map accumulates the slots read over the whole run, so
// a write can be matched with a read made by any earlier call.
type FeedbackMaps struct {
	// JumpMap is a saturating hit counter per (code address, pc, destination) edge.
	JumpMap [MapSize]uint8
	// ReadMap flags every (address, slot) read.
	ReadMap [MapSize]bool
	// WriteMap holds one bit per value bucket written to each (address, slot).
	WriteMap [MapSize]uint8
	// CmpMap holds the smallest operand distance per comparison site.
	CmpMap [MapSize]uint256.Int

	compares    []CompareRecord
	compareSeen map[compareKey]struct{}
	touched     []int
	touchedSet  [MapSize]bool
}

type compareKey struct {
	address common.Address
	pc      uint64
	a, b    uint256.Int
}

// NewFeedbackMaps creates empty maps.
func NewFeedbackMaps() *FeedbackMaps {
	m := &FeedbackMaps{}
	for i := range m.CmpMap {
		m.CmpMap[i] = maxDistance
	}
	m.compareSeen = make(map[compareKey]struct{})
	return m
}

// ResetExecution clears the per-execution jump, write and compare observations.
func (m *FeedbackMaps) ResetExecution() {
	for _, i := range m.touched {
		m.JumpMap[i] = 0
		m.WriteMap[i] = 0
		m.CmpMap[i] = maxDistance
		m.touchedSet[i] = false
	}
	m.touched = m.touched[:0]
	m.compares = m.compares[:0]
	clear(m.compareSeen)
}

func index(address common.Address, a, b uint64) int {
	var buf [common.AddressLength + 16]byte
	copy(buf[:], address[:])
	binary.BigEndian.PutUint64(buf[common.AddressLength:], a)
	binary.BigEndian.PutUint64(buf[common.AddressLength+8:], b)
	return int(xxhash.Sum64(buf[:]) % MapSize)
}

func slotIndex(address common.Address, slot common.Hash) int {
	var buf [common.AddressLength + common.HashLength]byte
	copy(buf[:], address[:])
	copy(buf[common.AddressLength:], slot[:])
	return int(xxhash.Sum64(buf[:]) % MapSize)
}

// JumpIndex returns the jump map index of an edge.
func JumpIndex(codeAddress common.Address, pc, dest uint64) int {
	return index(codeAddress, pc, dest)
}

// CompareIndex returns the compare map index of a comparison site.
func CompareIndex(codeAddress common.Address, pc uint64) int {
	return index(codeAddress, pc, 0)
}

// SlotIndex returns the read and write map index of a storage slot.
func SlotIndex(address common.Address, slot common.Hash) int {
	return slotIndex(address, slot)
}

// ValueBucket returns the write map bit for a stored value. Values are bucketed by magnitude.
func ValueBucket(value common.Hash) uint8 {
	var word uint256.Int
	word.SetBytes32(value[:])
	if word.IsZero() {
		return 1
	}
	bucket := (word.BitLen() - 1) / 37
	return 1 << min(bucket+1, 7)
}

func (m *FeedbackMaps) touch(i int) {
	if !m.touchedSet[i] {
		m.touchedSet[i] = true
		m.touched = append(m.touched, i)
	}
}

// RecordJump counts a taken or fallen-through branch edge.
func (m *FeedbackMaps) RecordJump(codeAddress common.Address, pc, dest uint64) {
	i := JumpIndex(codeAddress, pc, dest)
	if m.JumpMap[i] < 255 {
		m.JumpMap[i]++
	}
	m.touch(i)
}

// RecordRead flags a slot as read.
func (m *FeedbackMaps) RecordRead(address common.Address, slot common.Hash) {
	m.ReadMap[SlotIndex(address, slot)] = true
}

// RecordWrite sets the value bucket bit of a written slot.
func (m *FeedbackMaps) RecordWrite(address common.Address, slot, value common.Hash) {
	i := SlotIndex(address, slot)
	m.WriteMap[i] |= ValueBucket(value)
	m.touch(i)
}

// RecordCompare keeps the smallest operand distance at a comparison site and stores a compare record.
func (m *FeedbackMaps) RecordCompare(codeAddress common.Address, pc uint64, op byte, a, b *uint256.Int) {
	var distance uint256.Int
	if a.Lt(b) {
		distance.Sub(b, a)
	} else {
		distance.Sub(a, b)
	}
	i := CompareIndex(codeAddress, pc)
	if distance.Lt(&m.CmpMap[i]) {
		m.CmpMap[i] = distance
	}
	m.touch(i)

	if len(m.compares) >= MaxCompareRecords {
		return
	}
	key := compareKey{address: codeAddress, pc: pc, a: *a, b: *b}
	if _, ok := m.compareSeen[key]; ok {
		return
	}
	m.compareSeen[key] = struct{}{}
	m.compares = append(m.compares, CompareRecord{Address: codeAddress, PC: pc, Op: op, A: *a, B: *b, Distance: distance})
}

// Touched returns the distinct jump, write and compare map indices written during the current execution. The slice
// must not be modified.
func (m *FeedbackMaps) Touched() []int {
	return m.touched
}

// CompareRecords returns a copy of the compare records of the current execution.
func (m *FeedbackMaps) CompareRecords() []CompareRecord {
	records := make([]CompareRecord, len(m.compares))
	copy(records, m.compares)
	return records
}

// MinCompareDistance returns the smallest distance recorded in the current execution.
func (m *FeedbackMaps) MinCompareDistance() (uint256.Int, bool) {
	if len(m.compares) == 0 {
		return maxDistance, false
	}
	best := m.compares[0].Distance
	for _, record := range m.compares[1:] {
		if record.Distance.Lt(&best) {
			best = record.Distance
		}
	}
	return best, true
}

// EdgeCount returns the number of edges hit in the current execution.
func (m *FeedbackMaps) EdgeCount() int {
	count := 0
	for _, hits := range m.JumpMap {
		if hits != 0 {
			count++
		}
	}
	return count
}

// bucketCount maps a hit count to an AFL-style bucket, so loops only count as new coverage when their iteration
// count changes order of magnitude.
func bucketCount(hits uint8) uint8 {
	if hits == 0 {
		return 0
	}
	return uint8(bits.Len8(hits))
}

// HitBucket returns the bucket of the hit count at index i.
func (m *FeedbackMaps) HitBucket(i int) uint8 {
	return bucketCount(m.JumpMap[i])
}
