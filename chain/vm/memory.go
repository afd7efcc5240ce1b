package vm

// maxMemory bounds the memory of a single frame.
const maxMemory = 1 << 24

// Memory is the byte-addressed, word-expanded memory of one frame.
type Memory struct {
	store []byte
}

func newMemory() *Memory {
	return &Memory{store: make([]byte, 0)}
}

// Len returns the current memory size in bytes.
func (m *Memory) Len() int {
	return len(m.store)
}

// Data returns the backing bytes.
func (m *Memory) Data() []byte {
	return m.store
}

// expansionCost returns the gas needed to grow memory to cover [offset, offset+size), and the resulting size. A zero
// size never expands memory.
func (m *Memory) expansionCost(offset, size uint64) (uint64, uint64, error) {
	if size == 0 {
		return 0, uint64(len(m.store)), nil
	}
	end := offset + size
	if end < offset || end > maxMemory {
		return 0, 0, ErrMemoryLimit
	}
	newSize := (end + 31) / 32 * 32
	if newSize <= uint64(len(m.store)) {
		return 0, uint64(len(m.store)), nil
	}
	return memoryGas(newSize) - memoryGas(uint64(len(m.store))), newSize, nil
}

func (m *Memory) resize(size uint64) {
	if uint64(len(m.store)) < size {
		m.store = append(m.store, make([]byte, size-uint64(len(m.store)))...)
	}
}

// get returns a copy of [offset, offset+size). Memory must already cover the range.
func (m *Memory) get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// set copies value into memory at offset. Memory must already cover the range.
func (m *Memory) set(offset uint64, value []byte) {
	copy(m.store[offset:], value)
}

// setPadded writes size bytes at offset taken from src starting at srcOffset, zero-filling past the end of src.
func (m *Memory) setPadded(offset, size uint64, src []byte, srcOffset uint64) {
	if size == 0 {
		return
	}
	region := m.store[offset : offset+size]
	for i := range region {
		region[i] = 0
	}
	if srcOffset < uint64(len(src)) {
		copy(region, src[srcOffset:])
	}
}

func (m *Memory) clone() *Memory {
	store := make([]byte, len(m.store))
	copy(store, m.store)
	return &Memory{store: store}
}

// memoryGas is the quadratic memory cost for a memory of the given byte size.
func memoryGas(size uint64) uint64 {
	words := size / 32
	return 3*words + words*words/512
}
