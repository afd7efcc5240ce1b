package vm

import "github.com/holiman/uint256"

// stackLimit is the maximum number of items on an EVM stack.
const stackLimit = 1024

// Stack is the operand stack of one frame.
type Stack struct {
	data []uint256.Int
}

func newStack() *Stack {
	return &Stack{data: make([]uint256.Int, 0, 16)}
}

// Len returns the number of items on the stack.
func (s *Stack) Len() int {
	return len(s.data)
}

// Data returns the underlying items, bottom first.
func (s *Stack) Data() []uint256.Int {
	return s.data
}

func (s *Stack) push(v *uint256.Int) {
	s.data = append(s.data, *v)
}

func (s *Stack) pop() uint256.Int {
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v
}

// peek returns a pointer to the top item so it can be overwritten in place.
func (s *Stack) peek() *uint256.Int {
	return &s.data[len(s.data)-1]
}

// back returns a pointer to the n-th item from the top (0 is the top).
func (s *Stack) back(n int) *uint256.Int {
	return &s.data[len(s.data)-1-n]
}

func (s *Stack) dup(n int) {
	s.data = append(s.data, s.data[len(s.data)-n])
}

func (s *Stack) swap(n int) {
	top := len(s.data) - 1
	s.data[top], s.data[top-n] = s.data[top-n], s.data[top]
}

func (s *Stack) clone() *Stack {
	data := make([]uint256.Int, len(s.data), cap(s.data))
	copy(data, s.data)
	return &Stack{data: data}
}
