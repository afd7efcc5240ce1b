package randomutils

import (
	"encoding/binary"
	"math/rand"
)

// ForkRandomProvider derives a child random provider seeded from the parent's next eight bytes. Components handed
// a fork draw independently without disturbing the parent's sequence beyond that single read.
func ForkRandomProvider(parent *rand.Rand) *rand.Rand {
	var seed [8]byte
	if _, err := parent.Read(seed[:]); err != nil {
		panic(err)
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}
