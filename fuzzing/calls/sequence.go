package calls

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// minLineLength is the length below which a serialized line is treated as blank.
const minLineLength = 4

// Sequence is an ordered list of inputs, each executed against the state the previous one produced.
type Sequence []*Input

// Clone returns a deep copy of the sequence.
func (s Sequence) Clone() Sequence {
	clone := make(Sequence, len(s))
	for i, input := range s {
		clone[i] = input.Clone()
	}
	return clone
}

// Append returns a copy of the sequence extended with input.
func (s Sequence) Append(input *Input) Sequence {
	extended := make(Sequence, 0, len(s)+1)
	extended = append(extended, s...)
	return append(extended, input)
}

// String renders one numbered line per input.
func (s Sequence) String() string {
	return s.Describe(nil)
}

// Describe renders the sequence, decoding calls with the contract ABI registered for their target.
func (s Sequence) Describe(contracts map[common.Address]*abiutils.Contract) string {
	if len(s) == 0 {
		return "<none>"
	}
	var b strings.Builder
	for i, input := range s {
		fmt.Fprintf(&b, "%d) %s\n", i+1, input.Describe(contracts[input.Contract]))
	}
	return b.String()
}

// MarshalLines serializes the sequence as newline-delimited inputs.
func (s Sequence) MarshalLines() ([]byte, error) {
	var b bytes.Buffer
	for _, input := range s {
		line, err := input.MarshalLine()
		if err != nil {
			return nil, err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// Hash returns a digest of the serialized sequence.
func (s Sequence) Hash() (common.Hash, error) {
	data, err := s.MarshalLines()
	if err != nil {
		return common.Hash{}, err
	}
	var digest common.Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	hasher.Sum(digest[:0])
	return digest, nil
}

// ParseSequence parses newline-delimited inputs. Lines shorter than four bytes are skipped, and any malformed line
// fails the whole sequence.
func ParseSequence(data []byte) (Sequence, error) {
	sequence := make(Sequence, 0)
	for n, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) < minLineLength {
			continue
		}
		input, err := ParseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", n+1)
		}
		sequence = append(sequence, input)
	}
	return sequence, nil
}
