package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	compilationTypes "github.com/crytic/hydra/compilation/types"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ReportFileName is the name of the instruction coverage dump inside the report directory.
const ReportFileName = "instruction_coverage.json"

// contractCoverage tracks which instructions of one contract's runtime code executed.
type contractCoverage struct {
	name string
	code []byte
	// instructions flags the offsets of instruction starts, excluding push data and the metadata trailer.
	instructions []bool
	// hits flags the covered offsets.
	hits  []bool
	total int
}

// InstructionCoverage records executed instructions per contract address across a run.
type InstructionCoverage struct {
	contracts map[common.Address]*contractCoverage
	lock      sync.Mutex
}

// NewInstructionCoverage creates empty coverage.
func NewInstructionCoverage() *InstructionCoverage {
	return &InstructionCoverage{contracts: make(map[common.Address]*contractCoverage)}
}

// Register starts tracking the runtime code deployed at address. Registering an address again replaces its data.
func (c *InstructionCoverage) Register(address common.Address, name string, runtimeCode []byte) {
	code := compilationTypes.RemoveContractMetadata(runtimeCode)
	cc := &contractCoverage{
		name:         name,
		code:         code,
		instructions: make([]bool, len(code)),
		hits:         make([]bool, len(code)),
	}
	for pc := 0; pc < len(code); pc++ {
		cc.instructions[pc] = true
		cc.total++
		op := evm.OpCode(code[pc])
		if op >= evm.PUSH1 && op <= evm.PUSH32 {
			pc += int(op - evm.PUSH1 + 1)
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.contracts[address] = cc
}

// Hit marks the instruction at pc of address as covered. It reports whether the instruction was newly covered.
// Unregistered addresses and offsets outside the instrumented code are ignored.
func (c *InstructionCoverage) Hit(address common.Address, pc uint64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	cc, ok := c.contracts[address]
	if !ok || pc >= uint64(len(cc.hits)) || !cc.instructions[pc] || cc.hits[pc] {
		return false
	}
	cc.hits[pc] = true
	return true
}

// ContractCoverage summarizes the coverage of one contract.
type ContractCoverage struct {
	Address    common.Address `json:"address"`
	Name       string         `json:"name"`
	Covered    int            `json:"covered"`
	Total      int            `json:"total"`
	Percent    string         `json:"percent"`
	CoveredPCs []uint64       `json:"coveredPCs"`
}

// String renders a one-line summary.
func (cc ContractCoverage) String() string {
	return fmt.Sprintf("%s (%s): %d/%d instructions covered (%s%%)", cc.Name, cc.Address.Hex(), cc.Covered, cc.Total, cc.Percent)
}

// Summary returns the coverage of every registered contract, sorted by address.
func (c *InstructionCoverage) Summary() []ContractCoverage {
	c.lock.Lock()
	defer c.lock.Unlock()

	summaries := make([]ContractCoverage, 0, len(c.contracts))
	for address, cc := range c.contracts {
		summary := ContractCoverage{Address: address, Name: cc.name, Total: cc.total, CoveredPCs: make([]uint64, 0)}
		for pc, hit := range cc.hits {
			if hit {
				summary.Covered++
				summary.CoveredPCs = append(summary.CoveredPCs, uint64(pc))
			}
		}
		summary.Percent = percentage(summary.Covered, summary.Total)
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Address.Cmp(summaries[j].Address) < 0
	})
	return summaries
}

func percentage(covered, total int) string {
	if total == 0 {
		return "0.0"
	}
	return decimal.NewFromInt(int64(covered)).Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 1).StringFixed(1)
}

// WriteReport writes the coverage dump and its HTML rendering to reportDir, creating it if needed, and returns the
// path of the dump.
func (c *InstructionCoverage) WriteReport(reportDir string) (string, error) {
	data, err := json.MarshalIndent(struct {
		Contracts []ContractCoverage `json:"contracts"`
	}{c.Summary()}, "", "  ")
	if err != nil {
		return "", errors.WithStack(err)
	}
	if err := utils.MakeDirectory(reportDir); err != nil {
		return "", err
	}
	reportPath := filepath.Join(reportDir, ReportFileName)
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return "", errors.Wrap(err, "could not export instruction coverage")
	}
	if _, err := WriteHTMLReport(c, reportDir); err != nil {
		return reportPath, err
	}
	return reportPath, nil
}
