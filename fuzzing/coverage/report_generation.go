package coverage

import (
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/pkg/errors"
)

// HTMLReportFileName is the name of the HTML coverage report inside the report directory.
const HTMLReportFileName = "coverage_report.html"

var (
	//go:embed report_template.gohtml
	htmlReportTemplate string
)

// reportInstruction is one disassembled instruction of a contract.
type reportInstruction struct {
	PC      uint64
	Op      string
	Operand string
	Covered bool
}

// reportContract is the disassembly of one contract with its coverage.
type reportContract struct {
	ContractCoverage
	Instructions []reportInstruction
}

// disassemble lists the instructions of every registered contract, sorted like Summary.
func (c *InstructionCoverage) disassemble() []reportContract {
	summaries := c.Summary()

	c.lock.Lock()
	defer c.lock.Unlock()
	contracts := make([]reportContract, 0, len(summaries))
	for _, summary := range summaries {
		cc := c.contracts[summary.Address]
		contract := reportContract{ContractCoverage: summary}
		for pc := 0; pc < len(cc.code); pc++ {
			if !cc.instructions[pc] {
				continue
			}
			op := evm.OpCode(cc.code[pc])
			instruction := reportInstruction{PC: uint64(pc), Op: op.String(), Covered: cc.hits[pc]}
			if op >= evm.PUSH1 && op <= evm.PUSH32 {
				end := min(pc+1+int(op-evm.PUSH1+1), len(cc.code))
				instruction.Operand = "0x" + common.Bytes2Hex(cc.code[pc+1:end])
			}
			contract.Instructions = append(contract.Instructions, instruction)
		}
		contracts = append(contracts, contract)
	}
	return contracts
}

// WriteHTMLReport renders the disassembly of every contract to reportDir, highlighting covered instructions, and
// returns the path written.
func WriteHTMLReport(c *InstructionCoverage, reportDir string) (string, error) {
	functionMap := template.FuncMap{
		"timeNow": time.Now,
		"percentageInt": func(x int, y int) int {
			if y == 0 {
				return 0
			}
			return x * 100 / y
		},
		"hex": func(pc uint64) string {
			return fmt.Sprintf("%04x", pc)
		},
	}
	tmpl, err := template.New(HTMLReportFileName).Funcs(functionMap).Parse(htmlReportTemplate)
	if err != nil {
		return "", errors.Wrap(err, "could not export report, failed to parse report template")
	}

	if err := utils.MakeDirectory(reportDir); err != nil {
		return "", err
	}
	htmlReportPath := filepath.Join(reportDir, HTMLReportFileName)
	file, err := os.Create(htmlReportPath)
	if err != nil {
		return "", errors.Wrap(err, "could not export report, failed to open file for writing")
	}

	err = tmpl.Execute(file, c.disassemble())
	fileCloseErr := file.Close()
	if err == nil {
		err = fileCloseErr
	}
	return htmlReportPath, errors.WithStack(err)
}
