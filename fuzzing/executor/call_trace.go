package executor

import (
	"fmt"
	"strings"

	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/logging/colors"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
)

// TraceStatus is the outcome of one call in a trace.
type TraceStatus string

const (
	TraceSuccess  TraceStatus = "success"
	TraceReverted TraceStatus = "reverted"
	TraceError    TraceStatus = "error"
	TraceLeaked   TraceStatus = "leaked"
	TracePending  TraceStatus = "pending"
)

// TraceLog is an event emitted during a call.
type TraceLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// CallTrace is one call of a transaction and the calls it made.
type CallTrace struct {
	Kind     vm.CallKind    `json:"kind"`
	Depth    int            `json:"depth"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Input    hexutil.Bytes  `json:"input"`
	Value    uint256.Int    `json:"-"`
	Status   TraceStatus    `json:"status"`
	Output   hexutil.Bytes  `json:"output"`
	Error    string         `json:"error,omitempty"`
	GasUsed  uint64         `json:"gasUsed"`
	Resumed  bool           `json:"resumed,omitempty"`
	Logs     []TraceLog     `json:"logs,omitempty"`
	Children []*CallTrace   `json:"children,omitempty"`
}

// Selector returns the function selector of the call input, if any.
func (t *CallTrace) Selector() []byte {
	if len(t.Input) < abiutils.SelectorLength {
		return nil
	}
	return t.Input[:abiutils.SelectorLength]
}

// String renders the trace without ABI decoding.
func (t *CallTrace) String() string {
	return t.Render(nil)
}

// Render renders the trace as an indented call tree, decoding calls, reverts and events with the ABIs of known
// contracts.
func (t *CallTrace) Render(contracts map[common.Address]*abiutils.Contract) string {
	var b strings.Builder
	t.render(&b, contracts, "")
	return b.String()
}

func (t *CallTrace) render(b *strings.Builder, contracts map[common.Address]*abiutils.Contract, indent string) {
	contract := contracts[t.To]
	call := fmt.Sprintf("%s(%s)", t.To.Hex(), hexutil.Encode(t.Input))
	if contract != nil {
		if method, args, err := contract.Decode(t.Input); err == nil {
			call = fmt.Sprintf("%s.%s%v", t.To.Hex(), method.Name, args)
		}
	}
	if t.Kind.IsCreate() {
		call = fmt.Sprintf("new contract at %s", t.To.Hex())
	}
	if t.Resumed {
		call = "resume " + call
	}
	fmt.Fprintf(b, "%s[%s] %s from %s", indent, t.Kind, call, t.From.Hex())
	if !t.Value.IsZero() {
		fmt.Fprintf(b, " value %s", t.Value.Dec())
	}
	b.WriteString("\n")

	childIndent := indent + "  "
	for _, log := range t.Logs {
		if event, values := abiutils.UnpackEventAndValues(contractAbi(contracts[log.Address]), log.Topics, log.Data); event != nil {
			fmt.Fprintf(b, "%s[event] %s%v\n", childIndent, event.Name, values)
		} else {
			fmt.Fprintf(b, "%s[event] %d topics, data %s\n", childIndent, len(log.Topics), hexutil.Encode(log.Data))
		}
	}
	for _, child := range t.Children {
		child.render(b, contracts, childIndent)
	}

	var outcome string
	switch t.Status {
	case TraceSuccess:
		outcome = colors.Green(fmt.Sprintf("[return] %s", hexutil.Encode(t.Output)))
	case TraceReverted:
		outcome = colors.Red(fmt.Sprintf("[revert] %s", abiutils.DescribeRevert(contractAbi(contract), t.Output)))
	case TraceError:
		outcome = colors.Red(fmt.Sprintf("[error] %s", t.Error))
	case TraceLeaked:
		outcome = colors.Yellow("[leaked] control handed to the caller")
	default:
		outcome = fmt.Sprintf("[%s]", t.Status)
	}
	fmt.Fprintf(b, "%s%s\n", childIndent, outcome)
}

func contractAbi(contract *abiutils.Contract) *abi.ABI {
	if contract == nil {
		return nil
	}
	return contract.ABI()
}

// traceBuilder assembles a CallTrace from interpreter hooks.
type traceBuilder struct {
	root  *CallTrace
	stack []*CallTrace
}

func newTraceBuilder(root *CallTrace) *traceBuilder {
	return &traceBuilder{root: root, stack: []*CallTrace{root}}
}

// newResumeTraceBuilder rebuilds the open calls of a suspended frame stack, so calls returning after the resume close
// the right nodes.
func newResumeTraceBuilder(frames []*vm.Frame) *traceBuilder {
	var builder *traceBuilder
	for _, frame := range frames {
		node := &CallTrace{
			Kind:    frame.Kind,
			Depth:   frame.Depth,
			From:    frame.Caller,
			To:      frame.Address,
			Input:   common.CopyBytes(frame.Input),
			Status:  TracePending,
			Resumed: true,
		}
		node.Value.Set(&frame.Value)
		if builder == nil {
			builder = newTraceBuilder(node)
			continue
		}
		builder.top().Children = append(builder.top().Children, node)
		builder.stack = append(builder.stack, node)
	}
	return builder
}

func (b *traceBuilder) top() *CallTrace {
	return b.stack[len(b.stack)-1]
}

func (b *traceBuilder) enter(kind vm.CallKind, from, to common.Address, input []byte, value *uint256.Int, depth int) {
	node := &CallTrace{Kind: kind, Depth: depth, From: from, To: to, Input: common.CopyBytes(input), Status: TracePending}
	node.Value.Set(value)
	b.top().Children = append(b.top().Children, node)
	b.stack = append(b.stack, node)
}

func (b *traceBuilder) exit(output []byte, gasUsed uint64, err error, reverted bool) {
	if len(b.stack) <= 1 {
		return
	}
	node := b.top()
	b.stack = b.stack[:len(b.stack)-1]
	closeTrace(node, output, gasUsed, err, reverted)
}

func (b *traceBuilder) log(address common.Address, topics []common.Hash, data []byte) {
	b.top().Logs = append(b.top().Logs, TraceLog{Address: address, Topics: append([]common.Hash{}, topics...), Data: common.CopyBytes(data)})
}

// leak marks the innermost open call as the leaked one.
func (b *traceBuilder) leak() {
	b.top().Status = TraceLeaked
}

// finish closes the root call and any calls still open, which belong to the suspended stack.
func (b *traceBuilder) finish(result *vm.Result) *CallTrace {
	if result.Status == vm.StatusLeaked {
		for _, node := range b.stack {
			if node.Status == TracePending {
				node.Status = TraceLeaked
			}
		}
		return b.root
	}
	closeTrace(b.root, result.Output, result.GasUsed, result.Err, result.Err == vm.ErrExecutionReverted)
	return b.root
}

func closeTrace(node *CallTrace, output []byte, gasUsed uint64, err error, reverted bool) {
	node.Output = common.CopyBytes(output)
	node.GasUsed = gasUsed
	switch {
	case reverted:
		node.Status = TraceReverted
	case err != nil:
		node.Status = TraceError
		node.Error = err.Error()
	default:
		node.Status = TraceSuccess
	}
}
