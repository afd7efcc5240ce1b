package oracles

import (
	"fmt"
	"math/big"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/medusa-geth/common"
	"github.com/shopspring/decimal"
)

// BalanceProducerName is the name BalanceProducer state is published under.
const BalanceProducerName = "balances"

// BalanceDelta is the change of one account's native balance since the initial state.
type BalanceDelta struct {
	Account common.Address
	Initial *big.Int
	Current *big.Int
}

// Gain returns Current - Initial, negative for a loss.
func (d BalanceDelta) Gain() *big.Int {
	return new(big.Int).Sub(d.Current, d.Initial)
}

// BalanceProducer computes the balance deltas of a fixed set of accounts against their balances in the initial
// state.
type BalanceProducer struct {
	accounts []common.Address
	initial  map[common.Address]*big.Int
}

// NewBalanceProducer records the balances of accounts in initial.
func NewBalanceProducer(initial *state.EVMState, accounts []common.Address) *BalanceProducer {
	p := &BalanceProducer{accounts: accounts, initial: make(map[common.Address]*big.Int, len(accounts))}
	for _, account := range accounts {
		p.initial[account] = initial.Balance(account).ToBig()
	}
	return p
}

// Name implements Producer.
func (p *BalanceProducer) Name() string { return BalanceProducerName }

// Observe implements Producer. It returns a []BalanceDelta in account order.
func (p *BalanceProducer) Observe(ctx *Context) any {
	deltas := make([]BalanceDelta, len(p.accounts))
	for i, account := range p.accounts {
		deltas[i] = BalanceDelta{Account: account, Initial: p.initial[account], Current: ctx.Post.Balance(account).ToBig()}
	}
	return deltas
}

// ProfitOracle reports fuzzer-controlled accounts which ended up with more native currency than they started with.
type ProfitOracle struct {
	// Threshold is the minimum gain in wei reported.
	Threshold *big.Int
}

// Name implements Oracle.
func (o *ProfitOracle) Name() string { return "profit" }

// Inspect implements Oracle. It requires the BalanceProducer.
func (o *ProfitOracle) Inspect(ctx *Context) []Finding {
	value, ok := ctx.ProducerState(BalanceProducerName)
	if !ok {
		return nil
	}
	deltas, ok := value.([]BalanceDelta)
	if !ok {
		return nil
	}
	threshold := o.Threshold
	if threshold == nil {
		threshold = big.NewInt(0)
	}

	var findings []Finding
	for _, delta := range deltas {
		gain := delta.Gain()
		if gain.Cmp(threshold) <= 0 {
			continue
		}
		findings = append(findings, Finding{
			Kind:    KindProfit,
			Address: delta.Account,
			Message: fmt.Sprintf("%s gained %s ether", delta.Account.Hex(), FormatEther(gain)),
			Detail:  fmt.Sprintf("balance %s -> %s wei", delta.Initial, delta.Current),
		})
	}
	return findings
}

// FormatEther renders an amount of wei in ether.
func FormatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
