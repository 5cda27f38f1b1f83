package core

import (
	"yieldcredit/native/credit"
	"yieldcredit/native/rewards"
)

// State is the checkpointed accounting of a deployment: every position and
// every reward accumulator.
type State struct {
	Ledger credit.LedgerState
	Pools  []rewards.State
}

// Export captures the current state. Pools are in deployment order.
func (p *Protocol) Export() State {
	out := State{Ledger: p.Ledger.Export()}
	out.Pools = append(out.Pools, p.Collateral.Export())
	for _, token := range p.marketTokens() {
		m := p.markets[token]
		out.Pools = append(out.Pools, m.SupplyPool.Export(), m.BorrowedPool.Export(), m.LockerPool.Export())
	}
	return out
}
