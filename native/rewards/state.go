package rewards

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldcredit/native/common"
)

// AccountState is the persisted form of one staker.
type AccountState struct {
	Staker     common.Address
	Underlying *big.Int
	Paid       *big.Int
	Rewards    *big.Int
}

// State is the persisted form of a pool's accumulator.
type State struct {
	Address           common.Address
	TotalSupply       *big.Int
	AccRewardPerShare *big.Int
	QueuedRewards     *big.Int
	Accounts          []AccountState
}

// Export returns the pool's accumulator state ordered by staker address.
func (p *Pool) Export() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := State{
		Address:           p.cfg.Address,
		TotalSupply:       nativecommon.Copy(p.totalSupply),
		AccRewardPerShare: nativecommon.Copy(p.accRewardPerShare),
		QueuedRewards:     nativecommon.Copy(p.queuedRewards),
		Accounts:          make([]AccountState, 0, len(p.accounts)),
	}
	for addr, acct := range p.accounts {
		out.Accounts = append(out.Accounts, AccountState{
			Staker:     addr,
			Underlying: nativecommon.Copy(acct.underlying),
			Paid:       nativecommon.Copy(acct.paid),
			Rewards:    nativecommon.Copy(acct.rewards),
		})
	}
	sort.Slice(out.Accounts, func(i, j int) bool {
		return bytes.Compare(out.Accounts[i].Staker[:], out.Accounts[j].Staker[:]) < 0
	})
	return out
}

// Import replaces the accumulator state. Role bindings are untouched.
func (p *Pool) Import(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalSupply = nativecommon.Copy(state.TotalSupply)
	p.accRewardPerShare = nativecommon.Copy(state.AccRewardPerShare)
	p.queuedRewards = nativecommon.Copy(state.QueuedRewards)
	p.accounts = make(map[common.Address]*account, len(state.Accounts))
	for _, a := range state.Accounts {
		p.accounts[a.Staker] = &account{
			underlying: nativecommon.Copy(a.Underlying),
			paid:       nativecommon.Copy(a.Paid),
			rewards:    nativecommon.Copy(a.Rewards),
		}
	}
}
