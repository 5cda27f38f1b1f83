package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultView is the public accounting of one lending vault.
type VaultView struct {
	Token         common.Address
	Symbol        string
	Vault         common.Address
	Manager       common.Address
	TotalSupply   *big.Int
	TotalBorrowed *big.Int
	BadDebt       *big.Int
	FreeLiquidity *big.Int
	Utilization   uint64
	Paused        bool
}

func (p *Protocol) VaultInfo(token common.Address) (*VaultView, error) {
	m, err := p.market(token)
	if err != nil {
		return nil, err
	}
	return &VaultView{
		Token:         m.Token,
		Symbol:        m.Symbol,
		Vault:         m.Vault.Address(),
		Manager:       m.Manager.Address(),
		TotalSupply:   m.Vault.TotalSupply(),
		TotalBorrowed: m.Vault.TotalBorrowed(),
		BadDebt:       m.Vault.BadDebt(),
		FreeLiquidity: m.Vault.FreeLiquidity(),
		Utilization:   m.Vault.Utilization(),
		Paused:        m.Vault.Paused(),
	}, nil
}

// PendingRewards reports what user could claim from the pool or manager at
// addr right now.
func (p *Protocol) PendingRewards(addr, user common.Address) (*big.Int, error) {
	if pool, ok := p.Pool(addr); ok {
		return pool.PendingRewards(user), nil
	}
	for _, m := range p.Markets() {
		if m.Manager.Address() == addr {
			return m.Manager.PendingRewards(user), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
}
