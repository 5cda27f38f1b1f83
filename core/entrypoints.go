package core

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/native/credit"
)

// OpenLendCredit opens a position for caller.
func (p *Protocol) OpenLendCredit(ctx context.Context, caller common.Address, req credit.OpenRequest) (uint64, error) {
	var index uint64
	err := p.Runtime.Execute(ctx, "credit/open", func(context.Context) error {
		var err error
		index, err = p.Engine.OpenLendCredit(caller, req)
		return err
	})
	return index, err
}

// RepayCredit closes caller's position at index and returns the surplus
// credited to the collateral reward pool.
func (p *Protocol) RepayCredit(ctx context.Context, caller common.Address, index uint64) (*big.Int, error) {
	var surplus *big.Int
	err := p.Runtime.Execute(ctx, "credit/repay", func(context.Context) error {
		var err error
		surplus, err = p.Engine.RepayCredit(caller, index)
		return err
	})
	return surplus, err
}

// Liquidate closes user's position at index on behalf of caller and returns
// the liquidator fee paid.
func (p *Protocol) Liquidate(ctx context.Context, caller, user common.Address, index uint64) (*big.Int, error) {
	var reward *big.Int
	err := p.Runtime.Execute(ctx, "credit/liquidate", func(context.Context) error {
		var err error
		reward, err = p.Engine.Liquidate(caller, user, index)
		return err
	})
	return reward, err
}

func (p *Protocol) market(token common.Address) (*Market, error) {
	m, ok := p.Market(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", credit.ErrUnknownVaultManager, token.Hex())
	}
	return m, nil
}

// AddLiquidity supplies amount of token to its vault.
func (p *Protocol) AddLiquidity(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	m, err := p.market(token)
	if err != nil {
		return err
	}
	return p.Runtime.Execute(ctx, "vault/add", func(context.Context) error {
		return m.Vault.AddLiquidity(caller, amount)
	})
}

func (p *Protocol) RemoveLiquidity(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	m, err := p.market(token)
	if err != nil {
		return err
	}
	return p.Runtime.Execute(ctx, "vault/remove", func(context.Context) error {
		return m.Vault.RemoveLiquidity(caller, amount)
	})
}

// Claim pays caller's rewards from the pool at addr. A manager address
// claims the caller's share-locker rewards.
func (p *Protocol) Claim(ctx context.Context, caller, addr common.Address) (*big.Int, error) {
	var claim func() (*big.Int, error)
	if pool, ok := p.Pool(addr); ok {
		claim = func() (*big.Int, error) { return pool.Claim(caller) }
	}
	for _, m := range p.Markets() {
		if m.Manager.Address() == addr {
			manager := m.Manager
			claim = func() (*big.Int, error) { return manager.Claim(caller) }
		}
	}
	if claim == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
	}
	var paid *big.Int
	err := p.Runtime.Execute(ctx, "rewards/claim", func(context.Context) error {
		var err error
		paid, err = claim()
		return err
	})
	return paid, err
}

// TriggerHarvest lets an allowed vault run a harvest round out of band.
func (p *Protocol) TriggerHarvest(ctx context.Context, caller common.Address) error {
	return p.Runtime.Execute(ctx, "emission/execute", func(context.Context) error {
		return p.Scheduler.Execute(caller)
	})
}

// Govern runs a governance action as its own transaction.
func (p *Protocol) Govern(ctx context.Context, name string, fn func() error) error {
	return p.Runtime.Execute(ctx, "govern/"+name, func(context.Context) error { return fn() })
}

func (p *Protocol) SetLiquidateThreshold(ctx context.Context, caller common.Address, threshold uint64) error {
	return p.Govern(ctx, "liquidate-threshold", func() error { return p.Engine.SetLiquidateThreshold(caller, threshold) })
}

func (p *Protocol) SetLiquidatorFee(ctx context.Context, caller common.Address, fee uint64) error {
	return p.Govern(ctx, "liquidator-fee", func() error { return p.Engine.SetLiquidatorFee(caller, fee) })
}

func (p *Protocol) SetMaxLoanDuration(ctx context.Context, caller common.Address, d time.Duration) error {
	return p.Govern(ctx, "max-loan-duration", func() error { return p.Engine.SetMaxLoanDuration(caller, d) })
}

func (p *Protocol) Pause(ctx context.Context, caller common.Address) error {
	return p.Govern(ctx, "pause", func() error { return p.Engine.Pause(caller) })
}

func (p *Protocol) Unpause(ctx context.Context, caller common.Address) error {
	return p.Govern(ctx, "unpause", func() error { return p.Engine.Unpause(caller) })
}

// Position returns the joined records and live health of one position.
func (p *Protocol) Position(user common.Address, index uint64) (*credit.Position, error) {
	return p.Engine.Position(user, index)
}

func (p *Protocol) Positions(user common.Address) ([]*credit.Position, error) {
	return p.Engine.Positions(user)
}

func (p *Protocol) Health(user common.Address, index uint64) (uint64, error) {
	return p.Engine.GetUserCreditHealth(user, index)
}
