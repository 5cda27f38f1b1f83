package credit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldcredit/native/common"
)

type settleMode int

const (
	settleRepay settleMode = iota
	settleLiquidate
)

// position is a loaded, still-open position with its strategy.
type position struct {
	user   common.Address
	index  uint64
	lend   *LendRecord
	borrow *BorrowRecord
	entry  *strategyEntry
	health uint64
}

// RepayCredit closes the caller's position at index: every leg is repaid
// from the position's shares, and what is left is credited to the caller in
// the collateral reward pool.
func (e *Engine) RepayCredit(caller common.Address, index uint64) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	pos, err := e.loadOpen(caller, index)
	if err != nil {
		return nil, err
	}
	params := e.Params()
	timedOut, err := e.ledger.IsTimeout(e.address, caller, index, params.MaxLoanDuration)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, ErrAlreadyTimeout
	}
	if pos.health <= params.LiquidateThreshold {
		return nil, ErrNeedsLiquidation
	}
	if err := e.ledger.Destroy(e.address, caller, index, OutcomeRepaid); err != nil {
		return nil, err
	}
	shares, err := e.unlock(pos)
	if err != nil {
		return nil, err
	}
	remaining, surplus, err := e.settleLegs(pos, shares, settleRepay)
	if err != nil {
		return nil, err
	}
	out, err := e.withdrawWrapped(pos, remaining)
	if err != nil {
		return nil, err
	}
	surplus.Add(surplus, out)
	if surplus.Sign() > 0 {
		if err := pos.entry.collateral.CreditFor(e.address, caller, surplus); err != nil {
			return nil, fmt.Errorf("credit: credit surplus: %w", err)
		}
	}
	e.telemetry.ObservePosition("repay")
	e.logger.Info("credit repaid", "user", caller.Hex(), "index", index, "health", pos.health, "surplus", surplus.String())
	return surplus, nil
}

// Liquidate closes user's position at index when it is timed out or its
// health is at or below the threshold. The caller is paid the liquidator
// fee out of the position's shares, unrecoverable debt is written off, and
// the remainder goes to the fee recipient.
func (e *Engine) Liquidate(caller, user common.Address, index uint64) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	pos, err := e.loadOpen(user, index)
	if err != nil {
		return nil, err
	}
	params := e.Params()
	timedOut, err := e.ledger.IsTimeout(e.address, user, index, params.MaxLoanDuration)
	if err != nil {
		return nil, err
	}
	trigger := "health"
	if timedOut {
		trigger = "timeout"
	} else if pos.health > params.LiquidateThreshold {
		return nil, fmt.Errorf("%w: health %d above %d", ErrNotLiquidatable, pos.health, params.LiquidateThreshold)
	}
	if err := e.ledger.Destroy(e.address, user, index, OutcomeLiquidated); err != nil {
		return nil, err
	}
	shares, err := e.unlock(pos)
	if err != nil {
		return nil, err
	}

	feeShares, err := nativecommon.MulDiv(shares, new(big.Int).SetUint64(params.LiquidatorFee), big.NewInt(PerMille))
	if err != nil {
		return nil, err
	}
	reward, err := e.withdrawWrapped(pos, feeShares)
	if err != nil {
		return nil, err
	}
	wrapped := e.tokens.WrappedNative()
	if reward.Sign() > 0 {
		if err := e.tokens.Transfer(wrapped, e.address, caller, reward); err != nil {
			return nil, fmt.Errorf("credit: pay liquidator: %w", err)
		}
	}
	shares.Sub(shares, feeShares)

	remaining, surplus, err := e.settleLegs(pos, shares, settleLiquidate)
	if err != nil {
		return nil, err
	}
	out, err := e.withdrawWrapped(pos, remaining)
	if err != nil {
		return nil, err
	}
	surplus.Add(surplus, out)
	if surplus.Sign() > 0 {
		if err := e.tokens.Transfer(wrapped, e.address, e.FeeRecipient(), surplus); err != nil {
			return nil, fmt.Errorf("credit: pay protocol: %w", err)
		}
	}
	e.telemetry.ObservePosition("liquidate")
	e.telemetry.ObserveLiquidation(trigger)
	e.logger.Info("credit liquidated",
		"user", user.Hex(),
		"index", index,
		"health", pos.health,
		"trigger", trigger,
		"liquidator", caller.Hex(),
		"reward", reward.String())
	return reward, nil
}

// loadOpen resolves a live position and scores it.
func (e *Engine) loadOpen(user common.Address, index uint64) (*position, error) {
	e.mu.RLock()
	ledger, staker := e.ledger, e.staker
	e.mu.RUnlock()
	if ledger == nil || staker == nil {
		return nil, ErrNotInitialized
	}
	if index == 0 {
		return nil, ErrMinimumIndex
	}
	if index > ledger.GetUserCounts(user) {
		return nil, ErrIndexOutOfRange
	}
	terminated, err := ledger.IsTerminated(e.address, user, index)
	if err != nil {
		return nil, err
	}
	if terminated {
		return nil, ErrAlreadyTerminated
	}
	return e.load(user, index)
}

func (e *Engine) load(user common.Address, index uint64) (*position, error) {
	lend, err := e.ledger.GetUserLendCredit(user, index)
	if err != nil {
		return nil, err
	}
	borrow, err := e.ledger.GetUserBorrowed(user, index)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	entry := e.strategies[lend.Depositor]
	e.mu.RUnlock()
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrMismatchedStrategy, lend.Depositor.Hex())
	}
	health, err := e.health(entry, lend, borrow)
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveHealth(health)
	return &position{user: user, index: index, lend: lend, borrow: borrow, entry: entry, health: health}, nil
}

// unlock releases every share locker of the position and unstakes its
// credit tokens. The orchestrator ends up holding all of the position's
// shares, which it returns.
func (e *Engine) unlock(pos *position) (*big.Int, error) {
	seen := make(map[common.Address]bool, len(pos.borrow.CreditManagers))
	for _, addr := range pos.borrow.CreditManagers {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		m, err := e.managerAt(addr)
		if err != nil {
			return nil, err
		}
		if _, err := m.Release(e.address, pos.user, pos.index); err != nil {
			return nil, fmt.Errorf("credit: release locker: %w", err)
		}
	}
	if nativecommon.Positive(pos.borrow.CollateralMintedAmount) {
		if err := e.staker.WithdrawFor(e.address, pos.entry.collateral, pos.user, pos.borrow.CollateralMintedAmount); err != nil {
			return nil, fmt.Errorf("credit: unstake collateral credit: %w", err)
		}
	}
	wrapped := e.tokens.WrappedNative()
	for i, minted := range pos.borrow.BorrowedMintedAmount {
		if !nativecommon.Positive(minted) {
			continue
		}
		token := normalize(pos.lend.BorrowedTokens[i], wrapped)
		if err := e.staker.Withdraw(e.address, pos.entry.router, pos.entry.vaultRewards[token], minted); err != nil {
			return nil, fmt.Errorf("credit: unstake leg %d credit: %w", i, err)
		}
	}
	return nativecommon.Copy(pos.borrow.MintedAmount), nil
}

// settleLegs repays each leg from the position's shares in order. A leg the
// shares cannot cover is topped up from the owner's wallet on repay and
// written off on liquidation. It returns the unspent shares and any
// wrapped-native surplus.
func (e *Engine) settleLegs(pos *position, shares *big.Int, mode settleMode) (*big.Int, *big.Int, error) {
	remaining := nativecommon.Copy(shares)
	surplus := new(big.Int)
	wrapped := e.tokens.WrappedNative()
	for i, debt := range pos.borrow.BorrowedAmountOuts {
		if !nativecommon.Positive(debt) {
			continue
		}
		token := normalize(pos.lend.BorrowedTokens[i], wrapped)
		m, err := e.managerAt(pos.borrow.CreditManagers[i])
		if err != nil {
			return nil, nil, err
		}
		needed, err := e.sharesFor(pos.entry, token, debt)
		if err != nil {
			return nil, nil, err
		}
		needed = nativecommon.Min(needed, remaining)
		out := new(big.Int)
		if needed.Sign() > 0 {
			out, err = pos.entry.strategy.Withdraw(e.address, token, needed, big.NewInt(0))
			if err != nil {
				return nil, nil, fmt.Errorf("credit: withdraw leg %d: %w", i, err)
			}
			remaining.Sub(remaining, needed)
		}
		if out.Cmp(debt) >= 0 {
			if err := m.Repay(e.address, pos.user, debt); err != nil {
				return nil, nil, fmt.Errorf("credit: repay leg %d: %w", i, err)
			}
			extra := new(big.Int).Sub(out, debt)
			if extra.Sign() == 0 {
				continue
			}
			if token == wrapped {
				surplus.Add(surplus, extra)
			} else if err := e.tokens.Transfer(token, e.address, e.extraRecipient(pos, mode), extra); err != nil {
				return nil, nil, fmt.Errorf("credit: return leg %d excess: %w", i, err)
			}
			continue
		}
		shortfall := new(big.Int).Sub(debt, out)
		switch mode {
		case settleRepay:
			if err := e.tokens.Transfer(token, pos.user, e.address, shortfall); err != nil {
				return nil, nil, fmt.Errorf("credit: cover leg %d shortfall: %w", i, err)
			}
			if err := m.Repay(e.address, pos.user, debt); err != nil {
				return nil, nil, fmt.Errorf("credit: repay leg %d: %w", i, err)
			}
		case settleLiquidate:
			if out.Sign() > 0 {
				if err := m.Repay(e.address, pos.user, out); err != nil {
					return nil, nil, fmt.Errorf("credit: repay leg %d: %w", i, err)
				}
			}
			if err := m.WriteOff(e.address, pos.user, shortfall); err != nil {
				return nil, nil, fmt.Errorf("credit: write off leg %d: %w", i, err)
			}
		}
	}
	return remaining, surplus, nil
}

func (e *Engine) extraRecipient(pos *position, mode settleMode) common.Address {
	if mode == settleLiquidate {
		return e.FeeRecipient()
	}
	return pos.user
}

// withdrawWrapped redeems shares into the wrapped native token.
func (e *Engine) withdrawWrapped(pos *position, shares *big.Int) (*big.Int, error) {
	if !nativecommon.Positive(shares) {
		return new(big.Int), nil
	}
	out, err := pos.entry.strategy.Withdraw(e.address, e.tokens.WrappedNative(), shares, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("credit: redeem shares: %w", err)
	}
	return out, nil
}

func (e *Engine) managerAt(addr common.Address) (Manager, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.managersByAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVaultManager, addr.Hex())
	}
	return m, nil
}
