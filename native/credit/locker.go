package credit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

// ShareLocker holds the leveraged shares of one position at its own address.
// The shares are staked in the manager's locker pool under that address, and
// the pool's rewards are routed to the position owner on Claim.
type ShareLocker struct {
	Address   common.Address
	Recipient common.Address
	Index     uint64
	Shares    *big.Int
	Borrowed  *big.Int
	Released  bool
}

func (l *ShareLocker) clone() *ShareLocker {
	cp := *l
	cp.Shares = nativecommon.Copy(l.Shares)
	cp.Borrowed = nativecommon.Copy(l.Borrowed)
	return &cp
}

func lockerAddress(manager, recipient common.Address, index uint64) common.Address {
	return crypto.ContractAddress(fmt.Sprintf("credit/locker/%s/%s/%d", manager.Hex(), recipient.Hex(), index))
}

// Lock moves shares from the orchestrator into the position's locker and
// stakes them. Several legs of one position borrowed from the same vault
// share a locker.
func (m *VaultManager) Lock(caller, recipient common.Address, index uint64, shares, borrowed *big.Int) error {
	if err := m.require("lock", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(shares) {
		return ErrZeroAmount
	}
	key := PositionKey{User: recipient, Index: index}
	m.mu.Lock()
	locker, ok := m.lockers[key]
	if ok && locker.Released {
		m.mu.Unlock()
		return fmt.Errorf("%w: locker %s#%d released", ErrAlreadyTerminated, recipient.Hex(), index)
	}
	if !ok {
		locker = &ShareLocker{
			Address:   lockerAddress(m.cfg.Address, recipient, index),
			Recipient: recipient,
			Index:     index,
			Shares:    new(big.Int),
			Borrowed:  new(big.Int),
		}
		m.lockers[key] = locker
		m.byUser[recipient] = append(m.byUser[recipient], key)
	}
	addr := locker.Address
	m.mu.Unlock()

	if err := m.tokens.Transfer(m.cfg.ShareToken, caller, addr, shares); err != nil {
		return fmt.Errorf("credit: lock shares: %w", err)
	}
	if err := m.lockerPool.StakeFor(addr, addr, shares); err != nil {
		return fmt.Errorf("credit: stake locked shares: %w", err)
	}
	m.mu.Lock()
	locker.Shares.Add(locker.Shares, shares)
	if borrowed != nil {
		locker.Borrowed.Add(locker.Borrowed, borrowed)
	}
	m.mu.Unlock()
	return nil
}

// Release unstakes every share of the position's locker and returns them to
// the orchestrator. Accrued locker rewards stay claimable by the owner.
func (m *VaultManager) Release(caller, recipient common.Address, index uint64) (*big.Int, error) {
	if err := m.require("release", caller); err != nil {
		return nil, err
	}
	key := PositionKey{User: recipient, Index: index}
	m.mu.RLock()
	locker, ok := m.lockers[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no locker for %s#%d", ErrUnknownRecord, recipient.Hex(), index)
	}
	if locker.Released {
		return nil, ErrAlreadyTerminated
	}
	shares := nativecommon.Copy(locker.Shares)
	if shares.Sign() > 0 {
		if err := m.lockerPool.WithdrawFor(m.cfg.Address, locker.Address, shares); err != nil {
			return nil, fmt.Errorf("credit: unstake locked shares: %w", err)
		}
		if err := m.tokens.Transfer(m.cfg.ShareToken, locker.Address, caller, shares); err != nil {
			return nil, fmt.Errorf("credit: release shares: %w", err)
		}
	}
	m.mu.Lock()
	locker.Shares = new(big.Int)
	locker.Released = true
	m.mu.Unlock()
	return shares, nil
}

// Claim pays the locker-pool rewards of every locker owned by recipient to
// recipient.
func (m *VaultManager) Claim(recipient common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, locker := range m.Lockers(recipient) {
		claimed, err := m.lockerPool.Claim(locker.Address)
		if err != nil {
			return nil, fmt.Errorf("credit: claim locker: %w", err)
		}
		if claimed.Sign() == 0 {
			continue
		}
		if err := m.tokens.Transfer(m.rewardToken(), locker.Address, recipient, claimed); err != nil {
			return nil, fmt.Errorf("credit: pay locker rewards: %w", err)
		}
		total.Add(total, claimed)
	}
	return total, nil
}

// PendingRewards sums the claimable rewards of recipient's lockers.
func (m *VaultManager) PendingRewards(recipient common.Address) *big.Int {
	total := new(big.Int)
	for _, locker := range m.Lockers(recipient) {
		total.Add(total, m.lockerPool.PendingRewards(locker.Address))
	}
	return total
}

// BalanceOf sums the locked shares of recipient.
func (m *VaultManager) BalanceOf(recipient common.Address) *big.Int {
	total := new(big.Int)
	for _, locker := range m.Lockers(recipient) {
		total.Add(total, m.lockerPool.BalanceOf(locker.Address))
	}
	return total
}

// Locker returns a copy of the locker of one position.
func (m *VaultManager) Locker(recipient common.Address, index uint64) (*ShareLocker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	locker, ok := m.lockers[PositionKey{User: recipient, Index: index}]
	if !ok {
		return nil, false
	}
	return locker.clone(), true
}

// Lockers returns copies of every locker recipient has had, released ones
// included.
func (m *VaultManager) Lockers(recipient common.Address) []*ShareLocker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.byUser[recipient]
	out := make([]*ShareLocker, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.lockers[key].clone())
	}
	return out
}
