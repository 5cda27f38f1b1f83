package credit

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

type VaultManagerConfig struct {
	Address common.Address
	Owner   common.Address
	// Caller is the orchestrator allowed to borrow, repay and lock.
	Caller common.Address
	// RewardTracker is the scheduler allowed to harvest.
	RewardTracker common.Address
	// ShareToken is the strategy share token held in lockers.
	ShareToken common.Address
}

// VaultManager borrows from one vault on behalf of the orchestrator and keeps
// the leveraged strategy shares of every position in share lockers. The
// manager's cut of the vault's borrowed-side rewards is forwarded to the
// lockers on Harvest.
type VaultManager struct {
	mu           sync.RWMutex
	cfg          VaultManagerConfig
	tokens       TokenLedger
	vault        LendingVault
	borrowedPool RewardClaimer
	lockerPool   LockerPool
	perms        *nativecommon.Permissions
	logger       *slog.Logger

	lockers map[PositionKey]*ShareLocker
	byUser  map[common.Address][]PositionKey
}

func NewVaultManager(cfg VaultManagerConfig, tokens TokenLedger, vault LendingVault, borrowedPool RewardClaimer, lockerPool LockerPool, logger *slog.Logger) (*VaultManager, error) {
	if tokens == nil || vault == nil || borrowedPool == nil || lockerPool == nil {
		return nil, fmt.Errorf("credit: manager dependencies required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.ShareToken) {
		return nil, fmt.Errorf("credit: manager address and share token required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("credit/manager").
		Define("setCaller", RoleOwner).
		Define("setRewardTracker", RoleOwner).
		Define("borrow", RoleCaller).
		Define("repay", RoleCaller).
		Define("writeOff", RoleCaller).
		Define("lock", RoleCaller).
		Define("release", RoleCaller).
		Define("harvest", RoleRewardTracker).
		Describe(RoleCaller, "Caller is not the caller").
		Describe(RoleRewardTracker, "Caller is not the reward tracker")
	perms.Set(RoleOwner, cfg.Owner)
	perms.Set(RoleCaller, cfg.Caller)
	perms.Set(RoleRewardTracker, cfg.RewardTracker)
	return &VaultManager{
		cfg:          cfg,
		tokens:       tokens,
		vault:        vault,
		borrowedPool: borrowedPool,
		lockerPool:   lockerPool,
		perms:        perms,
		logger:       logger.With("module", "credit/manager", "vault", vault.Address().Hex()),
		lockers:      make(map[PositionKey]*ShareLocker),
		byUser:       make(map[common.Address][]PositionKey),
	}, nil
}

func (m *VaultManager) Address() common.Address    { return m.cfg.Address }
func (m *VaultManager) Vault() common.Address      { return m.vault.Address() }
func (m *VaultManager) Underlying() common.Address { return m.vault.Underlying() }

func (m *VaultManager) rewardToken() common.Address { return m.lockerPool.RewardToken() }

func (m *VaultManager) require(op string, caller common.Address) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms.Require(op, caller)
}

func (m *VaultManager) SetCaller(caller, addr common.Address) error {
	return m.setRole("setCaller", RoleCaller, caller, addr)
}

func (m *VaultManager) SetRewardTracker(caller, addr common.Address) error {
	return m.setRole("setRewardTracker", RoleRewardTracker, caller, addr)
}

func (m *VaultManager) setRole(op string, role nativecommon.Role, caller, addr common.Address) error {
	if err := m.require(op, caller); err != nil {
		return err
	}
	if crypto.IsZero(addr) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms.Set(role, addr)
	return nil
}

// Borrow draws amount from the vault and hands it to the orchestrator.
func (m *VaultManager) Borrow(caller, recipient common.Address, amount *big.Int) error {
	if err := m.require("borrow", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := m.vault.Borrow(m.cfg.Address, amount); err != nil {
		return err
	}
	if err := m.tokens.Transfer(m.vault.Underlying(), m.cfg.Address, caller, amount); err != nil {
		return fmt.Errorf("credit: forward borrow: %w", err)
	}
	m.logger.Debug("borrowed", "recipient", recipient.Hex(), "amount", amount.String())
	return nil
}

// Repay pulls amount of the underlying from the orchestrator and returns it
// to the vault.
func (m *VaultManager) Repay(caller, recipient common.Address, amount *big.Int) error {
	if err := m.require("repay", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := m.tokens.Transfer(m.vault.Underlying(), caller, m.cfg.Address, amount); err != nil {
		return fmt.Errorf("credit: pull repayment: %w", err)
	}
	if err := m.vault.Repay(m.cfg.Address, amount); err != nil {
		return err
	}
	m.logger.Debug("repaid", "recipient", recipient.Hex(), "amount", amount.String())
	return nil
}

// WriteOff clears debt the orchestrator could not recover.
func (m *VaultManager) WriteOff(caller, recipient common.Address, amount *big.Int) error {
	if err := m.require("writeOff", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := m.vault.WriteOff(m.cfg.Address, amount); err != nil {
		return err
	}
	m.logger.Warn("debt written off", "recipient", recipient.Hex(), "amount", amount.String())
	return nil
}

// Harvest claims the manager's borrowed-side rewards and spreads them over
// the share lockers. Reward tracker only.
func (m *VaultManager) Harvest(caller common.Address) (*big.Int, error) {
	if err := m.require("harvest", caller); err != nil {
		return nil, err
	}
	claimed, err := m.borrowedPool.Claim(m.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("credit: claim borrowed rewards: %w", err)
	}
	if claimed.Sign() == 0 {
		return claimed, nil
	}
	if err := m.lockerPool.Distribute(m.cfg.Address, claimed); err != nil {
		return nil, fmt.Errorf("credit: distribute to lockers: %w", err)
	}
	m.logger.Debug("manager harvested", "amount", claimed.String())
	return claimed, nil
}

// Snapshot implements common.Stateful.
func (m *VaultManager) Snapshot() func() {
	m.mu.RLock()
	perms := m.perms.Clone()
	lockers := make(map[PositionKey]*ShareLocker, len(m.lockers))
	for k, v := range m.lockers {
		lockers[k] = v.clone()
	}
	byUser := make(map[common.Address][]PositionKey, len(m.byUser))
	for k, v := range m.byUser {
		byUser[k] = append([]PositionKey(nil), v...)
	}
	m.mu.RUnlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.perms = perms
		m.lockers = lockers
		m.byUser = byUser
	}
}
