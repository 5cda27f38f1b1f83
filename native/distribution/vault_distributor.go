package distribution

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

type VaultDistributorConfig struct {
	Address      common.Address
	StakingToken common.Address
	RewardToken  common.Address
	Owner        common.Address
	Staker       common.Address
	// SupplyRatio is the initial supply-side share out of RatioDenominator.
	SupplyRatio uint64
}

// VaultDistributor splits a reward stream between a vault's supply pool and
// its borrowed pool. Stake held here is the vault's weight in the parent
// depositor distributor.
type VaultDistributor struct {
	mu     sync.RWMutex
	cfg    VaultDistributorConfig
	tokens Transferer
	perms  *nativecommon.Permissions
	logger *slog.Logger

	supplyRatio   uint64
	borrowedRatio uint64
	supplyPool    Sink
	borrowedPool  Sink
	initialized   bool

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
}

func NewVaultDistributor(cfg VaultDistributorConfig, tokens Transferer, logger *slog.Logger) (*VaultDistributor, error) {
	if tokens == nil {
		return nil, fmt.Errorf("distribution: token ledger required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.StakingToken) || crypto.IsZero(cfg.RewardToken) {
		return nil, ErrZeroAddress
	}
	if cfg.SupplyRatio > RatioDenominator {
		return nil, ErrMaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("distribution").
		Define("setRatio", RoleOwner).
		Define("setRewardPools", RoleOwner).
		Define("manageDistributors", RoleOwner).
		Define("stake", RoleStaker).
		Define("distribute", RoleDistributor).
		Describe(RoleOwner, "caller is not the owner").
		Describe(RoleStaker, "caller is not the staker").
		Describe(RoleDistributor, "caller is not the distributor")
	perms.Set(RoleOwner, cfg.Owner)
	perms.Set(RoleStaker, cfg.Staker)
	return &VaultDistributor{
		cfg:           cfg,
		tokens:        tokens,
		perms:         perms,
		logger:        logger.With("distributor", cfg.Address.Hex()),
		supplyRatio:   cfg.SupplyRatio,
		borrowedRatio: RatioDenominator - cfg.SupplyRatio,
		totalSupply:   new(big.Int),
		balances:      make(map[common.Address]*big.Int),
	}, nil
}

func (d *VaultDistributor) Address() common.Address      { return d.cfg.Address }
func (d *VaultDistributor) StakingToken() common.Address { return d.cfg.StakingToken }
func (d *VaultDistributor) RewardToken() common.Address  { return d.cfg.RewardToken }

// SetRewardPools binds the supply and borrowed pools. It may run once.
func (d *VaultDistributor) SetRewardPools(caller common.Address, supply, borrowed Sink) error {
	if err := d.require("setRewardPools", caller); err != nil {
		return err
	}
	if supply == nil || borrowed == nil {
		return ErrZeroAddress
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return ErrAlreadyInitialized
	}
	if supply.RewardToken() != d.cfg.RewardToken || borrowed.RewardToken() != d.cfg.RewardToken {
		return ErrMismatchedToken
	}
	d.supplyPool = supply
	d.borrowedPool = borrowed
	d.initialized = true
	return nil
}

// SetSupplyRatio sets the supply share; the borrowed share follows.
func (d *VaultDistributor) SetSupplyRatio(caller common.Address, ratio uint64) error {
	if err := d.require("setRatio", caller); err != nil {
		return err
	}
	if ratio > RatioDenominator {
		return ErrMaxLimit
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.supplyRatio = ratio
	d.borrowedRatio = RatioDenominator - ratio
	return nil
}

// SetBorrowedRatio sets the borrowed share; the supply share follows.
func (d *VaultDistributor) SetBorrowedRatio(caller common.Address, ratio uint64) error {
	if err := d.require("setRatio", caller); err != nil {
		return err
	}
	if ratio > RatioDenominator {
		return ErrMaxLimit
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.borrowedRatio = ratio
	d.supplyRatio = RatioDenominator - ratio
	return nil
}

func (d *VaultDistributor) Ratios() (supply, borrowed uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.supplyRatio, d.borrowedRatio
}

func (d *VaultDistributor) AddDistributor(caller, distributor common.Address) error {
	return d.AddDistributors(caller, []common.Address{distributor})
}

func (d *VaultDistributor) AddDistributors(caller common.Address, distributors []common.Address) error {
	if err := d.require("manageDistributors", caller); err != nil {
		return err
	}
	for _, addr := range distributors {
		if crypto.IsZero(addr) {
			return ErrZeroAddress
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, addr := range distributors {
		d.perms.Grant(RoleDistributor, addr)
	}
	return nil
}

func (d *VaultDistributor) RemoveDistributor(caller, distributor common.Address) error {
	if err := d.require("manageDistributors", caller); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perms.Revoke(RoleDistributor, distributor)
	return nil
}

func (d *VaultDistributor) IsDistributor(addr common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.perms.Has(RoleDistributor, addr)
}

// Stake pulls amount of the staking token from the staker.
func (d *VaultDistributor) Stake(caller common.Address, amount *big.Int) error {
	if err := d.require("stake", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.tokens.Transfer(d.cfg.StakingToken, caller, d.cfg.Address, amount); err != nil {
		return fmt.Errorf("distribution: pull stake: %w", err)
	}
	bal, ok := d.balances[caller]
	if !ok {
		bal = new(big.Int)
		d.balances[caller] = bal
	}
	bal.Add(bal, amount)
	d.totalSupply.Add(d.totalSupply, amount)
	return nil
}

// Withdraw returns amount of the staking token to the staker.
func (d *VaultDistributor) Withdraw(caller common.Address, amount *big.Int) error {
	if err := d.require("stake", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bal := d.balances[caller]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	bal.Sub(bal, amount)
	d.totalSupply.Sub(d.totalSupply, amount)
	if err := d.tokens.Transfer(d.cfg.StakingToken, d.cfg.Address, caller, amount); err != nil {
		return fmt.Errorf("distribution: return stake: %w", err)
	}
	return nil
}

func (d *VaultDistributor) BalanceOf(staker common.Address) *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nativecommon.Copy(d.balances[staker])
}

func (d *VaultDistributor) TotalStaked() *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nativecommon.Copy(d.totalSupply)
}

// Distribute pulls rewards from caller and forwards the supply and borrowed
// shares to their pools.
func (d *VaultDistributor) Distribute(caller common.Address, rewards *big.Int) error {
	if err := d.require("distribute", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(rewards) {
		return ErrZeroAmount
	}
	d.mu.RLock()
	supplyPool, borrowedPool := d.supplyPool, d.borrowedPool
	supplyRatio := d.supplyRatio
	initialized := d.initialized
	d.mu.RUnlock()
	if !initialized {
		return ErrPoolsNotSet
	}
	if err := d.tokens.Transfer(d.cfg.RewardToken, caller, d.cfg.Address, rewards); err != nil {
		return fmt.Errorf("distribution: pull rewards: %w", err)
	}
	supplyShare, err := nativecommon.MulDiv(rewards, new(big.Int).SetUint64(supplyRatio), big.NewInt(RatioDenominator))
	if err != nil {
		return err
	}
	borrowedShare := new(big.Int).Sub(rewards, supplyShare)
	if supplyShare.Sign() > 0 {
		if err := supplyPool.Distribute(d.cfg.Address, supplyShare); err != nil {
			return fmt.Errorf("distribution: supply pool: %w", err)
		}
	}
	if borrowedShare.Sign() > 0 {
		if err := borrowedPool.Distribute(d.cfg.Address, borrowedShare); err != nil {
			return fmt.Errorf("distribution: borrowed pool: %w", err)
		}
	}
	d.logger.Debug("vault rewards distributed", "supply", supplyShare.String(), "borrowed", borrowedShare.String())
	return nil
}

func (d *VaultDistributor) require(op string, caller common.Address) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.perms.Require(op, caller)
}

// Snapshot implements common.Stateful.
func (d *VaultDistributor) Snapshot() func() {
	d.mu.RLock()
	perms := d.perms.Clone()
	supplyRatio, borrowedRatio := d.supplyRatio, d.borrowedRatio
	supplyPool, borrowedPool, initialized := d.supplyPool, d.borrowedPool, d.initialized
	totalSupply := nativecommon.Copy(d.totalSupply)
	balances := nativecommon.CopyBalances(d.balances)
	d.mu.RUnlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.perms = perms
		d.supplyRatio, d.borrowedRatio = supplyRatio, borrowedRatio
		d.supplyPool, d.borrowedPool, d.initialized = supplyPool, borrowedPool, initialized
		d.totalSupply = totalSupply
		d.balances = balances
	}
}
