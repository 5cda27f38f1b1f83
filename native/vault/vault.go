package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

const (
	RoleOwner   nativecommon.Role = "owner"
	RoleManager nativecommon.Role = "manager"
)

var (
	ErrZeroAmount            = errors.New("vault: amount cannot be 0")
	ErrZeroAddress           = errors.New("vault: address cannot be 0x0")
	ErrNotAllowed            = errors.New("vault: Not allowed")
	ErrAlreadyInitialized    = errors.New("vault: Cannot run this function twice")
	ErrPoolsNotSet           = errors.New("vault: reward pools not set")
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")
	ErrBorrowForbidden       = errors.New("vault: credit manager cannot borrow")
	ErrRepayForbidden        = errors.New("vault: credit manager cannot repay")
	ErrExceedsDebt           = errors.New("vault: amount exceeds outstanding borrow")
)

// TokenLedger is the subset of the bank the vault needs.
type TokenLedger interface {
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, caller, to common.Address, amount *big.Int) error
	Burn(token, caller, from common.Address, amount *big.Int) error
}

// RewardPool is the staking surface of a vault-side reward pool.
type RewardPool interface {
	Address() common.Address
	StakeFor(caller, recipient common.Address, amountIn *big.Int) error
	WithdrawFor(caller, recipient common.Address, amountOut *big.Int) error
	BalanceOf(user common.Address) *big.Int
}

// Pauser toggles module pause flags.
type Pauser interface {
	nativecommon.PauseView
	Pause(module string)
	Unpause(module string)
}

type Config struct {
	Address    common.Address
	Underlying common.Address
	// ShareToken is minted by the vault 1:1 with supplied and borrowed
	// amounts and staked into the reward pools.
	ShareToken common.Address
	Owner      common.Address
	Symbol     string
}

type managerFlags struct {
	canBorrow bool
	canRepay  bool
}

// Vault is a per-asset liquidity pool lent to authorised credit managers.
type Vault struct {
	mu     sync.RWMutex
	cfg    Config
	tokens TokenLedger
	pauses Pauser
	perms  *nativecommon.Permissions
	logger *slog.Logger

	totalSupply   *big.Int
	totalBorrowed *big.Int
	badDebt       *big.Int

	managers *nativecommon.Registry
	flags    map[common.Address]managerFlags
	borrowed map[common.Address]*big.Int

	supplyPool   RewardPool
	borrowedPool RewardPool
	poolsSet     bool
}

func New(cfg Config, tokens TokenLedger, pauses Pauser, logger *slog.Logger) (*Vault, error) {
	if tokens == nil {
		return nil, fmt.Errorf("vault: token ledger required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.Underlying) || crypto.IsZero(cfg.ShareToken) {
		return nil, ErrZeroAddress
	}
	if pauses == nil {
		pauses = nativecommon.NewPauses()
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("vault").
		Define("govern", RoleOwner).
		Describe(RoleOwner, "caller is not the owner")
	perms.Set(RoleOwner, cfg.Owner)
	return &Vault{
		cfg:           cfg,
		tokens:        tokens,
		pauses:        pauses,
		perms:         perms,
		logger:        logger.With("vault", cfg.Symbol),
		totalSupply:   new(big.Int),
		totalBorrowed: new(big.Int),
		badDebt:       new(big.Int),
		managers:      nativecommon.NewRegistry(0),
		flags:         make(map[common.Address]managerFlags),
		borrowed:      make(map[common.Address]*big.Int),
	}, nil
}

func (v *Vault) Address() common.Address    { return v.cfg.Address }
func (v *Vault) Underlying() common.Address { return v.cfg.Underlying }
func (v *Vault) ShareToken() common.Address { return v.cfg.ShareToken }
func (v *Vault) Symbol() string             { return v.cfg.Symbol }

func (v *Vault) module() string { return "vault/" + v.cfg.Symbol }

func (v *Vault) govern(caller common.Address) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.perms.Require("govern", caller)
}

// SetRewardPools binds the supply and borrowed reward pools. It may run once.
func (v *Vault) SetRewardPools(caller common.Address, supply, borrowed RewardPool) error {
	if err := v.govern(caller); err != nil {
		return err
	}
	if supply == nil || borrowed == nil {
		return ErrZeroAddress
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.poolsSet {
		return ErrAlreadyInitialized
	}
	v.supplyPool, v.borrowedPool, v.poolsSet = supply, borrowed, true
	return nil
}

func (v *Vault) SupplyRewardPool() RewardPool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.supplyPool
}

func (v *Vault) BorrowedRewardPool() RewardPool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.borrowedPool
}

func (v *Vault) AddCreditManager(caller, manager common.Address) error {
	if err := v.govern(caller); err != nil {
		return err
	}
	if crypto.IsZero(manager) {
		return ErrZeroAddress
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.managers.Add(manager); err != nil {
		return ErrNotAllowed
	}
	v.flags[manager] = managerFlags{canBorrow: true, canRepay: true}
	return nil
}

func (v *Vault) ForbidCreditManagerToBorrow(caller, manager common.Address) error {
	return v.setFlags(caller, manager, func(f *managerFlags) { f.canBorrow = false })
}

func (v *Vault) ForbidCreditManagerToRepay(caller, manager common.Address) error {
	return v.setFlags(caller, manager, func(f *managerFlags) { f.canRepay = false })
}

func (v *Vault) setFlags(caller, manager common.Address, mutate func(*managerFlags)) error {
	if err := v.govern(caller); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.flags[manager]
	if !ok {
		return ErrNotAllowed
	}
	mutate(&f)
	v.flags[manager] = f
	return nil
}

func (v *Vault) CreditManagersCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.managers.Len()
}

func (v *Vault) CreditManager(i int) (common.Address, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.managers.At(i)
}

// ManagerPermissions reports the borrow and repay flags of manager.
func (v *Vault) ManagerPermissions(manager common.Address) (canBorrow, canRepay bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f := v.flags[manager]
	return f.canBorrow, f.canRepay
}

func (v *Vault) Pause(caller common.Address) error {
	if err := v.govern(caller); err != nil {
		return err
	}
	v.pauses.Pause(v.module())
	return nil
}

func (v *Vault) Unpause(caller common.Address) error {
	if err := v.govern(caller); err != nil {
		return err
	}
	v.pauses.Unpause(v.module())
	return nil
}

func (v *Vault) Paused() bool { return v.pauses.IsPaused(v.module()) }

// AddLiquidity moves amountIn of the underlying into the vault and stakes the
// minted shares for caller in the supply pool.
func (v *Vault) AddLiquidity(caller common.Address, amountIn *big.Int) error {
	if err := nativecommon.Guard(v.pauses, v.module()); err != nil {
		return err
	}
	if !nativecommon.Positive(amountIn) {
		return ErrZeroAmount
	}
	supplyPool, err := v.supplyRewardPool()
	if err != nil {
		return err
	}
	if err := v.tokens.Transfer(v.cfg.Underlying, caller, v.cfg.Address, amountIn); err != nil {
		return fmt.Errorf("vault: pull liquidity: %w", err)
	}
	if err := v.tokens.Mint(v.cfg.ShareToken, v.cfg.Address, v.cfg.Address, amountIn); err != nil {
		return fmt.Errorf("vault: mint shares: %w", err)
	}
	if err := supplyPool.StakeFor(v.cfg.Address, caller, amountIn); err != nil {
		return fmt.Errorf("vault: stake supply: %w", err)
	}
	v.mu.Lock()
	v.totalSupply.Add(v.totalSupply, amountIn)
	v.mu.Unlock()
	v.logger.Info("liquidity added", "provider", caller.Hex(), "amount", amountIn.String())
	return nil
}

// RemoveLiquidity burns amountOut of caller's shares and returns the
// underlying. Only liquidity not lent out can leave.
func (v *Vault) RemoveLiquidity(caller common.Address, amountOut *big.Int) error {
	if err := nativecommon.Guard(v.pauses, v.module()); err != nil {
		return err
	}
	if !nativecommon.Positive(amountOut) {
		return ErrZeroAmount
	}
	supplyPool, err := v.supplyRewardPool()
	if err != nil {
		return err
	}
	if free := v.FreeLiquidity(); free.Cmp(amountOut) < 0 {
		return fmt.Errorf("%w: %s available", ErrInsufficientLiquidity, free)
	}
	if err := supplyPool.WithdrawFor(v.cfg.Address, caller, amountOut); err != nil {
		return fmt.Errorf("vault: withdraw supply: %w", err)
	}
	if err := v.tokens.Burn(v.cfg.ShareToken, v.cfg.Address, caller, amountOut); err != nil {
		return fmt.Errorf("vault: burn shares: %w", err)
	}
	if err := v.tokens.Transfer(v.cfg.Underlying, v.cfg.Address, caller, amountOut); err != nil {
		return fmt.Errorf("vault: return liquidity: %w", err)
	}
	v.mu.Lock()
	v.totalSupply.Sub(v.totalSupply, amountOut)
	v.mu.Unlock()
	v.logger.Info("liquidity removed", "provider", caller.Hex(), "amount", amountOut.String())
	return nil
}

// Borrow lends amountOut to the calling credit manager and stakes the debt
// in the borrowed pool so the manager earns in proportion to utilisation.
func (v *Vault) Borrow(caller common.Address, amountOut *big.Int) error {
	if err := nativecommon.Guard(v.pauses, v.module()); err != nil {
		return err
	}
	if err := v.requireManager(caller, true); err != nil {
		return err
	}
	if !nativecommon.Positive(amountOut) {
		return ErrZeroAmount
	}
	_, borrowedPool, err := v.rewardPools()
	if err != nil {
		return err
	}
	v.mu.RLock()
	next := new(big.Int).Add(v.totalBorrowed, amountOut)
	capacity := new(big.Int).Sub(v.totalSupply, v.badDebt)
	v.mu.RUnlock()
	if next.Cmp(capacity) > 0 {
		return fmt.Errorf("%w: borrowing %s would exceed supply %s", ErrInsufficientLiquidity, amountOut, capacity)
	}
	if err := v.tokens.Mint(v.cfg.ShareToken, v.cfg.Address, v.cfg.Address, amountOut); err != nil {
		return fmt.Errorf("vault: mint debt shares: %w", err)
	}
	if err := borrowedPool.StakeFor(v.cfg.Address, caller, amountOut); err != nil {
		return fmt.Errorf("vault: stake borrowed: %w", err)
	}
	if err := v.tokens.Transfer(v.cfg.Underlying, v.cfg.Address, caller, amountOut); err != nil {
		return fmt.Errorf("vault: release borrow: %w", err)
	}
	v.mu.Lock()
	v.totalBorrowed.Add(v.totalBorrowed, amountOut)
	v.borrowedBy(caller).Add(v.borrowedBy(caller), amountOut)
	v.mu.Unlock()
	return nil
}

// Repay returns amountIn of the calling manager's debt.
func (v *Vault) Repay(caller common.Address, amountIn *big.Int) error {
	if err := v.requireManager(caller, false); err != nil {
		return err
	}
	if !nativecommon.Positive(amountIn) {
		return ErrZeroAmount
	}
	if err := v.checkDebt(caller, amountIn); err != nil {
		return err
	}
	if err := v.tokens.Transfer(v.cfg.Underlying, caller, v.cfg.Address, amountIn); err != nil {
		return fmt.Errorf("vault: pull repayment: %w", err)
	}
	if err := v.releaseDebt(caller, amountIn); err != nil {
		return err
	}
	v.mu.Lock()
	v.totalBorrowed.Sub(v.totalBorrowed, amountIn)
	v.borrowedBy(caller).Sub(v.borrowedBy(caller), amountIn)
	v.mu.Unlock()
	return nil
}

// WriteOff clears amount of the calling manager's debt without repayment. The
// loss is carried as bad debt and reduces what liquidity providers can
// withdraw.
func (v *Vault) WriteOff(caller common.Address, amount *big.Int) error {
	if err := v.requireManager(caller, false); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := v.checkDebt(caller, amount); err != nil {
		return err
	}
	if err := v.releaseDebt(caller, amount); err != nil {
		return err
	}
	v.mu.Lock()
	v.totalBorrowed.Sub(v.totalBorrowed, amount)
	v.borrowedBy(caller).Sub(v.borrowedBy(caller), amount)
	v.badDebt.Add(v.badDebt, amount)
	v.mu.Unlock()
	v.logger.Warn("debt written off", "manager", caller.Hex(), "amount", amount.String())
	return nil
}

func (v *Vault) checkDebt(manager common.Address, amount *big.Int) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if owed := v.borrowed[manager]; owed == nil || owed.Cmp(amount) < 0 {
		return ErrExceedsDebt
	}
	return nil
}

func (v *Vault) releaseDebt(manager common.Address, amount *big.Int) error {
	_, borrowedPool, err := v.rewardPools()
	if err != nil {
		return err
	}
	if err := borrowedPool.WithdrawFor(v.cfg.Address, manager, amount); err != nil {
		return fmt.Errorf("vault: withdraw borrowed: %w", err)
	}
	if err := v.tokens.Burn(v.cfg.ShareToken, v.cfg.Address, manager, amount); err != nil {
		return fmt.Errorf("vault: burn debt shares: %w", err)
	}
	return nil
}

func (v *Vault) requireManager(caller common.Address, borrow bool) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f, ok := v.flags[caller]
	if !ok {
		return &nativecommon.AuthError{Module: "vault", Operation: "credit", Role: RoleManager, Message: "Caller is not the vault manager"}
	}
	if borrow && !f.canBorrow {
		return ErrBorrowForbidden
	}
	if !borrow && !f.canRepay {
		return ErrRepayForbidden
	}
	return nil
}

func (v *Vault) borrowedBy(manager common.Address) *big.Int {
	owed, ok := v.borrowed[manager]
	if !ok {
		owed = new(big.Int)
		v.borrowed[manager] = owed
	}
	return owed
}

func (v *Vault) supplyRewardPool() (RewardPool, error) {
	supply, _, err := v.rewardPools()
	return supply, err
}

func (v *Vault) rewardPools() (RewardPool, RewardPool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.poolsSet {
		return nil, nil, ErrPoolsNotSet
	}
	return v.supplyPool, v.borrowedPool, nil
}

func (v *Vault) TotalSupply() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return nativecommon.Copy(v.totalSupply)
}

func (v *Vault) TotalBorrowed() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return nativecommon.Copy(v.totalBorrowed)
}

func (v *Vault) BadDebt() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return nativecommon.Copy(v.badDebt)
}

// FreeLiquidity is the underlying held by the vault and not lent out.
func (v *Vault) FreeLiquidity() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	free := new(big.Int).Sub(v.totalSupply, v.totalBorrowed)
	free.Sub(free, v.badDebt)
	if free.Sign() < 0 {
		return new(big.Int)
	}
	return free
}

// Utilization is totalBorrowed over totalSupply in parts per thousand.
func (v *Vault) Utilization() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.totalSupply.Sign() == 0 {
		return 0
	}
	u := new(big.Int).Mul(v.totalBorrowed, big.NewInt(1000))
	u.Quo(u, v.totalSupply)
	return u.Uint64()
}

func (v *Vault) BorrowedOf(manager common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return nativecommon.Copy(v.borrowed[manager])
}

// BalanceOf is the supply-side stake of user.
func (v *Vault) BalanceOf(user common.Address) *big.Int {
	supply, err := v.supplyRewardPool()
	if err != nil {
		return new(big.Int)
	}
	return supply.BalanceOf(user)
}

// Snapshot implements common.Stateful.
func (v *Vault) Snapshot() func() {
	v.mu.RLock()
	perms := v.perms.Clone()
	totalSupply := nativecommon.Copy(v.totalSupply)
	totalBorrowed := nativecommon.Copy(v.totalBorrowed)
	badDebt := nativecommon.Copy(v.badDebt)
	managers := v.managers.Clone()
	flags := make(map[common.Address]managerFlags, len(v.flags))
	for k, f := range v.flags {
		flags[k] = f
	}
	borrowed := nativecommon.CopyBalances(v.borrowed)
	supplyPool, borrowedPool, poolsSet := v.supplyPool, v.borrowedPool, v.poolsSet
	v.mu.RUnlock()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.perms = perms
		v.totalSupply, v.totalBorrowed, v.badDebt = totalSupply, totalBorrowed, badDebt
		v.managers, v.flags, v.borrowed = managers, flags, borrowed
		v.supplyPool, v.borrowedPool, v.poolsSet = supplyPool, borrowedPool, poolsSet
	}
}
