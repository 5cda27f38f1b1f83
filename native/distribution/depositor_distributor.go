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

type DepositorDistributorConfig struct {
	Address      common.Address
	StakingToken common.Address
	RewardToken  common.Address
	Owner        common.Address
	Staker       common.Address
}

// DepositorDistributor receives the raw yield of one strategy and fans it out
// over its extra rewards, weighted by each child's staked balance.
type DepositorDistributor struct {
	mu     sync.RWMutex
	cfg    DepositorDistributorConfig
	tokens Transferer
	perms  *nativecommon.Permissions
	logger *slog.Logger

	extraRewards *nativecommon.Registry
	children     map[common.Address]Child

	totalSupply *big.Int
	staked      map[common.Address]*big.Int
}

func NewDepositorDistributor(cfg DepositorDistributorConfig, tokens Transferer, logger *slog.Logger) (*DepositorDistributor, error) {
	if tokens == nil {
		return nil, fmt.Errorf("distribution: token ledger required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.StakingToken) || crypto.IsZero(cfg.RewardToken) {
		return nil, ErrZeroAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("distribution").
		Define("addExtraReward", RoleOwner).
		Define("manageDistributors", RoleOwner).
		Define("stake", RoleStaker).
		Define("distribute", RoleDistributor).
		Describe(RoleOwner, "caller is not the owner").
		Describe(RoleStaker, "caller is not the staker").
		Describe(RoleDistributor, "caller is not the distributor")
	perms.Set(RoleOwner, cfg.Owner)
	perms.Set(RoleStaker, cfg.Staker)
	return &DepositorDistributor{
		cfg:          cfg,
		tokens:       tokens,
		perms:        perms,
		logger:       logger.With("distributor", cfg.Address.Hex()),
		extraRewards: nativecommon.NewRegistry(MaxExtraRewards),
		children:     make(map[common.Address]Child),
		totalSupply:  new(big.Int),
		staked:       make(map[common.Address]*big.Int),
	}, nil
}

func (d *DepositorDistributor) Address() common.Address      { return d.cfg.Address }
func (d *DepositorDistributor) StakingToken() common.Address { return d.cfg.StakingToken }
func (d *DepositorDistributor) RewardToken() common.Address  { return d.cfg.RewardToken }

func (d *DepositorDistributor) require(op string, caller common.Address) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.perms.Require(op, caller)
}

// AddExtraReward attaches a child after checking it shares both tokens.
func (d *DepositorDistributor) AddExtraReward(caller common.Address, child Child) error {
	if err := d.require("addExtraReward", caller); err != nil {
		return err
	}
	if child == nil || crypto.IsZero(child.Address()) {
		return ErrZeroAddress
	}
	if child.StakingToken() != d.cfg.StakingToken || child.RewardToken() != d.cfg.RewardToken {
		return fmt.Errorf("%w: %s", ErrMismatchedToken, child.Address().Hex())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch err := d.extraRewards.Add(child.Address()); err {
	case nil:
	case nativecommon.ErrRegistryFull:
		return ErrMaxLimit
	case nativecommon.ErrRegistryDuplicate:
		return ErrDuplicateReward
	default:
		return err
	}
	d.children[child.Address()] = child
	return nil
}

// ClearExtraRewards detaches every child.
func (d *DepositorDistributor) ClearExtraRewards(caller common.Address) error {
	if err := d.require("addExtraReward", caller); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extraRewards = nativecommon.NewRegistry(MaxExtraRewards)
	d.children = make(map[common.Address]Child)
	return nil
}

func (d *DepositorDistributor) ExtraRewardsLength() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.extraRewards.Len()
}

func (d *DepositorDistributor) ExtraRewards() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.extraRewards.Items()
}

func (d *DepositorDistributor) AddDistributor(caller, distributor common.Address) error {
	return d.AddDistributors(caller, []common.Address{distributor})
}

func (d *DepositorDistributor) AddDistributors(caller common.Address, distributors []common.Address) error {
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

func (d *DepositorDistributor) RemoveDistributor(caller, distributor common.Address) error {
	if err := d.require("manageDistributors", caller); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perms.Revoke(RoleDistributor, distributor)
	return nil
}

func (d *DepositorDistributor) IsDistributor(addr common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.perms.Has(RoleDistributor, addr)
}

// Stake pulls amount of the staking token from the staker and forwards it to
// target, which must be an attached child.
func (d *DepositorDistributor) Stake(caller, target common.Address, amount *big.Int) error {
	if err := d.require("stake", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	child, err := d.stakeTarget(target)
	if err != nil {
		return err
	}
	if err := d.tokens.Transfer(d.cfg.StakingToken, caller, d.cfg.Address, amount); err != nil {
		return fmt.Errorf("distribution: pull stake: %w", err)
	}
	if err := child.Stake(d.cfg.Address, amount); err != nil {
		return fmt.Errorf("distribution: forward stake: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bal, ok := d.staked[target]
	if !ok {
		bal = new(big.Int)
		d.staked[target] = bal
	}
	bal.Add(bal, amount)
	d.totalSupply.Add(d.totalSupply, amount)
	return nil
}

// Withdraw pulls amount back out of target and returns it to the staker.
func (d *DepositorDistributor) Withdraw(caller, target common.Address, amount *big.Int) error {
	if err := d.require("stake", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	child, err := d.stakeTarget(target)
	if err != nil {
		return err
	}
	d.mu.Lock()
	bal := d.staked[target]
	if bal == nil || bal.Cmp(amount) < 0 {
		d.mu.Unlock()
		return ErrInsufficientStake
	}
	bal.Sub(bal, amount)
	d.totalSupply.Sub(d.totalSupply, amount)
	d.mu.Unlock()
	if err := child.Withdraw(d.cfg.Address, amount); err != nil {
		return fmt.Errorf("distribution: recall stake: %w", err)
	}
	if err := d.tokens.Transfer(d.cfg.StakingToken, d.cfg.Address, caller, amount); err != nil {
		return fmt.Errorf("distribution: return stake: %w", err)
	}
	return nil
}

func (d *DepositorDistributor) stakeTarget(target common.Address) (StakeTarget, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	child, ok := d.children[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChild, target.Hex())
	}
	st, ok := child.(StakeTarget)
	if !ok {
		return nil, fmt.Errorf("distribution: %s does not accept forwarded stake", target.Hex())
	}
	return st, nil
}

func (d *DepositorDistributor) StakedIn(target common.Address) *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nativecommon.Copy(d.staked[target])
}

func (d *DepositorDistributor) TotalStaked() *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nativecommon.Copy(d.totalSupply)
}

// Distribute pulls rewards from caller and forwards them to the extra
// rewards in proportion to their staked balances, or evenly when nothing is
// staked anywhere. The last funded child absorbs the rounding remainder.
func (d *DepositorDistributor) Distribute(caller common.Address, rewards *big.Int) error {
	if err := d.require("distribute", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(rewards) {
		return ErrZeroAmount
	}
	d.mu.RLock()
	order := d.extraRewards.Items()
	children := make([]Child, len(order))
	for i, addr := range order {
		children[i] = d.children[addr]
	}
	d.mu.RUnlock()
	if len(children) == 0 {
		return ErrNoExtraRewards
	}
	shares, err := splitByWeight(rewards, children)
	if err != nil {
		return err
	}
	if err := d.tokens.Transfer(d.cfg.RewardToken, caller, d.cfg.Address, rewards); err != nil {
		return fmt.Errorf("distribution: pull rewards: %w", err)
	}
	for i, child := range children {
		if shares[i].Sign() == 0 {
			continue
		}
		if err := child.Distribute(d.cfg.Address, shares[i]); err != nil {
			return fmt.Errorf("distribution: extra reward %s: %w", child.Address().Hex(), err)
		}
	}
	d.logger.Debug("depositor rewards distributed", "amount", rewards.String(), "children", len(children))
	return nil
}

func splitByWeight(rewards *big.Int, children []Child) ([]*big.Int, error) {
	weights := make([]*big.Int, len(children))
	sum := new(big.Int)
	last := -1
	for i, child := range children {
		weights[i] = child.TotalStaked()
		if weights[i].Sign() > 0 {
			sum.Add(sum, weights[i])
			last = i
		}
	}
	if sum.Sign() == 0 {
		for i := range weights {
			weights[i] = big.NewInt(1)
		}
		sum.SetInt64(int64(len(children)))
		last = len(children) - 1
	}
	shares := make([]*big.Int, len(children))
	assigned := new(big.Int)
	for i := range children {
		if i == last {
			shares[i] = new(big.Int).Sub(rewards, assigned)
			continue
		}
		share, err := nativecommon.MulDiv(rewards, weights[i], sum)
		if err != nil {
			return nil, err
		}
		shares[i] = share
		assigned.Add(assigned, share)
	}
	return shares, nil
}

// Snapshot implements common.Stateful.
func (d *DepositorDistributor) Snapshot() func() {
	d.mu.RLock()
	perms := d.perms.Clone()
	extra := d.extraRewards.Clone()
	children := make(map[common.Address]Child, len(d.children))
	for k, v := range d.children {
		children[k] = v
	}
	totalSupply := nativecommon.Copy(d.totalSupply)
	staked := nativecommon.CopyBalances(d.staked)
	d.mu.RUnlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.perms = perms
		d.extraRewards = extra
		d.children = children
		d.totalSupply = totalSupply
		d.staked = staked
	}
}
