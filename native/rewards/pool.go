package rewards

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

const precisionDecimals = 18

// Precision scales accRewardPerShare.
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(precisionDecimals), nil)

const (
	RoleOperator    nativecommon.Role = "operator"
	RoleDistributor nativecommon.Role = "distributor"
	RoleCreditor    nativecommon.Role = "creditor"
)

var (
	ErrZeroAmount        = errors.New("rewards: amount cannot be 0")
	ErrZeroRecipient     = errors.New("rewards: recipient cannot be 0x0")
	ErrInsufficientStake = errors.New("rewards: amount exceeds staked balance")
	ErrNotAllowed        = errors.New("rewards: Not allowed")
)

// Transferer moves tokens between holders.
type Transferer interface {
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// Config fixes the identity and roles of a pool.
type Config struct {
	Address      common.Address
	StakingToken common.Address
	RewardToken  common.Address
	Operator     common.Address
	Distributor  common.Address
	// Creditor may add reward-token credit to a staker's claimable balance.
	Creditor common.Address
	// Collateral disables self-withdrawal and enables CreditFor. Stakes in a
	// collateral pool can only leave through the operator.
	Collateral bool
}

type account struct {
	underlying *big.Int
	paid       *big.Int
	rewards    *big.Int
}

func (a *account) clone() *account {
	return &account{
		underlying: nativecommon.Copy(a.underlying),
		paid:       nativecommon.Copy(a.paid),
		rewards:    nativecommon.Copy(a.rewards),
	}
}

// Pool is a staking ledger with a running reward-per-share accumulator.
type Pool struct {
	mu     sync.RWMutex
	cfg    Config
	tokens Transferer
	perms  *nativecommon.Permissions
	logger *slog.Logger

	totalSupply       *big.Int
	accRewardPerShare *big.Int
	queuedRewards     *big.Int
	accounts          map[common.Address]*account
}

func NewPool(cfg Config, tokens Transferer, logger *slog.Logger) (*Pool, error) {
	if tokens == nil {
		return nil, fmt.Errorf("rewards: token ledger required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.StakingToken) || crypto.IsZero(cfg.RewardToken) {
		return nil, fmt.Errorf("rewards: pool address, staking token and reward token required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("rewards").
		Define("withdrawFor", RoleOperator).
		Define("creditFor", RoleCreditor).
		Define("distribute", RoleDistributor).
		Describe(RoleOperator, "caller is not the operator").
		Describe(RoleDistributor, "caller is not the distributor").
		Describe(RoleCreditor, "caller is not the creditor")
	perms.Set(RoleOperator, cfg.Operator)
	perms.Set(RoleCreditor, cfg.Creditor)
	perms.Set(RoleDistributor, cfg.Distributor)
	return &Pool{
		cfg:               cfg,
		tokens:            tokens,
		perms:             perms,
		logger:            logger.With("pool", cfg.Address.Hex()),
		totalSupply:       new(big.Int),
		accRewardPerShare: new(big.Int),
		queuedRewards:     new(big.Int),
		accounts:          make(map[common.Address]*account),
	}, nil
}

func (p *Pool) Address() common.Address      { return p.cfg.Address }
func (p *Pool) StakingToken() common.Address { return p.cfg.StakingToken }
func (p *Pool) RewardToken() common.Address  { return p.cfg.RewardToken }
func (p *Pool) IsCollateral() bool           { return p.cfg.Collateral }

// Stake stakes the caller's own tokens.
func (p *Pool) Stake(caller common.Address, amountIn *big.Int) error {
	return p.StakeFor(caller, caller, amountIn)
}

// StakeFor pulls amountIn of the staking token from caller and credits it to
// recipient.
func (p *Pool) StakeFor(caller, recipient common.Address, amountIn *big.Int) error {
	if !nativecommon.Positive(amountIn) {
		return ErrZeroAmount
	}
	if crypto.IsZero(recipient) {
		return ErrZeroRecipient
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.tokens.Transfer(p.cfg.StakingToken, caller, p.cfg.Address, amountIn); err != nil {
		return fmt.Errorf("rewards: pull stake: %w", err)
	}
	acct, err := p.settle(recipient)
	if err != nil {
		return err
	}
	acct.underlying.Add(acct.underlying, amountIn)
	p.totalSupply.Add(p.totalSupply, amountIn)
	return nil
}

// Withdraw returns the caller's own stake. Collateral pools reject it.
func (p *Pool) Withdraw(caller common.Address, amountOut *big.Int) error {
	if p.cfg.Collateral {
		return ErrNotAllowed
	}
	return p.withdraw(caller, amountOut)
}

// WithdrawFor removes amountOut of recipient's stake and sends it to
// recipient. Operator only.
func (p *Pool) WithdrawFor(caller, recipient common.Address, amountOut *big.Int) error {
	if err := p.perms.Require("withdrawFor", caller); err != nil {
		return err
	}
	return p.withdraw(recipient, amountOut)
}

func (p *Pool) withdraw(recipient common.Address, amountOut *big.Int) error {
	if !nativecommon.Positive(amountOut) {
		return ErrZeroAmount
	}
	if crypto.IsZero(recipient) {
		return ErrZeroRecipient
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := p.balanceOf(recipient); cur.Cmp(amountOut) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientStake, cur, amountOut)
	}
	acct, err := p.settle(recipient)
	if err != nil {
		return err
	}
	acct.underlying.Sub(acct.underlying, amountOut)
	p.totalSupply.Sub(p.totalSupply, amountOut)
	if err := p.tokens.Transfer(p.cfg.StakingToken, p.cfg.Address, recipient, amountOut); err != nil {
		return fmt.Errorf("rewards: return stake: %w", err)
	}
	return nil
}

// Distribute pulls rewards of the reward token from caller and spreads them
// over the current stakers. With no stakers the amount is queued and folded
// into the next distribution. Distributor only.
func (p *Pool) Distribute(caller common.Address, rewards *big.Int) error {
	if err := p.perms.Require("distribute", caller); err != nil {
		return err
	}
	if !nativecommon.Positive(rewards) {
		return ErrZeroAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.tokens.Transfer(p.cfg.RewardToken, caller, p.cfg.Address, rewards); err != nil {
		return fmt.Errorf("rewards: pull rewards: %w", err)
	}
	total := new(big.Int).Add(rewards, p.queuedRewards)
	if p.totalSupply.Sign() == 0 {
		p.queuedRewards = total
		return nil
	}
	inc, err := nativecommon.MulDiv(total, Precision, p.totalSupply)
	if err != nil {
		return fmt.Errorf("rewards: accumulator: %w", err)
	}
	// The part of total that the accumulator cannot represent stays queued.
	assigned, err := nativecommon.MulDiv(inc, p.totalSupply, Precision)
	if err != nil {
		return fmt.Errorf("rewards: accumulator: %w", err)
	}
	p.accRewardPerShare.Add(p.accRewardPerShare, inc)
	p.queuedRewards = total.Sub(total, assigned)
	return nil
}

// Claim pays recipient's pending rewards to recipient and returns the amount.
func (p *Pool) Claim(recipient common.Address) (*big.Int, error) {
	if crypto.IsZero(recipient) {
		return nil, ErrZeroRecipient
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, err := p.settle(recipient)
	if err != nil {
		return nil, err
	}
	claimed := acct.rewards
	if claimed.Sign() == 0 {
		return new(big.Int), nil
	}
	acct.rewards = new(big.Int)
	if err := p.tokens.Transfer(p.cfg.RewardToken, p.cfg.Address, recipient, claimed); err != nil {
		return nil, fmt.Errorf("rewards: pay claim: %w", err)
	}
	p.logger.Debug("rewards claimed", "recipient", recipient.Hex(), "amount", claimed.String())
	return nativecommon.Copy(claimed), nil
}

// CreditFor pulls amount of the reward token from caller and adds it to
// recipient's claimable rewards. Creditor only, collateral pools only.
func (p *Pool) CreditFor(caller, recipient common.Address, amount *big.Int) error {
	if err := p.perms.Require("creditFor", caller); err != nil {
		return err
	}
	if !p.cfg.Collateral {
		return ErrNotAllowed
	}
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if crypto.IsZero(recipient) {
		return ErrZeroRecipient
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.tokens.Transfer(p.cfg.RewardToken, caller, p.cfg.Address, amount); err != nil {
		return fmt.Errorf("rewards: pull credit: %w", err)
	}
	acct, err := p.settle(recipient)
	if err != nil {
		return err
	}
	acct.rewards.Add(acct.rewards, amount)
	return nil
}

// settle folds everything earned since the last checkpoint into rewards and
// moves the user's paid marker to the current accumulator. Every mutation of
// a user's stake or rewards goes through it first.
func (p *Pool) settle(user common.Address) (*account, error) {
	acct, ok := p.accounts[user]
	if !ok {
		acct = &account{
			underlying: new(big.Int),
			paid:       new(big.Int),
			rewards:    new(big.Int),
		}
		p.accounts[user] = acct
	}
	earned, err := p.earned(acct)
	if err != nil {
		return nil, err
	}
	acct.rewards = earned
	acct.paid = nativecommon.Copy(p.accRewardPerShare)
	return acct, nil
}

func (p *Pool) earned(acct *account) (*big.Int, error) {
	delta := new(big.Int).Sub(p.accRewardPerShare, acct.paid)
	if acct.underlying.Sign() == 0 || delta.Sign() == 0 {
		return nativecommon.Copy(acct.rewards), nil
	}
	accrued, err := nativecommon.MulDiv(acct.underlying, delta, Precision)
	if err != nil {
		return nil, fmt.Errorf("rewards: earned: %w", err)
	}
	return accrued.Add(accrued, acct.rewards), nil
}

func (p *Pool) balanceOf(user common.Address) *big.Int {
	if acct, ok := p.accounts[user]; ok {
		return acct.underlying
	}
	return new(big.Int)
}

func (p *Pool) BalanceOf(user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return nativecommon.Copy(p.balanceOf(user))
}

// PendingRewards is rewards[u] plus everything accrued since u's last
// settlement.
func (p *Pool) PendingRewards(user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct, ok := p.accounts[user]
	if !ok {
		return new(big.Int)
	}
	earned, err := p.earned(acct)
	if err != nil {
		p.logger.Warn("pending rewards overflow", "user", user.Hex(), "error", err)
		return nativecommon.Copy(acct.rewards)
	}
	return earned
}

func (p *Pool) TotalSupply() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return nativecommon.Copy(p.totalSupply)
}

// TotalStaked is the distribution weight of the pool.
func (p *Pool) TotalStaked() *big.Int { return p.TotalSupply() }

func (p *Pool) QueuedRewards() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return nativecommon.Copy(p.queuedRewards)
}

func (p *Pool) AccRewardPerShare() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return nativecommon.Copy(p.accRewardPerShare)
}

// Stakers returns every address that has ever held a position in the pool.
func (p *Pool) Stakers() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]common.Address, 0, len(p.accounts))
	for addr := range p.accounts {
		out = append(out, addr)
	}
	return out
}

// Snapshot implements common.Stateful.
func (p *Pool) Snapshot() func() {
	p.mu.RLock()
	perms := p.perms.Clone()
	totalSupply := nativecommon.Copy(p.totalSupply)
	acc := nativecommon.Copy(p.accRewardPerShare)
	queued := nativecommon.Copy(p.queuedRewards)
	accounts := make(map[common.Address]*account, len(p.accounts))
	for k, v := range p.accounts {
		accounts[k] = v.clone()
	}
	p.mu.RUnlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.perms = perms
		p.totalSupply = totalSupply
		p.accRewardPerShare = acc
		p.queuedRewards = queued
		p.accounts = accounts
	}
}
