package glp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"yieldcredit/crypto"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
)

// ShareDecimals is the precision of the share token.
const ShareDecimals = 18

// MaxPlatformFee caps the harvest fee in parts per thousand.
const MaxPlatformFee = 150

var (
	ErrNotCaller    = errors.New("glp: Caller is not the caller")
	ErrNotHarvester = errors.New("glp: Caller is not the reward tracker")
	ErrMaxLimit     = errors.New("glp: Maximum limit exceeded")
	ErrSlippage     = errors.New("glp: insufficient output amount")
	ErrZeroAmount   = errors.New("glp: amount cannot be 0")
)

var shareUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(ShareDecimals), nil)

// TokenLedger is the subset of the bank the depositor needs.
type TokenLedger interface {
	Token(addr common.Address) (bank.Token, bool)
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, caller, to common.Address, amount *big.Int) error
	Burn(token, caller, from common.Address, amount *big.Int) error
	BalanceOf(token, holder common.Address) *big.Int
}

// Oracle prices tokens and shares.
type Oracle interface {
	GetTokenPrice(token common.Address) (*big.Int, error)
	GetGlpPrice(isBuy bool) (*big.Int, error)
}

type DepositorConfig struct {
	Address      common.Address
	ShareToken   common.Address
	RewardToken  common.Address
	Owner        common.Address
	FeeRecipient common.Address
	// RewardRate is the yield streamed per second out of the funded reserve.
	RewardRate *big.Int
}

// Depositor converts tokens into yield-bearing shares and back, pricing both
// legs in USD through the oracle. Yield is paid in the reward token.
type Depositor struct {
	mu     sync.RWMutex
	cfg    DepositorConfig
	tokens TokenLedger
	oracle Oracle
	clock  clockwork.Clock
	logger *slog.Logger

	callers     map[common.Address]bool
	harvesters  map[common.Address]bool
	platformFee uint64
	rewardRate  *big.Int
	reserve     *big.Int
	pending     *big.Int
	lastAccrual time.Time
}

func NewDepositor(cfg DepositorConfig, tokens TokenLedger, oracle Oracle, clock clockwork.Clock, logger *slog.Logger) (*Depositor, error) {
	if tokens == nil || oracle == nil {
		return nil, fmt.Errorf("glp: token ledger and oracle required")
	}
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.ShareToken) || crypto.IsZero(cfg.RewardToken) {
		return nil, fmt.Errorf("glp: depositor address, share token and reward token required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Depositor{
		cfg:         cfg,
		tokens:      tokens,
		oracle:      oracle,
		clock:       clock,
		logger:      logger.With("strategy", cfg.Address.Hex()),
		callers:     make(map[common.Address]bool),
		harvesters:  make(map[common.Address]bool),
		rewardRate:  nativecommon.Copy(cfg.RewardRate),
		reserve:     new(big.Int),
		pending:     new(big.Int),
		lastAccrual: clock.Now(),
	}, nil
}

func (d *Depositor) Address() common.Address     { return d.cfg.Address }
func (d *Depositor) ShareToken() common.Address  { return d.cfg.ShareToken }
func (d *Depositor) RewardToken() common.Address { return d.cfg.RewardToken }

func (d *Depositor) SetCaller(caller, addr common.Address) error {
	if caller != d.cfg.Owner {
		return ErrNotOwner
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callers[addr] = true
	return nil
}

func (d *Depositor) SetHarvester(caller, addr common.Address) error {
	if caller != d.cfg.Owner {
		return ErrNotOwner
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.harvesters[addr] = true
	return nil
}

func (d *Depositor) SetPlatformFee(caller common.Address, fee uint64) error {
	if caller != d.cfg.Owner {
		return ErrNotOwner
	}
	if fee > MaxPlatformFee {
		return ErrMaxLimit
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.platformFee = fee
	return nil
}

func (d *Depositor) SetRewardRate(caller common.Address, perSecond *big.Int) error {
	if caller != d.cfg.Owner {
		return ErrNotOwner
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accrue()
	d.rewardRate = nativecommon.Copy(perSecond)
	return nil
}

// Fund pulls amount of the reward token from caller into the yield reserve
// that RewardRate streams from.
func (d *Depositor) Fund(caller common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := d.tokens.Transfer(d.cfg.RewardToken, caller, d.cfg.Address, amount); err != nil {
		return fmt.Errorf("glp: fund reserve: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accrue()
	d.reserve.Add(d.reserve, amount)
	return nil
}

// Accrue makes amount of the reward token immediately harvestable.
func (d *Depositor) Accrue(caller common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrZeroAmount
	}
	if err := d.tokens.Transfer(d.cfg.RewardToken, caller, d.cfg.Address, amount); err != nil {
		return fmt.Errorf("glp: accrue yield: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Add(d.pending, amount)
	return nil
}

// accrue moves streamed yield from the reserve into pending. Callers hold mu.
func (d *Depositor) accrue() {
	now := d.clock.Now()
	elapsed := now.Sub(d.lastAccrual)
	d.lastAccrual = now
	if elapsed <= 0 || d.rewardRate.Sign() == 0 || d.reserve.Sign() == 0 {
		return
	}
	streamed := new(big.Int).Mul(d.rewardRate, big.NewInt(int64(elapsed/time.Second)))
	if streamed.Cmp(d.reserve) > 0 {
		streamed.Set(d.reserve)
	}
	d.reserve.Sub(d.reserve, streamed)
	d.pending.Add(d.pending, streamed)
}

// Mint deposits amountIn of token and mints shares to caller at the buy
// price.
func (d *Depositor) Mint(caller, token common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := d.requireCaller(caller); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amountIn) {
		return nil, ErrZeroAmount
	}
	usd, err := d.tokenValue(token, amountIn)
	if err != nil {
		return nil, err
	}
	price, err := d.oracle.GetGlpPrice(true)
	if err != nil {
		return nil, err
	}
	shares, err := nativecommon.MulDiv(usd, shareUnit, price)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, ErrSlippage
	}
	if err := d.tokens.Transfer(token, caller, d.cfg.Address, amountIn); err != nil {
		return nil, fmt.Errorf("glp: pull deposit: %w", err)
	}
	if err := d.tokens.Mint(d.cfg.ShareToken, d.cfg.Address, caller, shares); err != nil {
		return nil, fmt.Errorf("glp: mint shares: %w", err)
	}
	return shares, nil
}

// Withdraw burns shareAmountIn of caller's shares and pays token at the sell
// price. It fails when the payout is below minOut.
func (d *Depositor) Withdraw(caller, token common.Address, shareAmountIn, minOut *big.Int) (*big.Int, error) {
	if err := d.requireCaller(caller); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(shareAmountIn) {
		return nil, ErrZeroAmount
	}
	amountOut, err := d.QuoteWithdraw(token, shareAmountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippage, amountOut, minOut)
	}
	if err := d.tokens.Burn(d.cfg.ShareToken, d.cfg.Address, caller, shareAmountIn); err != nil {
		return nil, fmt.Errorf("glp: burn shares: %w", err)
	}
	if amountOut.Sign() == 0 {
		return amountOut, nil
	}
	if err := d.tokens.Transfer(token, d.cfg.Address, caller, amountOut); err != nil {
		return nil, fmt.Errorf("glp: pay withdrawal: %w", err)
	}
	return amountOut, nil
}

// QuoteWithdraw prices shares in token at the sell price.
func (d *Depositor) QuoteWithdraw(token common.Address, shares *big.Int) (*big.Int, error) {
	price, err := d.oracle.GetGlpPrice(false)
	if err != nil {
		return nil, err
	}
	usd, err := nativecommon.MulDiv(shares, price, shareUnit)
	if err != nil {
		return nil, err
	}
	return d.tokenAmount(token, usd)
}

// Harvest pays accrued yield, less the platform fee, to caller.
func (d *Depositor) Harvest(caller common.Address) (*big.Int, error) {
	d.mu.Lock()
	if !d.harvesters[caller] {
		d.mu.Unlock()
		return nil, ErrNotHarvester
	}
	d.accrue()
	claimed := d.pending
	d.pending = new(big.Int)
	fee := new(big.Int).Mul(claimed, new(big.Int).SetUint64(d.platformFee))
	fee.Quo(fee, big.NewInt(1000))
	d.mu.Unlock()

	if claimed.Sign() == 0 {
		return claimed, nil
	}
	if fee.Sign() > 0 && !crypto.IsZero(d.cfg.FeeRecipient) {
		if err := d.tokens.Transfer(d.cfg.RewardToken, d.cfg.Address, d.cfg.FeeRecipient, fee); err != nil {
			return nil, fmt.Errorf("glp: pay platform fee: %w", err)
		}
		claimed.Sub(claimed, fee)
	}
	if claimed.Sign() > 0 {
		if err := d.tokens.Transfer(d.cfg.RewardToken, d.cfg.Address, caller, claimed); err != nil {
			return nil, fmt.Errorf("glp: pay harvest: %w", err)
		}
	}
	d.logger.Debug("strategy harvested", "amount", claimed.String(), "fee", fee.String())
	return nativecommon.Copy(claimed), nil
}

// PendingYield is what Harvest would claim now before fees.
func (d *Depositor) PendingYield() *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pending := nativecommon.Copy(d.pending)
	elapsed := d.clock.Since(d.lastAccrual)
	if elapsed > 0 && d.rewardRate.Sign() > 0 {
		streamed := new(big.Int).Mul(d.rewardRate, big.NewInt(int64(elapsed/time.Second)))
		pending.Add(pending, nativecommon.Min(streamed, d.reserve))
	}
	return pending
}

// TokenValue prices amount of token in USD at 30 decimals.
func (d *Depositor) TokenValue(token common.Address, amount *big.Int) (*big.Int, error) {
	return d.tokenValue(token, amount)
}

// ShareValue prices shares in USD at the sell price.
func (d *Depositor) ShareValue(shares *big.Int) (*big.Int, error) {
	price, err := d.oracle.GetGlpPrice(false)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(shares, price, shareUnit)
}

func (d *Depositor) tokenValue(token common.Address, amount *big.Int) (*big.Int, error) {
	unit, price, err := d.pricing(token)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(amount, price, unit)
}

func (d *Depositor) tokenAmount(token common.Address, usd *big.Int) (*big.Int, error) {
	unit, price, err := d.pricing(token)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(usd, unit, price)
}

func (d *Depositor) pricing(token common.Address) (*big.Int, *big.Int, error) {
	meta, ok := d.tokens.Token(token)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", bank.ErrUnknownToken, token.Hex())
	}
	price, err := d.oracle.GetTokenPrice(token)
	if err != nil {
		return nil, nil, err
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(meta.Decimals)), nil)
	return unit, price, nil
}

func (d *Depositor) requireCaller(caller common.Address) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.callers[caller] {
		return ErrNotCaller
	}
	return nil
}

// Snapshot implements common.Stateful.
func (d *Depositor) Snapshot() func() {
	d.mu.RLock()
	callers := make(map[common.Address]bool, len(d.callers))
	for k, v := range d.callers {
		callers[k] = v
	}
	harvesters := make(map[common.Address]bool, len(d.harvesters))
	for k, v := range d.harvesters {
		harvesters[k] = v
	}
	fee := d.platformFee
	rate := nativecommon.Copy(d.rewardRate)
	reserve := nativecommon.Copy(d.reserve)
	pending := nativecommon.Copy(d.pending)
	last := d.lastAccrual
	d.mu.RUnlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.callers, d.harvesters = callers, harvesters
		d.platformFee, d.rewardRate = fee, rate
		d.reserve, d.pending, d.lastAccrual = reserve, pending, last
	}
}
