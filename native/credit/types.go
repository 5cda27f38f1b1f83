package credit

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
)

const moduleName = "credit"

const (
	// RatioDenominator scales leverage ratios: 100 is 1x.
	RatioDenominator = 100
	MinRatio         = 100
	MaxRatio         = 1000

	// PerMille scales health, thresholds and fees.
	PerMille = 1000
	// MaxHealth is reported for positions without debt.
	MaxHealth = 1000

	MinLiquidateThreshold = 300
	MaxLiquidateThreshold = 500
	MinLiquidatorFee      = 50
	MaxLiquidatorFee      = 200
)

const (
	RoleOwner         nativecommon.Role = "owner"
	RoleCaller        nativecommon.Role = "caller"
	RoleRewardTracker nativecommon.Role = "rewardTracker"
)

// Validation failures.
var (
	ErrZeroToken             = errors.New("credit: _token cannot be 0x0")
	ErrZeroAmountIn          = errors.New("credit: _amountIn cannot be 0")
	ErrEmptyRatios           = errors.New("credit: _ratios cannot be empty")
	ErrMinRatio              = errors.New("credit: MIN_RATIO limit exceeded")
	ErrMaxRatio              = errors.New("credit: MAX_RATIO limit exceeded")
	ErrLengthMismatch        = errors.New("credit: Length mismatch")
	ErrValueMismatch         = errors.New("credit: ETH amount mismatch")
	ErrZeroAddress           = errors.New("credit: address cannot be 0x0")
	ErrZeroAmount            = errors.New("credit: amount cannot be 0")
	ErrCollateralNotBorrowed = errors.New("credit: The collateral asset must be one of the borrow tokens")
	ErrMinimumIndex          = errors.New("credit: Minimum limit exceeded")
	ErrMaxLiquidateThreshold = errors.New("credit: MAX_LIQUIDATE_THRESHOLD limit exceeded")
	ErrMinLiquidateThreshold = errors.New("credit: MIN_LIQUIDATE_THRESHOLD limit exceeded")
	ErrMaxLiquidatorFee      = errors.New("credit: MAX_LIQUIDATOR_FEE limit exceeded")
	ErrMinLiquidatorFee      = errors.New("credit: MIN_LIQUIDATOR_FEE limit exceeded")
	ErrMaxCollateralFee      = errors.New("credit: collateral fee exceeds 1000")
)

// Authorization failures that are not role checks.
var (
	ErrNotWhitelisted = errors.New("credit: Not whitelisted")
	ErrNotAllowed     = errors.New("credit: Not allowed")
)

// State-consistency failures.
var (
	ErrMismatchedStrategy  = errors.New("credit: Mismatched strategy")
	ErrLoanPeriodInvalid   = errors.New("credit: The next loan period is invalid")
	ErrIndexOutOfRange     = errors.New("credit: Index out of range")
	ErrAlreadyTerminated   = errors.New("credit: Already terminated")
	ErrAlreadyTimeout      = errors.New("credit: Already timeout")
	ErrNeedsLiquidation    = errors.New("credit: The current position needs to be liquidated")
	ErrNotLiquidatable     = errors.New("credit: The current position is not liquidatable")
	ErrAlreadyInitialized  = errors.New("credit: Cannot run this function twice")
	ErrNotInitialized      = errors.New("credit: ledger or staker not set")
	ErrUnknownVaultManager = errors.New("credit: no vault manager for token")
	ErrUnknownRecord       = errors.New("credit: unknown position")
	ErrRecordExists        = errors.New("credit: position already recorded")
	ErrReentrantCall       = errors.New("credit: reentrant call")
	ErrNoPendingOwner      = errors.New("credit: caller is not the pending owner")
)

// Outcome is the terminal state of a position.
type Outcome uint8

const (
	OutcomeOpen Outcome = iota
	OutcomeRepaid
	OutcomeLiquidated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeRepaid:
		return "repaid"
	case OutcomeLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// LendRecord is the collateral side of a position.
type LendRecord struct {
	Depositor      common.Address
	Token          common.Address
	AmountIn       *big.Int
	BorrowedTokens []common.Address
	Ratios         []uint64
	Timestamp      uint64
	Terminated     bool
}

// Clone returns a deep copy.
func (r *LendRecord) Clone() *LendRecord {
	if r == nil {
		return nil
	}
	return &LendRecord{
		Depositor:      r.Depositor,
		Token:          r.Token,
		AmountIn:       nativecommon.Copy(r.AmountIn),
		BorrowedTokens: append([]common.Address(nil), r.BorrowedTokens...),
		Ratios:         append([]uint64(nil), r.Ratios...),
		Timestamp:      r.Timestamp,
		Terminated:     r.Terminated,
	}
}

// BorrowRecord is the leverage side of a position. All slices are parallel
// to LendRecord.BorrowedTokens.
type BorrowRecord struct {
	CreditManagers         []common.Address
	BorrowedAmountOuts     []*big.Int
	CollateralMintedAmount *big.Int
	BorrowedMintedAmount   []*big.Int
	MintedAmount           *big.Int
}

// Clone returns a deep copy.
func (r *BorrowRecord) Clone() *BorrowRecord {
	if r == nil {
		return nil
	}
	return &BorrowRecord{
		CreditManagers:         append([]common.Address(nil), r.CreditManagers...),
		BorrowedAmountOuts:     copyAmounts(r.BorrowedAmountOuts),
		CollateralMintedAmount: nativecommon.Copy(r.CollateralMintedAmount),
		BorrowedMintedAmount:   copyAmounts(r.BorrowedMintedAmount),
		MintedAmount:           nativecommon.Copy(r.MintedAmount),
	}
}

func copyAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = nativecommon.Copy(v)
	}
	return out
}

// PositionKey identifies a position by owner and 1-based index.
type PositionKey struct {
	User  common.Address
	Index uint64
}

// Position joins both records of a position with its live health.
type Position struct {
	User    common.Address
	Index   uint64
	Lend    *LendRecord
	Borrow  *BorrowRecord
	Outcome Outcome
	Health  uint64
}

// TokenLedger is the subset of the bank the credit module needs.
type TokenLedger interface {
	Token(addr common.Address) (bank.Token, bool)
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, caller, to common.Address, amount *big.Int) error
	Burn(token, caller, from common.Address, amount *big.Int) error
	Deposit(holder common.Address, amount *big.Int) error
	WrappedNative() common.Address
}

// Strategy turns tokens into yield-bearing shares and back.
type Strategy interface {
	Address() common.Address
	ShareToken() common.Address
	Mint(caller, token common.Address, amountIn *big.Int) (*big.Int, error)
	Withdraw(caller, token common.Address, shares, minOut *big.Int) (*big.Int, error)
}

// Oracle prices tokens and strategy shares in USD with 30 decimals.
type Oracle interface {
	GetTokenPrice(token common.Address) (*big.Int, error)
	GetGlpPrice(isBuy bool) (*big.Int, error)
}

// Allowlist gates who may open positions.
type Allowlist interface {
	Can(addr common.Address) bool
}

// StakeRouter forwards credit-token stakes into vault distributors.
type StakeRouter interface {
	Address() common.Address
	Stake(caller, target common.Address, amount *big.Int) error
	Withdraw(caller, target common.Address, amount *big.Int) error
}

// CollateralPool is the reward pool that tracks collateral credit tokens.
type CollateralPool interface {
	Address() common.Address
	StakeFor(caller, recipient common.Address, amountIn *big.Int) error
	WithdrawFor(caller, recipient common.Address, amountOut *big.Int) error
	CreditFor(caller, recipient common.Address, amount *big.Int) error
}

// LockerPool is the reward pool behind a manager's share lockers.
type LockerPool interface {
	Address() common.Address
	RewardToken() common.Address
	StakeFor(caller, recipient common.Address, amountIn *big.Int) error
	WithdrawFor(caller, recipient common.Address, amountOut *big.Int) error
	Distribute(caller common.Address, rewards *big.Int) error
	Claim(recipient common.Address) (*big.Int, error)
	BalanceOf(user common.Address) *big.Int
	PendingRewards(user common.Address) *big.Int
}

// LendingVault is the vault surface a manager borrows through.
type LendingVault interface {
	Address() common.Address
	Underlying() common.Address
	Borrow(caller common.Address, amountOut *big.Int) error
	Repay(caller common.Address, amountIn *big.Int) error
	WriteOff(caller common.Address, amount *big.Int) error
}

// RewardClaimer claims a holder's accrued rewards to the holder.
type RewardClaimer interface {
	Claim(recipient common.Address) (*big.Int, error)
}
