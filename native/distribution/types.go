package distribution

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldcredit/native/common"
)

// MaxExtraRewards caps the children of a depositor distributor.
const MaxExtraRewards = 12

// RatioDenominator is the sum of the supply and borrowed ratios.
const RatioDenominator = 1000

const (
	RoleOwner       nativecommon.Role = "owner"
	RoleStaker      nativecommon.Role = "staker"
	RoleDistributor nativecommon.Role = "distributor"
)

var (
	ErrZeroAmount         = errors.New("distribution: amount cannot be 0")
	ErrZeroAddress        = errors.New("distribution: address cannot be 0x0")
	ErrMaxLimit           = errors.New("distribution: Maximum limit exceeded")
	ErrAlreadyInitialized = errors.New("distribution: Cannot run this function twice")
	ErrPoolsNotSet        = errors.New("distribution: reward pools not set")
	ErrMismatchedToken    = errors.New("distribution: mismatched staking or reward token")
	ErrDuplicateReward    = errors.New("distribution: extra reward already attached")
	ErrNoExtraRewards     = errors.New("distribution: no extra rewards attached")
	ErrUnknownChild       = errors.New("distribution: unknown extra reward")
	ErrInsufficientStake  = errors.New("distribution: amount exceeds staked balance")
)

// Transferer moves tokens between holders.
type Transferer interface {
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// Sink receives a reward stream. Reward pools and vault distributors both
// satisfy it.
type Sink interface {
	Address() common.Address
	RewardToken() common.Address
	Distribute(caller common.Address, rewards *big.Int) error
}

// Child is a weighted downstream pool of a depositor distributor.
type Child interface {
	Sink
	StakingToken() common.Address
	TotalStaked() *big.Int
}

// StakeTarget is a child that accepts stake forwarded by the depositor
// distributor.
type StakeTarget interface {
	Child
	Stake(caller common.Address, amount *big.Int) error
	Withdraw(caller common.Address, amount *big.Int) error
}
