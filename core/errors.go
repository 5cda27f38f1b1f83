package core

import (
	"errors"

	"yieldcredit/integrations/glp"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/native/credit"
	"yieldcredit/native/distribution"
	"yieldcredit/native/emission"
	"yieldcredit/native/rewards"
	"yieldcredit/native/vault"
)

var (
	ErrReentrantCall = errors.New("core: reentrant call")
	ErrUnknownPool   = errors.New("core: unknown reward pool")
)

// Class buckets protocol errors for callers that need to react by kind,
// such as the HTTP gateway.
type Class int

const (
	ClassOther Class = iota
	ClassValidation
	ClassAuthorization
	ClassState
	ClassCapacity
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassState:
		return "state"
	case ClassCapacity:
		return "capacity"
	default:
		return "other"
	}
}

var (
	validationErrors = []error{
		ErrUnknownPool,
		credit.ErrZeroToken,
		credit.ErrZeroAmountIn,
		credit.ErrEmptyRatios,
		credit.ErrMinRatio,
		credit.ErrMaxRatio,
		credit.ErrLengthMismatch,
		credit.ErrValueMismatch,
		credit.ErrZeroAddress,
		credit.ErrZeroAmount,
		credit.ErrCollateralNotBorrowed,
		credit.ErrMinimumIndex,
		credit.ErrMaxLiquidateThreshold,
		credit.ErrMinLiquidateThreshold,
		credit.ErrMaxLiquidatorFee,
		credit.ErrMinLiquidatorFee,
		credit.ErrMaxCollateralFee,
		credit.ErrMismatchedStrategy,
		credit.ErrUnknownVaultManager,
		vault.ErrZeroAmount,
		vault.ErrZeroAddress,
		rewards.ErrZeroAmount,
		rewards.ErrZeroRecipient,
		distribution.ErrZeroAmount,
		distribution.ErrZeroAddress,
		distribution.ErrMismatchedToken,
		emission.ErrZeroAddress,
		emission.ErrZeroDuration,
		bank.ErrUnknownToken,
		bank.ErrInvalidAmount,
		bank.ErrZeroAddress,
		glp.ErrZeroAmount,
		glp.ErrZeroPrice,
		glp.ErrBadSpread,
	}
	authorizationErrors = []error{
		nativecommon.ErrUnauthorized,
		credit.ErrNotWhitelisted,
		credit.ErrNotAllowed,
		credit.ErrNoPendingOwner,
		vault.ErrNotAllowed,
		vault.ErrBorrowForbidden,
		vault.ErrRepayForbidden,
		rewards.ErrNotAllowed,
		emission.ErrNotAllowed,
		bank.ErrNotMinter,
		glp.ErrNotCaller,
		glp.ErrNotHarvester,
		glp.ErrNotOwner,
	}
	stateErrors = []error{
		ErrReentrantCall,
		nativecommon.ErrModulePaused,
		credit.ErrLoanPeriodInvalid,
		credit.ErrIndexOutOfRange,
		credit.ErrAlreadyTerminated,
		credit.ErrAlreadyTimeout,
		credit.ErrNeedsLiquidation,
		credit.ErrNotLiquidatable,
		credit.ErrAlreadyInitialized,
		credit.ErrNotInitialized,
		credit.ErrUnknownRecord,
		credit.ErrRecordExists,
		credit.ErrReentrantCall,
		vault.ErrAlreadyInitialized,
		vault.ErrPoolsNotSet,
		distribution.ErrAlreadyInitialized,
		distribution.ErrPoolsNotSet,
		distribution.ErrDuplicateReward,
		distribution.ErrNoExtraRewards,
		distribution.ErrUnknownChild,
		emission.ErrDuplicateMgr,
		emission.ErrDuplicateDep,
		emission.ErrIndexOutOfRange,
		emission.ErrNoPendingOwner,
		glp.ErrNoPrice,
	}
	capacityErrors = []error{
		nativecommon.ErrMathOverflow,
		nativecommon.ErrRegistryFull,
		vault.ErrInsufficientLiquidity,
		vault.ErrExceedsDebt,
		rewards.ErrInsufficientStake,
		distribution.ErrInsufficientStake,
		distribution.ErrMaxLimit,
		emission.ErrMaxLimit,
		bank.ErrInsufficientBalance,
		glp.ErrSlippage,
		glp.ErrMaxLimit,
	}
)

// Classify maps err onto its class. Unknown errors are ClassOther.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	for _, group := range []struct {
		class Class
		errs  []error
	}{
		{ClassAuthorization, authorizationErrors},
		{ClassValidation, validationErrors},
		{ClassCapacity, capacityErrors},
		{ClassState, stateErrors},
	} {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassOther
}
