package credit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

// OpenRequest describes a new leveraged position.
type OpenRequest struct {
	// Depositor is the strategy the collateral and borrowed legs go into.
	Depositor common.Address
	// Token is the collateral token, or crypto.NativeToken for the native
	// asset.
	Token          common.Address
	AmountIn       *big.Int
	BorrowedTokens []common.Address
	// Ratios are the per-leg leverage ratios, 100 meaning 1x.
	Ratios    []uint64
	Recipient common.Address
	// Value is the native amount attached to the call.
	Value *big.Int
}

func (r OpenRequest) validate() error {
	if crypto.IsZero(r.Token) {
		return ErrZeroToken
	}
	if !nativecommon.Positive(r.AmountIn) {
		return ErrZeroAmountIn
	}
	if len(r.Ratios) == 0 {
		return ErrEmptyRatios
	}
	for _, ratio := range r.Ratios {
		if ratio < MinRatio {
			return ErrMinRatio
		}
		if ratio > MaxRatio {
			return ErrMaxRatio
		}
	}
	if len(r.BorrowedTokens) != len(r.Ratios) {
		return ErrLengthMismatch
	}
	value := r.Value
	if value == nil {
		value = new(big.Int)
	}
	if crypto.IsNative(r.Token) {
		if value.Cmp(r.AmountIn) != 0 {
			return ErrValueMismatch
		}
	} else if value.Sign() != 0 {
		return ErrValueMismatch
	}
	if crypto.IsZero(r.Recipient) {
		return ErrZeroAddress
	}
	for _, token := range r.BorrowedTokens {
		if crypto.IsZero(token) {
			return ErrZeroToken
		}
	}
	return nil
}

// OpenLendCredit takes the caller's collateral, borrows every leg from its
// vault, mints strategy shares for all of it and records the position for
// req.Recipient. It returns the new position index.
func (e *Engine) OpenLendCredit(caller common.Address, req OpenRequest) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()
	if err := req.validate(); err != nil {
		return 0, err
	}

	e.mu.RLock()
	ledger, staker, allowlist := e.ledger, e.staker, e.allowlist
	params, feeRecipient := e.params, e.feeRecipient
	entry := e.strategies[req.Depositor]
	e.mu.RUnlock()
	if ledger == nil || staker == nil {
		return 0, ErrNotInitialized
	}
	if allowlist != nil && !allowlist.Can(req.Recipient) {
		return 0, ErrNotWhitelisted
	}

	wrapped := e.tokens.WrappedNative()
	collateral := normalize(req.Token, wrapped)
	borrowed := make([]common.Address, len(req.BorrowedTokens))
	found := false
	for i, token := range req.BorrowedTokens {
		borrowed[i] = normalize(token, wrapped)
		if borrowed[i] == collateral {
			found = true
		}
	}
	if !found && !crypto.IsNative(req.Token) {
		return 0, ErrCollateralNotBorrowed
	}
	if entry == nil {
		return 0, ErrMismatchedStrategy
	}
	managers := make([]Manager, len(borrowed))
	for i, token := range borrowed {
		if _, ok := entry.vaultRewards[token]; !ok {
			return 0, fmt.Errorf("%w: no vault distributor for %s", ErrMismatchedStrategy, token.Hex())
		}
		m, ok := e.VaultManager(token)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownVaultManager, token.Hex())
		}
		managers[i] = m
	}
	if count := ledger.GetUserCounts(req.Recipient); count > 0 {
		terminated, err := ledger.IsTerminated(e.address, req.Recipient, count)
		if err != nil {
			return 0, err
		}
		if !terminated {
			return 0, ErrLoanPeriodInvalid
		}
	}

	// Collateral intake.
	if crypto.IsNative(req.Token) {
		if err := e.tokens.Transfer(crypto.NativeToken, caller, e.address, req.AmountIn); err != nil {
			return 0, fmt.Errorf("credit: pull native collateral: %w", err)
		}
		if err := e.tokens.Deposit(e.address, req.AmountIn); err != nil {
			return 0, fmt.Errorf("credit: wrap collateral: %w", err)
		}
	} else if err := e.tokens.Transfer(collateral, caller, e.address, req.AmountIn); err != nil {
		return 0, fmt.Errorf("credit: pull collateral: %w", err)
	}
	amountIn := nativecommon.Copy(req.AmountIn)
	if allowlist == nil && params.CollateralFee > 0 {
		fee, err := nativecommon.MulDiv(amountIn, new(big.Int).SetUint64(params.CollateralFee), big.NewInt(PerMille))
		if err != nil {
			return 0, err
		}
		if fee.Sign() > 0 {
			if err := e.tokens.Transfer(collateral, e.address, feeRecipient, fee); err != nil {
				return 0, fmt.Errorf("credit: pay collateral fee: %w", err)
			}
			amountIn.Sub(amountIn, fee)
		}
	}

	index, err := ledger.AccrueSnapshot(e.address, req.Recipient)
	if err != nil {
		return 0, err
	}

	collateralShares, err := entry.strategy.Mint(e.address, collateral, amountIn)
	if err != nil {
		return 0, fmt.Errorf("credit: mint collateral shares: %w", err)
	}

	amountOuts := make([]*big.Int, len(borrowed))
	legShares := make([]*big.Int, len(borrowed))
	managerAddrs := make([]common.Address, len(borrowed))
	for i, token := range borrowed {
		amountOut, err := e.legAmount(amountIn, collateral, token, req.Ratios[i])
		if err != nil {
			return 0, err
		}
		if amountOut.Sign() == 0 {
			return 0, fmt.Errorf("%w: leg %d rounds to zero", ErrZeroAmount, i)
		}
		if err := managers[i].Borrow(e.address, req.Recipient, amountOut); err != nil {
			return 0, fmt.Errorf("credit: borrow leg %d: %w", i, err)
		}
		shares, err := entry.strategy.Mint(e.address, token, amountOut)
		if err != nil {
			return 0, fmt.Errorf("credit: mint leg %d shares: %w", i, err)
		}
		if err := managers[i].Lock(e.address, req.Recipient, index, shares, amountOut); err != nil {
			return 0, fmt.Errorf("credit: lock leg %d: %w", i, err)
		}
		if err := staker.Stake(e.address, entry.router, entry.vaultRewards[token], shares); err != nil {
			return 0, fmt.Errorf("credit: stake leg %d credit: %w", i, err)
		}
		amountOuts[i] = amountOut
		legShares[i] = shares
		managerAddrs[i] = managers[i].Address()
	}
	if err := staker.StakeFor(e.address, entry.collateral, req.Recipient, collateralShares); err != nil {
		return 0, fmt.Errorf("credit: stake collateral credit: %w", err)
	}

	if err := ledger.CreateLendRecord(e.address, req.Recipient, entry.strategy.Address(), req.Token, amountIn, req.BorrowedTokens, req.Ratios); err != nil {
		return 0, err
	}
	if err := ledger.CreateBorrowRecord(e.address, req.Recipient, managerAddrs, amountOuts, collateralShares, legShares); err != nil {
		return 0, err
	}

	e.telemetry.ObservePosition("open")
	e.logger.Info("credit opened",
		"user", req.Recipient.Hex(),
		"index", index,
		"collateral", req.Token.Hex(),
		"amountIn", amountIn.String(),
		"legs", len(borrowed))
	return index, nil
}

func normalize(token, wrapped common.Address) common.Address {
	if crypto.IsNative(token) {
		return wrapped
	}
	return token
}

// legAmount converts ratio/100 of the collateral's value into units of the
// borrowed token.
func (e *Engine) legAmount(amountIn *big.Int, collateral, token common.Address, ratio uint64) (*big.Int, error) {
	scaled, err := nativecommon.MulDiv(amountIn, new(big.Int).SetUint64(ratio), big.NewInt(RatioDenominator))
	if err != nil {
		return nil, err
	}
	if collateral == token {
		return scaled, nil
	}
	usd, err := e.tokenValue(collateral, scaled, false)
	if err != nil {
		return nil, err
	}
	unit, price, err := e.pricing(token)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(usd, unit, price)
}
