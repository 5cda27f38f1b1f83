package credit

import (
	"fmt"
	"time"
)

// Params are the governance-tunable knobs of the orchestrator.
type Params struct {
	// LiquidateThreshold is the health (per mille) at or below which a
	// position may be liquidated.
	LiquidateThreshold uint64
	// LiquidatorFee is the share (per mille) of recovered collateral paid to
	// the liquidator.
	LiquidatorFee uint64
	// MaxLoanDuration bounds the lifetime of a position. Older positions are
	// timed out and become liquidatable regardless of health.
	MaxLoanDuration time.Duration
	// CollateralFee is the haircut (per mille) taken from collateral when the
	// allow-list is disabled.
	CollateralFee uint64
}

// DefaultParams mirrors the protocol's launch configuration.
func DefaultParams() Params {
	return Params{
		LiquidateThreshold: 400,
		LiquidatorFee:      150,
		MaxLoanDuration:    365 * 24 * time.Hour,
		CollateralFee:      100,
	}
}

// Validate checks every field against its governance bounds.
func (p Params) Validate() error {
	if p.LiquidateThreshold > MaxLiquidateThreshold {
		return ErrMaxLiquidateThreshold
	}
	if p.LiquidateThreshold < MinLiquidateThreshold {
		return ErrMinLiquidateThreshold
	}
	if p.LiquidatorFee > MaxLiquidatorFee {
		return ErrMaxLiquidatorFee
	}
	if p.LiquidatorFee < MinLiquidatorFee {
		return ErrMinLiquidatorFee
	}
	if p.CollateralFee > PerMille {
		return ErrMaxCollateralFee
	}
	if p.MaxLoanDuration <= 0 {
		return fmt.Errorf("credit: max loan duration must be positive")
	}
	return nil
}
