package glp

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldcredit/native/common"
)

// PricePrecision is the USD scale of every price (30 decimals).
var PricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

const spreadDenominator = 10_000

var (
	ErrNoPrice   = errors.New("glp: price not available")
	ErrBadSpread = errors.New("glp: spread out of range")
	ErrNotOwner  = errors.New("glp: caller is not the owner")
	ErrZeroPrice = errors.New("glp: price must be positive")
)

// PriceFeed serves token prices and the share price. Prices are pushed by
// the owner; staleness is not tracked.
type PriceFeed struct {
	mu        sync.RWMutex
	owner     common.Address
	prices    map[common.Address]*big.Int
	glpPrice  *big.Int
	spreadBps uint64
}

func NewPriceFeed(owner common.Address) *PriceFeed {
	return &PriceFeed{
		owner:    owner,
		prices:   make(map[common.Address]*big.Int),
		glpPrice: nativecommon.Copy(PricePrecision),
	}
}

func (f *PriceFeed) SetTokenPrice(caller, token common.Address, price *big.Int) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if !nativecommon.Positive(price) {
		return ErrZeroPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[token] = nativecommon.Copy(price)
	return nil
}

func (f *PriceFeed) SetGlpPrice(caller common.Address, price *big.Int) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if !nativecommon.Positive(price) {
		return ErrZeroPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.glpPrice = nativecommon.Copy(price)
	return nil
}

// SetSpread widens the buy price up and the sell price down by bps.
func (f *PriceFeed) SetSpread(caller common.Address, bps uint64) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if bps >= spreadDenominator {
		return ErrBadSpread
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spreadBps = bps
	return nil
}

func (f *PriceFeed) GetTokenPrice(token common.Address) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, token.Hex())
	}
	return nativecommon.Copy(price), nil
}

// GetGlpPrice returns the share price for minting (isBuy) or redeeming.
func (f *PriceFeed) GetGlpPrice(isBuy bool) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factor := int64(spreadDenominator - f.spreadBps)
	if isBuy {
		factor = int64(spreadDenominator + f.spreadBps)
	}
	return nativecommon.MulDiv(f.glpPrice, big.NewInt(factor), big.NewInt(spreadDenominator))
}

// Snapshot implements common.Stateful.
func (f *PriceFeed) Snapshot() func() {
	f.mu.RLock()
	prices := nativecommon.CopyBalances(f.prices)
	glpPrice := nativecommon.Copy(f.glpPrice)
	spread := f.spreadBps
	f.mu.RUnlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.prices, f.glpPrice, f.spreadBps = prices, glpPrice, spread
	}
}
