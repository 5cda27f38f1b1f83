package credit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
)

// GetUserCreditHealth scores a position against current prices.
func (e *Engine) GetUserCreditHealth(user common.Address, index uint64) (uint64, error) {
	if e.Ledger() == nil {
		return 0, ErrNotInitialized
	}
	pos, err := e.load(user, index)
	if err != nil {
		return 0, err
	}
	return pos.health, nil
}

// Position returns both records of a position together with its live
// health.
func (e *Engine) Position(user common.Address, index uint64) (*Position, error) {
	ledger := e.Ledger()
	if ledger == nil {
		return nil, ErrNotInitialized
	}
	pos, err := e.load(user, index)
	if err != nil {
		return nil, err
	}
	return &Position{
		User:    user,
		Index:   index,
		Lend:    pos.lend,
		Borrow:  pos.borrow,
		Outcome: ledger.Outcome(user, index),
		Health:  pos.health,
	}, nil
}

// Positions returns every position user has opened, oldest first.
func (e *Engine) Positions(user common.Address) ([]*Position, error) {
	ledger := e.Ledger()
	if ledger == nil {
		return nil, ErrNotInitialized
	}
	count := ledger.GetUserCounts(user)
	out := make([]*Position, 0, count)
	for i := uint64(1); i <= count; i++ {
		pos, err := e.Position(user, i)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// health values the position's shares at the strategy sell price against
// its borrowed amounts at current token prices.
func (e *Engine) health(entry *strategyEntry, lend *LendRecord, borrow *BorrowRecord) (uint64, error) {
	a, err := e.shareValue(entry, borrow.MintedAmount)
	if err != nil {
		return 0, err
	}
	b := new(big.Int)
	wrapped := e.tokens.WrappedNative()
	for i, amount := range borrow.BorrowedAmountOuts {
		if !nativecommon.Positive(amount) {
			continue
		}
		usd, err := e.tokenValue(normalize(lend.BorrowedTokens[i], wrapped), amount, false)
		if err != nil {
			return 0, err
		}
		b.Add(b, usd)
	}
	health, _ := CalcHealth(a, b, e.Params().LiquidateThreshold)
	return health, nil
}

func (e *Engine) shareUnit(entry *strategyEntry) (*big.Int, error) {
	meta, ok := e.tokens.Token(entry.strategy.ShareToken())
	if !ok {
		return nil, fmt.Errorf("%w: %s", bank.ErrUnknownToken, entry.strategy.ShareToken().Hex())
	}
	return pow10(meta.Decimals), nil
}

func (e *Engine) shareValue(entry *strategyEntry, shares *big.Int) (*big.Int, error) {
	if !nativecommon.Positive(shares) {
		return new(big.Int), nil
	}
	unit, err := e.shareUnit(entry)
	if err != nil {
		return nil, err
	}
	price, err := e.oracle.GetGlpPrice(false)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(shares, price, unit)
}

// sharesFor is the number of shares that redeem for at least amount of
// token at the sell price.
func (e *Engine) sharesFor(entry *strategyEntry, token common.Address, amount *big.Int) (*big.Int, error) {
	usd, err := e.tokenValue(token, amount, true)
	if err != nil {
		return nil, err
	}
	unit, err := e.shareUnit(entry)
	if err != nil {
		return nil, err
	}
	price, err := e.oracle.GetGlpPrice(false)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDivUp(usd, unit, price)
}

func (e *Engine) tokenValue(token common.Address, amount *big.Int, roundUp bool) (*big.Int, error) {
	unit, price, err := e.pricing(token)
	if err != nil {
		return nil, err
	}
	if roundUp {
		return nativecommon.MulDivUp(amount, price, unit)
	}
	return nativecommon.MulDiv(amount, price, unit)
}

func (e *Engine) pricing(token common.Address) (*big.Int, *big.Int, error) {
	meta, ok := e.tokens.Token(token)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", bank.ErrUnknownToken, token.Hex())
	}
	price, err := e.oracle.GetTokenPrice(token)
	if err != nil {
		return nil, nil, err
	}
	return pow10(meta.Decimals), price, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
