package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

var (
	ErrUnknownToken        = errors.New("bank: unknown token")
	ErrTokenExists         = errors.New("bank: token already registered")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrZeroAddress         = errors.New("bank: zero address")
	ErrNotMinter           = errors.New("bank: caller is not the minter")
	ErrNoWrappedNative     = errors.New("bank: wrapped native token not configured")
)

// Token describes a registered asset.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	// Minter may mint and burn the token. The zero address disables both.
	Minter common.Address
}

// Ledger tracks balances for the native asset and every registered token.
type Ledger struct {
	mu       sync.RWMutex
	tokens   map[common.Address]Token
	balances map[common.Address]map[common.Address]*big.Int
	supply   map[common.Address]*big.Int
	wrapped  common.Address
}

// NewLedger returns a ledger with the native asset pre-registered under its
// proxy symbol.
func NewLedger() *Ledger {
	l := &Ledger{
		tokens:   make(map[common.Address]Token),
		balances: make(map[common.Address]map[common.Address]*big.Int),
		supply:   make(map[common.Address]*big.Int),
	}
	l.tokens[crypto.NativeToken] = Token{Address: crypto.NativeToken, Symbol: "ETH", Decimals: 18}
	return l
}

func (l *Ledger) RegisterToken(token Token) error {
	if crypto.IsZero(token.Address) {
		return ErrZeroAddress
	}
	token.Symbol = strings.TrimSpace(token.Symbol)
	if token.Symbol == "" {
		return fmt.Errorf("bank: token symbol required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token.Address]; ok {
		return ErrTokenExists
	}
	l.tokens[token.Address] = token
	return nil
}

// SetWrappedNative marks token as the wrapped form of the native asset.
func (l *Ledger) SetWrappedNative(token common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return ErrUnknownToken
	}
	l.wrapped = token
	return nil
}

func (l *Ledger) WrappedNative() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wrapped
}

func (l *Ledger) Token(addr common.Address) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[addr]
	return t, ok
}

// TokenBySymbol resolves a symbol case-insensitively.
func (l *Ledger) TokenBySymbol(symbol string) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

func (l *Ledger) Tokens() []Token {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Token, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return nativecommon.Copy(l.balances[token][holder])
}

func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return nativecommon.Copy(l.supply[token])
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	if crypto.IsZero(to) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	l.credit(token, to, amount)
	return nil
}

// Mint creates amount of token for to. Only the token's minter may mint.
func (l *Ledger) Mint(token, caller, to common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	if crypto.IsZero(to) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, ok := l.tokens[token]
	if !ok {
		return ErrUnknownToken
	}
	if crypto.IsZero(meta.Minter) || meta.Minter != caller {
		return ErrNotMinter
	}
	l.credit(token, to, amount)
	l.addSupply(token, amount)
	return nil
}

// Burn destroys amount of token held by from. Only the token's minter may burn.
func (l *Ledger) Burn(token, caller, from common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, ok := l.tokens[token]
	if !ok {
		return ErrUnknownToken
	}
	if crypto.IsZero(meta.Minter) || meta.Minter != caller {
		return ErrNotMinter
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	l.addSupply(token, new(big.Int).Neg(amount))
	return nil
}

// Allocate credits a genesis balance without minter checks. It is only
// reachable from deployment code and tests.
func (l *Ledger) Allocate(token, to common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return ErrUnknownToken
	}
	l.credit(token, to, amount)
	l.addSupply(token, amount)
	return nil
}

// Deposit wraps amount of the native asset held by holder.
func (l *Ledger) Deposit(holder common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if crypto.IsZero(l.wrapped) {
		return ErrNoWrappedNative
	}
	if err := l.debit(crypto.NativeToken, holder, amount); err != nil {
		return err
	}
	l.credit(crypto.NativeToken, l.wrapped, amount)
	l.credit(l.wrapped, holder, amount)
	l.addSupply(l.wrapped, amount)
	return nil
}

// Withdraw unwraps amount of the wrapped native token back to holder.
func (l *Ledger) Withdraw(holder common.Address, amount *big.Int) error {
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if crypto.IsZero(l.wrapped) {
		return ErrNoWrappedNative
	}
	if err := l.debit(l.wrapped, holder, amount); err != nil {
		return err
	}
	if err := l.debit(crypto.NativeToken, l.wrapped, amount); err != nil {
		return err
	}
	l.addSupply(l.wrapped, new(big.Int).Neg(amount))
	l.credit(crypto.NativeToken, holder, amount)
	return nil
}

func (l *Ledger) debit(token, holder common.Address, amount *big.Int) error {
	bal := l.balances[token][holder]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, holder.Hex(), nativecommon.Copy(bal), amount)
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *Ledger) credit(token, holder common.Address, amount *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

func (l *Ledger) addSupply(token common.Address, delta *big.Int) {
	s, ok := l.supply[token]
	if !ok {
		s = new(big.Int)
		l.supply[token] = s
	}
	s.Add(s, delta)
}

// Snapshot implements common.Stateful.
func (l *Ledger) Snapshot() func() {
	l.mu.RLock()
	tokens := make(map[common.Address]Token, len(l.tokens))
	for k, v := range l.tokens {
		tokens[k] = v
	}
	balances := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for token, holders := range l.balances {
		balances[token] = nativecommon.CopyBalances(holders)
	}
	supply := nativecommon.CopyBalances(l.supply)
	wrapped := l.wrapped
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.tokens = tokens
		l.balances = balances
		l.supply = supply
		l.wrapped = wrapped
	}
}
