package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"yieldcredit/crypto"
)

// PriceDecimals is the fixed-point scale of configured USD prices.
const PriceDecimals = 30

// Protocol describes the contracts deployed at startup.
type Protocol struct {
	Owner        string `toml:"owner" yaml:"owner"`
	FeeRecipient string `toml:"fee_recipient" yaml:"fee_recipient"`
	// WrappedNative is the symbol of the token native collateral is wrapped
	// into. It also pays strategy yield.
	WrappedNative string `toml:"wrapped_native" yaml:"wrapped_native"`

	LiquidateThreshold uint64        `toml:"liquidate_threshold" yaml:"liquidate_threshold"`
	LiquidatorFee      uint64        `toml:"liquidator_fee" yaml:"liquidator_fee"`
	CollateralFee      uint64        `toml:"collateral_fee" yaml:"collateral_fee"`
	MaxLoanDuration    time.Duration `toml:"max_loan_duration" yaml:"max_loan_duration"`

	Allowlist bool     `toml:"allowlist" yaml:"allowlist"`
	Allowed   []string `toml:"allowed" yaml:"allowed"`

	// SupplyRatio is the supply side's per-mille cut of each vault's rewards.
	SupplyRatio uint64 `toml:"supply_ratio" yaml:"supply_ratio"`
	PlatformFee uint64 `toml:"platform_fee" yaml:"platform_fee"`
	// SharePrice is the strategy share price in USD.
	SharePrice string `toml:"share_price" yaml:"share_price"`
	SpreadBps  uint64 `toml:"spread_bps" yaml:"spread_bps"`
	// StrategyReserve funds the strategy's yield stream at startup and
	// RewardRate is what it streams per second. Both are in wrapped-native
	// units.
	StrategyReserve string `toml:"strategy_reserve" yaml:"strategy_reserve"`
	RewardRate      string `toml:"reward_rate" yaml:"reward_rate"`

	Tokens      []Token      `toml:"tokens" yaml:"tokens"`
	Allocations []Allocation `toml:"allocations" yaml:"allocations"`
}

// Token registers one asset. Vault tokens get a lending vault and a credit
// vault manager.
type Token struct {
	Symbol   string `toml:"symbol" yaml:"symbol"`
	Decimals uint8  `toml:"decimals" yaml:"decimals"`
	Price    string `toml:"price" yaml:"price"`
	Vault    bool   `toml:"vault" yaml:"vault"`
}

// Allocation credits a balance at startup. Token "native" is the native
// asset.
type Allocation struct {
	Address string `toml:"address" yaml:"address"`
	Token   string `toml:"token" yaml:"token"`
	Amount  string `toml:"amount" yaml:"amount"`
}

const NativeSymbol = "native"

func DefaultProtocol() Protocol {
	return Protocol{
		Owner:              "0x0000000000000000000000000000000000000001",
		WrappedNative:      "WETH",
		LiquidateThreshold: 400,
		LiquidatorFee:      150,
		CollateralFee:      100,
		MaxLoanDuration:    365 * 24 * time.Hour,
		SupplyRatio:        500,
		SharePrice:         "1",
		Tokens: []Token{
			{Symbol: "WETH", Decimals: 18, Price: "1000", Vault: true},
		},
	}
}

func (p *Protocol) normalize() {
	p.Owner = strings.TrimSpace(p.Owner)
	p.FeeRecipient = strings.TrimSpace(p.FeeRecipient)
	p.WrappedNative = strings.ToUpper(strings.TrimSpace(p.WrappedNative))
	if p.SharePrice == "" {
		p.SharePrice = "1"
	}
	for i := range p.Tokens {
		p.Tokens[i].Symbol = strings.ToUpper(strings.TrimSpace(p.Tokens[i].Symbol))
	}
	for i := range p.Allocations {
		tok := strings.TrimSpace(p.Allocations[i].Token)
		if !strings.EqualFold(tok, NativeSymbol) {
			tok = strings.ToUpper(tok)
		} else {
			tok = NativeSymbol
		}
		p.Allocations[i].Token = tok
	}
}

// Validate checks addresses, token references and amount syntax. Governance
// bounds are enforced by the credit engine itself.
func (p Protocol) Validate() error {
	if _, err := crypto.ParseAddress(p.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if p.FeeRecipient != "" {
		if _, err := crypto.ParseAddress(p.FeeRecipient); err != nil {
			return fmt.Errorf("fee_recipient: %w", err)
		}
	}
	if p.MaxLoanDuration <= 0 {
		return fmt.Errorf("max_loan_duration must be positive")
	}
	if p.SupplyRatio > 1000 {
		return fmt.Errorf("supply_ratio exceeds 1000")
	}
	if _, err := ParseUSD(p.SharePrice); err != nil {
		return fmt.Errorf("share_price: %w", err)
	}
	for name, raw := range map[string]string{"strategy_reserve": p.StrategyReserve, "reward_rate": p.RewardRate} {
		if raw == "" {
			continue
		}
		if _, err := ParseAmount(raw, 18); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	seen := make(map[string]bool, len(p.Tokens))
	for _, tok := range p.Tokens {
		if tok.Symbol == "" || strings.EqualFold(tok.Symbol, NativeSymbol) {
			return fmt.Errorf("token symbol %q is not usable", tok.Symbol)
		}
		if seen[tok.Symbol] {
			return fmt.Errorf("token %s listed twice", tok.Symbol)
		}
		seen[tok.Symbol] = true
		if _, err := ParseUSD(tok.Price); err != nil {
			return fmt.Errorf("token %s price: %w", tok.Symbol, err)
		}
	}
	if !seen[p.WrappedNative] {
		return fmt.Errorf("wrapped_native %q is not a listed token", p.WrappedNative)
	}
	for _, addr := range p.Allowed {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("allowed: %w", err)
		}
	}
	for _, alloc := range p.Allocations {
		if _, err := crypto.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("allocation: %w", err)
		}
		decimals := uint8(18)
		if alloc.Token != NativeSymbol {
			tok, ok := p.Token(alloc.Token)
			if !ok {
				return fmt.Errorf("allocation: unknown token %s", alloc.Token)
			}
			decimals = tok.Decimals
		}
		if _, err := ParseAmount(alloc.Amount, decimals); err != nil {
			return fmt.Errorf("allocation %s: %w", alloc.Address, err)
		}
	}
	return nil
}

func (p Protocol) Token(symbol string) (Token, bool) {
	for _, tok := range p.Tokens {
		if tok.Symbol == strings.ToUpper(symbol) {
			return tok, true
		}
	}
	return Token{}, false
}

// ParseUSD parses a decimal dollar amount into PriceDecimals fixed point.
func ParseUSD(raw string) (*big.Int, error) {
	v, err := ParseAmount(raw, PriceDecimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	return v, nil
}

// ParseAmount parses a decimal such as "1.5" into base units of a token with
// the given decimals. Excess precision is rejected.
func ParseAmount(raw string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("amount required")
	}
	if strings.ContainsAny(s, "+-eE") {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", raw, decimals)
	}
	return scaled.BigInt(), nil
}
