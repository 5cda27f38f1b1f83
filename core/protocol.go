package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"yieldcredit/config"
	"yieldcredit/crypto"
	"yieldcredit/integrations/glp"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/native/credit"
	"yieldcredit/native/distribution"
	"yieldcredit/native/emission"
	"yieldcredit/native/rewards"
	"yieldcredit/native/vault"
	"yieldcredit/observability/metrics"
)

// Deterministic component labels. See crypto.ContractAddress.
const (
	labelEngine     = "credit/engine"
	labelLedger     = "credit/ledger"
	labelStaker     = "credit/staker"
	labelAllowlist  = "credit/allowlist"
	labelStrategy   = "strategy/glp"
	labelShareToken = "token/GLP"
	labelCredit     = "token/CREDIT"
	labelDepDist    = "distribution/depositor"
	labelCollateral = "rewards/collateral"
	labelScheduler  = "emission/scheduler"
)

func tokenLabel(symbol string) string { return "token/" + symbol }

// Market groups the components deployed for one borrowable token.
type Market struct {
	Token        common.Address
	Symbol       string
	Decimals     uint8
	Vault        *vault.Vault
	SupplyPool   *rewards.Pool
	BorrowedPool *rewards.Pool
	LockerPool   *rewards.Pool
	Distributor  *distribution.VaultDistributor
	Manager      *credit.VaultManager
}

// Protocol is one in-process deployment of every component, wired together
// and driven through a Runtime.
type Protocol struct {
	cfg       config.Protocol
	emissions config.Scheduler
	owner     common.Address
	clock     clockwork.Clock
	logger    *slog.Logger

	Runtime       *Runtime
	Bank          *bank.Ledger
	Pauses        *nativecommon.Pauses
	Oracle        *glp.PriceFeed
	Allowlist     *glp.Allowlist
	Strategy      *glp.Depositor
	DepositorDist *distribution.DepositorDistributor
	Collateral    *rewards.Pool
	Ledger        *credit.Ledger
	Staker        *credit.TokenStaker
	Engine        *credit.Engine
	Scheduler     *emission.Scheduler

	mu      sync.RWMutex
	markets map[common.Address]*Market
	symbols map[string]common.Address
	pools   map[common.Address]*rewards.Pool
}

// Assemble deploys the protocol described by cfg. emissions sets the
// scheduler's stream duration and tick interval.
func Assemble(cfg config.Protocol, emissions config.Scheduler, clock clockwork.Clock, logger *slog.Logger) (*Protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner, _ := crypto.ParseAddress(cfg.Owner)
	p := &Protocol{
		cfg:       cfg,
		emissions: emissions,
		owner:     owner,
		clock:     clock,
		logger:    logger,
		Runtime:   NewRuntime(logger),
		Bank:      bank.NewLedger(),
		Pauses:    nativecommon.NewPauses(),
		markets:   make(map[common.Address]*Market),
		symbols:   make(map[string]common.Address),
		pools:     make(map[common.Address]*rewards.Pool),
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"tokens", p.deployTokens},
		{"oracle", p.deployOracle},
		{"strategy", p.deployStrategy},
		{"distribution", p.deployDistribution},
		{"markets", p.deployMarkets},
		{"credit", p.deployCredit},
		{"scheduler", p.deployScheduler},
		{"allocations", p.allocate},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("core: deploy %s: %w", step.name, err)
		}
	}
	p.register()
	p.Runtime.OnCommit(p.observeMarkets)
	logger.Info("protocol assembled",
		"owner", owner.Hex(),
		"markets", len(p.markets),
		"engine", p.Engine.Address().Hex(),
		"scheduler", p.Scheduler.Address().Hex())
	return p, nil
}

func (p *Protocol) deployTokens() error {
	for _, tok := range p.cfg.Tokens {
		addr := crypto.ContractAddress(tokenLabel(tok.Symbol))
		if err := p.Bank.RegisterToken(bank.Token{Address: addr, Symbol: tok.Symbol, Decimals: tok.Decimals}); err != nil {
			return err
		}
		p.symbols[tok.Symbol] = addr
	}
	wrapped := p.symbols[p.cfg.WrappedNative]
	if err := p.Bank.SetWrappedNative(wrapped); err != nil {
		return err
	}
	minted := []bank.Token{
		{Address: crypto.ContractAddress(labelShareToken), Symbol: "GLP", Decimals: glp.ShareDecimals, Minter: crypto.ContractAddress(labelStrategy)},
		{Address: crypto.ContractAddress(labelCredit), Symbol: "CREDIT", Decimals: 18, Minter: crypto.ContractAddress(labelStaker)},
	}
	for _, tok := range p.cfg.Tokens {
		if !tok.Vault {
			continue
		}
		minted = append(minted, bank.Token{
			Address:  crypto.ContractAddress(tokenLabel("v" + tok.Symbol)),
			Symbol:   "v" + tok.Symbol,
			Decimals: tok.Decimals,
			Minter:   crypto.ContractAddress("vault/" + tok.Symbol),
		})
	}
	for _, tok := range minted {
		if err := p.Bank.RegisterToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) deployOracle() error {
	p.Oracle = glp.NewPriceFeed(p.owner)
	for _, tok := range p.cfg.Tokens {
		price, err := config.ParseUSD(tok.Price)
		if err != nil {
			return err
		}
		if err := p.Oracle.SetTokenPrice(p.owner, p.symbols[tok.Symbol], price); err != nil {
			return err
		}
	}
	sharePrice, err := config.ParseUSD(p.cfg.SharePrice)
	if err != nil {
		return err
	}
	if err := p.Oracle.SetGlpPrice(p.owner, sharePrice); err != nil {
		return err
	}
	return p.Oracle.SetSpread(p.owner, p.cfg.SpreadBps)
}

func (p *Protocol) feeRecipient() common.Address {
	if p.cfg.FeeRecipient == "" {
		return p.owner
	}
	addr, _ := crypto.ParseAddress(p.cfg.FeeRecipient)
	return addr
}

func (p *Protocol) deployStrategy() error {
	var err error
	p.Strategy, err = glp.NewDepositor(glp.DepositorConfig{
		Address:      crypto.ContractAddress(labelStrategy),
		ShareToken:   crypto.ContractAddress(labelShareToken),
		RewardToken:  p.Bank.WrappedNative(),
		Owner:        p.owner,
		FeeRecipient: p.feeRecipient(),
	}, p.Bank, p.Oracle, p.clock, p.logger)
	if err != nil {
		return err
	}
	if err := p.Strategy.SetCaller(p.owner, crypto.ContractAddress(labelEngine)); err != nil {
		return err
	}
	if err := p.Strategy.SetPlatformFee(p.owner, p.cfg.PlatformFee); err != nil {
		return err
	}
	if p.cfg.RewardRate != "" {
		rate, err := config.ParseAmount(p.cfg.RewardRate, 18)
		if err != nil {
			return err
		}
		if err := p.Strategy.SetRewardRate(p.owner, rate); err != nil {
			return err
		}
	}
	if p.cfg.StrategyReserve != "" {
		reserve, err := config.ParseAmount(p.cfg.StrategyReserve, 18)
		if err != nil {
			return err
		}
		if reserve.Sign() > 0 {
			if err := p.Bank.Allocate(p.Bank.WrappedNative(), p.owner, reserve); err != nil {
				return err
			}
			if err := p.Strategy.Fund(p.owner, reserve); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Protocol) deployDistribution() error {
	var err error
	p.DepositorDist, err = distribution.NewDepositorDistributor(distribution.DepositorDistributorConfig{
		Address:      crypto.ContractAddress(labelDepDist),
		StakingToken: crypto.ContractAddress(labelCredit),
		RewardToken:  p.Bank.WrappedNative(),
		Owner:        p.owner,
		Staker:       crypto.ContractAddress(labelStaker),
	}, p.Bank, p.logger)
	if err != nil {
		return err
	}
	p.Collateral, err = rewards.NewPool(rewards.Config{
		Address:      crypto.ContractAddress(labelCollateral),
		StakingToken: crypto.ContractAddress(labelCredit),
		RewardToken:  p.Bank.WrappedNative(),
		Operator:     crypto.ContractAddress(labelStaker),
		Distributor:  crypto.ContractAddress(labelDepDist),
		Creditor:     crypto.ContractAddress(labelEngine),
		Collateral:   true,
	}, p.Bank, p.logger)
	if err != nil {
		return err
	}
	p.pools[p.Collateral.Address()] = p.Collateral
	return p.DepositorDist.AddDistributor(p.owner, crypto.ContractAddress(labelScheduler))
}

func (p *Protocol) deployMarkets() error {
	reward := p.Bank.WrappedNative()
	for _, tok := range p.cfg.Tokens {
		if !tok.Vault {
			continue
		}
		sym := tok.Symbol
		m := &Market{Token: p.symbols[sym], Symbol: sym, Decimals: tok.Decimals}
		vaultAddr := crypto.ContractAddress("vault/" + sym)
		shareToken := crypto.ContractAddress(tokenLabel("v" + sym))
		distAddr := crypto.ContractAddress("distribution/vault/" + sym)
		managerAddr := crypto.ContractAddress("credit/manager/" + sym)

		var err error
		m.Vault, err = vault.New(vault.Config{
			Address:    vaultAddr,
			Underlying: m.Token,
			ShareToken: shareToken,
			Owner:      p.owner,
			Symbol:     sym,
		}, p.Bank, p.Pauses, p.logger)
		if err != nil {
			return err
		}
		m.Distributor, err = distribution.NewVaultDistributor(distribution.VaultDistributorConfig{
			Address:      distAddr,
			StakingToken: crypto.ContractAddress(labelCredit),
			RewardToken:  reward,
			Owner:        p.owner,
			Staker:       p.DepositorDist.Address(),
			SupplyRatio:  p.cfg.SupplyRatio,
		}, p.Bank, p.logger)
		if err != nil {
			return err
		}
		pools := []struct {
			dst *(*rewards.Pool)
			cfg rewards.Config
		}{
			{&m.SupplyPool, rewards.Config{Address: crypto.ContractAddress("rewards/supply/" + sym), StakingToken: shareToken, Operator: vaultAddr, Distributor: distAddr}},
			{&m.BorrowedPool, rewards.Config{Address: crypto.ContractAddress("rewards/borrowed/" + sym), StakingToken: shareToken, Operator: vaultAddr, Distributor: distAddr}},
			{&m.LockerPool, rewards.Config{Address: crypto.ContractAddress("rewards/locker/" + sym), StakingToken: crypto.ContractAddress(labelShareToken), Operator: managerAddr, Distributor: managerAddr}},
		}
		for _, pool := range pools {
			pool.cfg.RewardToken = reward
			*pool.dst, err = rewards.NewPool(pool.cfg, p.Bank, p.logger)
			if err != nil {
				return err
			}
			p.pools[pool.cfg.Address] = *pool.dst
		}
		if err := m.Vault.SetRewardPools(p.owner, m.SupplyPool, m.BorrowedPool); err != nil {
			return err
		}
		if err := m.Distributor.SetRewardPools(p.owner, m.SupplyPool, m.BorrowedPool); err != nil {
			return err
		}
		if err := m.Distributor.AddDistributor(p.owner, p.DepositorDist.Address()); err != nil {
			return err
		}
		if err := p.DepositorDist.AddExtraReward(p.owner, m.Distributor); err != nil {
			return err
		}
		m.Manager, err = credit.NewVaultManager(credit.VaultManagerConfig{
			Address:       managerAddr,
			Owner:         p.owner,
			Caller:        crypto.ContractAddress(labelEngine),
			RewardTracker: crypto.ContractAddress(labelScheduler),
			ShareToken:    crypto.ContractAddress(labelShareToken),
		}, p.Bank, m.Vault, m.BorrowedPool, m.LockerPool, p.logger)
		if err != nil {
			return err
		}
		if err := m.Vault.AddCreditManager(p.owner, managerAddr); err != nil {
			return err
		}
		p.markets[m.Token] = m
	}
	// The collateral pool joins the fan-out after every vault distributor.
	return p.DepositorDist.AddExtraReward(p.owner, p.Collateral)
}

func (p *Protocol) deployCredit() error {
	engineAddr := crypto.ContractAddress(labelEngine)
	p.Ledger = credit.NewLedger(crypto.ContractAddress(labelLedger), p.owner, p.clock, p.logger)
	if err := p.Ledger.SetCaller(p.owner, engineAddr); err != nil {
		return err
	}
	p.Staker = credit.NewTokenStaker(crypto.ContractAddress(labelStaker), p.Bank, engineAddr, p.owner)
	if err := p.Staker.SetCreditToken(p.owner, crypto.ContractAddress(labelCredit)); err != nil {
		return err
	}

	params := credit.Params{
		LiquidateThreshold: p.cfg.LiquidateThreshold,
		LiquidatorFee:      p.cfg.LiquidatorFee,
		MaxLoanDuration:    p.cfg.MaxLoanDuration,
		CollateralFee:      p.cfg.CollateralFee,
	}
	var err error
	p.Engine, err = credit.NewEngine(engineAddr, p.owner, p.Bank, p.Oracle, params)
	if err != nil {
		return err
	}
	p.Engine.SetPauses(p.Pauses)
	p.Engine.SetLogger(p.logger)
	if err := p.Engine.SetCreditUser(p.owner, p.Ledger); err != nil {
		return err
	}
	if err := p.Engine.SetCreditTokenStaker(p.owner, p.Staker); err != nil {
		return err
	}
	if err := p.Engine.SetFeeRecipient(p.owner, p.feeRecipient()); err != nil {
		return err
	}

	tokens := p.marketTokens()
	distributors := make([]common.Address, len(tokens))
	for i, token := range tokens {
		distributors[i] = p.markets[token].Distributor.Address()
		if err := p.Engine.AddVaultManager(p.owner, token, p.markets[token].Manager); err != nil {
			return err
		}
	}
	if err := p.Engine.AddStrategy(p.owner, p.Strategy, p.DepositorDist, p.Collateral, tokens, distributors); err != nil {
		return err
	}

	p.Allowlist = glp.NewAllowlist(crypto.ContractAddress(labelAllowlist), p.owner)
	if p.cfg.Allowlist {
		allowed := make([]common.Address, 0, len(p.cfg.Allowed))
		for _, raw := range p.cfg.Allowed {
			addr, _ := crypto.ParseAddress(raw)
			allowed = append(allowed, addr)
		}
		if err := p.Allowlist.Allow(p.owner, allowed...); err != nil {
			return err
		}
		if err := p.Engine.SetAllowlist(p.owner, p.Allowlist); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) deployScheduler() error {
	duration := p.emissions.Duration
	if duration <= 0 {
		duration = 7 * 24 * time.Hour
	}
	var err error
	p.Scheduler, err = emission.New(emission.Config{
		Address:  crypto.ContractAddress(labelScheduler),
		Owner:    p.owner,
		Duration: duration,
		Interval: p.emissions.Interval,
	}, p.DepositorDist, p.clock, p.logger)
	if err != nil {
		return err
	}
	p.Scheduler.SetExecutor(p.Runtime.Exec)
	if err := p.Strategy.SetHarvester(p.owner, p.Scheduler.Address()); err != nil {
		return err
	}
	if err := p.Scheduler.AddDepositor(p.owner, p.Strategy); err != nil {
		return err
	}
	for _, token := range p.marketTokens() {
		if err := p.Scheduler.AddManager(p.owner, p.markets[token].Manager); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) allocate() error {
	for _, alloc := range p.cfg.Allocations {
		holder, _ := crypto.ParseAddress(alloc.Address)
		token, decimals := crypto.NativeToken, uint8(18)
		if alloc.Token != config.NativeSymbol {
			token = p.symbols[alloc.Token]
			tok, _ := p.cfg.Token(alloc.Token)
			decimals = tok.Decimals
		}
		amount, err := config.ParseAmount(alloc.Amount, decimals)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := p.Bank.Allocate(token, holder, amount); err != nil {
			return fmt.Errorf("%s %s: %w", alloc.Address, alloc.Token, err)
		}
	}
	return nil
}

func (p *Protocol) register() {
	p.Runtime.Register(p.Bank, p.Pauses, p.Oracle, p.Allowlist, p.Strategy, p.DepositorDist, p.Collateral)
	for _, token := range p.marketTokens() {
		m := p.markets[token]
		p.Runtime.Register(m.Vault, m.SupplyPool, m.BorrowedPool, m.LockerPool, m.Distributor, m.Manager)
	}
	p.Runtime.Register(p.Ledger, p.Staker, p.Engine, p.Scheduler)
}

// marketTokens lists the borrowable tokens in configuration order.
func (p *Protocol) marketTokens() []common.Address {
	out := make([]common.Address, 0, len(p.markets))
	for _, tok := range p.cfg.Tokens {
		if addr := p.symbols[tok.Symbol]; p.markets[addr] != nil {
			out = append(out, addr)
		}
	}
	return out
}

func (p *Protocol) observeMarkets(context.Context, string) error {
	telemetry := metrics.Credit()
	for _, m := range p.Markets() {
		telemetry.SetUtilisation(m.Symbol, m.Vault.Utilization())
		debt, _ := new(big.Float).Quo(new(big.Float).SetInt(m.Vault.BadDebt()), new(big.Float).SetInt(pow10(m.Decimals))).Float64()
		telemetry.SetBadDebt(m.Symbol, debt)
	}
	return nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func (p *Protocol) Owner() common.Address { return p.owner }

func (p *Protocol) Clock() clockwork.Clock { return p.clock }

// Token resolves a configured symbol, or "native", to its address.
func (p *Protocol) Token(symbol string) (common.Address, bool) {
	if symbol == config.NativeSymbol {
		return crypto.NativeToken, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	addr, ok := p.symbols[symbol]
	return addr, ok
}

// Market returns the market for a borrowable token address.
func (p *Protocol) Market(token common.Address) (*Market, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.markets[token]
	return m, ok
}

func (p *Protocol) Markets() []*Market {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Market, 0, len(p.markets))
	for _, m := range p.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Pool looks up a reward pool by address.
func (p *Protocol) Pool(addr common.Address) (*rewards.Pool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pool, ok := p.pools[addr]
	return pool, ok
}
