package credit

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/observability/metrics"
)

// Manager is the orchestrator's view of a credit vault manager.
type Manager interface {
	Address() common.Address
	Underlying() common.Address
	Borrow(caller, recipient common.Address, amount *big.Int) error
	Repay(caller, recipient common.Address, amount *big.Int) error
	WriteOff(caller, recipient common.Address, amount *big.Int) error
	Lock(caller, recipient common.Address, index uint64, shares, borrowed *big.Int) error
	Release(caller, recipient common.Address, index uint64) (*big.Int, error)
}

// Pauser toggles module pause flags.
type Pauser interface {
	nativecommon.PauseView
	Pause(module string)
	Unpause(module string)
}

type strategyEntry struct {
	strategy     Strategy
	router       StakeRouter
	collateral   CollateralPool
	vaultRewards map[common.Address]common.Address
}

func (s *strategyEntry) clone() *strategyEntry {
	cp := *s
	cp.vaultRewards = make(map[common.Address]common.Address, len(s.vaultRewards))
	for k, v := range s.vaultRewards {
		cp.vaultRewards[k] = v
	}
	return &cp
}

// Engine is the credit orchestrator: it opens leveraged positions against
// collateral, scores their health, and settles them by repayment or
// liquidation.
type Engine struct {
	mu           sync.RWMutex
	address      common.Address
	owner        common.Address
	pendingOwner common.Address
	feeRecipient common.Address
	params       Params

	tokens    TokenLedger
	oracle    Oracle
	pauses    Pauser
	allowlist Allowlist
	ledger    *Ledger
	staker    *TokenStaker
	logger    *slog.Logger
	telemetry *metrics.CreditMetrics

	managers       map[common.Address]Manager
	managersByAddr map[common.Address]Manager
	strategies     map[common.Address]*strategyEntry
	entered        bool
}

// NewEngine constructs an orchestrator at address governed by owner.
func NewEngine(address, owner common.Address, tokens TokenLedger, oracle Oracle, params Params) (*Engine, error) {
	if tokens == nil || oracle == nil {
		return nil, fmt.Errorf("credit: token ledger and oracle required")
	}
	if crypto.IsZero(address) || crypto.IsZero(owner) {
		return nil, ErrZeroAddress
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		address:        address,
		owner:          owner,
		feeRecipient:   owner,
		params:         params,
		tokens:         tokens,
		oracle:         oracle,
		logger:         slog.Default().With("module", moduleName),
		telemetry:      metrics.Credit(),
		managers:       make(map[common.Address]Manager),
		managersByAddr: make(map[common.Address]Manager),
		strategies:     make(map[common.Address]*strategyEntry),
	}, nil
}

func (e *Engine) Address() common.Address { return e.address }

func (e *Engine) SetPauses(p Pauser) { e.pauses = p }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger.With("module", moduleName)
	}
}

func (e *Engine) Owner() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

func (e *Engine) FeeRecipient() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeRecipient
}

func (e *Engine) Ledger() *Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger
}

func (e *Engine) requireOwner(caller common.Address) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if caller != e.owner {
		return &nativecommon.AuthError{Module: moduleName, Operation: "govern", Role: RoleOwner}
	}
	return nil
}

// enter rejects a call that arrives while another orchestrator call is still
// in flight.
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.mu.Lock()
	e.entered = false
	e.mu.Unlock()
}

func (e *Engine) SetLiquidateThreshold(caller common.Address, threshold uint64) error {
	return e.updateParams(caller, func(p *Params) { p.LiquidateThreshold = threshold })
}

func (e *Engine) SetLiquidatorFee(caller common.Address, fee uint64) error {
	return e.updateParams(caller, func(p *Params) { p.LiquidatorFee = fee })
}

func (e *Engine) SetMaxLoanDuration(caller common.Address, d time.Duration) error {
	return e.updateParams(caller, func(p *Params) { p.MaxLoanDuration = d })
}

func (e *Engine) SetCollateralFee(caller common.Address, fee uint64) error {
	return e.updateParams(caller, func(p *Params) { p.CollateralFee = fee })
}

func (e *Engine) updateParams(caller common.Address, mutate func(*Params)) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.params
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	e.params = next
	return nil
}

// SetAllowlist installs the opening allow-list. Nil disables it, which also
// turns on the collateral fee.
func (e *Engine) SetAllowlist(caller common.Address, list Allowlist) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowlist = list
	return nil
}

func (e *Engine) SetFeeRecipient(caller, recipient common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if crypto.IsZero(recipient) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeRecipient = recipient
	return nil
}

// SetCreditUser binds the position ledger. It can run once.
func (e *Engine) SetCreditUser(caller common.Address, ledger *Ledger) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if ledger == nil {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ledger != nil {
		return ErrNotAllowed
	}
	e.ledger = ledger
	return nil
}

// SetCreditTokenStaker binds the credit token staker. It can run once.
func (e *Engine) SetCreditTokenStaker(caller common.Address, staker *TokenStaker) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if staker == nil {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staker != nil {
		return ErrNotAllowed
	}
	e.staker = staker
	return nil
}

// AddStrategy registers a strategy together with its collateral reward pool
// and the vault distributor that receives credit stake for each borrowable
// token.
func (e *Engine) AddStrategy(caller common.Address, strategy Strategy, router StakeRouter, collateral CollateralPool, vaults, vaultRewards []common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if strategy == nil || router == nil || collateral == nil {
		return ErrZeroAddress
	}
	if len(vaults) != len(vaultRewards) {
		return ErrLengthMismatch
	}
	entry := &strategyEntry{
		strategy:     strategy,
		router:       router,
		collateral:   collateral,
		vaultRewards: make(map[common.Address]common.Address, len(vaults)),
	}
	for i, token := range vaults {
		if crypto.IsZero(token) || crypto.IsZero(vaultRewards[i]) {
			return ErrZeroAddress
		}
		entry.vaultRewards[token] = vaultRewards[i]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[strategy.Address()] = entry
	return nil
}

// AddVaultManager binds the manager that borrows token.
func (e *Engine) AddVaultManager(caller, token common.Address, manager Manager) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if manager == nil || crypto.IsZero(token) {
		return ErrZeroAddress
	}
	if manager.Underlying() != token {
		return fmt.Errorf("%w: manager borrows %s", ErrMismatchedStrategy, manager.Underlying().Hex())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.managers[token]; ok {
		return ErrNotAllowed
	}
	e.managers[token] = manager
	e.managersByAddr[manager.Address()] = manager
	return nil
}

func (e *Engine) VaultManager(token common.Address) (Manager, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.managers[token]
	return m, ok
}

// TransferOwnership nominates a new owner, who takes over on
// AcceptOwnership.
func (e *Engine) TransferOwnership(caller, next common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if crypto.IsZero(next) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingOwner = next
	return nil
}

func (e *Engine) AcceptOwnership(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if crypto.IsZero(e.pendingOwner) || caller != e.pendingOwner {
		return ErrNoPendingOwner
	}
	e.owner = caller
	e.pendingOwner = common.Address{}
	return nil
}

// RenounceOwnership is always rejected.
func (e *Engine) RenounceOwnership(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	return ErrNotAllowed
}

func (e *Engine) Pause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.pauses == nil {
		return fmt.Errorf("credit: pauses not configured")
	}
	e.pauses.Pause(moduleName)
	return nil
}

func (e *Engine) Unpause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.pauses == nil {
		return fmt.Errorf("credit: pauses not configured")
	}
	e.pauses.Unpause(moduleName)
	return nil
}

func (e *Engine) Paused() bool {
	return e.pauses != nil && e.pauses.IsPaused(moduleName)
}

// Snapshot implements common.Stateful.
func (e *Engine) Snapshot() func() {
	e.mu.RLock()
	owner, pending, feeRecipient := e.owner, e.pendingOwner, e.feeRecipient
	params := e.params
	allowlist, ledger, staker := e.allowlist, e.ledger, e.staker
	managers := make(map[common.Address]Manager, len(e.managers))
	for k, v := range e.managers {
		managers[k] = v
	}
	byAddr := make(map[common.Address]Manager, len(e.managersByAddr))
	for k, v := range e.managersByAddr {
		byAddr[k] = v
	}
	strategies := make(map[common.Address]*strategyEntry, len(e.strategies))
	for k, v := range e.strategies {
		strategies[k] = v.clone()
	}
	e.mu.RUnlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.owner, e.pendingOwner, e.feeRecipient = owner, pending, feeRecipient
		e.params = params
		e.allowlist, e.ledger, e.staker = allowlist, ledger, staker
		e.managers = managers
		e.managersByAddr = byAddr
		e.strategies = strategies
		e.entered = false
	}
}
