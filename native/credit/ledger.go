package credit

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

// Ledger is the append-only store of positions. Only the orchestrator bound
// through SetCaller may mutate it.
type Ledger struct {
	mu      sync.RWMutex
	address common.Address
	perms   *nativecommon.Permissions
	clock   clockwork.Clock
	logger  *slog.Logger
	bound   bool

	counts   map[common.Address]uint64
	lends    map[PositionKey]*LendRecord
	borrows  map[PositionKey]*BorrowRecord
	outcomes map[PositionKey]Outcome
	order    []PositionKey
}

func NewLedger(address, owner common.Address, clock clockwork.Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("credit/ledger").
		Define("setCaller", RoleOwner).
		Define("accrueSnapshot", RoleCaller).
		Define("createLendRecord", RoleCaller).
		Define("createBorrowRecord", RoleCaller).
		Define("destroy", RoleCaller).
		Define("isTerminated", RoleCaller).
		Define("isTimeout", RoleCaller).
		Describe(RoleCaller, "Caller is not the caller")
	perms.Set(RoleOwner, owner)
	return &Ledger{
		address:  address,
		perms:    perms,
		clock:    clock,
		logger:   logger.With("module", "credit/ledger"),
		counts:   make(map[common.Address]uint64),
		lends:    make(map[PositionKey]*LendRecord),
		borrows:  make(map[PositionKey]*BorrowRecord),
		outcomes: make(map[PositionKey]Outcome),
	}
}

func (l *Ledger) Address() common.Address { return l.address }

// SetCaller binds the orchestrator. It can run once.
func (l *Ledger) SetCaller(caller, orchestrator common.Address) error {
	if err := l.perms.Require("setCaller", caller); err != nil {
		return err
	}
	if crypto.IsZero(orchestrator) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound {
		return ErrAlreadyInitialized
	}
	l.bound = true
	l.perms.Set(RoleCaller, orchestrator)
	return nil
}

// AccrueSnapshot reserves the next position index for recipient and returns
// it. Indexes start at 1.
func (l *Ledger) AccrueSnapshot(caller, recipient common.Address) (uint64, error) {
	if err := l.perms.Require("accrueSnapshot", caller); err != nil {
		return 0, err
	}
	if crypto.IsZero(recipient) {
		return 0, ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[recipient]++
	index := l.counts[recipient]
	l.order = append(l.order, PositionKey{User: recipient, Index: index})
	return index, nil
}

// CreateLendRecord stores the collateral side of recipient's latest position.
func (l *Ledger) CreateLendRecord(caller, recipient, depositor, token common.Address, amountIn *big.Int, borrowedTokens []common.Address, ratios []uint64) error {
	if err := l.perms.Require("createLendRecord", caller); err != nil {
		return err
	}
	if len(borrowedTokens) != len(ratios) {
		return ErrLengthMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key, err := l.latest(recipient)
	if err != nil {
		return err
	}
	if _, ok := l.lends[key]; ok {
		return fmt.Errorf("%w: %s#%d", ErrRecordExists, recipient.Hex(), key.Index)
	}
	l.lends[key] = &LendRecord{
		Depositor:      depositor,
		Token:          token,
		AmountIn:       nativecommon.Copy(amountIn),
		BorrowedTokens: append([]common.Address(nil), borrowedTokens...),
		Ratios:         append([]uint64(nil), ratios...),
		Timestamp:      uint64(l.clock.Now().Unix()),
	}
	l.outcomes[key] = OutcomeOpen
	return nil
}

// CreateBorrowRecord stores the leverage side of recipient's latest position.
// The aggregate minted amount is derived from the collateral and per-leg
// mints.
func (l *Ledger) CreateBorrowRecord(caller, recipient common.Address, managers []common.Address, amountOuts []*big.Int, collateralMinted *big.Int, borrowedMinted []*big.Int) error {
	if err := l.perms.Require("createBorrowRecord", caller); err != nil {
		return err
	}
	if len(managers) != len(amountOuts) || len(managers) != len(borrowedMinted) {
		return ErrLengthMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key, err := l.latest(recipient)
	if err != nil {
		return err
	}
	lend, ok := l.lends[key]
	if !ok {
		return fmt.Errorf("%w: %s#%d", ErrUnknownRecord, recipient.Hex(), key.Index)
	}
	if len(lend.BorrowedTokens) != len(managers) {
		return ErrLengthMismatch
	}
	if _, ok := l.borrows[key]; ok {
		return fmt.Errorf("%w: %s#%d", ErrRecordExists, recipient.Hex(), key.Index)
	}
	total := nativecommon.Copy(collateralMinted)
	for _, minted := range borrowedMinted {
		if minted != nil {
			total.Add(total, minted)
		}
	}
	l.borrows[key] = &BorrowRecord{
		CreditManagers:         append([]common.Address(nil), managers...),
		BorrowedAmountOuts:     copyAmounts(amountOuts),
		CollateralMintedAmount: nativecommon.Copy(collateralMinted),
		BorrowedMintedAmount:   copyAmounts(borrowedMinted),
		MintedAmount:           total,
	}
	return nil
}

func (l *Ledger) latest(recipient common.Address) (PositionKey, error) {
	count := l.counts[recipient]
	if count == 0 {
		return PositionKey{}, fmt.Errorf("%w: %s has no reserved index", ErrUnknownRecord, recipient.Hex())
	}
	return PositionKey{User: recipient, Index: count}, nil
}

// IsTerminated reports whether the position has been repaid or liquidated.
// Unknown positions report false. Orchestrator only; other readers use
// Outcome.
func (l *Ledger) IsTerminated(caller, recipient common.Address, index uint64) (bool, error) {
	if err := l.perms.Require("isTerminated", caller); err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	lend, ok := l.lends[PositionKey{User: recipient, Index: index}]
	return ok && lend.Terminated, nil
}

// IsTimeout reports whether the position is older than maxDuration.
// Orchestrator only.
func (l *Ledger) IsTimeout(caller, recipient common.Address, index uint64, maxDuration time.Duration) (bool, error) {
	if err := l.perms.Require("isTimeout", caller); err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	lend, ok := l.lends[PositionKey{User: recipient, Index: index}]
	if !ok {
		return false, nil
	}
	opened := time.Unix(int64(lend.Timestamp), 0)
	return l.clock.Now().Sub(opened) > maxDuration, nil
}

// Destroy marks the position terminated with the given outcome. Repeated
// calls are not rejected here; the orchestrator checks IsTerminated first.
func (l *Ledger) Destroy(caller, recipient common.Address, index uint64, outcome Outcome) error {
	if err := l.perms.Require("destroy", caller); err != nil {
		return err
	}
	key := PositionKey{User: recipient, Index: index}
	l.mu.Lock()
	defer l.mu.Unlock()
	lend, ok := l.lends[key]
	if !ok {
		return fmt.Errorf("%w: %s#%d", ErrUnknownRecord, recipient.Hex(), index)
	}
	lend.Terminated = true
	l.outcomes[key] = outcome
	l.logger.Debug("position terminated", "user", recipient.Hex(), "index", index, "outcome", outcome.String())
	return nil
}

// GetUserLendCredit returns a copy of the collateral record.
func (l *Ledger) GetUserLendCredit(user common.Address, index uint64) (*LendRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lend, ok := l.lends[PositionKey{User: user, Index: index}]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%d", ErrUnknownRecord, user.Hex(), index)
	}
	return lend.Clone(), nil
}

// GetUserBorrowed returns a copy of the leverage record.
func (l *Ledger) GetUserBorrowed(user common.Address, index uint64) (*BorrowRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	borrow, ok := l.borrows[PositionKey{User: user, Index: index}]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%d", ErrUnknownRecord, user.Hex(), index)
	}
	return borrow.Clone(), nil
}

// GetUserCounts is the number of positions user has opened.
func (l *Ledger) GetUserCounts(user common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[user]
}

// Outcome returns the terminal state recorded for a position.
func (l *Ledger) Outcome(user common.Address, index uint64) Outcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.outcomes[PositionKey{User: user, Index: index}]
}

// LendCreditIndex is the number of positions opened across all users.
func (l *Ledger) LendCreditIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.order))
}

// GetLendCreditUsers returns the i-th position ever opened.
func (l *Ledger) GetLendCreditUsers(i uint64) (PositionKey, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i >= uint64(len(l.order)) {
		return PositionKey{}, ErrIndexOutOfRange
	}
	return l.order[i], nil
}

// Snapshot implements common.Stateful.
func (l *Ledger) Snapshot() func() {
	l.mu.RLock()
	perms := l.perms.Clone()
	bound := l.bound
	counts := make(map[common.Address]uint64, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	lends := make(map[PositionKey]*LendRecord, len(l.lends))
	for k, v := range l.lends {
		lends[k] = v.Clone()
	}
	borrows := make(map[PositionKey]*BorrowRecord, len(l.borrows))
	for k, v := range l.borrows {
		borrows[k] = v.Clone()
	}
	outcomes := make(map[PositionKey]Outcome, len(l.outcomes))
	for k, v := range l.outcomes {
		outcomes[k] = v
	}
	order := append([]PositionKey(nil), l.order...)
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.perms = perms
		l.bound = bound
		l.counts = counts
		l.lends = lends
		l.borrows = borrows
		l.outcomes = outcomes
		l.order = order
	}
}
