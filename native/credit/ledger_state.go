package credit

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerEntry is the persisted form of one position.
type LedgerEntry struct {
	User    common.Address
	Index   uint64
	Outcome Outcome
	Lend    LendRecord
	Borrow  BorrowRecord
}

// LedgerState is the persisted form of the ledger. Entries are in opening
// order.
type LedgerState struct {
	Entries []LedgerEntry
}

// Export returns every position in opening order.
func (l *Ledger) Export() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := LedgerState{Entries: make([]LedgerEntry, 0, len(l.order))}
	for _, key := range l.order {
		entry := LedgerEntry{User: key.User, Index: key.Index, Outcome: l.outcomes[key]}
		if lend, ok := l.lends[key]; ok {
			entry.Lend = *lend.Clone()
		}
		if borrow, ok := l.borrows[key]; ok {
			entry.Borrow = *borrow.Clone()
		}
		out.Entries = append(out.Entries, entry)
	}
	return out
}

// Import replaces every position. Role bindings are untouched. Entries must
// be in opening order with per-user indexes counting up from 1.
func (l *Ledger) Import(state LedgerState) error {
	counts := make(map[common.Address]uint64)
	lends := make(map[PositionKey]*LendRecord, len(state.Entries))
	borrows := make(map[PositionKey]*BorrowRecord, len(state.Entries))
	outcomes := make(map[PositionKey]Outcome, len(state.Entries))
	order := make([]PositionKey, 0, len(state.Entries))
	for _, entry := range state.Entries {
		if entry.Index != counts[entry.User]+1 {
			return fmt.Errorf("credit: import: %s index %d out of order", entry.User.Hex(), entry.Index)
		}
		counts[entry.User] = entry.Index
		key := PositionKey{User: entry.User, Index: entry.Index}
		order = append(order, key)
		outcomes[key] = entry.Outcome
		if entry.Lend.AmountIn != nil {
			lends[key] = entry.Lend.Clone()
		}
		if entry.Borrow.MintedAmount != nil {
			borrows[key] = entry.Borrow.Clone()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = counts
	l.lends = lends
	l.borrows = borrows
	l.outcomes = outcomes
	l.order = order
	return nil
}
