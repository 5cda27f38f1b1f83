package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"yieldcredit/storage"
)

// PersistTo checks the checkpoint already in store, then saves a new one
// after every committed transaction. The stored state is an audit record of
// positions and accumulators; it is verified on startup but not imported,
// because token balances live outside it.
func (p *Protocol) PersistTo(store *storage.CheckpointStore) error {
	var seq atomic.Uint64
	var previous State
	cp, err := store.Load(&previous)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p.logger.Info("no previous checkpoint")
	case err != nil:
		return fmt.Errorf("core: verify checkpoint: %w", err)
	default:
		seq.Store(cp.Sequence)
		p.logger.Info("previous checkpoint verified",
			"sequence", cp.Sequence,
			"last_tx", cp.Name,
			"positions", len(previous.Ledger.Entries),
			"pools", len(previous.Pools))
	}
	p.Runtime.OnCommit(func(ctx context.Context, name string) error {
		next := seq.Add(1)
		if _, err := store.Save(next, name, p.clock.Now(), p.Export()); err != nil {
			return fmt.Errorf("checkpoint %d after %s (tx %s): %w", next, name, TxID(ctx), err)
		}
		return nil
	})
	return nil
}
