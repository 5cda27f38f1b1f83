package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"yieldcredit/native/credit"
	"yieldcredit/storage"
)

func TestCheckpointAfterEachCommit(t *testing.T) {
	d := newDeployment(t)
	store := storage.NewCheckpointStore(storage.NewMemDB())
	require.NoError(t, d.PersistTo(store))

	index, err := d.open(t, alice, ether(1), 400)
	require.NoError(t, err)

	var saved State
	cp, err := store.Load(&saved)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.Sequence)
	require.Equal(t, "credit/open", cp.Name)
	require.Len(t, saved.Ledger.Entries, 1)
	entry := saved.Ledger.Entries[0]
	require.Equal(t, alice, entry.User)
	require.Equal(t, index, entry.Index)
	require.Equal(t, credit.OutcomeOpen, entry.Outcome)
	require.Equal(t, ether(1), entry.Lend.AmountIn)
	require.Len(t, saved.Pools, 4)

	// A reverted call writes nothing.
	_, err = d.open(t, alice, ether(3), 800)
	require.Error(t, err)
	cp, err = store.Load(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.Sequence)

	_, err = d.RepayCredit(context.Background(), alice, index)
	require.NoError(t, err)
	cp, err = store.Load(&saved)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cp.Sequence)
	require.Equal(t, credit.OutcomeRepaid, saved.Ledger.Entries[0].Outcome)
}

func TestCheckpointSequenceResumes(t *testing.T) {
	db := storage.NewMemDB()
	first := newDeployment(t)
	require.NoError(t, first.PersistTo(storage.NewCheckpointStore(db)))
	_, err := first.open(t, alice, ether(1), 400)
	require.NoError(t, err)

	second := newDeployment(t)
	store := storage.NewCheckpointStore(db)
	require.NoError(t, second.PersistTo(store))
	_, err = second.open(t, alice, ether(1), 400)
	require.NoError(t, err)
	cp, err := store.Load(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cp.Sequence)
}
