package storage

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

type position struct {
	User    common.Address
	Index   uint64
	Amount  *big.Int
	Ratios  []uint64
	Settled bool
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := NewCheckpointStore(NewMemDB())
	at := time.Unix(1_700_000_000, 0)
	in := []position{
		{User: common.HexToAddress("0xa1"), Index: 1, Amount: big.NewInt(1e18), Ratios: []uint64{400}},
		{User: common.HexToAddress("0xa1"), Index: 2, Amount: big.NewInt(5), Ratios: []uint64{500, 300}, Settled: true},
	}
	saved, err := store.Save(7, "credit/open", at, in)
	require.NoError(t, err)

	var out []position
	loaded, err := store.Load(&out)
	require.NoError(t, err)
	require.Equal(t, saved.Digest, loaded.Digest)
	require.Equal(t, uint64(7), loaded.Sequence)
	require.Equal(t, "credit/open", loaded.Name)
	require.Equal(t, uint64(at.Unix()), loaded.Written)
	require.Equal(t, in, out)
}

func TestCheckpointLoadEmpty(t *testing.T) {
	_, err := NewCheckpointStore(NewMemDB()).Load(nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointDetectsTampering(t *testing.T) {
	db := NewMemDB()
	store := NewCheckpointStore(db)
	cp, err := store.Save(1, "vault/add", time.Unix(0, 0), []uint64{1, 2, 3})
	require.NoError(t, err)

	cp.Payload[len(cp.Payload)-1] ^= 0xff
	raw, err := rlp.EncodeToBytes(cp)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte(checkpointKey), raw))

	_, err = store.Load(nil)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestLevelDBPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir, false)
	require.NoError(t, err)
	_, err = NewCheckpointStore(db).Save(3, "credit/repay", time.Unix(10, 0), []uint64{9})
	require.NoError(t, err)
	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	db.Close()

	db, err = Open(dir, false)
	require.NoError(t, err)
	defer db.Close()
	var out []uint64
	cp, err := NewCheckpointStore(db).Load(&out)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cp.Sequence)
	require.Equal(t, []uint64{9}, out)
}
