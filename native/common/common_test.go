package common

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestGuard(t *testing.T) {
	pauses := NewPauses()
	require.NoError(t, Guard(pauses, "vault"))
	restore := pauses.Snapshot()
	pauses.Pause("vault")
	require.ErrorIs(t, Guard(pauses, "vault"), ErrModulePaused)
	restore()
	require.False(t, pauses.IsPaused("vault"))
	require.NoError(t, Guard(nil, "vault"))
}

func TestPermissionsRequire(t *testing.T) {
	perms := NewPermissions("rewards").
		Define("distribute", "distributor").
		Describe("distributor", "caller is not the distributor")
	perms.Grant("distributor", addr(1))

	require.NoError(t, perms.Require("distribute", addr(1)))
	err := perms.Require("distribute", addr(2))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.EqualError(t, err, "rewards: caller is not the distributor")

	// An unbound operation is a configuration error, not a denial.
	err = perms.Require("unknown", addr(1))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthorized)

	clone := perms.Clone()
	perms.Revoke("distributor", addr(1))
	require.True(t, clone.Has("distributor", addr(1)))
}

func TestRegistrySwapAndPop(t *testing.T) {
	reg := NewRegistry(3)
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, reg.Add(addr(i)))
	}
	require.ErrorIs(t, reg.Add(addr(4)), ErrRegistryFull)
	require.ErrorIs(t, reg.Add(addr(2)), ErrRegistryDuplicate)
	require.NoError(t, reg.RemoveAt(0))
	first, _ := reg.At(0)
	require.Equal(t, addr(3), first)
	require.Equal(t, 2, reg.Len())
	require.ErrorIs(t, reg.RemoveAt(5), ErrRegistryIndex)
	require.NoError(t, reg.Remove(addr(3)))
	require.False(t, reg.Contains(addr(3)))
}

func TestMulDiv(t *testing.T) {
	got, err := MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Int64())
	got, err = MulDivUp(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, int64(11), got.Int64())

	_, err = MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivideByZero)
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err = MulDiv(huge, big.NewInt(4), big.NewInt(1))
	require.ErrorIs(t, err, ErrMathOverflow)
	_, err = MulDiv(big.NewInt(-1), big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrNegativeAmount)
}
