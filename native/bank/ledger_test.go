package bank

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldcredit/crypto"
)

var (
	weth   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	minter = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	require.NoError(t, l.RegisterToken(Token{Address: weth, Symbol: "WETH", Decimals: 18, Minter: minter}))
	require.NoError(t, l.SetWrappedNative(weth))
	return l
}

func TestTransferAndBalances(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(weth, minter, alice, big.NewInt(100)))
	require.NoError(t, l.Transfer(weth, alice, bob, big.NewInt(40)))
	require.Equal(t, int64(60), l.BalanceOf(weth, alice).Int64())
	require.Equal(t, int64(40), l.BalanceOf(weth, bob).Int64())
	require.ErrorIs(t, l.Transfer(weth, alice, bob, big.NewInt(61)), ErrInsufficientBalance)
	require.ErrorIs(t, l.Transfer(weth, alice, bob, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, l.Mint(weth, alice, alice, big.NewInt(1)), ErrNotMinter)
	require.ErrorIs(t, l.Transfer(common.HexToAddress("0x01"), alice, bob, big.NewInt(1)), ErrUnknownToken)
}

func TestWrapNative(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Allocate(crypto.NativeToken, alice, big.NewInt(10)))
	require.NoError(t, l.Deposit(alice, big.NewInt(4)))
	require.Equal(t, int64(6), l.BalanceOf(crypto.NativeToken, alice).Int64())
	require.Equal(t, int64(4), l.BalanceOf(weth, alice).Int64())
	require.Equal(t, int64(4), l.TotalSupply(weth).Int64())

	require.NoError(t, l.Withdraw(alice, big.NewInt(3)))
	require.Equal(t, int64(9), l.BalanceOf(crypto.NativeToken, alice).Int64())
	require.Equal(t, int64(1), l.TotalSupply(weth).Int64())
}

func TestSnapshotRestore(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(weth, minter, alice, big.NewInt(5)))
	restore := l.Snapshot()
	require.NoError(t, l.Transfer(weth, alice, bob, big.NewInt(5)))
	restore()
	require.Equal(t, int64(5), l.BalanceOf(weth, alice).Int64())
	require.Zero(t, l.BalanceOf(weth, bob).Sign())
}
