package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldcredit/crypto"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/native/rewards"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	manager  = common.HexToAddress("0x0000000000000000000000000000000000000f02")
	other    = common.HexToAddress("0x0000000000000000000000000000000000000f03")
	minter   = common.HexToAddress("0x0000000000000000000000000000000000000f04")
	lp       = common.HexToAddress("0x0000000000000000000000000000000000000f05")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	vaultAdr = crypto.ContractAddress("vault/WETH")
	shares   = crypto.ContractAddress("vault/WETH/shares")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	ledger   *bank.Ledger
	vault    *Vault
	supply   *rewards.Pool
	borrowed *rewards.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := bank.NewLedger()
	require.NoError(t, ledger.RegisterToken(bank.Token{Address: weth, Symbol: "WETH", Decimals: 18, Minter: minter}))
	require.NoError(t, ledger.RegisterToken(bank.Token{Address: shares, Symbol: "vWETH", Decimals: 18, Minter: vaultAdr}))
	require.NoError(t, ledger.Mint(weth, minter, lp, ether(100)))
	require.NoError(t, ledger.Mint(weth, minter, manager, ether(100)))

	v, err := New(Config{Address: vaultAdr, Underlying: weth, ShareToken: shares, Owner: owner, Symbol: "WETH"}, ledger, nativecommon.NewPauses(), nil)
	require.NoError(t, err)
	newPool := func(label string) *rewards.Pool {
		p, err := rewards.NewPool(rewards.Config{
			Address:      crypto.ContractAddress(label),
			StakingToken: shares,
			RewardToken:  weth,
			Operator:     vaultAdr,
			Distributor:  owner,
		}, ledger, nil)
		require.NoError(t, err)
		return p
	}
	supply, borrowed := newPool("pool/supply"), newPool("pool/borrowed")
	require.NoError(t, v.SetRewardPools(owner, supply, borrowed))
	require.NoError(t, v.AddCreditManager(owner, manager))
	return &fixture{ledger: ledger, vault: v, supply: supply, borrowed: borrowed}
}

func TestLiquidityRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(20)))
	require.Equal(t, ether(20), f.vault.TotalSupply())
	require.Equal(t, ether(20), f.supply.BalanceOf(lp))
	require.Equal(t, ether(20), f.vault.BalanceOf(lp))

	require.NoError(t, f.vault.RemoveLiquidity(lp, ether(5)))
	require.Equal(t, ether(15), f.vault.TotalSupply())
	require.Equal(t, ether(85), f.ledger.BalanceOf(weth, lp))
	require.Zero(t, f.ledger.BalanceOf(shares, lp).Sign())

	require.ErrorIs(t, f.vault.AddLiquidity(lp, big.NewInt(0)), ErrZeroAmount)
	require.ErrorIs(t, f.vault.RemoveLiquidity(lp, big.NewInt(0)), ErrZeroAmount)
}

func TestBorrowRepay(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(20)))
	require.NoError(t, f.vault.Borrow(manager, ether(4)))
	require.Equal(t, ether(4), f.vault.TotalBorrowed())
	require.Equal(t, ether(4), f.borrowed.BalanceOf(manager))
	require.Equal(t, uint64(200), f.vault.Utilization())

	require.ErrorIs(t, f.vault.RemoveLiquidity(lp, ether(17)), ErrInsufficientLiquidity)
	require.ErrorIs(t, f.vault.Borrow(manager, ether(17)), ErrInsufficientLiquidity)
	require.ErrorIs(t, f.vault.Borrow(other, ether(1)), nativecommon.ErrUnauthorized)

	require.NoError(t, f.vault.Repay(manager, ether(4)))
	require.Zero(t, f.vault.TotalBorrowed().Sign())
	require.Zero(t, f.borrowed.BalanceOf(manager).Sign())
	require.ErrorIs(t, f.vault.Repay(manager, ether(1)), ErrExceedsDebt)
}

func TestTotalBorrowedNeverExceedsSupply(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(10)))
	for i := 0; i < 20; i++ {
		_ = f.vault.Borrow(manager, ether(3))
		require.LessOrEqual(t, f.vault.TotalBorrowed().Cmp(f.vault.TotalSupply()), 0)
	}
	require.Equal(t, ether(9), f.vault.TotalBorrowed())
}

func TestManagerPermissionsIndependent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(10)))
	require.ErrorIs(t, f.vault.AddCreditManager(owner, manager), ErrNotAllowed)
	require.Equal(t, 1, f.vault.CreditManagersCount())

	require.NoError(t, f.vault.Borrow(manager, ether(2)))
	require.NoError(t, f.vault.ForbidCreditManagerToBorrow(owner, manager))
	require.ErrorIs(t, f.vault.Borrow(manager, ether(1)), ErrBorrowForbidden)
	require.NoError(t, f.vault.Repay(manager, ether(1)))

	require.NoError(t, f.vault.ForbidCreditManagerToRepay(owner, manager))
	require.ErrorIs(t, f.vault.Repay(manager, ether(1)), ErrRepayForbidden)
	canBorrow, canRepay := f.vault.ManagerPermissions(manager)
	require.False(t, canBorrow)
	require.False(t, canRepay)
	require.ErrorIs(t, f.vault.ForbidCreditManagerToRepay(other, manager), nativecommon.ErrUnauthorized)
}

func TestRewardPoolsOnce(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.vault.SetRewardPools(owner, f.supply, f.borrowed), ErrAlreadyInitialized)
}

func TestPauseBlocksEntryButNotRepay(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(10)))
	require.NoError(t, f.vault.Borrow(manager, ether(2)))
	require.NoError(t, f.vault.Pause(owner))
	require.True(t, f.vault.Paused())
	require.ErrorIs(t, f.vault.AddLiquidity(lp, ether(1)), nativecommon.ErrModulePaused)
	require.ErrorIs(t, f.vault.Borrow(manager, ether(1)), nativecommon.ErrModulePaused)
	require.NoError(t, f.vault.Repay(manager, ether(2)))
	require.NoError(t, f.vault.Unpause(owner))
	require.NoError(t, f.vault.AddLiquidity(lp, ether(1)))
}

func TestWriteOffCarriesBadDebt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.AddLiquidity(lp, ether(10)))
	require.NoError(t, f.vault.Borrow(manager, ether(4)))
	require.NoError(t, f.vault.Repay(manager, ether(3)))
	require.NoError(t, f.vault.WriteOff(manager, ether(1)))
	require.Zero(t, f.vault.TotalBorrowed().Sign())
	require.Equal(t, ether(1), f.vault.BadDebt())
	require.Equal(t, ether(9), f.vault.FreeLiquidity())
	require.ErrorIs(t, f.vault.RemoveLiquidity(lp, ether(10)), ErrInsufficientLiquidity)
	require.NoError(t, f.vault.RemoveLiquidity(lp, ether(9)))
}
