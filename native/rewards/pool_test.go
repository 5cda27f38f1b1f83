package rewards

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
)

var (
	stakeToken  = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	rewardToken = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	poolAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	operator    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	distributor = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	minter      = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	ledger *bank.Ledger
	pool   *Pool
}

func newFixture(t *testing.T, collateral bool) *fixture {
	t.Helper()
	ledger := bank.NewLedger()
	require.NoError(t, ledger.RegisterToken(bank.Token{Address: stakeToken, Symbol: "CREDIT", Decimals: 18, Minter: minter}))
	require.NoError(t, ledger.RegisterToken(bank.Token{Address: rewardToken, Symbol: "WETH", Decimals: 18, Minter: minter}))
	for _, holder := range []common.Address{alice, bob, operator} {
		require.NoError(t, ledger.Mint(stakeToken, minter, holder, ether(100)))
	}
	require.NoError(t, ledger.Mint(rewardToken, minter, distributor, ether(1000)))
	require.NoError(t, ledger.Mint(rewardToken, minter, operator, ether(1000)))
	pool, err := NewPool(Config{
		Address:      poolAddr,
		StakingToken: stakeToken,
		RewardToken:  rewardToken,
		Operator:     operator,
		Distributor:  distributor,
		Creditor:     operator,
		Collateral:   collateral,
	}, ledger, nil)
	require.NoError(t, err)
	return &fixture{ledger: ledger, pool: pool}
}

func (f *fixture) sumUnderlying() *big.Int {
	sum := new(big.Int)
	for _, staker := range f.pool.Stakers() {
		sum.Add(sum, f.pool.BalanceOf(staker))
	}
	return sum
}

func TestStakeWithdrawKeepsSupplyInvariant(t *testing.T) {
	f := newFixture(t, false)
	steps := []struct {
		user   common.Address
		amount int64
		stake  bool
	}{
		{alice, 10, true},
		{bob, 5, true},
		{alice, 3, false},
		{bob, 5, false},
		{bob, 7, true},
		{alice, 7, false},
	}
	for _, step := range steps {
		if step.stake {
			require.NoError(t, f.pool.Stake(step.user, ether(step.amount)))
		} else {
			require.NoError(t, f.pool.Withdraw(step.user, ether(step.amount)))
		}
		require.Zero(t, f.sumUnderlying().Cmp(f.pool.TotalSupply()))
	}
	require.Equal(t, ether(7), f.pool.TotalSupply())
	require.Equal(t, ether(100), f.ledger.BalanceOf(stakeToken, alice))
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t, false)
	require.ErrorIs(t, f.pool.StakeFor(alice, alice, big.NewInt(0)), ErrZeroAmount)
	require.ErrorIs(t, f.pool.StakeFor(alice, common.Address{}, ether(1)), ErrZeroRecipient)
	require.NoError(t, f.pool.Stake(alice, ether(1)))
	require.ErrorIs(t, f.pool.Withdraw(alice, ether(2)), ErrInsufficientStake)
	require.ErrorIs(t, f.pool.WithdrawFor(alice, alice, ether(1)), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.pool.Distribute(alice, ether(1)), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.pool.Distribute(distributor, big.NewInt(0)), ErrZeroAmount)
}

func TestDistributeQueuesWhileEmpty(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.pool.Distribute(distributor, ether(2)))
	require.NoError(t, f.pool.Distribute(distributor, ether(3)))
	require.Equal(t, ether(5), f.pool.QueuedRewards())
	require.Zero(t, f.pool.AccRewardPerShare().Sign())

	require.NoError(t, f.pool.Stake(alice, ether(10)))
	require.NoError(t, f.pool.Distribute(distributor, ether(1)))
	require.Zero(t, f.pool.QueuedRewards().Sign())
	require.Equal(t, ether(6), f.pool.PendingRewards(alice))
}

func TestDistributeRetainsRemainder(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.pool.Stake(alice, big.NewInt(3)))
	require.NoError(t, f.pool.Distribute(distributor, big.NewInt(10)))
	// 10/3 per unit is not representable at 1e18 precision; the rest waits.
	pending := f.pool.PendingRewards(alice)
	queued := f.pool.QueuedRewards()
	require.Equal(t, int64(10), new(big.Int).Add(pending, queued).Int64())
}

func TestPendingRewardsProportionalAndClaim(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.pool.Stake(alice, ether(30)))
	require.NoError(t, f.pool.Stake(bob, ether(10)))
	require.NoError(t, f.pool.Distribute(distributor, ether(4)))
	require.Equal(t, ether(3), f.pool.PendingRewards(alice))
	require.Equal(t, ether(1), f.pool.PendingRewards(bob))

	// Settle-before-mutate: bob's earlier rewards survive a new stake.
	require.NoError(t, f.pool.Stake(bob, ether(20)))
	require.Equal(t, ether(1), f.pool.PendingRewards(bob))
	require.NoError(t, f.pool.Distribute(distributor, ether(6)))
	require.Equal(t, ether(4), f.pool.PendingRewards(bob))
	require.Equal(t, ether(6), f.pool.PendingRewards(alice))

	before := f.ledger.BalanceOf(rewardToken, bob)
	claimed, err := f.pool.Claim(bob)
	require.NoError(t, err)
	require.Equal(t, ether(4), claimed)
	require.Zero(t, f.pool.PendingRewards(bob).Sign())
	require.Equal(t, new(big.Int).Add(before, ether(4)), f.ledger.BalanceOf(rewardToken, bob))

	claimed, err = f.pool.Claim(bob)
	require.NoError(t, err)
	require.Zero(t, claimed.Sign())
}

func TestPendingMonotonicBetweenStakes(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.pool.Stake(alice, ether(1)))
	require.NoError(t, f.pool.Stake(bob, ether(2)))
	last := new(big.Int)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.pool.Distribute(distributor, big.NewInt(int64(1e15+i))))
		cur := f.pool.PendingRewards(alice)
		require.GreaterOrEqual(t, cur.Cmp(last), 0)
		last = cur
	}
}

func TestCollateralPool(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.pool.StakeFor(operator, alice, ether(5)))
	require.ErrorIs(t, f.pool.Withdraw(alice, ether(1)), ErrNotAllowed)

	require.NoError(t, f.pool.CreditFor(operator, alice, ether(2)))
	require.Equal(t, ether(2), f.pool.PendingRewards(alice))
	require.ErrorIs(t, f.pool.CreditFor(alice, alice, ether(2)), nativecommon.ErrUnauthorized)

	require.NoError(t, f.pool.WithdrawFor(operator, alice, ether(5)))
	require.Zero(t, f.pool.BalanceOf(alice).Sign())
	require.Equal(t, ether(105), f.ledger.BalanceOf(stakeToken, alice))
	require.Equal(t, ether(2), f.pool.PendingRewards(alice))
}

func TestCreditForRejectedOnPlainPool(t *testing.T) {
	f := newFixture(t, false)
	require.ErrorIs(t, f.pool.CreditFor(operator, alice, ether(1)), ErrNotAllowed)
}

func TestExportImport(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.pool.Stake(alice, ether(2)))
	require.NoError(t, f.pool.Distribute(distributor, ether(1)))
	state := f.pool.Export()

	g := newFixture(t, false)
	g.pool.Import(state)
	require.Equal(t, f.pool.PendingRewards(alice), g.pool.PendingRewards(alice))
	require.Equal(t, f.pool.TotalSupply(), g.pool.TotalSupply())
}
