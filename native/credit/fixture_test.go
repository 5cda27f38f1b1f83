package credit

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"yieldcredit/crypto"
	"yieldcredit/integrations/glp"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/native/distribution"
	"yieldcredit/native/rewards"
	"yieldcredit/native/vault"
)

var (
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	liquidator = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	treasury   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	tracker    = common.HexToAddress("0x00000000000000000000000000000000000000e5")

	wethToken   = crypto.ContractAddress("token/WETH")
	glpToken    = crypto.ContractAddress("token/GLP")
	creditToken = crypto.ContractAddress("token/CREDIT")
	vwethToken  = crypto.ContractAddress("token/vWETH")

	engineAddr    = crypto.ContractAddress("credit/engine")
	ledgerAddr    = crypto.ContractAddress("credit/ledger")
	stakerAddr    = crypto.ContractAddress("credit/staker")
	managerAddr   = crypto.ContractAddress("credit/manager/WETH")
	strategyAddr  = crypto.ContractAddress("strategy/glp")
	vaultAddr     = crypto.ContractAddress("vault/WETH")
	depDistAddr   = crypto.ContractAddress("distribution/depositor")
	vaultDistAddr = crypto.ContractAddress("distribution/vault/WETH")
	supplyAddr    = crypto.ContractAddress("rewards/supply/WETH")
	borrowedAddr  = crypto.ContractAddress("rewards/borrowed/WETH")
	lockerAddr    = crypto.ContractAddress("rewards/locker/WETH")
	collatAddr    = crypto.ContractAddress("rewards/collateral")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// milli returns n/1000 of one token.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), glp.PricePrecision)
}

type harness struct {
	clock          *clockwork.FakeClock
	bank           *bank.Ledger
	feed           *glp.PriceFeed
	strategy       *glp.Depositor
	vault          *vault.Vault
	supplyPool     *rewards.Pool
	borrowedPool   *rewards.Pool
	lockerPool     *rewards.Pool
	collateralPool *rewards.Pool
	vaultDist      *distribution.VaultDistributor
	depDist        *distribution.DepositorDistributor
	manager        *VaultManager
	ledger         *Ledger
	staker         *TokenStaker
	engine         *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	pauses := nativecommon.NewPauses()

	h.bank = bank.NewLedger()
	for _, tok := range []bank.Token{
		{Address: wethToken, Symbol: "WETH", Decimals: 18},
		{Address: glpToken, Symbol: "GLP", Decimals: 18, Minter: strategyAddr},
		{Address: creditToken, Symbol: "CREDIT", Decimals: 18, Minter: stakerAddr},
		{Address: vwethToken, Symbol: "vWETH", Decimals: 18, Minter: vaultAddr},
	} {
		require.NoError(t, h.bank.RegisterToken(tok))
	}
	require.NoError(t, h.bank.SetWrappedNative(wethToken))

	h.feed = glp.NewPriceFeed(owner)
	require.NoError(t, h.feed.SetTokenPrice(owner, wethToken, usd(1000)))

	var err error
	h.strategy, err = glp.NewDepositor(glp.DepositorConfig{
		Address:      strategyAddr,
		ShareToken:   glpToken,
		RewardToken:  wethToken,
		Owner:        owner,
		FeeRecipient: treasury,
	}, h.bank, h.feed, h.clock, nil)
	require.NoError(t, err)
	require.NoError(t, h.strategy.SetCaller(owner, engineAddr))
	require.NoError(t, h.strategy.SetHarvester(owner, tracker))
	require.NoError(t, h.bank.Allocate(wethToken, strategyAddr, ether(1000)))

	h.vault, err = vault.New(vault.Config{
		Address:    vaultAddr,
		Underlying: wethToken,
		ShareToken: vwethToken,
		Owner:      owner,
		Symbol:     "WETH",
	}, h.bank, pauses, nil)
	require.NoError(t, err)

	h.depDist, err = distribution.NewDepositorDistributor(distribution.DepositorDistributorConfig{
		Address:      depDistAddr,
		StakingToken: creditToken,
		RewardToken:  wethToken,
		Owner:        owner,
		Staker:       stakerAddr,
	}, h.bank, nil)
	require.NoError(t, err)
	h.vaultDist, err = distribution.NewVaultDistributor(distribution.VaultDistributorConfig{
		Address:      vaultDistAddr,
		StakingToken: creditToken,
		RewardToken:  wethToken,
		Owner:        owner,
		Staker:       depDistAddr,
		SupplyRatio:  500,
	}, h.bank, nil)
	require.NoError(t, err)
	require.NoError(t, h.vaultDist.AddDistributor(owner, depDistAddr))

	h.supplyPool = newPool(t, h.bank, rewards.Config{Address: supplyAddr, StakingToken: vwethToken, RewardToken: wethToken, Operator: vaultAddr, Distributor: vaultDistAddr})
	h.borrowedPool = newPool(t, h.bank, rewards.Config{Address: borrowedAddr, StakingToken: vwethToken, RewardToken: wethToken, Operator: vaultAddr, Distributor: vaultDistAddr})
	h.lockerPool = newPool(t, h.bank, rewards.Config{Address: lockerAddr, StakingToken: glpToken, RewardToken: wethToken, Operator: managerAddr, Distributor: managerAddr})
	h.collateralPool = newPool(t, h.bank, rewards.Config{
		Address:      collatAddr,
		StakingToken: creditToken,
		RewardToken:  wethToken,
		Operator:     stakerAddr,
		Distributor:  depDistAddr,
		Creditor:     engineAddr,
		Collateral:   true,
	})
	require.NoError(t, h.vault.SetRewardPools(owner, h.supplyPool, h.borrowedPool))
	require.NoError(t, h.vaultDist.SetRewardPools(owner, h.supplyPool, h.borrowedPool))
	require.NoError(t, h.depDist.AddExtraReward(owner, h.vaultDist))
	require.NoError(t, h.depDist.AddExtraReward(owner, h.collateralPool))

	h.manager, err = NewVaultManager(VaultManagerConfig{
		Address:       managerAddr,
		Owner:         owner,
		Caller:        engineAddr,
		RewardTracker: tracker,
		ShareToken:    glpToken,
	}, h.bank, h.vault, h.borrowedPool, h.lockerPool, nil)
	require.NoError(t, err)
	require.NoError(t, h.vault.AddCreditManager(owner, managerAddr))

	h.ledger = NewLedger(ledgerAddr, owner, h.clock, nil)
	require.NoError(t, h.ledger.SetCaller(owner, engineAddr))
	h.staker = NewTokenStaker(stakerAddr, h.bank, engineAddr, owner)
	require.NoError(t, h.staker.SetCreditToken(owner, creditToken))

	h.engine, err = NewEngine(engineAddr, owner, h.bank, h.feed, DefaultParams())
	require.NoError(t, err)
	h.engine.SetPauses(pauses)
	require.NoError(t, h.engine.SetCreditUser(owner, h.ledger))
	require.NoError(t, h.engine.SetCreditTokenStaker(owner, h.staker))
	require.NoError(t, h.engine.SetFeeRecipient(owner, treasury))
	require.NoError(t, h.engine.AddStrategy(owner, h.strategy, h.depDist, h.collateralPool,
		[]common.Address{wethToken}, []common.Address{vaultDistAddr}))
	require.NoError(t, h.engine.AddVaultManager(owner, wethToken, h.manager))

	require.NoError(t, h.bank.Allocate(wethToken, bob, ether(100)))
	require.NoError(t, h.vault.AddLiquidity(bob, ether(20)))
	require.NoError(t, h.bank.Allocate(crypto.NativeToken, alice, ether(10)))
	return h
}

func newPool(t *testing.T, ledger *bank.Ledger, cfg rewards.Config) *rewards.Pool {
	t.Helper()
	pool, err := rewards.NewPool(cfg, ledger, nil)
	require.NoError(t, err)
	return pool
}

func (h *harness) openNative(t *testing.T, user common.Address, amount *big.Int, ratios ...uint64) uint64 {
	t.Helper()
	borrowed := make([]common.Address, len(ratios))
	for i := range borrowed {
		borrowed[i] = wethToken
	}
	index, err := h.engine.OpenLendCredit(user, OpenRequest{
		Depositor:      strategyAddr,
		Token:          crypto.NativeToken,
		AmountIn:       amount,
		BorrowedTokens: borrowed,
		Ratios:         ratios,
		Recipient:      user,
		Value:          amount,
	})
	require.NoError(t, err)
	return index
}

func (h *harness) setEthPrice(t *testing.T, dollars int64) {
	t.Helper()
	require.NoError(t, h.feed.SetTokenPrice(owner, wethToken, usd(dollars)))
}

func (h *harness) terminated(t *testing.T, user common.Address, index uint64) bool {
	t.Helper()
	done, err := h.ledger.IsTerminated(engineAddr, user, index)
	require.NoError(t, err)
	return done
}
