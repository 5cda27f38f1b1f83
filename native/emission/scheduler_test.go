package emission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"yieldcredit/crypto"
	"yieldcredit/native/bank"
	nativecommon "yieldcredit/native/common"
)

var (
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	rewardTok  = crypto.ContractAddress("token/WETH")
	schedAddr  = crypto.ContractAddress("emission/scheduler")
	sinkAddr   = crypto.ContractAddress("distribution/depositor")
	sourceAddr = crypto.ContractAddress("strategy/glp")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// source pays out whatever has been queued in yield.
type source struct {
	addr   common.Address
	bank   *bank.Ledger
	yield  *big.Int
	err    error
	called int
}

func (s *source) Address() common.Address { return s.addr }

func (s *source) Harvest(caller common.Address) (*big.Int, error) {
	s.called++
	if s.err != nil {
		return nil, s.err
	}
	out := s.yield
	s.yield = new(big.Int)
	if out.Sign() > 0 {
		if err := s.bank.Transfer(rewardTok, s.addr, caller, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type sink struct {
	bank     *bank.Ledger
	received *big.Int
}

func (s *sink) Address() common.Address { return sinkAddr }

func (s *sink) Distribute(caller common.Address, amount *big.Int) error {
	if err := s.bank.Transfer(rewardTok, caller, sinkAddr, amount); err != nil {
		return err
	}
	s.received.Add(s.received, amount)
	return nil
}

type fixture struct {
	clock *clockwork.FakeClock
	bank  *bank.Ledger
	src   *source
	sink  *sink
	sched *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)), bank: bank.NewLedger()}
	require.NoError(t, f.bank.RegisterToken(bank.Token{Address: rewardTok, Symbol: "WETH", Decimals: 18}))
	require.NoError(t, f.bank.Allocate(rewardTok, sourceAddr, ether(1000)))
	f.src = &source{addr: sourceAddr, bank: f.bank, yield: new(big.Int)}
	f.sink = &sink{bank: f.bank, received: new(big.Int)}
	var err error
	f.sched, err = New(Config{Address: schedAddr, Owner: owner, Duration: 7 * 24 * time.Hour, Interval: time.Hour}, f.sink, f.clock, nil)
	require.NoError(t, err)
	require.NoError(t, f.sched.AddDepositor(owner, f.src))
	return f
}

func TestStreamReleasesHarvestLinearly(t *testing.T) {
	f := newFixture(t)
	f.src.yield = ether(70)

	got, err := f.sched.HarvestDepositors()
	require.NoError(t, err)
	require.Equal(t, ether(70), got)
	require.Equal(t, ether(70), f.sched.Pending())

	f.clock.Advance(24 * time.Hour)
	released, err := f.sched.Release()
	require.NoError(t, err)
	require.Equal(t, ether(10), released)

	f.clock.Advance(3 * 24 * time.Hour)
	released, err = f.sched.Release()
	require.NoError(t, err)
	require.Equal(t, ether(30), released)

	f.clock.Advance(30 * 24 * time.Hour)
	released, err = f.sched.Release()
	require.NoError(t, err)
	require.Equal(t, ether(30), released)
	require.Equal(t, ether(70), f.sink.received)
	require.Zero(t, f.sched.Pending().Sign())
	require.Zero(t, f.bank.BalanceOf(rewardTok, schedAddr).Sign())
}

func TestTopUpRestartsPeriod(t *testing.T) {
	f := newFixture(t)
	f.src.yield = ether(70)
	_, err := f.sched.HarvestDepositors()
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.sched.Release()
	require.NoError(t, err)

	f.src.yield = ether(10)
	_, err = f.sched.HarvestDepositors()
	require.NoError(t, err)
	stream, ok := f.sched.Stream(sourceAddr)
	require.True(t, ok)
	require.Equal(t, ether(70), stream.Remaining)
	require.Equal(t, f.clock.Now().Add(7*24*time.Hour), stream.PeriodFinish)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.sched.Release()
	require.NoError(t, err)
	require.Equal(t, ether(80), f.sink.received)
}

func TestHarvestEveryTickStillStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	harvested := new(big.Int)
	for i := 0; i < 168; i++ {
		f.clock.Advance(time.Hour)
		f.src.yield = ether(1)
		harvested.Add(harvested, ether(1))
		f.sched.Tick(ctx)
		if i == 0 {
			require.Zero(t, f.sink.received.Sign())
		} else {
			require.Positive(t, f.sink.received.Sign(), "tick %d", i)
		}
	}
	total := new(big.Int).Add(f.sink.received, f.sched.Pending())
	require.Equal(t, harvested, total)
	// A week of hourly top-ups streams well over a tenth of the total.
	require.Positive(t, new(big.Int).Sub(f.sink.received, ether(17)).Sign())
	require.Equal(t, f.sched.Pending(), f.bank.BalanceOf(rewardTok, schedAddr))
}

func TestTopUpBooksVestedAmount(t *testing.T) {
	f := newFixture(t)
	f.src.yield = ether(70)
	_, err := f.sched.HarvestDepositors()
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	f.src.yield = ether(10)
	_, err = f.sched.HarvestDepositors()
	require.NoError(t, err)
	stream, ok := f.sched.Stream(sourceAddr)
	require.True(t, ok)
	require.Equal(t, ether(10), stream.Vested)
	require.Equal(t, ether(70), stream.Remaining)
	require.Equal(t, ether(80), f.sched.Pending())

	released, err := f.sched.Release()
	require.NoError(t, err)
	require.Equal(t, ether(10), released)
	stream, _ = f.sched.Stream(sourceAddr)
	require.Zero(t, stream.Vested.Sign())
}

func TestReleaseWithNothingDue(t *testing.T) {
	f := newFixture(t)
	released, err := f.sched.Release()
	require.NoError(t, err)
	require.Zero(t, released.Sign())
	require.Zero(t, f.sink.received.Sign())
}

func TestRegistries(t *testing.T) {
	f := newFixture(t)
	s := f.sched

	require.ErrorIs(t, s.AddDepositor(owner, f.src), ErrDuplicateDep)
	require.ErrorIs(t, s.AddManager(stranger, f.src), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, s.AddManager(owner, &source{}), ErrZeroAddress)

	for i := 0; i < MaxManagers; i++ {
		require.NoError(t, s.AddManager(owner, &source{addr: crypto.ContractAddress(fmt.Sprintf("manager/%d", i))}))
	}
	require.ErrorIs(t, s.AddManager(owner, &source{addr: crypto.ContractAddress("manager/extra")}), ErrMaxLimit)
	require.ErrorIs(t, s.AddManager(owner, &source{addr: crypto.ContractAddress("manager/0")}), ErrDuplicateMgr)

	for i := 1; i < MaxDepositors; i++ {
		require.NoError(t, s.AddDepositor(owner, &source{addr: crypto.ContractAddress(fmt.Sprintf("depositor/%d", i))}))
	}
	require.ErrorIs(t, s.AddDepositor(owner, &source{addr: crypto.ContractAddress("depositor/extra")}), ErrMaxLimit)

	require.ErrorIs(t, s.RemoveManager(owner, MaxManagers), ErrIndexOutOfRange)
	require.NoError(t, s.RemoveManager(owner, MaxManagers-1))
	require.Len(t, s.Managers(), MaxManagers-1)
	require.ErrorIs(t, s.RemoveDepositor(owner, -1), ErrIndexOutOfRange)
	require.NoError(t, s.RemoveDepositor(owner, 0))
	require.Len(t, s.Depositors(), MaxDepositors-1)
}

func TestOwnershipHandoff(t *testing.T) {
	f := newFixture(t)
	s := f.sched

	require.ErrorIs(t, s.SetPendingOwner(owner, common.Address{}), ErrZeroAddress)
	require.ErrorIs(t, s.AcceptOwner(owner), ErrNoPendingOwner)
	require.ErrorIs(t, s.SetPendingOwner(stranger, stranger), nativecommon.ErrUnauthorized)

	require.NoError(t, s.SetPendingOwner(owner, stranger))
	require.NoError(t, s.AcceptOwner(owner))
	require.Equal(t, stranger, s.Owner())
	require.ErrorIs(t, s.ToggleVaultCanExecute(owner, vaultAddr), nativecommon.ErrUnauthorized)
}

func TestExecuteRequiresAllowedVault(t *testing.T) {
	f := newFixture(t)
	mgr := &source{addr: crypto.ContractAddress("manager/WETH"), bank: f.bank, yield: new(big.Int)}
	require.NoError(t, f.sched.AddManager(owner, mgr))

	require.ErrorIs(t, f.sched.Execute(vaultAddr), ErrNotAllowed)
	require.ErrorIs(t, f.sched.ToggleVaultCanExecute(owner, common.Address{}), ErrZeroAddress)
	require.NoError(t, f.sched.ToggleVaultCanExecute(owner, vaultAddr))

	f.src.yield = ether(7)
	require.NoError(t, f.sched.Execute(vaultAddr))
	require.Equal(t, 1, f.src.called)
	require.Equal(t, 1, mgr.called)
	require.Equal(t, ether(7), f.sched.Pending())

	require.NoError(t, f.sched.ToggleVaultCanExecute(owner, vaultAddr))
	require.ErrorIs(t, f.sched.Execute(vaultAddr), ErrNotAllowed)
}

func TestTickKeepsGoingAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.src.err = errors.New("strategy offline")
	mgr := &source{addr: crypto.ContractAddress("manager/WETH"), bank: f.bank, yield: new(big.Int)}
	require.NoError(t, f.sched.AddManager(owner, mgr))

	var ran []string
	f.sched.SetExecutor(func(ctx context.Context, name string, fn func() error) error {
		ran = append(ran, name)
		return fn()
	})
	f.sched.Tick(context.Background())
	require.Equal(t, []string{"emission/depositors", "emission/managers", "emission/release"}, ran)
	require.Equal(t, 1, mgr.called)
}

func TestStartTicksOnClock(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 8)
	f.sched.SetExecutor(func(ctx context.Context, name string, fn func() error) error {
		err := fn()
		done <- name
		return err
	})
	f.src.yield = ether(5)
	f.sched.Start(ctx)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)

	for _, want := range []string{"emission/depositors", "emission/managers", "emission/release"} {
		select {
		case got := <-done:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("tick %s did not run", want)
		}
	}
	require.Equal(t, ether(5), f.sched.Pending())
}

func TestSnapshotRestoresStreams(t *testing.T) {
	f := newFixture(t)
	restore := f.sched.Snapshot()
	f.src.yield = ether(3)
	_, err := f.sched.HarvestDepositors()
	require.NoError(t, err)
	require.NoError(t, f.sched.ToggleVaultCanExecute(owner, vaultAddr))
	restore()
	require.Zero(t, f.sched.Pending().Sign())
	require.False(t, f.sched.CanExecute(vaultAddr))
}
