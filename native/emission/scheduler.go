package emission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
	"yieldcredit/observability/metrics"
)

const (
	MaxManagers   = 12
	MaxDepositors = 8

	RoleOwner nativecommon.Role = "owner"
)

var (
	ErrZeroAddress     = errors.New("emission: address cannot be 0x0")
	ErrDuplicateMgr    = errors.New("emission: Duplicate _manager")
	ErrDuplicateDep    = errors.New("emission: Duplicate _depositor")
	ErrMaxLimit        = errors.New("emission: Maximum limit exceeded")
	ErrIndexOutOfRange = errors.New("emission: Index out of range")
	ErrNotAllowed      = errors.New("emission: Not allowed")
	ErrNoPendingOwner  = errors.New("emission: pendingOwner cannot be 0x0")
	ErrZeroDuration    = errors.New("emission: duration must be positive")
)

// Harvester is anything that pays accrued income to the caller on Harvest:
// strategy depositors and credit vault managers.
type Harvester interface {
	Address() common.Address
	Harvest(caller common.Address) (*big.Int, error)
}

// Sink receives released income, pulling it from the caller.
type Sink interface {
	Address() common.Address
	Distribute(caller common.Address, amount *big.Int) error
}

// ExecFunc runs fn as one atomic protocol transaction.
type ExecFunc func(ctx context.Context, name string, fn func() error) error

type Config struct {
	Address common.Address
	Owner   common.Address
	// Duration is the length of the linear stream each harvest restarts.
	Duration time.Duration
	// Interval is the tick period of Start.
	Interval time.Duration
}

// Scheduler harvests registered depositors and managers and streams the
// depositor income into the distribution tree.
type Scheduler struct {
	mu     sync.RWMutex
	cfg    Config
	sink   Sink
	clock  clockwork.Clock
	logger *slog.Logger
	exec   ExecFunc

	perms        *nativecommon.Permissions
	pendingOwner common.Address
	managers     *nativecommon.Registry
	depositors   *nativecommon.Registry
	harvesters   map[common.Address]Harvester
	executors    map[common.Address]bool
	streams      map[common.Address]*Stream
}

func New(cfg Config, sink Sink, clock clockwork.Clock, logger *slog.Logger) (*Scheduler, error) {
	if crypto.IsZero(cfg.Address) || crypto.IsZero(cfg.Owner) {
		return nil, ErrZeroAddress
	}
	if sink == nil {
		return nil, fmt.Errorf("emission: sink required")
	}
	if cfg.Duration <= 0 {
		return nil, ErrZeroDuration
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	perms := nativecommon.NewPermissions("emission").
		Define("govern", RoleOwner)
	perms.Set(RoleOwner, cfg.Owner)
	return &Scheduler{
		cfg:        cfg,
		sink:       sink,
		clock:      clock,
		logger:     logger.With("module", "emission"),
		perms:      perms,
		managers:   nativecommon.NewRegistry(MaxManagers),
		depositors: nativecommon.NewRegistry(MaxDepositors),
		harvesters: make(map[common.Address]Harvester),
		executors:  make(map[common.Address]bool),
		streams:    make(map[common.Address]*Stream),
	}, nil
}

func (s *Scheduler) Address() common.Address { return s.cfg.Address }

// SetExecutor routes every tick of Start through exec.
func (s *Scheduler) SetExecutor(exec ExecFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
}

func (s *Scheduler) govern(caller common.Address) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms.Require("govern", caller)
}

func (s *Scheduler) Owner() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.perms.Members(RoleOwner)
	if len(members) == 0 {
		return common.Address{}
	}
	return members[0]
}

func (s *Scheduler) SetPendingOwner(caller, next common.Address) error {
	if err := s.govern(caller); err != nil {
		return err
	}
	if crypto.IsZero(next) {
		return ErrZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOwner = next
	return nil
}

// AcceptOwner hands ownership to the pending owner.
func (s *Scheduler) AcceptOwner(caller common.Address) error {
	if err := s.govern(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if crypto.IsZero(s.pendingOwner) {
		return ErrNoPendingOwner
	}
	s.perms.Set(RoleOwner, s.pendingOwner)
	s.pendingOwner = common.Address{}
	return nil
}

func (s *Scheduler) AddManager(caller common.Address, manager Harvester) error {
	return s.add(caller, s.managers, manager, ErrDuplicateMgr)
}

func (s *Scheduler) AddDepositor(caller common.Address, depositor Harvester) error {
	return s.add(caller, s.depositors, depositor, ErrDuplicateDep)
}

func (s *Scheduler) add(caller common.Address, reg *nativecommon.Registry, h Harvester, duplicate error) error {
	if err := s.govern(caller); err != nil {
		return err
	}
	if h == nil || crypto.IsZero(h.Address()) {
		return ErrZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch err := reg.Add(h.Address()); {
	case errors.Is(err, nativecommon.ErrRegistryDuplicate):
		return duplicate
	case errors.Is(err, nativecommon.ErrRegistryFull):
		return ErrMaxLimit
	case err != nil:
		return err
	}
	s.harvesters[h.Address()] = h
	return nil
}

func (s *Scheduler) RemoveManager(caller common.Address, index int) error {
	return s.remove(caller, s.managers, index)
}

func (s *Scheduler) RemoveDepositor(caller common.Address, index int) error {
	return s.remove(caller, s.depositors, index)
}

func (s *Scheduler) remove(caller common.Address, reg *nativecommon.Registry, index int) error {
	if err := s.govern(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := reg.At(index)
	if !ok {
		return ErrIndexOutOfRange
	}
	if err := reg.RemoveAt(index); err != nil {
		return err
	}
	if !s.managers.Contains(addr) && !s.depositors.Contains(addr) {
		delete(s.harvesters, addr)
	}
	return nil
}

func (s *Scheduler) Managers() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.managers.Items()
}

func (s *Scheduler) Depositors() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depositors.Items()
}

// ToggleVaultCanExecute flips whether vault may trigger Execute.
func (s *Scheduler) ToggleVaultCanExecute(caller, vault common.Address) error {
	if err := s.govern(caller); err != nil {
		return err
	}
	if crypto.IsZero(vault) {
		return ErrZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[vault] = !s.executors[vault]
	return nil
}

func (s *Scheduler) CanExecute(vault common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executors[vault]
}

// Execute harvests every depositor and manager on behalf of an allowed
// vault.
func (s *Scheduler) Execute(caller common.Address) error {
	if !s.CanExecute(caller) {
		return ErrNotAllowed
	}
	if _, err := s.HarvestDepositors(); err != nil {
		return err
	}
	_, err := s.HarvestManagers()
	return err
}

func (s *Scheduler) list(reg *nativecommon.Registry) []Harvester {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := reg.Items()
	out := make([]Harvester, 0, len(items))
	for _, addr := range items {
		out = append(out, s.harvesters[addr])
	}
	return out
}

// HarvestDepositors collects each depositor's yield and adds it to that
// depositor's stream. It returns the total collected.
func (s *Scheduler) HarvestDepositors() (*big.Int, error) {
	total := new(big.Int)
	for _, d := range s.list(s.depositors) {
		claimed, err := d.Harvest(s.cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("emission: harvest depositor %s: %w", d.Address().Hex(), err)
		}
		if !nativecommon.Positive(claimed) {
			continue
		}
		now := s.clock.Now()
		s.mu.Lock()
		stream, ok := s.streams[d.Address()]
		if !ok {
			stream = newStream(now)
			s.streams[d.Address()] = stream
		}
		stream.add(claimed, now, s.cfg.Duration)
		s.mu.Unlock()
		total.Add(total, claimed)
	}
	return total, nil
}

// HarvestManagers has every manager forward its borrowed-side rewards to its
// share lockers.
func (s *Scheduler) HarvestManagers() (*big.Int, error) {
	total := new(big.Int)
	for _, m := range s.list(s.managers) {
		claimed, err := m.Harvest(s.cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("emission: harvest manager %s: %w", m.Address().Hex(), err)
		}
		if claimed != nil {
			total.Add(total, claimed)
		}
	}
	return total, nil
}

// Release distributes everything streamed since the last release into the
// sink and returns the amount.
func (s *Scheduler) Release() (*big.Int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	total := new(big.Int)
	for _, stream := range s.streams {
		total.Add(total, stream.take(now))
	}
	s.mu.Unlock()
	if total.Sign() == 0 {
		return total, nil
	}
	if err := s.sink.Distribute(s.cfg.Address, total); err != nil {
		return nil, fmt.Errorf("emission: release: %w", err)
	}
	s.logger.Debug("emission released", "amount", total.String())
	return total, nil
}

// Pending is the unreleased balance across all streams.
func (s *Scheduler) Pending() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := new(big.Int)
	for _, stream := range s.streams {
		total.Add(total, stream.unreleased())
	}
	return total
}

// Stream returns a copy of depositor's stream.
func (s *Scheduler) Stream(depositor common.Address) (*Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.streams[depositor]
	if !ok {
		return nil, false
	}
	return stream.clone(), true
}

// Start harvests and releases every Interval until ctx is done. Each phase
// runs as its own transaction; failures are logged and the loop goes on.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		s.logger.Info("emission: starting harvest loop", "interval", interval, "duration", s.cfg.Duration)
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.Tick(ctx)
			}
		}
	}()
}

// Tick runs one harvest and release round.
func (s *Scheduler) Tick(ctx context.Context) {
	s.safeRun(ctx, "depositors", func() error {
		_, err := s.HarvestDepositors()
		return err
	})
	s.safeRun(ctx, "managers", func() error {
		_, err := s.HarvestManagers()
		return err
	})
	s.safeRun(ctx, "release", func() error {
		_, err := s.Release()
		return err
	})
}

func (s *Scheduler) safeRun(ctx context.Context, kind string, fn func() error) {
	telemetry := metrics.Credit()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("emission: harvest panicked", "kind", kind, "panic", r)
			telemetry.ObserveHarvest(kind, fmt.Errorf("panic: %v", r))
		}
	}()
	s.mu.RLock()
	exec := s.exec
	s.mu.RUnlock()
	var err error
	if exec != nil {
		err = exec(ctx, "emission/"+kind, fn)
	} else {
		err = fn()
	}
	telemetry.ObserveHarvest(kind, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("emission: harvest failed", "kind", kind, "error", err)
	}
}

// Snapshot implements common.Stateful.
func (s *Scheduler) Snapshot() func() {
	s.mu.RLock()
	perms := s.perms.Clone()
	pending := s.pendingOwner
	managers, depositors := s.managers.Clone(), s.depositors.Clone()
	harvesters := make(map[common.Address]Harvester, len(s.harvesters))
	for k, v := range s.harvesters {
		harvesters[k] = v
	}
	executors := make(map[common.Address]bool, len(s.executors))
	for k, v := range s.executors {
		executors[k] = v
	}
	streams := make(map[common.Address]*Stream, len(s.streams))
	for k, v := range s.streams {
		streams[k] = v.clone()
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.perms, s.pendingOwner = perms, pending
		s.managers, s.depositors = managers, depositors
		s.harvesters, s.executors, s.streams = harvesters, executors, streams
	}
}
