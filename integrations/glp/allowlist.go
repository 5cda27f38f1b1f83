package glp

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Allowlist gates who may open credit when enabled.
type Allowlist struct {
	mu      sync.RWMutex
	address common.Address
	owner   common.Address
	allowed map[common.Address]bool
}

func NewAllowlist(address, owner common.Address) *Allowlist {
	return &Allowlist{address: address, owner: owner, allowed: make(map[common.Address]bool)}
}

func (a *Allowlist) Address() common.Address { return a.address }

func (a *Allowlist) Can(addr common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allowed[addr]
}

func (a *Allowlist) Allow(caller common.Address, addrs ...common.Address) error {
	return a.set(caller, true, addrs)
}

func (a *Allowlist) Deny(caller common.Address, addrs ...common.Address) error {
	return a.set(caller, false, addrs)
}

func (a *Allowlist) set(caller common.Address, allowed bool, addrs []common.Address) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range addrs {
		if allowed {
			a.allowed[addr] = true
		} else {
			delete(a.allowed, addr)
		}
	}
	return nil
}

// Snapshot implements common.Stateful.
func (a *Allowlist) Snapshot() func() {
	a.mu.RLock()
	saved := make(map[common.Address]bool, len(a.allowed))
	for k, v := range a.allowed {
		saved[k] = v
	}
	a.mu.RUnlock()
	return func() {
		a.mu.Lock()
		a.allowed = saved
		a.mu.Unlock()
	}
}
