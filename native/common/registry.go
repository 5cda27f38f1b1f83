package common

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrRegistryFull      = errors.New("registry full")
	ErrRegistryDuplicate = errors.New("registry duplicate")
	ErrRegistryMissing   = errors.New("registry entry missing")
	ErrRegistryIndex     = errors.New("registry index out of range")
)

// Registry is a bounded ordered set of addresses. Removal swaps the last
// entry into the vacated slot, so order is only stable between removals.
type Registry struct {
	limit int
	items []common.Address
	index map[common.Address]int
}

// NewRegistry returns a registry holding at most limit entries. A limit of
// zero or less means unbounded.
func NewRegistry(limit int) *Registry {
	return &Registry{limit: limit, index: make(map[common.Address]int)}
}

func (r *Registry) Add(addr common.Address) error {
	if _, ok := r.index[addr]; ok {
		return ErrRegistryDuplicate
	}
	if r.limit > 0 && len(r.items) >= r.limit {
		return ErrRegistryFull
	}
	r.index[addr] = len(r.items)
	r.items = append(r.items, addr)
	return nil
}

func (r *Registry) Remove(addr common.Address) error {
	i, ok := r.index[addr]
	if !ok {
		return ErrRegistryMissing
	}
	return r.RemoveAt(i)
}

func (r *Registry) RemoveAt(i int) error {
	if i < 0 || i >= len(r.items) {
		return ErrRegistryIndex
	}
	last := len(r.items) - 1
	removed := r.items[i]
	if i != last {
		r.items[i] = r.items[last]
		r.index[r.items[i]] = i
	}
	r.items = r.items[:last]
	delete(r.index, removed)
	return nil
}

func (r *Registry) Contains(addr common.Address) bool {
	_, ok := r.index[addr]
	return ok
}

func (r *Registry) At(i int) (common.Address, bool) {
	if i < 0 || i >= len(r.items) {
		return common.Address{}, false
	}
	return r.items[i], true
}

func (r *Registry) Len() int   { return len(r.items) }
func (r *Registry) Limit() int { return r.limit }

// Items returns a copy of the entries in registry order.
func (r *Registry) Items() []common.Address {
	out := make([]common.Address, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Registry) Clone() *Registry {
	out := &Registry{
		limit: r.limit,
		items: make([]common.Address, len(r.items)),
		index: make(map[common.Address]int, len(r.index)),
	}
	copy(out.items, r.items)
	for k, v := range r.index {
		out.index[k] = v
	}
	return out
}
