package common

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnauthorized is matched by every AuthError.
var ErrUnauthorized = errors.New("unauthorized")

// Role names a capability holder, e.g. "operator" or "distributor".
type Role string

// AuthError reports a caller that does not hold the role an operation needs.
type AuthError struct {
	Module    string
	Operation string
	Role      Role
	Message   string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Module + ": " + e.Message
	}
	return fmt.Sprintf("%s: caller is not the %s", e.Module, e.Role)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Permissions is a capability table: each operation maps to exactly one
// role, and Require is evaluated before any handler body runs.
type Permissions struct {
	module   string
	ops      map[string]Role
	messages map[Role]string
	members  map[Role]map[common.Address]struct{}
}

func NewPermissions(module string) *Permissions {
	return &Permissions{
		module:   module,
		ops:      make(map[string]Role),
		messages: make(map[Role]string),
		members:  make(map[Role]map[common.Address]struct{}),
	}
}

// Define binds an operation to the role allowed to call it.
func (p *Permissions) Define(op string, role Role) *Permissions {
	p.ops[op] = role
	return p
}

// Describe sets the failure message reported for role violations.
func (p *Permissions) Describe(role Role, message string) *Permissions {
	p.messages[role] = message
	return p
}

func (p *Permissions) Grant(role Role, addr common.Address) {
	set, ok := p.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		p.members[role] = set
	}
	set[addr] = struct{}{}
}

func (p *Permissions) Revoke(role Role, addr common.Address) {
	if set, ok := p.members[role]; ok {
		delete(set, addr)
	}
}

// Set replaces every holder of role with addr.
func (p *Permissions) Set(role Role, addr common.Address) {
	p.members[role] = map[common.Address]struct{}{addr: {}}
}

func (p *Permissions) Has(role Role, addr common.Address) bool {
	_, ok := p.members[role][addr]
	return ok
}

// Members returns the holders of role in byte order.
func (p *Permissions) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(p.members[role]))
	for addr := range p.members[role] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Require checks that caller holds the role bound to op.
func (p *Permissions) Require(op string, caller common.Address) error {
	role, ok := p.ops[op]
	if !ok {
		return fmt.Errorf("%s: operation %q has no capability binding", p.module, op)
	}
	if p.Has(role, caller) {
		return nil
	}
	return &AuthError{Module: p.module, Operation: op, Role: role, Message: p.messages[role]}
}

// Clone deep-copies role membership. The operation table is immutable after
// construction and is shared.
func (p *Permissions) Clone() *Permissions {
	out := &Permissions{
		module:   p.module,
		ops:      p.ops,
		messages: p.messages,
		members:  make(map[Role]map[common.Address]struct{}, len(p.members)),
	}
	for role, set := range p.members {
		cp := make(map[common.Address]struct{}, len(set))
		for addr := range set {
			cp[addr] = struct{}{}
		}
		out.members[role] = cp
	}
	return out
}
