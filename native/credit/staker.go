package credit

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldcredit/crypto"
	nativecommon "yieldcredit/native/common"
)

var (
	ErrAlreadyOwner = errors.New("credit: is already owner")
	ErrNotAnOwner   = errors.New("credit: is not an owner")
)

// TokenStaker mints credit tokens against strategy shares and stakes them
// into the distribution tree. It is the only minter of the credit token.
type TokenStaker struct {
	mu          sync.RWMutex
	address     common.Address
	tokens      TokenLedger
	owners      map[common.Address]struct{}
	creditToken common.Address
}

func NewTokenStaker(address common.Address, tokens TokenLedger, owners ...common.Address) *TokenStaker {
	s := &TokenStaker{
		address: address,
		tokens:  tokens,
		owners:  make(map[common.Address]struct{}, len(owners)),
	}
	for _, owner := range owners {
		s.owners[owner] = struct{}{}
	}
	return s
}

func (s *TokenStaker) Address() common.Address { return s.address }

func (s *TokenStaker) CreditToken() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creditToken
}

func (s *TokenStaker) IsOwner(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owners[addr]
	return ok
}

func (s *TokenStaker) requireOwner(caller common.Address) error {
	if !s.IsOwner(caller) {
		return &nativecommon.AuthError{Module: "credit/staker", Operation: "owner", Role: RoleOwner}
	}
	return nil
}

func (s *TokenStaker) AddOwner(caller, owner common.Address) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if crypto.IsZero(owner) {
		return ErrZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[owner]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyOwner, owner.Hex())
	}
	s.owners[owner] = struct{}{}
	return nil
}

func (s *TokenStaker) RemoveOwner(caller, owner common.Address) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[owner]; !ok {
		return fmt.Errorf("%w: %s", ErrNotAnOwner, owner.Hex())
	}
	delete(s.owners, owner)
	return nil
}

// SetCreditToken binds the credit token. It can run once.
func (s *TokenStaker) SetCreditToken(caller, token common.Address) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if crypto.IsZero(token) {
		return ErrZeroToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !crypto.IsZero(s.creditToken) {
		return ErrAlreadyInitialized
	}
	s.creditToken = token
	return nil
}

func (s *TokenStaker) token() (common.Address, error) {
	token := s.CreditToken()
	if crypto.IsZero(token) {
		return common.Address{}, ErrNotInitialized
	}
	return token, nil
}

// Stake mints amount of credit tokens and stakes them into target through
// the router.
func (s *TokenStaker) Stake(caller common.Address, router StakeRouter, target common.Address, amount *big.Int) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	token, err := s.token()
	if err != nil {
		return err
	}
	if err := s.tokens.Mint(token, s.address, s.address, amount); err != nil {
		return fmt.Errorf("credit: mint credit: %w", err)
	}
	return router.Stake(s.address, target, amount)
}

// Withdraw unstakes amount from target and burns it.
func (s *TokenStaker) Withdraw(caller common.Address, router StakeRouter, target common.Address, amount *big.Int) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	token, err := s.token()
	if err != nil {
		return err
	}
	if err := router.Withdraw(s.address, target, amount); err != nil {
		return err
	}
	return s.tokens.Burn(token, s.address, s.address, amount)
}

// StakeFor mints amount of credit tokens and stakes them for recipient in
// the collateral pool.
func (s *TokenStaker) StakeFor(caller common.Address, pool CollateralPool, recipient common.Address, amount *big.Int) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	token, err := s.token()
	if err != nil {
		return err
	}
	if err := s.tokens.Mint(token, s.address, s.address, amount); err != nil {
		return fmt.Errorf("credit: mint credit: %w", err)
	}
	return pool.StakeFor(s.address, recipient, amount)
}

// WithdrawFor unstakes recipient's collateral credit and burns it.
func (s *TokenStaker) WithdrawFor(caller common.Address, pool CollateralPool, recipient common.Address, amount *big.Int) error {
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	token, err := s.token()
	if err != nil {
		return err
	}
	if err := pool.WithdrawFor(s.address, recipient, amount); err != nil {
		return err
	}
	return s.tokens.Burn(token, s.address, recipient, amount)
}

// Snapshot implements common.Stateful.
func (s *TokenStaker) Snapshot() func() {
	s.mu.RLock()
	owners := make(map[common.Address]struct{}, len(s.owners))
	for k := range s.owners {
		owners[k] = struct{}{}
	}
	token := s.creditToken
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.owners = owners
		s.creditToken = token
	}
}
