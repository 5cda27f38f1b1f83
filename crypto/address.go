package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NativeToken is the proxy symbol used wherever the chain's native asset is
// passed in place of an ERC-20 token address.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// ZeroAddress is the unset address.
var ZeroAddress common.Address

// IsZero reports whether addr is the zero address.
func IsZero(addr common.Address) bool {
	return addr == ZeroAddress
}

// IsNative reports whether addr is the native-asset proxy symbol.
func IsNative(addr common.Address) bool {
	return addr == NativeToken
}

// ParseAddress decodes a 0x-prefixed hex address. Empty input and malformed
// hex are rejected; the zero address is accepted and must be checked by the
// caller where it is not meaningful.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("crypto: address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("crypto: invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ContractAddress derives the deterministic address of a protocol component
// from its label, e.g. "vault/WETH". The same label always yields the same
// address so restarts and checkpoints agree on identities.
func ContractAddress(label string) common.Address {
	hash := ethcrypto.Keccak256([]byte("yieldcredit:" + strings.ToLower(strings.TrimSpace(label))))
	return common.BytesToAddress(hash[12:])
}
