package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContractAddressDeterministic(t *testing.T) {
	a := ContractAddress("vault/WETH")
	b := ContractAddress(" Vault/weth ")
	require.Equal(t, a, b)
	require.NotEqual(t, a, ContractAddress("vault/USDT"))
	require.False(t, IsZero(a))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	require.NoError(t, err)
	require.True(t, IsNative(addr))

	_, err = ParseAddress("")
	require.Error(t, err)
	_, err = ParseAddress("0x1234")
	require.Error(t, err)
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.Address(), restored.Address())
}
