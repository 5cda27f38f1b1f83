package credit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalcHealth(t *testing.T) {
	cases := []struct {
		name         string
		a, b         *big.Int
		threshold    uint64
		health       uint64
		liquidatable bool
	}{
		{"no debt", ether(10), big.NewInt(0), 400, MaxHealth, false},
		{"nil debt", ether(10), nil, 400, MaxHealth, false},
		{"nothing held", big.NewInt(0), ether(1), 400, 0, true},
		{"even", ether(1), ether(1), 400, 500, false},
		{"4x leverage", ether(4500), ether(3600), 400, 555, false},
		{"at threshold", ether(2), ether(3), 400, 400, true},
		{"below threshold", ether(9000), ether(81000), 400, 100, true},
		{"rounds down", big.NewInt(1), big.NewInt(2), 300, 333, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			health, liquidatable := CalcHealth(tc.a, tc.b, tc.threshold)
			require.Equal(t, tc.health, health)
			require.Equal(t, tc.liquidatable, liquidatable)
		})
	}
}
