package credit

import "math/big"

// CalcHealth scores a position from a, the value of everything it holds, and
// b, the value of what it owes. Health is a*1000/(a+b) capped at MaxHealth
// and is MaxHealth when nothing is owed. The position is liquidatable when
// health does not exceed threshold.
func CalcHealth(a, b *big.Int, threshold uint64) (uint64, bool) {
	health := calcHealth(a, b)
	return health, health <= threshold
}

func calcHealth(a, b *big.Int) uint64 {
	if b == nil || b.Sign() <= 0 {
		return MaxHealth
	}
	if a == nil || a.Sign() <= 0 {
		return 0
	}
	num := new(big.Int).Mul(a, big.NewInt(PerMille))
	den := new(big.Int).Add(a, b)
	health := num.Quo(num, den)
	if health.Cmp(big.NewInt(MaxHealth)) > 0 {
		return MaxHealth
	}
	return health.Uint64()
}
