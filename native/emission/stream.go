package emission

import (
	"math/big"
	"time"

	nativecommon "yieldcredit/native/common"
)

// Stream releases its balance linearly until PeriodFinish. Topping it up
// books what has already streamed into Vested and folds the rest into a new
// period of the same length.
type Stream struct {
	Remaining *big.Int
	// Vested has streamed out of Remaining but not yet reached the sink.
	Vested       *big.Int
	LastRelease  time.Time
	PeriodFinish time.Time
}

func newStream(now time.Time) *Stream {
	return &Stream{Remaining: new(big.Int), Vested: new(big.Int), LastRelease: now, PeriodFinish: now}
}

func (s *Stream) clone() *Stream {
	cp := *s
	cp.Remaining = nativecommon.Copy(s.Remaining)
	cp.Vested = nativecommon.Copy(s.Vested)
	return &cp
}

// add tops the stream up with amount and restarts the period at now.
func (s *Stream) add(amount *big.Int, now time.Time, duration time.Duration) {
	vested := s.due(now)
	s.Remaining.Sub(s.Remaining, vested)
	s.Vested.Add(s.Vested, vested)
	s.Remaining.Add(s.Remaining, amount)
	s.LastRelease = now
	s.PeriodFinish = now.Add(duration)
}

// unreleased is everything not yet handed to the sink.
func (s *Stream) unreleased() *big.Int {
	return new(big.Int).Add(s.Remaining, s.Vested)
}

// due is the amount streamed between the last release and now. Everything
// left is due once the period is over.
func (s *Stream) due(now time.Time) *big.Int {
	if s.Remaining.Sign() == 0 || !now.After(s.LastRelease) {
		return new(big.Int)
	}
	if !now.Before(s.PeriodFinish) {
		return nativecommon.Copy(s.Remaining)
	}
	left := s.PeriodFinish.Sub(s.LastRelease)
	elapsed := now.Sub(s.LastRelease)
	out, err := nativecommon.MulDiv(s.Remaining, big.NewInt(int64(elapsed)), big.NewInt(int64(left)))
	if err != nil {
		return new(big.Int)
	}
	return out
}

// take returns the vested balance plus what streamed up to now and marks
// both as paid out.
func (s *Stream) take(now time.Time) *big.Int {
	due := s.due(now)
	out := new(big.Int).Add(s.Vested, due)
	if due.Sign() > 0 {
		s.Remaining.Sub(s.Remaining, due)
		s.LastRelease = now
	}
	s.Vested.SetUint64(0)
	return out
}
