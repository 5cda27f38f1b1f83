package common

// Stateful is implemented by every component whose state must be rolled back
// when a call fails part way. Snapshot captures a deep copy of the current
// state and returns a closure that restores it.
type Stateful interface {
	Snapshot() (restore func())
}
