package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is the in-memory pause switchboard shared by every module of a
// deployment.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

func (p *Pauses) Pause(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = true
}

func (p *Pauses) Unpause(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paused, module)
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// Snapshot implements Stateful.
func (p *Pauses) Snapshot() func() {
	p.mu.RLock()
	saved := make(map[string]bool, len(p.paused))
	for k, v := range p.paused {
		saved[k] = v
	}
	p.mu.RUnlock()
	return func() {
		p.mu.Lock()
		p.paused = saved
		p.mu.Unlock()
	}
}
