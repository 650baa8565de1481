package attach

import (
	"context"
	"sync"
)

// StaticPool is a PoolSource with explicitly managed membership. It pushes
// events on change, so it doubles as a stand-in for an autoscaling-managed
// pool in tests.
type StaticPool struct {
	mu      sync.RWMutex
	members map[TargetID]struct{}
	events  chan PoolEvent
}

// NewStaticPool creates a pool with the given initial members.
func NewStaticPool(members ...TargetID) *StaticPool {
	p := &StaticPool{
		members: make(map[TargetID]struct{}, len(members)),
		events:  make(chan PoolEvent, 64),
	}
	for _, m := range members {
		p.members[m] = struct{}{}
	}
	return p
}

// Snapshot returns the current pool members.
func (p *StaticPool) Snapshot(_ context.Context) ([]TargetID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]TargetID, 0, len(p.members))
	for m := range p.members {
		out = append(out, m)
	}
	return out, nil
}

// Events returns the membership change channel.
func (p *StaticPool) Events() <-chan PoolEvent {
	return p.events
}

// Add inserts a member and pushes an added event.
func (p *StaticPool) Add(target TargetID) {
	p.mu.Lock()
	_, exists := p.members[target]
	if !exists {
		p.members[target] = struct{}{}
	}
	p.mu.Unlock()

	if !exists {
		p.events <- PoolEvent{Type: PoolEventAdded, Target: target}
	}
}

// Remove deletes a member and pushes a removed event.
func (p *StaticPool) Remove(target TargetID) {
	p.mu.Lock()
	_, exists := p.members[target]
	if exists {
		delete(p.members, target)
	}
	p.mu.Unlock()

	if exists {
		p.events <- PoolEvent{Type: PoolEventRemoved, Target: target}
	}
}
