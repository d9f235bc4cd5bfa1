package engine

import (
	"github.com/ethereum/go-ethereum/common"
)

// Block adds a participant to the block list. Idempotent: blocking an
// already-blocked participant reports changed=false and has no further
// effect. Authorization is the caller's concern; the engine never
// self-checks it.
func (e *Engine) Block(participant common.Address) (changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.blocked[participant]; ok {
		return false
	}
	e.state.blocked[participant] = struct{}{}
	return true
}

// Unblock removes a participant from the block list. Idempotent.
func (e *Engine) Unblock(participant common.Address) (changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.blocked[participant]; !ok {
		return false
	}
	delete(e.state.blocked, participant)
	return true
}
