package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
)

// saleState is the single mutable record of sale progress. It is owned by
// the Engine and only ever touched while the engine mutex is held.
type saleState struct {
	phaseIndex int
	totalSold  *big.Int
	balances   map[common.Address]*big.Int
	blocked    map[common.Address]struct{}
}

func newSaleState() *saleState {
	return &saleState{
		phaseIndex: 0,
		totalSold:  new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		blocked:    make(map[common.Address]struct{}),
	}
}

// credit adds tokens to a participant's balance.
func (s *saleState) credit(participant common.Address, tokens *big.Int) {
	if bal, ok := s.balances[participant]; ok {
		bal.Add(bal, tokens)
		return
	}
	s.balances[participant] = new(big.Int).Set(tokens)
}

// undo captures the fields one operation may touch, so a failed external
// transfer can be rolled back without an observable intermediate state.
type undo struct {
	phaseIndex  int
	totalSold   *big.Int
	participant common.Address
	balance     *big.Int // nil when the participant had no entry
}

// memo records the state touched on behalf of participant before a mutation.
func (s *saleState) memo(participant common.Address) undo {
	u := undo{
		phaseIndex:  s.phaseIndex,
		totalSold:   new(big.Int).Set(s.totalSold),
		participant: participant,
	}
	if bal, ok := s.balances[participant]; ok {
		u.balance = new(big.Int).Set(bal)
	}
	return u
}

// restore reverts the state to a previously taken memo.
func (s *saleState) restore(u undo) {
	s.phaseIndex = u.phaseIndex
	s.totalSold = u.totalSold
	if u.balance == nil {
		delete(s.balances, u.participant)
	} else {
		s.balances[u.participant] = u.balance
	}
}

// snapshot returns a deep copy for persistence.
func (s *saleState) snapshot() domain.SaleSnapshot {
	snap := domain.SaleSnapshot{
		PhaseIndex: s.phaseIndex,
		TotalSold:  new(big.Int).Set(s.totalSold),
		Balances:   make(map[common.Address]*big.Int, len(s.balances)),
		TakenAt:    time.Now().UTC(),
	}
	for addr, bal := range s.balances {
		snap.Balances[addr] = new(big.Int).Set(bal)
	}
	for addr := range s.blocked {
		snap.Blocked = append(snap.Blocked, addr)
	}
	return snap
}
