// Package scheduler spreads update_price calls evenly across a publish
// interval instead of firing every price account's refresh at the same
// instant. Each price account gets a fixed phase derived from its own
// public key, so restarts reproduce the same spread without coordination.
package scheduler

import (
	"encoding/binary"

	"github.com/pricepub/pricepub/internal/mirror"
)

// Fraction is the modulus the phase hash is reduced into; the supervisor's
// publish round walks entries whose phase/Fraction fraction of the
// publish interval has elapsed.
const Fraction uint64 = 997

// entry is one tracked price account's fixed publish phase.
type entry struct {
	phase uint64
	price *mirror.PriceMirror
}

// Scheduler holds price accounts sorted ascending by phase so the publish
// loop can walk them in order and stop at the first one not yet due.
type Scheduler struct {
	entries []entry
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Phase derives a price account's publish phase from the first and third
// little-endian uint64 words of its address, reduced mod Fraction.
func Phase(pub [32]byte) uint64 {
	a := binary.LittleEndian.Uint64(pub[0:8])
	b := binary.LittleEndian.Uint64(pub[16:24])
	return (a ^ b) % Fraction
}

// Add inserts p in ascending-phase order via a single bubble-insertion
// pass, the way a deployed client's schedule() appends then bubbles the
// new entry down to its sorted position rather than re-sorting the whole
// vector.
func (s *Scheduler) Add(p *mirror.PriceMirror) {
	phase := Phase(p.Pubkey())
	s.entries = append(s.entries, entry{phase: phase, price: p})
	for i := len(s.entries) - 1; i > 0; i-- {
		if s.entries[i].phase < s.entries[i-1].phase {
			s.entries[i], s.entries[i-1] = s.entries[i-1], s.entries[i]
		} else {
			break
		}
	}
}

// Len reports how many price accounts are scheduled.
func (s *Scheduler) Len() int { return len(s.entries) }

// Round walks the schedule from index idx (the "where we left off in this
// publish round" cursor), calling due(phase) to ask whether the entry at
// that phase has come due given the round's start time and the configured
// publish interval. It stops and returns the index to resume from the
// moment an entry is not yet due, or returns len(entries) once every entry
// in the round has fired.
func (s *Scheduler) Round(idx int, due func(phase uint64) bool) (nextIdx int, fired []*mirror.PriceMirror) {
	for idx < len(s.entries) {
		e := s.entries[idx]
		if !due(e.phase) {
			break
		}
		fired = append(fired, e.price)
		idx++
	}
	return idx, fired
}
