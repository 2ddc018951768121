// Package request defines the shared lifecycle that composite operations
// and publish requests move through, and the Kind/Dispatchable tags that
// let each request or mirror type declare which inbound frames it takes
// without a C++-style multiple-inheritance request hierarchy.
package request

import "fmt"

// State is a request's position in its lifecycle.
type State int

const (
	StatePending State = iota
	StateReady
	StateSubmitted
	StateResponded
	StateSubscribedSignature
	StateConfirmed
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateSubmitted:
		return "submitted"
	case StateResponded:
		return "responded"
	case StateSubscribedSignature:
		return "subscribed_signature"
	case StateConfirmed:
		return "confirmed"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// legalEdges enumerates every forward transition. Anything not listed here
// (other than the universal "-> StateError") is rejected, enforcing the
// "state only transitions forward along the documented edges or into
// error" invariant.
var legalEdges = map[State]map[State]bool{
	StatePending:             {StateReady: true},
	StateReady:               {StateSubmitted: true},
	StateSubmitted:           {StateResponded: true, StateSubscribedSignature: true},
	StateResponded:           {StateDone: true},
	StateSubscribedSignature: {StateConfirmed: true},
	StateConfirmed:           {StateDone: true},
}

// Base is embedded by composite.TwoPhase and publish.Request, which need
// the pending->ready->submitted->...->done|error lifecycle and a single
// recorded error. The mirror types do not embed it.
type Base struct {
	state State
	err   error
}

// State returns the current lifecycle state.
func (b *Base) State() State { return b.state }

// Err returns the recorded terminal error, if any.
func (b *Base) Err() error { return b.err }

// Transition moves to State `to`. Any state may transition to StateError;
// all other transitions must appear in legalEdges.
func (b *Base) Transition(to State) error {
	if to == StateError {
		b.state = StateError
		return nil
	}
	if !legalEdges[b.state][to] {
		return fmt.Errorf("request: illegal transition %s -> %s", b.state, to)
	}
	b.state = to
	return nil
}

// Fail records err and transitions to StateError.
func (b *Base) Fail(err error) {
	b.err = err
	b.state = StateError
}

// Done reports whether this request has reached a terminal state.
func (b *Base) Done() bool {
	return b.state == StateDone || b.state == StateError
}

// Reset returns a completed (or errored) Base to StatePending for reuse by
// a second round of the same operation, the way a composite's embedded
// request singleton is reused across its phases instead of allocating a
// new one.
func (b *Base) Reset() {
	b.state = StatePending
	b.err = nil
}
