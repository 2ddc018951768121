package supervisor

import "sync"

// connState is the supervisor's view of the transport's connectivity,
// mirroring pc::manager's disconnected/wait/connected states literally
// rather than collapsing them to a boolean, so the wait state is directly
// observable by a test driving a reconnect scenario.
type connState int

const (
	connDisconnected connState = iota
	connWait
	connConnected
)

func (c connState) String() string {
	switch c {
	case connDisconnected:
		return "disconnected"
	case connWait:
		return "wait"
	case connConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// connBox is the mutex-guarded holder for connState; only the supervisor's
// loop goroutine ever calls set, but get is safe to poll from a test.
type connBox struct {
	mu    sync.Mutex
	state connState
}

func (b *connBox) set(s connState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *connBox) get() connState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
