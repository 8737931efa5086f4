package syncer

import "sync"

// ConnState is the monitor's connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateFallbackActive is absorbing: once the reconnect budget is spent
	// the monitor stays on polling until an operator resets it.
	StateFallbackActive
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFallbackActive:
		return "fallback"
	default:
		return "unknown"
	}
}

// connFSM tracks the connection state and the reconnect attempt counter.
// Transitions are the only way to mutate it, so every state change keeps the
// attempt counter consistent with the state.
type connFSM struct {
	mu       sync.Mutex
	state    ConnState
	attempts int
}

func newConnFSM() *connFSM {
	return &connFSM{state: StateDisconnected}
}

func (f *connFSM) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *connFSM) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// ToConnecting moves into Connecting unless fallback has latched.
func (f *connFSM) ToConnecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFallbackActive {
		return false
	}
	f.state = StateConnecting
	return true
}

// ToConnected records a successful connect and clears the attempt counter.
func (f *connFSM) ToConnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFallbackActive {
		return
	}
	f.state = StateConnected
	f.attempts = 0
}

// ToDisconnected records a dropped connection.
func (f *connFSM) ToDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFallbackActive {
		return
	}
	f.state = StateDisconnected
}

// FailAttempt counts one failed connect. When maxAttempts is reached the FSM
// latches into FallbackActive and returns true exactly once.
func (f *connFSM) FailAttempt(maxAttempts int) (fallback bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFallbackActive {
		return false
	}
	f.attempts++
	f.state = StateDisconnected
	if f.attempts >= maxAttempts {
		f.state = StateFallbackActive
		return true
	}
	return false
}

// Reset clears fallback and the attempt counter so reconnection can resume.
func (f *connFSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
	f.attempts = 0
}
