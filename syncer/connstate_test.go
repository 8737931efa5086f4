package syncer

import "testing"

func TestConnFSMHappyPath(t *testing.T) {
	fsm := newConnFSM()
	if fsm.State() != StateDisconnected {
		t.Fatalf("initial state %v, want disconnected", fsm.State())
	}

	if !fsm.ToConnecting() {
		t.Fatal("ToConnecting should succeed from disconnected")
	}
	fsm.ToConnected()
	if fsm.State() != StateConnected || fsm.Attempts() != 0 {
		t.Errorf("state=%v attempts=%d, want connected/0", fsm.State(), fsm.Attempts())
	}

	fsm.ToDisconnected()
	if fsm.State() != StateDisconnected {
		t.Errorf("state %v, want disconnected", fsm.State())
	}
}

func TestConnFSMConnectClearsAttempts(t *testing.T) {
	fsm := newConnFSM()
	fsm.ToConnecting()
	fsm.FailAttempt(5)
	fsm.FailAttempt(5)
	if fsm.Attempts() != 2 {
		t.Fatalf("attempts=%d, want 2", fsm.Attempts())
	}

	fsm.ToConnecting()
	fsm.ToConnected()
	if fsm.Attempts() != 0 {
		t.Errorf("attempts=%d after connect, want 0", fsm.Attempts())
	}
}

func TestConnFSMFallbackLatchesOnce(t *testing.T) {
	fsm := newConnFSM()

	for i := 0; i < 2; i++ {
		if fsm.FailAttempt(3) {
			t.Fatalf("attempt %d should not trigger fallback", i+1)
		}
	}
	if !fsm.FailAttempt(3) {
		t.Fatal("third attempt should latch fallback")
	}
	if fsm.State() != StateFallbackActive {
		t.Fatalf("state %v, want fallback", fsm.State())
	}

	// latched: further failures report false, transitions are no-ops
	if fsm.FailAttempt(3) {
		t.Error("fallback must only be reported once")
	}
	if fsm.ToConnecting() {
		t.Error("ToConnecting must be refused while fallback is active")
	}
	fsm.ToConnected()
	fsm.ToDisconnected()
	if fsm.State() != StateFallbackActive {
		t.Errorf("state %v, fallback must absorb transitions", fsm.State())
	}
}

func TestConnFSMReset(t *testing.T) {
	fsm := newConnFSM()
	fsm.FailAttempt(1)
	if fsm.State() != StateFallbackActive {
		t.Fatal("expected fallback")
	}

	fsm.Reset()
	if fsm.State() != StateDisconnected || fsm.Attempts() != 0 {
		t.Errorf("state=%v attempts=%d after reset, want disconnected/0", fsm.State(), fsm.Attempts())
	}
	if !fsm.ToConnecting() {
		t.Error("reconnection should be possible after reset")
	}
}

func TestConnStateString(t *testing.T) {
	states := map[ConnState]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateConnected:      "connected",
		StateFallbackActive: "fallback",
		ConnState(99):       "unknown",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String()=%q, want %q", state, got, want)
		}
	}
}
