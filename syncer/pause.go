package syncer

import "sync/atomic"

// Gate is a pause switch shared by the trading engines. Engines check it at
// the top of each operation; a paused gate turns mutating operations into
// ErrPaused failures while leaving reads untouched.
type Gate struct {
	paused atomic.Bool
}

func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) Pause()  { g.paused.Store(true) }
func (g *Gate) Resume() { g.paused.Store(false) }

func (g *Gate) Paused() bool {
	return g.paused.Load()
}
