package consensus

import "github.com/vechain/dposcore/types"

// Observer receives events after the operation that produced them was
// committed. Safety violations are delivered although nothing was committed.
// Observe runs under the engine lock and must not call back into the engine.
type Observer interface {
	Observe(ev types.Event)
}

type ObserverFunc func(ev types.Event)

func (f ObserverFunc) Observe(ev types.Event) {
	f(ev)
}
