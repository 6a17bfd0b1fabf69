package stake

import "sync/atomic"

// guard is mutual exclusion over call boundaries, not threads: it stays
// held across the external value transfer embedded in a withdrawal, so a
// destination that calls back into a guarded entry point is rejected
// instead of deadlocking. The passive deposit path never takes it.
type guard struct {
	busy int32
}

func (g *guard) enter() error {
	if !atomic.CompareAndSwapInt32(&g.busy, 0, 1) {
		return ErrReentrantCall
	}
	return nil
}

func (g *guard) exit() {
	atomic.StoreInt32(&g.busy, 0)
}
