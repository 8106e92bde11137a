package recon

import (
	"fmt"
	"sync"
)

// Guard serializes state-machine transitions per statement entry and per
// ledger movement inside one process. A transition that finds any of its
// keys held fails fast with ErrBusy instead of queueing; callers decide
// whether to retry. The SQL status preconditions remain the cross-process
// authority, the guard just keeps concurrent API calls from racing to the
// database.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewGuard builds an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

func entryKey(id int64) string {
	return fmt.Sprintf("entry:%d", id)
}

func movementKey(id int64) string {
	return fmt.Sprintf("movement:%d", id)
}

// Acquire claims all keys atomically and returns a release callback. If any
// key is already held nothing is claimed and ErrBusy is returned.
func (g *Guard) Acquire(keys ...string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		if _, busy := g.held[k]; busy {
			return nil, fmt.Errorf("%w: %s", ErrBusy, k)
		}
	}
	for _, k := range keys {
		g.held[k] = struct{}{}
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			for _, k := range keys {
				delete(g.held, k)
			}
		})
	}
	return release, nil
}
