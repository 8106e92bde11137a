package recon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardAcquireRelease(t *testing.T) {
	g := NewGuard()

	release, err := g.Acquire(entryKey(1), movementKey(2))
	require.NoError(t, err)

	_, err = g.Acquire(entryKey(1))
	require.ErrorIs(t, err, ErrBusy)
	_, err = g.Acquire(movementKey(2))
	require.ErrorIs(t, err, ErrBusy)

	release()
	release() // releasing twice is harmless

	release2, err := g.Acquire(entryKey(1), movementKey(2))
	require.NoError(t, err)
	release2()
}

func TestGuardAllOrNothing(t *testing.T) {
	g := NewGuard()

	release, err := g.Acquire(movementKey(2))
	require.NoError(t, err)
	defer release()

	// The entry key must not stay claimed when the movement key is busy.
	_, err = g.Acquire(entryKey(1), movementKey(2))
	require.ErrorIs(t, err, ErrBusy)

	releaseEntry, err := g.Acquire(entryKey(1))
	require.NoError(t, err)
	releaseEntry()
}

func TestGuardConcurrentSingleWinner(t *testing.T) {
	g := NewGuard()

	const attempts = 32
	var wg sync.WaitGroup
	won := make(chan func(), attempts)
	busy := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(entryKey(99))
			if err != nil {
				busy <- err
				return
			}
			won <- release
		}()
	}
	wg.Wait()
	close(won)
	close(busy)

	require.Len(t, won, 1)
	require.Len(t, busy, attempts-1)
	for err := range busy {
		require.ErrorIs(t, err, ErrBusy)
	}
	for release := range won {
		release()
	}
}
