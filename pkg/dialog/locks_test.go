package dialog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionLocksSerializeSameSession(t *testing.T) {
	locks := newSessionLocks()

	unlock := locks.lock("shop:web:1")
	acquired := make(chan struct{})
	go func() {
		release := locks.lock("shop:web:1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn entered while the first held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, locks.len())

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the lock")
	}
	require.Eventually(t, func() bool { return locks.len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessionLocksReleaseEntries(t *testing.T) {
	locks := newSessionLocks()

	var wg sync.WaitGroup
	for i := range 300 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("shop:web:%d", i%30)
			unlock := locks.lock(key)
			unlock()
		}()
	}
	wg.Wait()

	require.Zero(t, locks.len())
}
