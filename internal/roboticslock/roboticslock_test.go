package roboticslock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboticBase/uoa-poc2-controller/internal/roboticslock"
)

func TestRegistry_WithLock_SerializesSameKey(t *testing.T) {
	registry := roboticslock.New()

	var active int32
	var maxObserved int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = registry.WithLock("robot-1", func() error {
				mu.Lock()
				active++
				if active > maxObserved {
					maxObserved = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxObserved, "mutations on the same key must never interleave")
}

func TestRegistry_WithLock_DistinctKeysProceedConcurrently(t *testing.T) {
	registry := roboticslock.New()

	var wg sync.WaitGroup
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = registry.WithLock("robot-1", func() error {
			<-release
			return nil
		})
	}()

	done := make(chan struct{})
	go func() {
		_ = registry.WithLock("robot-2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operation on robot-2 should not block on robot-1's held lock")
	}

	close(release)
	wg.Wait()
}

func TestRegistry_WithLock_PropagatesError(t *testing.T) {
	registry := roboticslock.New()
	boom := assert.AnError

	err := registry.WithLock("robot-1", func() error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
