package notification_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/RoboticBase/uoa-poc2-controller/internal/notification"
)

func TestMemoryThrottleStore_AdvanceIfOlder(t *testing.T) {
	t.Run("first notification for a known robot always passes", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		assert.True(t, store.AdvanceIfOlder("robot-1", now, 500*time.Millisecond))
	})

	t.Run("an unseeded robot id is still accepted on first sight", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore(nil)
		now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		assert.True(t, store.AdvanceIfOlder("robot-unknown", now, 500*time.Millisecond))
	})

	t.Run("two identical notifications with the same time produce exactly one processed and one ignored entry", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		first := store.AdvanceIfOlder("robot-1", ts, 500*time.Millisecond)
		second := store.AdvanceIfOlder("robot-1", ts, 500*time.Millisecond)

		assert.True(t, first)
		assert.False(t, second)
	})

	t.Run("a notification within the throttle interval of the last one is ignored", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		assert.True(t, store.AdvanceIfOlder("robot-1", base, 500*time.Millisecond))
		assert.False(t, store.AdvanceIfOlder("robot-1", base.Add(400*time.Millisecond), 500*time.Millisecond))
	})

	t.Run("a notification strictly past the throttle interval advances the record", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		assert.True(t, store.AdvanceIfOlder("robot-1", base, 500*time.Millisecond))
		assert.True(t, store.AdvanceIfOlder("robot-1", base.Add(600*time.Millisecond), 500*time.Millisecond))
	})

	t.Run("an out-of-order notification older than the stored record is ignored", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		assert.True(t, store.AdvanceIfOlder("robot-1", base, 500*time.Millisecond))
		assert.False(t, store.AdvanceIfOlder("robot-1", base.Add(-time.Second), 500*time.Millisecond))
	})

	t.Run("distinct robots are throttled independently", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1", "robot-2"})
		ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		assert.True(t, store.AdvanceIfOlder("robot-1", ts, 500*time.Millisecond))
		assert.True(t, store.AdvanceIfOlder("robot-2", ts, 500*time.Millisecond))
	})

	t.Run("concurrent advances for the same robot admit exactly one winner per race", func(t *testing.T) {
		store := notification.NewMemoryThrottleStore([]string{"robot-1"})
		ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

		const racers = 20
		results := make([]bool, racers)
		var wg sync.WaitGroup
		wg.Add(racers)
		for i := 0; i < racers; i++ {
			go func(i int) {
				defer wg.Done()
				results[i] = store.AdvanceIfOlder("robot-1", ts, 500*time.Millisecond)
			}(i)
		}
		wg.Wait()

		passed := 0
		for _, r := range results {
			if r {
				passed++
			}
		}
		assert.Equal(t, 1, passed)
	})
}
