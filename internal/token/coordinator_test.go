package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/token"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel/wmtest"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

const (
	service     = "fleet"
	servicePath = "/demo"
)

func newCoordinator(t *testing.T, dist token.DistributedLock) (*token.Coordinator, *wmtest.Server) {
	t.Helper()
	server := wmtest.NewServer(nil)
	t.Cleanup(server.Close)

	client := worldmodel.New(worldmodel.Config{Endpoint: server.URL, Timeout: 5 * time.Second}, logger.NewDefaultLogger())
	builder := payload.New(time.UTC)
	return token.New(client, builder, service, servicePath, token.EntityTypes{Token: "token"}, dist, logger.NewDefaultLogger(), nil), server
}

func TestCoordinator_Acquire_FirstComerGetsTheLock(t *testing.T) {
	coord, server := newCoordinator(t, nil)

	acquired, err := coord.Acquire(context.Background(), "token-1", "robot-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	entity := server.Entity("token", "token-1")
	require.NotNil(t, entity)
	locked, _ := entity["is_locked"].Value.(bool)
	assert.True(t, locked)
	owner, _ := entity["lock_owner_id"].Value.(string)
	assert.Equal(t, "robot-1", owner)
}

func TestCoordinator_Acquire_SecondComerIsWaitlisted(t *testing.T) {
	coord, _ := newCoordinator(t, nil)
	ctx := context.Background()

	acquired1, err := coord.Acquire(ctx, "token-1", "robot-1")
	require.NoError(t, err)
	assert.True(t, acquired1)

	acquired2, err := coord.Acquire(ctx, "token-1", "robot-2")
	require.NoError(t, err)
	assert.False(t, acquired2)
}

func TestCoordinator_Acquire_IsIdempotentForAnAlreadyWaitlistedRobot(t *testing.T) {
	coord, server := newCoordinator(t, nil)
	ctx := context.Background()

	_, err := coord.Acquire(ctx, "token-1", "robot-1")
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, "token-1", "robot-2")
	require.NoError(t, err)
	acquired, err := coord.Acquire(ctx, "token-1", "robot-2")
	require.NoError(t, err)
	assert.False(t, acquired)

	entity := server.Entity("token", "token-1")
	var waitings []string
	require.NoError(t, entity.Decode("waitings", &waitings))
	assert.Equal(t, []string{"robot-2"}, waitings, "robot-2 must not be enqueued twice")
}

func TestCoordinator_Release_UnlocksWhenNoWaiters(t *testing.T) {
	coord, server := newCoordinator(t, nil)
	ctx := context.Background()

	_, err := coord.Acquire(ctx, "token-1", "robot-1")
	require.NoError(t, err)

	newOwner, err := coord.Release(ctx, "token-1", "robot-1")
	require.NoError(t, err)
	assert.Empty(t, newOwner)

	entity := server.Entity("token", "token-1")
	locked, _ := entity["is_locked"].Value.(bool)
	assert.False(t, locked)
}

func TestCoordinator_Release_HandsOffFIFOToNextWaiter(t *testing.T) {
	coord, _ := newCoordinator(t, nil)
	ctx := context.Background()

	_, err := coord.Acquire(ctx, "token-1", "robot-1")
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, "token-1", "robot-2")
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, "token-1", "robot-3")
	require.NoError(t, err)

	newOwner, err := coord.Release(ctx, "token-1", "robot-1")
	require.NoError(t, err)
	assert.Equal(t, "robot-2", newOwner, "the first waiter in FIFO order gets the handoff")

	owner, err := coord.CurrentOwner(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, "robot-2", owner)

	// robot-3 is still waiting behind the new owner.
	acquired, err := coord.Acquire(ctx, "token-1", "robot-3")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestCoordinator_CurrentOwner_UnlockedTokenHasNoOwner(t *testing.T) {
	coord, _ := newCoordinator(t, nil)
	owner, err := coord.CurrentOwner(context.Background(), "never-seen-token")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestCoordinator_Acquire_IsSerializedPerToken(t *testing.T) {
	coord, _ := newCoordinator(t, nil)
	ctx := context.Background()

	const waiters = 8
	results := make([]bool, waiters)
	done := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			acquired, err := coord.Acquire(ctx, "token-1", robotName(i))
			assert.NoError(t, err)
			results[i] = acquired
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < waiters; i++ {
		<-done
	}

	acquiredCount := 0
	for _, r := range results {
		if r {
			acquiredCount++
		}
	}
	assert.Equal(t, 1, acquiredCount, "exactly one goroutine must win the lock")
}

func robotName(i int) string {
	return "robot-" + string(rune('a'+i))
}
