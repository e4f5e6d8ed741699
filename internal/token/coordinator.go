// Package token implements the distributed mutex described by spec.md §4.6:
// a per-token mutex with a FIFO waiter queue, hand-off on release, backed by
// the external world-model store as the source of truth. The in-process
// mirror's fields are overwritten by a fresh read before every decision
// (spec.md §9: "intentional and required for correctness").
package token

import (
	"context"
	"sync"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/telemetry"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// EntityTypes names the world-model entity type for tokens.
type EntityTypes struct {
	Token string
}

// DistributedLock serializes the read-decide-write critical section of
// Acquire/Release across multiple control-plane instances sharing one
// world-model (spec.md §5: "Acquire and Release for the same token must be
// linearizable"). A Redis-backed implementation is provided in redis.go;
// a single-instance deployment can use NoopLock.
type DistributedLock interface {
	// WithLock runs fn while holding the named lock, unlocking afterward
	// regardless of fn's outcome.
	WithLock(ctx context.Context, name string, fn func() error) error
}

// NoopLock is a DistributedLock for single-instance deployments, where the
// in-process per-token mutex below is already sufficient.
type NoopLock struct{}

func (NoopLock) WithLock(_ context.Context, _ string, fn func() error) error {
	return fn()
}

// Coordinator maintains a process-wide map of per-token mutexes, lazily
// created on first reference (spec.md §4.6).
type Coordinator struct {
	client      *worldmodel.Client
	payload     *payload.Builder
	service     string
	servicePath string
	types       EntityTypes
	logger      logger.Logger
	dist        DistributedLock
	metrics     *telemetry.Metrics

	mu     sync.Mutex
	tokens map[string]*sync.Mutex
}

// New builds a Coordinator. dist may be NoopLock{} for a single instance.
// metrics may be nil, in which case TokenWaitDepth observations are discarded.
func New(client *worldmodel.Client, builder *payload.Builder, service, servicePath string, types EntityTypes, dist DistributedLock, log logger.Logger, metrics *telemetry.Metrics) *Coordinator {
	if dist == nil {
		dist = NoopLock{}
	}
	return &Coordinator{
		client:      client,
		payload:     builder,
		service:     service,
		servicePath: servicePath,
		types:       types,
		logger:      log,
		dist:        dist,
		metrics:     metrics,
		tokens:      make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) mutexFor(tokenID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.tokens[tokenID]
	if !ok {
		m = &sync.Mutex{}
		c.tokens[tokenID] = m
	}
	return m
}

func (c *Coordinator) get(ctx context.Context, tokenID string) (model.Token, error) {
	entity, err := c.client.Get(ctx, c.service, c.servicePath, c.types.Token, tokenID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Kind == apperrors.KindNotFound {
			return model.Token{ID: tokenID, Waitings: []string{}}, nil
		}
		return model.Token{}, err
	}

	var t model.Token
	t.ID = tokenID
	if err := entity.Decode("is_locked", &t.IsLocked); err != nil {
		return model.Token{}, err
	}
	_ = entity.Decode("lock_owner_id", &t.LockOwnerID)
	_ = entity.Decode("waitings", &t.Waitings)
	if t.Waitings == nil {
		t.Waitings = []string{}
	}
	return t, nil
}

func (c *Coordinator) put(ctx context.Context, t model.Token) error {
	attrs := c.payload.TokenInfo(t.IsLocked, t.LockOwnerID, t.Waitings)
	return c.client.PatchUpsert(ctx, c.service, c.servicePath, c.types.Token, t.ID, attrs)
}

// Acquire attempts to lock tokenID for robotID. It returns true if the lock
// was granted; false if robotID was (or already is) enqueued as a waiter
// (spec.md §4.6 Acquire).
func (c *Coordinator) Acquire(ctx context.Context, tokenID, robotID string) (bool, error) {
	var acquired bool
	err := c.withToken(ctx, tokenID, func() error {
		t, err := c.get(ctx, tokenID)
		if err != nil {
			return err
		}

		if !t.IsLocked {
			t.PrevOwnerID = t.LockOwnerID
			t.IsLocked = true
			t.LockOwnerID = robotID
			t.Waitings = []string{}
			acquired = true
			c.logger.Info("token acquired", map[string]interface{}{"token": tokenID, "robot_id": robotID})
			c.metrics.TokenWaitDepth(ctx, tokenID, len(t.Waitings))
			return c.put(ctx, t)
		}

		if !contains(t.Waitings, robotID) {
			t.Waitings = append(t.Waitings, robotID)
			c.logger.Info("token wait-listed", map[string]interface{}{"token": tokenID, "robot_id": robotID})
			c.metrics.TokenWaitDepth(ctx, tokenID, len(t.Waitings))
			return c.put(ctx, t)
		}
		c.metrics.TokenWaitDepth(ctx, tokenID, len(t.Waitings))
		return nil
	})
	return acquired, err
}

// Release releases tokenID held by robotID, handing off to the next waiter
// if any. It returns the new owner id, or "" if the token became unlocked
// (spec.md §4.6 Release).
func (c *Coordinator) Release(ctx context.Context, tokenID, robotID string) (string, error) {
	var newOwner string
	err := c.withToken(ctx, tokenID, func() error {
		t, err := c.get(ctx, tokenID)
		if err != nil {
			return err
		}

		t.PrevOwnerID = t.LockOwnerID
		if len(t.Waitings) == 0 {
			t.IsLocked = false
			t.LockOwnerID = ""
			c.logger.Info("token released", map[string]interface{}{"token": tokenID, "robot_id": robotID})
			c.metrics.TokenWaitDepth(ctx, tokenID, len(t.Waitings))
			return c.put(ctx, t)
		}

		newOwner, t.Waitings = t.Waitings[0], t.Waitings[1:]
		t.IsLocked = true
		t.LockOwnerID = newOwner
		c.logger.Info("token handed off", map[string]interface{}{"token": tokenID, "from": robotID, "to": newOwner})
		c.metrics.TokenWaitDepth(ctx, tokenID, len(t.Waitings))
		return c.put(ctx, t)
	})
	return newOwner, err
}

// CurrentOwner returns tokenID's current lock owner, or "" if unlocked. It
// is used by the notification pipeline to populate the "LockOwnerID" field
// of a UI push after a failed Acquire (spec.md §4.7 "take refuge").
func (c *Coordinator) CurrentOwner(ctx context.Context, tokenID string) (string, error) {
	t, err := c.get(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return t.LockOwnerID, nil
}

func (c *Coordinator) withToken(ctx context.Context, tokenID string, fn func() error) error {
	m := c.mutexFor(tokenID)
	m.Lock()
	defer m.Unlock()
	return c.dist.WithLock(ctx, "token:"+tokenID, fn)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
