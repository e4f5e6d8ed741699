// Package notification implements the robot-notification batch pipeline of
// spec.md §4.7: throttle gating, mode-transition detection, action dispatch
// (lock/release, and the pick/deliver extension of SPEC_FULL.md §12.2),
// state propagation, and UI publication.
package notification

import (
	"context"
	"time"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/feed"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/move"
	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/roboticslock"
	"github.com/RoboticBase/uoa-poc2-controller/internal/robotstate"
	"github.com/RoboticBase/uoa-poc2-controller/internal/token"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// EntityTypes names the world-model entity types the pipeline touches.
type EntityTypes struct {
	DeliveryRobot string
	Place         string
	RobotUI       string
}

// Element is one input notification (spec.md §4.7: "a batch { data: [...] }").
type Element struct {
	ID   string
	Mode string
	Time time.Time
}

// Result classifies one processed Element.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// Batch is the pipeline's return value (spec.md §6: processed_data/ignored_data).
type Batch struct {
	Processed []Result
	Ignored   []Result
}

// Pipeline implements the NotificationPipeline.
type Pipeline struct {
	client      *worldmodel.Client
	payload     *payload.Builder
	move        *move.Controller
	token       *token.Coordinator
	throttle    ThrottleStore
	locks       *roboticslock.Registry
	feed        feed.Recorder
	service     string
	servicePath string
	types       EntityTypes
	uiIDTable   map[string]string
	interval    time.Duration
	orderingSet map[string]struct{}
	logger      logger.Logger
}

// Config bundles Pipeline construction parameters.
type Config struct {
	Service       string
	ServicePath   string
	Types         EntityTypes
	UIIDTable     map[string]string
	Interval      time.Duration
	OrderingCalls []string
}

// New builds a Pipeline.
func New(
	client *worldmodel.Client,
	builder *payload.Builder,
	mover *move.Controller,
	coordinator *token.Coordinator,
	throttle ThrottleStore,
	locks *roboticslock.Registry,
	recorder feed.Recorder,
	cfg Config,
	log logger.Logger,
) *Pipeline {
	orderingSet := make(map[string]struct{}, len(cfg.OrderingCalls))
	for _, c := range cfg.OrderingCalls {
		orderingSet[c] = struct{}{}
	}
	return &Pipeline{
		client:      client,
		payload:     builder,
		move:        mover,
		token:       coordinator,
		throttle:    throttle,
		locks:       locks,
		feed:        recorder,
		service:     cfg.Service,
		servicePath: cfg.ServicePath,
		types:       cfg.Types,
		uiIDTable:   cfg.UIIDTable,
		interval:    cfg.Interval,
		orderingSet: orderingSet,
		logger:      log,
	}
}

// Process runs every element through the pipeline in input order,
// independently per robot (spec.md §4.7, §5 "Ordering within one
// notification batch").
func (p *Pipeline) Process(ctx context.Context, elements []Element) Batch {
	var batch Batch
	for _, el := range elements {
		result := p.processOne(ctx, el)
		if result.Status == "ignored" {
			batch.Ignored = append(batch.Ignored, Result{ID: el.ID})
		} else {
			batch.Processed = append(batch.Processed, Result{ID: el.ID})
		}
	}
	return batch
}

func (p *Pipeline) processOne(ctx context.Context, el Element) Result {
	if !p.throttle.AdvanceIfOlder(el.ID, el.Time, p.interval) {
		p.logger.Debug("notification ignored by throttle", map[string]interface{}{"robot_id": el.ID})
		return Result{ID: el.ID, Status: "ignored"}
	}

	var status string
	err := p.locks.WithLock(el.ID, func() error {
		var innerErr error
		status, innerErr = p.transition(ctx, el)
		return innerErr
	})
	if err != nil {
		p.logger.Error("notification processing failed", map[string]interface{}{"robot_id": el.ID, "error": err.Error()})
		return Result{ID: el.ID, Status: "ignored"}
	}
	return Result{ID: el.ID, Status: status}
}

func (p *Pipeline) transition(ctx context.Context, el Element) (string, error) {
	entity, err := p.client.Get(ctx, p.service, p.servicePath, p.types.DeliveryRobot, el.ID)
	if err != nil {
		return "", err
	}

	robot, err := decodeRobot(entity)
	if err != nil {
		return "", err
	}

	caller := model.ResolveCaller(robot.Caller, p.orderingSet)

	nextState := robotstate.DeriveState(el.Mode, robot.NavigatingWaypoints, robot.Order, caller, p.logger)

	if err := p.client.Patch(ctx, p.service, p.servicePath, p.types.DeliveryRobot, el.ID, p.payload.UpdateLastProcessedTime(el.Time)); err != nil {
		return "", err
	}

	if el.Mode == robot.CurrentMode {
		return "ignored", nil
	}

	if err := p.client.Patch(ctx, p.service, p.servicePath, p.types.DeliveryRobot, el.ID, p.payload.UpdateMode(el.Mode)); err != nil {
		return "", err
	}
	p.feed.Record(el.ID, "mode changed to "+el.Mode)

	if el.Mode == model.ModeStandby && robot.NavigatingWaypoints != nil {
		if err := p.dispatchAction(ctx, el.ID, *robot.NavigatingWaypoints); err != nil {
			return "", err
		}
	}

	if nextState != robot.CurrentState {
		if err := p.client.Patch(ctx, p.service, p.servicePath, p.types.DeliveryRobot, el.ID, p.payload.UpdateState(nextState)); err != nil {
			return "", err
		}

		destName, err := robotstate.DestinationName(robot.NavigatingWaypoints, func(id string) (string, error) {
			return p.placeName(ctx, id)
		})
		if err != nil {
			return "", err
		}

		if err := p.publishUI(ctx, el.ID, p.payload.RobotUISendState(nextState, destName)); err != nil {
			return "", err
		}
		p.feed.Record(el.ID, "state changed to "+nextState)
	}

	return "processed", nil
}

// dispatchAction implements the lock/release/pick/deliver action dispatch
// (spec.md §4.7 step 5, SPEC_FULL.md §12.2).
func (p *Pipeline) dispatchAction(ctx context.Context, robotID string, leg model.Leg) error {
	action := leg.Action
	if action.Func == "" {
		return nil
	}

	switch action.Func {
	case model.ActionPick, model.ActionDeliver:
		p.feed.Record(robotID, action.Func+" at "+leg.Destination)
		_, err := p.move.MoveNext(ctx, robotID, false)
		return ignoreNoRemaining(err)

	case model.ActionLock:
		if action.Token == "" {
			return nil
		}
		acquired, err := p.token.Acquire(ctx, action.Token, robotID)
		if err != nil {
			return err
		}
		if acquired {
			if _, err := p.move.MoveNext(ctx, robotID, false); err != nil {
				if ignoreNoRemaining(err) != nil {
					return err
				}
			}
			p.feed.Record(robotID, "token "+action.Token+" acquired")
			return p.publishUI(ctx, robotID, p.payload.RobotUISendTokenInfo(model.Token{ID: action.Token, LockOwnerID: robotID}, model.TokenModeLock))
		}

		if action.WaitingRoute == nil {
			return nil
		}
		return p.takeRefuge(ctx, robotID, action.Token, *action.WaitingRoute)

	case model.ActionRelease:
		if action.Token == "" {
			return nil
		}
		newOwner, err := p.token.Release(ctx, action.Token, robotID)
		if err != nil {
			return err
		}
		if _, err := p.move.MoveNext(ctx, robotID, false); err != nil {
			if ignoreNoRemaining(err) != nil {
				return err
			}
		}
		p.feed.Record(robotID, "token "+action.Token+" released")
		if err := p.publishUI(ctx, robotID, p.payload.RobotUISendTokenInfo(model.Token{ID: action.Token, LockOwnerID: newOwner, PrevOwnerID: robotID}, model.TokenModeRelease)); err != nil {
			return err
		}

		if newOwner == "" {
			return nil
		}
		if _, err := p.move.MoveNext(ctx, newOwner, false); err != nil {
			if ignoreNoRemaining(err) != nil {
				return err
			}
		}
		if err := p.publishUI(ctx, newOwner, p.payload.RobotUISendTokenInfo(model.Token{ID: action.Token, LockOwnerID: newOwner, PrevOwnerID: robotID}, model.TokenModeResume)); err != nil {
			return err
		}
		return p.publishUI(ctx, newOwner, p.payload.RobotUISendTokenInfo(model.Token{ID: action.Token, LockOwnerID: newOwner, PrevOwnerID: robotID}, model.TokenModeLock))
	}

	return nil
}

// takeRefuge diverts robotID along action.WaitingRoute when a lock attempt
// loses the race, publishing SUSPEND (spec.md §4.7 step 5 "take refuge").
func (p *Pipeline) takeRefuge(ctx context.Context, robotID, tokenID string, route model.Route) error {
	ids := append(append([]string{}, route.Via...), route.To)
	places, err := p.client.List(ctx, p.service, p.servicePath, p.types.Place, ids)
	if err != nil {
		return err
	}

	waypoints := make([]model.Waypoint, 0, len(ids))
	for _, viaID := range route.Via {
		entity, ok := places[viaID]
		if !ok {
			return apperrors.Internal("unresolved refuge via place %s", viaID)
		}
		var pose model.Pose
		if err := entity.Decode("pose", &pose); err != nil {
			return apperrors.InternalWrap(err, "refuge place %s has malformed pose attribute", viaID)
		}
		waypoints = append(waypoints, model.Waypoint{Point: pose.Point})
	}
	toEntity, ok := places[route.To]
	if !ok {
		return apperrors.Internal("unresolved refuge destination %s", route.To)
	}
	var toPose model.Pose
	if err := toEntity.Decode("pose", &toPose); err != nil {
		return apperrors.InternalWrap(err, "refuge place %s has malformed pose attribute", route.To)
	}
	angle := toPose.Angle
	waypoints = append(waypoints, model.Waypoint{Point: toPose.Point, Angle: &angle})

	refugeLeg := model.Leg{To: route.To, Destination: route.Destination, Waypoints: waypoints}
	if _, err := p.move.Move(ctx, robotID, waypoints, refugeLeg, nil, nil, nil, ""); err != nil {
		return err
	}

	owner, err := p.token.CurrentOwner(ctx, tokenID)
	if err != nil {
		return err
	}
	p.feed.Record(robotID, "took refuge waiting for token "+tokenID)
	return p.publishUI(ctx, robotID, p.payload.RobotUISendTokenInfo(model.Token{ID: tokenID, LockOwnerID: owner}, model.TokenModeSuspend))
}

func (p *Pipeline) publishUI(ctx context.Context, robotID string, attrs map[string]worldmodel.Attribute) error {
	uiID, ok := p.uiIDTable[robotID]
	if !ok {
		return nil
	}
	return p.client.Patch(ctx, p.service, p.servicePath, p.types.RobotUI, uiID, attrs)
}

func (p *Pipeline) placeName(ctx context.Context, placeID string) (string, error) {
	if placeID == "" {
		return "", nil
	}
	entity, err := p.client.Get(ctx, p.service, p.servicePath, p.types.Place, placeID)
	if err != nil {
		return "", err
	}
	return entity.String("name")
}

func decodeRobot(entity worldmodel.Entity) (model.Robot, error) {
	var r model.Robot
	mode, err := entity.String("mode")
	if err != nil {
		return r, apperrors.InternalWrap(err, "robot entity missing mode attribute")
	}
	r.Mode = mode
	// These attributes are absent on a robot's first notification (idle,
	// no destination yet); zero value is the correct reading in that case.
	_ = entity.Decode("current_mode", &r.CurrentMode)
	_ = entity.Decode("current_state", &r.CurrentState)
	_ = entity.Decode("navigating_waypoints", &r.NavigatingWaypoints)
	_ = entity.Decode("remaining_waypoints_list", &r.RemainingWaypointsList)
	_ = entity.Decode("order", &r.Order)
	_ = entity.Decode("caller", &r.Caller)
	return r, nil
}

func ignoreNoRemaining(err error) error {
	if appErr, ok := apperrors.As(err); ok && appErr.Kind == apperrors.KindPrecondition {
		return nil
	}
	return err
}
