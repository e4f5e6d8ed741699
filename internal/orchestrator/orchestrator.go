// Package orchestrator is the facade the HTTP surface calls into, wiring
// robotstate, waypoint, move, token and notification together the way the
// original's CommonMixin bundled the same collaborators behind one object
// (spec.md §9 Design Notes: "a single facade simplifies the HTTP layer at
// the cost of a God object; acceptable at this scale").
package orchestrator

import (
	"context"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/feed"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/move"
	"github.com/RoboticBase/uoa-poc2-controller/internal/notification"
	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/roboticslock"
	"github.com/RoboticBase/uoa-poc2-controller/internal/robotstate"
	"github.com/RoboticBase/uoa-poc2-controller/internal/telemetry"
	"github.com/RoboticBase/uoa-poc2-controller/internal/waypoint"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// EntityTypes names every world-model entity type the orchestrator touches.
type EntityTypes struct {
	DeliveryRobot string
	Place         string
	RoutePlan     string
	RobotUI       string
}

// Orchestrator implements the five HTTP-facing operations of spec.md §6.
type Orchestrator struct {
	client      *worldmodel.Client
	payload     *payload.Builder
	resolver    *waypoint.Resolver
	move        *move.Controller
	pipeline    *notification.Pipeline
	locks       *roboticslock.Registry
	feed        feed.Recorder
	metrics     *telemetry.Metrics
	service     string
	servicePath string
	types       EntityTypes
	fleet       []string
	orderingSet map[string]struct{}
	logger      logger.Logger
}

// New builds an Orchestrator from its already-constructed collaborators.
// orderingCalls is the same ORDERING_LIST configuration notification.Config
// carries, used to resolve an inbound shipment's raw caller tag onto
// {ordering, warehouse} (spec.md §3 Robot invariant; original_source
// app/src/caller.py Caller.get).
func New(
	client *worldmodel.Client,
	builder *payload.Builder,
	resolver *waypoint.Resolver,
	mover *move.Controller,
	pipeline *notification.Pipeline,
	locks *roboticslock.Registry,
	recorder feed.Recorder,
	metrics *telemetry.Metrics,
	service, servicePath string,
	types EntityTypes,
	fleet []string,
	orderingCalls []string,
	log logger.Logger,
) *Orchestrator {
	orderingSet := make(map[string]struct{}, len(orderingCalls))
	for _, c := range orderingCalls {
		orderingSet[c] = struct{}{}
	}
	return &Orchestrator{
		client:      client,
		payload:     builder,
		resolver:    resolver,
		move:        mover,
		pipeline:    pipeline,
		locks:       locks,
		feed:        recorder,
		metrics:     metrics,
		service:     service,
		servicePath: servicePath,
		types:       types,
		fleet:       fleet,
		orderingSet: orderingSet,
		logger:      log,
	}
}

// ShipmentResult is the outcome of CreateShipment.
type ShipmentResult struct {
	Accepted  bool
	RobotID   string
	Order     model.Order
	Caller    string
	IgnoreMsg string
}

func (o *Orchestrator) snapshot(ctx context.Context, robotID string) (model.Robot, error) {
	entity, err := o.client.Get(ctx, o.service, o.servicePath, o.types.DeliveryRobot, robotID)
	if err != nil {
		return model.Robot{}, err
	}
	r := model.Robot{ID: robotID}
	mode, err := entity.String("mode")
	if err != nil {
		return r, apperrors.InternalWrap(err, "robot(%s) missing mode attribute", robotID)
	}
	r.Mode = mode
	_ = entity.Decode("remaining_waypoints_list", &r.RemainingWaypointsList)
	_ = entity.Decode("current_state", &r.CurrentState)
	_ = entity.Decode("navigating_waypoints", &r.NavigatingWaypoints)
	return r, nil
}

// CreateShipment implements POST /api/v1/shipments/ (spec.md §4.3, §6).
func (o *Orchestrator) CreateShipment(ctx context.Context, req model.ShipmentRequest) (ShipmentResult, error) {
	robotID, err := robotstate.AvailableRobot(o.fleet, func(id string) (model.Robot, error) {
		return o.snapshot(ctx, id)
	})
	if err != nil {
		o.metrics.ShipmentRejected(ctx, "no_available_robot")
		return ShipmentResult{}, err
	}

	var result ShipmentResult
	err = o.locks.WithLock(robotID, func() error {
		routes, legs, order, err := o.resolver.EstimateRoutes(ctx, req, robotID)
		if err != nil {
			return err
		}
		if len(legs) == 0 {
			result = ShipmentResult{Accepted: false, RobotID: robotID, IgnoreMsg: "route plan yielded zero legs"}
			return nil
		}

		caller := model.ResolveCaller(req.Caller, o.orderingSet)
		head, tail := legs[0], legs[1:]

		moveResult, err := o.move.Move(ctx, robotID, head.Waypoints, head, tail, routes, &order, caller)
		if err != nil {
			return err
		}
		o.metrics.MoveOutcome(ctx, moveResult)
		o.feed.Record(robotID, "destination set to "+head.Destination)

		result = ShipmentResult{Accepted: true, RobotID: robotID, Order: order, Caller: caller}
		return nil
	})
	if err != nil {
		o.metrics.ShipmentRejected(ctx, "dispatch_failed")
		return ShipmentResult{}, err
	}

	if result.Accepted {
		o.metrics.ShipmentAccepted(ctx, robotID)
	}
	return result, nil
}

// RobotStatus is the response of GET /api/v1/robots/<id>/.
type RobotStatus struct {
	ID          string
	State       string
	Destination string
}

// GetRobotStatus implements GET /api/v1/robots/<robot_id>/ (spec.md §4.4, §6).
func (o *Orchestrator) GetRobotStatus(ctx context.Context, robotID string) (RobotStatus, error) {
	entity, err := o.client.Get(ctx, o.service, o.servicePath, o.types.DeliveryRobot, robotID)
	if err != nil {
		return RobotStatus{}, err
	}

	var state string
	_ = entity.Decode("current_state", &state)

	var navigating *model.Leg
	_ = entity.Decode("navigating_waypoints", &navigating)

	destName, err := robotstate.DestinationName(navigating, func(id string) (string, error) {
		placeEntity, err := o.client.Get(ctx, o.service, o.servicePath, o.types.Place, id)
		if err != nil {
			return "", err
		}
		return placeEntity.String("name")
	})
	if err != nil {
		return RobotStatus{}, err
	}

	return RobotStatus{ID: robotID, State: state, Destination: destName}, nil
}

// AdvanceRobot implements PATCH /api/v1/robots/<robot_id>/nexts/ (spec.md §4.5).
func (o *Orchestrator) AdvanceRobot(ctx context.Context, robotID string) (string, error) {
	var result string
	err := o.locks.WithLock(robotID, func() error {
		var innerErr error
		result, innerErr = o.move.MoveNext(ctx, robotID, true)
		return innerErr
	})
	if err != nil {
		o.metrics.MoveOutcome(ctx, "error")
		return "", err
	}
	o.metrics.MoveOutcome(ctx, result)
	return result, nil
}

// Emergency implements PATCH /api/v1/robots/<robot_id>/emergencies/.
// No UI echo is published, matching the original exactly (SPEC_FULL.md §12.4).
func (o *Orchestrator) Emergency(ctx context.Context, robotID, cmd string) error {
	attrs := o.payload.EmergencyCommand(cmd)
	return o.client.Patch(ctx, o.service, o.servicePath, o.types.DeliveryRobot, robotID, attrs)
}

// ProcessNotifications implements POST /api/v1/robots/notifications/ (spec.md §4.7).
func (o *Orchestrator) ProcessNotifications(ctx context.Context, elements []notification.Element) notification.Batch {
	return o.pipeline.Process(ctx, elements)
}
