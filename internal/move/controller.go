// Package move implements the navi/refresh command dispatch protocol with
// ack polling, per spec.md §4.5.
package move

import (
	"context"
	"time"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/payload"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// EntityTypes names the world-model entity type for robots.
type EntityTypes struct {
	DeliveryRobot string
}

// PollConfig bounds the ack-poll loop (spec.md §5: "suggested defaults:
// 200ms x 25 = 5s cap").
type PollConfig struct {
	Interval   time.Duration
	MaxAttempts int
}

// Controller encapsulates the command-and-ack protocol (spec.md §4.5).
type Controller struct {
	client      *worldmodel.Client
	payload     *payload.Builder
	service     string
	servicePath string
	types       EntityTypes
	poll        PollConfig
	logger      logger.Logger
	sleep       func(time.Duration)
}

// New builds a Controller.
func New(client *worldmodel.Client, builder *payload.Builder, service, servicePath string, types EntityTypes, poll PollConfig, log logger.Logger) *Controller {
	return &Controller{
		client:      client,
		payload:     builder,
		service:     service,
		servicePath: servicePath,
		types:       types,
		poll:        poll,
		logger:      log,
		sleep:       time.Sleep,
	}
}

// withSleep returns a copy of c using fn instead of time.Sleep between ack
// poll attempts, for deterministic tests.
func (c *Controller) withSleep(fn func(time.Duration)) *Controller {
	cp := *c
	cp.sleep = fn
	return &cp
}

// Move dispatches a navi command, following up with a refresh retry if the
// robot responds "ignore" (spec.md §4.5 steps 1-5).
func (c *Controller) Move(
	ctx context.Context,
	robotID string,
	cmdWaypoints []model.Waypoint,
	navWaypoints model.Leg,
	remaining []model.Leg,
	routes []model.Route,
	order *model.Order,
	caller string,
) (string, error) {
	naviResult, err := c.dispatch(ctx, "navi", robotID, cmdWaypoints, navWaypoints, remaining, routes, order, caller)
	if err != nil {
		return "", err
	}

	switch naviResult {
	case model.ResultAck, model.ResultError:
		if naviResult == model.ResultError {
			return "", apperrors.Internal("move robot error, robot_id=%s", robotID)
		}
		c.logger.Info("move command acknowledged", map[string]interface{}{"robot_id": robotID, "cmd": "navi"})
		return naviResult, nil
	case model.ResultIgnore:
		refreshResult, err := c.dispatch(ctx, "refresh", robotID, cmdWaypoints, navWaypoints, remaining, routes, order, caller)
		if err != nil {
			return "", err
		}
		if refreshResult != model.ResultAck {
			return "", apperrors.Internal(
				"cannot move robot(%s) to %q using \"navi\" and \"refresh\", navi result=%s refresh result=%s",
				robotID, navWaypoints.To, naviResult, refreshResult)
		}
		c.logger.Info("move command acknowledged after refresh", map[string]interface{}{"robot_id": robotID})
		return refreshResult, nil
	default:
		return "", apperrors.Internal("unexpected send_cmd_info.result %q for robot(%s)", naviResult, robotID)
	}
}

func (c *Controller) dispatch(
	ctx context.Context,
	cmd, robotID string,
	cmdWaypoints []model.Waypoint,
	navWaypoints model.Leg,
	remaining []model.Leg,
	routes []model.Route,
	order *model.Order,
	caller string,
) (string, error) {
	attrs := c.payload.DeliveryRobotCommand(cmd, cmdWaypoints, navWaypoints, remaining, routes, order, caller)
	if err := c.client.Patch(ctx, c.service, c.servicePath, c.types.DeliveryRobot, robotID, attrs); err != nil {
		return "", err
	}

	if err := c.waitForAck(ctx, robotID); err != nil {
		return "", err
	}

	entity, err := c.client.Get(ctx, c.service, c.servicePath, c.types.DeliveryRobot, robotID)
	if err != nil {
		return "", err
	}

	var info model.SendCmdInfo
	if err := entity.Decode("send_cmd_info", &info); err != nil || info.Result == "" {
		return "", apperrors.Internal("invalid send_cmd_info for robot(%s), %v", robotID, entity["send_cmd_info"])
	}
	return info.Result, nil
}

// waitForAck polls send_cmd_status up to poll.MaxAttempts times with
// poll.Interval between attempts until it reads "OK" (spec.md §4.5 step 2).
func (c *Controller) waitForAck(ctx context.Context, robotID string) error {
	for attempt := 1; attempt <= c.poll.MaxAttempts; attempt++ {
		entity, err := c.client.Get(ctx, c.service, c.servicePath, c.types.DeliveryRobot, robotID)
		if err != nil {
			return err
		}
		status, err := entity.String("send_cmd_status")
		if err == nil && status == "OK" {
			return nil
		}

		if attempt == c.poll.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.InternalWrap(ctx.Err(), "ack poll canceled for robot(%s)", robotID)
		default:
		}
		c.sleep(c.poll.Interval)
	}

	return apperrors.Internal(
		"robot(%s) did not acknowledge command, wait-msec=%d wait-count=%d",
		robotID, c.poll.Interval.Milliseconds()*int64(c.poll.MaxAttempts), c.poll.MaxAttempts)
}

// MoveNext advances a robot to the head of its remaining_waypoints_list
// (spec.md §4.5 MoveNext). If modeCheck is true and the robot is currently
// navigating, it fails Conflict.
func (c *Controller) MoveNext(ctx context.Context, robotID string, modeCheck bool) (string, error) {
	entity, err := c.client.Get(ctx, c.service, c.servicePath, c.types.DeliveryRobot, robotID)
	if err != nil {
		return "", err
	}

	if modeCheck {
		mode, err := entity.String("mode")
		if err == nil && mode == model.ModeNavi {
			return "", apperrors.Conflict(apperrors.ErrRobotNavigating, "robot(%s) is navigating now", robotID).WithField("id", robotID)
		}
	}

	var remaining []model.Leg
	if err := entity.Decode("remaining_waypoints_list", &remaining); err != nil || len(remaining) == 0 {
		return "", apperrors.Precondition(apperrors.ErrNoRemainingWaypoints, "no remaining waypoints for robot(%s)", robotID).WithField("id", robotID)
	}

	head, tail := remaining[0], remaining[1:]
	return c.Move(ctx, robotID, head.Waypoints, head, tail, nil, nil, "")
}
