// Package robotstate implements the pure derivations of spec.md §4.4:
// available-robot selection, state classification, and destination lookup.
// None of these functions perform I/O; callers supply already-fetched data.
package robotstate

import (
	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// AvailableRobot scans fleet in declaration order and returns the first
// robot id for which snapshot(id) reports IsAvailable. Declaration order
// defines the tie-break (spec.md §4.4: "this is a contract, not an
// accident").
func AvailableRobot(fleet []string, snapshot func(id string) (model.Robot, error)) (string, error) {
	for _, id := range fleet {
		robot, err := snapshot(id)
		if err != nil {
			return "", err
		}
		if robot.IsAvailable() {
			return id, nil
		}
	}
	return "", apperrors.Precondition(apperrors.ErrNoAvailableRobot, "no available robot")
}

// DeriveState classifies a robot's state from its mode, current leg, order
// and caller, per spec.md §4.4.
func DeriveState(mode string, navigating *model.Leg, order model.Order, caller string, log logger.Logger) string {
	if mode == model.ModeNavi {
		return model.StateMoving
	}

	if navigating == nil || navigating.To == "" {
		return model.StateStandby
	}

	to := navigating.To
	switch {
	case to == order.Source:
		return model.StateStandby
	case to == order.Destination:
		switch caller {
		case model.CallerOrdering:
			return model.StateDelivering
		case model.CallerWarehouse:
			return model.StatePicking
		default:
			if log != nil {
				log.Warn("unknown caller, estimating state as picking", map[string]interface{}{"caller": caller})
			}
			return model.StatePicking
		}
	case contains(order.Via, to):
		return model.StatePicking
	default:
		return model.StateMoving
	}
}

// DestinationName looks up the current leg's destination place name via
// placeName, or returns "" if there is no current leg.
func DestinationName(navigating *model.Leg, placeName func(id string) (string, error)) (string, error) {
	if navigating == nil || navigating.Destination == "" {
		return "", nil
	}
	return placeName(navigating.Destination)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
