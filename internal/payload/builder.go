// Package payload builds the attribute payloads the world-model expects
// (spec.md §4.2). Every attribute it writes carries a TimeInstant metadata
// stamp taken from the process's current time in the configured time zone,
// formatted ISO-8601 with millisecond precision.
package payload

import (
	"time"

	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
)

// Builder constructs world-model attribute payloads.
type Builder struct {
	loc *time.Location
	now func() time.Time
}

// New builds a Builder stamping times in loc.
func New(loc *time.Location) *Builder {
	return &Builder{loc: loc, now: time.Now}
}

// withClock returns a copy of b using the given clock, for deterministic tests.
func (b *Builder) withClock(now func() time.Time) *Builder {
	return &Builder{loc: b.loc, now: now}
}

func (b *Builder) timeInstant() map[string]interface{} {
	return map[string]interface{}{
		"TimeInstant": map[string]interface{}{
			"type":  "DateTime",
			"value": worldmodel.FormatTime(b.now(), b.loc),
		},
	}
}

func (b *Builder) attr(attrType string, value interface{}) worldmodel.Attribute {
	return worldmodel.Attribute{
		Type:     attrType,
		Value:    value,
		Metadata: b.timeInstant(),
	}
}

// moveCommandValue is the value shape of the send_cmd attribute written to
// a delivery_robot entity (spec.md §4.5, original app/src/orion.py).
type moveCommandValue struct {
	Cmd                    string       `json:"cmd"`
	Waypoints              []model.Waypoint `json:"waypoints"`
	NavigatingWaypoints    *model.Leg   `json:"navigating_waypoints,omitempty"`
	RemainingWaypointsList []model.Leg  `json:"remaining_waypoints_list,omitempty"`
	Routes                 []model.Route `json:"routes,omitempty"`
	Order                  *model.Order `json:"order,omitempty"`
	Caller                 string       `json:"caller,omitempty"`
}

// DeliveryRobotCommand builds the send_cmd attribute for a navi/refresh
// dispatch. Optional fields are omitted when absent (spec.md §4.2).
func (b *Builder) DeliveryRobotCommand(
	cmd string,
	cmdWaypoints []model.Waypoint,
	navWaypoints model.Leg,
	remaining []model.Leg,
	routes []model.Route,
	order *model.Order,
	caller string,
) map[string]worldmodel.Attribute {
	value := moveCommandValue{
		Cmd:                 cmd,
		Waypoints:           cmdWaypoints,
		NavigatingWaypoints: &navWaypoints,
		Caller:              caller,
	}
	if len(remaining) > 0 {
		value.RemainingWaypointsList = remaining
	}
	if len(routes) > 0 {
		value.Routes = routes
	}
	if order != nil {
		value.Order = order
	}

	return map[string]worldmodel.Attribute{
		"send_cmd": b.attr("command", value),
	}
}

// EmergencyCommand builds the send_cmd attribute for an emergency stop.
func (b *Builder) EmergencyCommand(cmd string) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"send_cmd": b.attr("command", struct {
			Cmd string `json:"cmd"`
		}{Cmd: cmd}),
	}
}

// UpdateMode builds the current_mode attribute write.
func (b *Builder) UpdateMode(next string) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"current_mode": b.attr("text", next),
	}
}

// UpdateState builds the current_state attribute write.
func (b *Builder) UpdateState(next string) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"current_state": b.attr("text", next),
	}
}

// UpdateLastProcessedTime builds the last_processed_time attribute write.
func (b *Builder) UpdateLastProcessedTime(t time.Time) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"last_processed_time": b.attr("DateTime", worldmodel.FormatTime(t, b.loc)),
	}
}

// RobotUISendState builds the UI push for a new (state, destination) pair.
func (b *Builder) RobotUISendState(nextState, destination string) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"send_state": b.attr("command", struct {
			State       string `json:"state"`
			Destination string `json:"destination"`
		}{State: nextState, Destination: destination}),
	}
}

// RobotUISendTokenInfo builds the UI push for a token transition.
func (b *Builder) RobotUISendTokenInfo(token model.Token, mode string) map[string]worldmodel.Attribute {
	return map[string]worldmodel.Attribute{
		"send_token_info": b.attr("command", struct {
			TokenID     string `json:"token_id"`
			Mode        string `json:"mode"`
			LockOwnerID string `json:"lock_owner_id"`
			PrevOwnerID string `json:"prev_owner_id"`
		}{
			TokenID:     token.ID,
			Mode:        mode,
			LockOwnerID: token.LockOwnerID,
			PrevOwnerID: token.PrevOwnerID,
		}),
	}
}

// TokenInfo builds the full token entity payload written on every
// TokenCoordinator transition (spec.md §4.6: "no partial updates").
func (b *Builder) TokenInfo(isLocked bool, lockOwnerID string, waitings []string) map[string]worldmodel.Attribute {
	if waitings == nil {
		waitings = []string{}
	}
	return map[string]worldmodel.Attribute{
		"is_locked":    b.attr("boolean", isLocked),
		"lock_owner_id": b.attr("text", lockOwnerID),
		"waitings":     b.attr("array", waitings),
	}
}
