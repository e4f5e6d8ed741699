// Package waypoint resolves a shipment descriptor into an ordered sequence
// of route legs, per spec.md §4.3.
package waypoint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
)

// ViaSeparator joins sorted via-place ids into a route plan lookup key
// (spec.md §6 constants).
const ViaSeparator = "|"

// EntityTypes names the world-model entity types the resolver queries.
type EntityTypes struct {
	Place     string
	RoutePlan string
}

// Resolver implements spec.md §4.3's EstimateRoutes.
type Resolver struct {
	client      *worldmodel.Client
	service     string
	servicePath string
	types       EntityTypes
}

// New builds a Resolver against the given world-model client and tenancy.
func New(client *worldmodel.Client, service, servicePath string, types EntityTypes) *Resolver {
	return &Resolver{client: client, service: service, servicePath: servicePath, types: types}
}

func (r *Resolver) placeIDByName(ctx context.Context, name string) (string, error) {
	entity, err := r.client.Query(ctx, r.service, r.servicePath, r.types.Place, fmt.Sprintf("name==%s", name))
	if err != nil {
		return "", err
	}
	return entity.String("id")
}

// EstimateRoutes resolves shipment into routes, per-leg waypoint sequences,
// and the order descriptor used for later state derivation (spec.md §4.3).
func (r *Resolver) EstimateRoutes(ctx context.Context, shipment model.ShipmentRequest, robotID string) ([]model.Route, []model.Leg, model.Order, error) {
	if shipment.Destination.Name == "" {
		return nil, nil, model.Order{}, apperrors.Validation("shipment destination.name must be a non-empty string")
	}

	destinationID, err := r.placeIDByName(ctx, shipment.Destination.Name)
	if err != nil {
		return nil, nil, model.Order{}, err
	}

	viaNames := dedupe(namesOf(shipment.Updated))
	sort.Strings(viaNames)

	viaIDs := make([]string, 0, len(viaNames))
	for _, name := range viaNames {
		id, err := r.placeIDByName(ctx, name)
		if err != nil {
			return nil, nil, model.Order{}, err
		}
		viaIDs = append(viaIDs, id)
	}
	viaKey := strings.Join(viaIDs, ViaSeparator)

	planEntity, err := r.client.Query(ctx, r.service, r.servicePath, r.types.RoutePlan,
		fmt.Sprintf("destination==%s;via==%s;robot_id==%s", destinationID, viaKey, robotID))
	if err != nil {
		return nil, nil, model.Order{}, err
	}

	var plan model.RoutePlan
	if err := planEntity.Decode("routes", &plan.Routes); err != nil {
		return nil, nil, model.Order{}, apperrors.InternalWrap(err, "route_plan has malformed routes attribute")
	}
	if err := planEntity.Decode("source", &plan.Source); err != nil {
		return nil, nil, model.Order{}, apperrors.InternalWrap(err, "route_plan has malformed source attribute")
	}

	placeIDs := make(map[string]struct{})
	for _, route := range plan.Routes {
		placeIDs[route.From] = struct{}{}
		placeIDs[route.To] = struct{}{}
		placeIDs[route.Destination] = struct{}{}
		for _, v := range route.Via {
			placeIDs[v] = struct{}{}
		}
	}
	ids := make([]string, 0, len(placeIDs))
	for id := range placeIDs {
		ids = append(ids, id)
	}

	places, err := r.client.List(ctx, r.service, r.servicePath, r.types.Place, ids)
	if err != nil {
		return nil, nil, model.Order{}, err
	}
	poses := make(map[string]model.Pose, len(places))
	for id, entity := range places {
		var pose model.Pose
		if err := entity.Decode("pose", &pose); err != nil {
			return nil, nil, model.Order{}, apperrors.InternalWrap(err, "place %s has malformed pose attribute", id)
		}
		poses[id] = pose
	}

	legs := make([]model.Leg, 0, len(plan.Routes))
	for _, route := range plan.Routes {
		waypoints := make([]model.Waypoint, 0, len(route.Via)+1)
		for _, viaID := range route.Via {
			pose, ok := poses[viaID]
			if !ok {
				return nil, nil, model.Order{}, apperrors.Internal("unresolved via place %s", viaID)
			}
			waypoints = append(waypoints, model.Waypoint{Point: pose.Point})
		}
		toPose, ok := poses[route.To]
		if !ok {
			return nil, nil, model.Order{}, apperrors.Internal("unresolved destination place %s", route.To)
		}
		angle := toPose.Angle
		waypoints = append(waypoints, model.Waypoint{Point: toPose.Point, Angle: &angle})

		legs = append(legs, model.Leg{
			To:          route.To,
			Destination: route.Destination,
			Action:      route.Action,
			Waypoints:   waypoints,
		})
	}

	order := model.Order{
		Source:      plan.Source,
		Via:         viaIDs,
		Destination: destinationID,
	}

	return plan.Routes, legs, order, nil
}

func namesOf(updated []struct {
	Place string `json:"place"`
}) []string {
	names := make([]string, 0, len(updated))
	for _, u := range updated {
		names = append(names, u.Place)
	}
	return names
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
