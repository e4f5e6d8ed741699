package waypoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/waypoint"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel/wmtest"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

const (
	service     = "fleet"
	servicePath = "/demo"
	placeType   = "place"
	planType    = "route_plan"
)

func pose(x, y float64) model.Pose {
	return model.Pose{Point: model.Point{X: x, Y: y}}
}

func newFixture(t *testing.T) (*waypoint.Resolver, *wmtest.Server) {
	t.Helper()
	server := wmtest.NewServer(map[string]worldmodel.Entity{
		placeType + "/P1": {"name": {Type: "text", Value: "Warehouse"}, "pose": {Type: "object", Value: pose(0, 0)}},
		placeType + "/P2": {"name": {Type: "text", Value: "DockA"}, "pose": {Type: "object", Value: pose(1, 0)}},
		placeType + "/P3": {"name": {Type: "text", Value: "DockB"}, "pose": {Type: "object", Value: pose(2, 0)}},
		placeType + "/P4": {"name": {Type: "text", Value: "ReceivingDock"}, "pose": {Type: "object", Value: pose(3, 0)}},

		planType + "/rp-1": {
			"destination": {Type: "text", Value: "P4"},
			"via":         {Type: "text", Value: "P2|P3"},
			"robot_id":    {Type: "text", Value: "robot-1"},
			"source":      {Type: "text", Value: "P1"},
			"routes": {Type: "array", Value: []model.Route{
				{From: "P1", Via: []string{"P2", "P3"}, To: "P4", Destination: "P4"},
			}},
		},
	})
	t.Cleanup(server.Close)

	client := worldmodel.New(worldmodel.Config{Endpoint: server.URL, Timeout: 5 * time.Second}, logger.NewDefaultLogger())
	resolver := waypoint.New(client, service, servicePath, waypoint.EntityTypes{Place: placeType, RoutePlan: planType})
	return resolver, server
}

func shipmentWith(destination string, viaPlaces ...string) model.ShipmentRequest {
	req := model.ShipmentRequest{}
	req.Destination.Name = destination
	for _, p := range viaPlaces {
		req.Updated = append(req.Updated, struct {
			Place string `json:"place"`
		}{Place: p})
	}
	return req
}

func TestResolver_EstimateRoutes_ResolvesLegsAndOrder(t *testing.T) {
	resolver, _ := newFixture(t)

	routes, legs, order, err := resolver.EstimateRoutes(context.Background(), shipmentWith("ReceivingDock", "DockB", "DockA"), "robot-1")
	require.NoError(t, err)

	require.Len(t, routes, 1)
	assert.Equal(t, "P4", routes[0].To)

	require.Len(t, legs, 1)
	assert.Equal(t, "P4", legs[0].To)
	require.Len(t, legs[0].Waypoints, 3, "two via waypoints plus the terminal one")
	for _, wp := range legs[0].Waypoints[:2] {
		assert.Nil(t, wp.Angle, "intermediate waypoints carry no angle")
	}
	assert.NotNil(t, legs[0].Waypoints[2].Angle, "the terminal waypoint carries the place's angle")

	assert.Equal(t, "P1", order.Source)
	assert.Equal(t, "P4", order.Destination)
	assert.Equal(t, []string{"P2", "P3"}, order.Via)
}

func TestResolver_EstimateRoutes_ViaOrderIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	resolver, _ := newFixture(t)
	ctx := context.Background()

	_, _, orderA, err := resolver.EstimateRoutes(ctx, shipmentWith("ReceivingDock", "DockA", "DockB"), "robot-1")
	require.NoError(t, err)

	_, _, orderB, err := resolver.EstimateRoutes(ctx, shipmentWith("ReceivingDock", "DockB", "DockA"), "robot-1")
	require.NoError(t, err)

	assert.Equal(t, orderA.Via, orderB.Via, "via ids are sorted before the route-plan lookup, independent of request order")
}

func TestResolver_EstimateRoutes_DuplicateViaPlaceIsDeduplicated(t *testing.T) {
	resolver, _ := newFixture(t)

	_, _, order, err := resolver.EstimateRoutes(context.Background(), shipmentWith("ReceivingDock", "DockA", "DockA", "DockB"), "robot-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"P2", "P3"}, order.Via)
}

func TestResolver_EstimateRoutes_EmptyDestinationIsValidationError(t *testing.T) {
	resolver, _ := newFixture(t)

	_, _, _, err := resolver.EstimateRoutes(context.Background(), model.ShipmentRequest{}, "robot-1")
	require.Error(t, err)
}

func TestResolver_EstimateRoutes_UnknownDestinationNameFails(t *testing.T) {
	resolver, _ := newFixture(t)

	_, _, _, err := resolver.EstimateRoutes(context.Background(), shipmentWith("NoSuchPlace"), "robot-1")
	require.Error(t, err)
}

func TestResolver_EstimateRoutes_NoMatchingRoutePlanFails(t *testing.T) {
	resolver, _ := newFixture(t)

	_, _, _, err := resolver.EstimateRoutes(context.Background(), shipmentWith("ReceivingDock"), "robot-unknown")
	require.Error(t, err)
}
