// Package telemetry wraps the OpenTelemetry metrics the control plane
// emits, mirroring the teacher's resilience/metrics_otel.go pattern of
// wrapping a domain component with a small set of named counters rather
// than scattering otel calls through business logic.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters/histograms emitted across a shipment's
// lifecycle (SPEC_FULL.md §11: shipments accepted/rejected, move outcomes,
// token wait-queue depth).
type Metrics struct {
	shipmentsAccepted metric.Int64Counter
	shipmentsRejected metric.Int64Counter
	moveOutcomes      metric.Int64Counter
	tokenWaitDepth    metric.Int64Histogram
}

// New builds Metrics instruments on meter. meter may be a no-op meter
// (e.g. otel.Meter(...) when no global MeterProvider has been registered)
// when telemetry is disabled; the instruments still record, they are just
// discarded.
func New(meter metric.Meter) (*Metrics, error) {
	shipmentsAccepted, err := meter.Int64Counter(
		"fleet_controller.shipments.accepted",
		metric.WithDescription("shipments assigned to a robot"),
	)
	if err != nil {
		return nil, err
	}
	shipmentsRejected, err := meter.Int64Counter(
		"fleet_controller.shipments.rejected",
		metric.WithDescription("shipments rejected (no available robot, route resolution or dispatch failure)"),
	)
	if err != nil {
		return nil, err
	}
	moveOutcomes, err := meter.Int64Counter(
		"fleet_controller.move.outcomes",
		metric.WithDescription("navi/refresh dispatch outcomes by result"),
	)
	if err != nil {
		return nil, err
	}
	tokenWaitDepth, err := meter.Int64Histogram(
		"fleet_controller.token.wait_depth",
		metric.WithDescription("waitings list length observed on Acquire"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		shipmentsAccepted: shipmentsAccepted,
		shipmentsRejected: shipmentsRejected,
		moveOutcomes:      moveOutcomes,
		tokenWaitDepth:    tokenWaitDepth,
	}, nil
}

// ShipmentAccepted records a successfully dispatched shipment.
func (m *Metrics) ShipmentAccepted(ctx context.Context, robotID string) {
	if m == nil {
		return
	}
	m.shipmentsAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("robot_id", robotID)))
}

// ShipmentRejected records a rejected shipment, tagged with the reason.
func (m *Metrics) ShipmentRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.shipmentsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// MoveOutcome records a navi/refresh dispatch result ("ack", "ignore", "error").
func (m *Metrics) MoveOutcome(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.moveOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// TokenWaitDepth records the observed waitings length for a token.
func (m *Metrics) TokenWaitDepth(ctx context.Context, tokenID string, depth int) {
	if m == nil {
		return
	}
	m.tokenWaitDepth.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("token", tokenID)))
}
