package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "asset-approval/backend/internal/services"

var tracer = otel.Tracer(instrumentationName)

// Metrics holds the workflow's OpenTelemetry instruments.
type Metrics struct {
	decisions            metric.Int64Counter
	advancements         metric.Int64Counter
	resets               metric.Int64Counter
	finalApprovals       metric.Int64Counter
	contentionRetries    metric.Int64Counter
	notificationFailures metric.Int64Counter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.decisions, err = meter.Int64Counter("workflow.decisions",
		metric.WithDescription("Reviewer decisions recorded")); err != nil {
		return nil, err
	}
	if m.advancements, err = meter.Int64Counter("workflow.stage_advancements",
		metric.WithDescription("Stages that reached quorum")); err != nil {
		return nil, err
	}
	if m.resets, err = meter.Int64Counter("workflow.resets",
		metric.WithDescription("Workflows sent back to stage 1")); err != nil {
		return nil, err
	}
	if m.finalApprovals, err = meter.Int64Counter("workflow.final_approvals",
		metric.WithDescription("Final owner sign-offs")); err != nil {
		return nil, err
	}
	if m.contentionRetries, err = meter.Int64Counter("workflow.contention_retries",
		metric.WithDescription("Transactions retried after a concurrent update")); err != nil {
		return nil, err
	}
	if m.notificationFailures, err = meter.Int64Counter("notifications.failures",
		metric.WithDescription("Notifications that could not be delivered or were dropped")); err != nil {
		return nil, err
	}
	return &m, nil
}

// defaultMetrics binds to the global meter provider, which is a no-op until
// the process installs one.
func defaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) decision(ctx context.Context, action string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) advanced(ctx context.Context, n int) {
	if n > 0 {
		m.advancements.Add(ctx, int64(n))
	}
}

func (m *Metrics) reset(ctx context.Context, reason string) {
	m.resets.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) finalApproval(ctx context.Context) {
	m.finalApprovals.Add(ctx, 1)
}

func (m *Metrics) contention(ctx context.Context, op string) {
	m.contentionRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) notificationFailure(ctx context.Context, kind EventKind, reason string) {
	m.notificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("reason", reason),
	))
}
