package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsReceived  metric.Int64Counter
	eventsDuplicate metric.Int64Counter
	eventsProcessed metric.Int64Counter
	matcherOutcomes metric.Int64Counter
	backfillOrders  metric.Int64Counter
	relistOutcomes  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "shelfsync"
	}
	meter := provider.Meter(name)

	eventsReceived, err := meter.Int64Counter("shelfsync_events_received_total")
	if err != nil {
		return nil, err
	}
	eventsDuplicate, err := meter.Int64Counter("shelfsync_events_duplicate_total")
	if err != nil {
		return nil, err
	}
	eventsProcessed, err := meter.Int64Counter("shelfsync_events_processed_total")
	if err != nil {
		return nil, err
	}
	matcherOutcomes, err := meter.Int64Counter("shelfsync_sale_matches_total")
	if err != nil {
		return nil, err
	}
	backfillOrders, err := meter.Int64Counter("shelfsync_backfill_orders_total")
	if err != nil {
		return nil, err
	}
	relistOutcomes, err := meter.Int64Counter("shelfsync_relist_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsReceived:  eventsReceived,
		eventsDuplicate: eventsDuplicate,
		eventsProcessed: eventsProcessed,
		matcherOutcomes: matcherOutcomes,
		backfillOrders:  backfillOrders,
		relistOutcomes:  relistOutcomes,
	}, nil
}

// RecordEventReceived increments inbound event counts.
func (m *Metrics) RecordEventReceived(ctx context.Context, source, topic string) {
	if m == nil {
		return
	}
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("topic", strings.TrimSpace(topic)),
	))
}

// RecordEventDuplicate increments duplicate-delivery counts.
func (m *Metrics) RecordEventDuplicate(ctx context.Context, source, topic string) {
	if m == nil {
		return
	}
	m.eventsDuplicate.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("topic", strings.TrimSpace(topic)),
	))
}

// RecordEventProcessed increments processed-event counts by outcome.
func (m *Metrics) RecordEventProcessed(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", strings.TrimSpace(topic)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordSaleMatch increments matcher outcome counts by winning strategy.
func (m *Metrics) RecordSaleMatch(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.matcherOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strings.TrimSpace(strategy)),
	))
}

// RecordBackfillOrders adds collected order counts.
func (m *Metrics) RecordBackfillOrders(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.backfillOrders.Add(ctx, n)
}

// RecordRelistRun increments relist tick counts by outcome.
func (m *Metrics) RecordRelistRun(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.relistOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
