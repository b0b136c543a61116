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
	bowlsCreated     metric.Int64Counter
	tasksTicked      metric.Int64Counter
	bowlsFinalized   metric.Int64Counter
	verifications    metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	visionCalls      metric.Int64Counter
	streakEvents     metric.Int64Counter
	purchases        metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "babcia"
	}
	meter := provider.Meter(name)

	bowlsCreated, err := meter.Int64Counter("babcia_bowls_created_total")
	if err != nil {
		return nil, err
	}
	tasksTicked, err := meter.Int64Counter("babcia_tasks_ticked_total")
	if err != nil {
		return nil, err
	}
	bowlsFinalized, err := meter.Int64Counter("babcia_bowls_finalized_total")
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("babcia_verifications_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("babcia_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	visionCalls, err := meter.Int64Counter("babcia_vision_calls_total")
	if err != nil {
		return nil, err
	}
	streakEvents, err := meter.Int64Counter("babcia_streak_events_total")
	if err != nil {
		return nil, err
	}
	purchases, err := meter.Int64Counter("babcia_filter_purchases_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("babcia_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("babcia_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		bowlsCreated:     bowlsCreated,
		tasksTicked:      tasksTicked,
		bowlsFinalized:   bowlsFinalized,
		verifications:    verifications,
		ledgerEntries:    ledgerEntries,
		visionCalls:      visionCalls,
		streakEvents:     streakEvents,
		purchases:        purchases,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordBowlCreated increments bowl creation counts by task count.
func (m *Metrics) RecordBowlCreated(ctx context.Context, taskCount int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("task_count", fmt.Sprintf("%d", taskCount)))
	m.bowlsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTaskTicked increments task tick counts.
func (m *Metrics) RecordTaskTicked(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksTicked.Add(ctx, 1)
}

// RecordBowlFinalized increments finalization counts by tier and verdict.
func (m *Metrics) RecordBowlFinalized(ctx context.Context, tier, verdict string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("verdict", strings.TrimSpace(verdict)),
	)
	m.bowlsFinalized.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerification increments verification judgement counts.
func (m *Metrics) RecordVerification(ctx context.Context, tier, verdict string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("verdict", strings.TrimSpace(verdict)),
	)
	m.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVisionCall increments AI boundary call counts by op and status.
func (m *Metrics) RecordVisionCall(ctx context.Context, op, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.visionCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStreakEvent increments streak outcome counts.
func (m *Metrics) RecordStreakEvent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.streakEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPurchase increments filter purchase counts.
func (m *Metrics) RecordPurchase(ctx context.Context, sku string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("sku", strings.TrimSpace(sku)))
	m.purchases.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// User-level identifiers stay out of metric labels. Only bounded
// enumerations are allowed through.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"tier":        {},
	"verdict":     {},
	"source_type": {},
	"task_count":  {},
	"op":          {},
	"status":      {},
	"reason":      {},
	"outcome":     {},
	"sku":         {},
	"provider":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
