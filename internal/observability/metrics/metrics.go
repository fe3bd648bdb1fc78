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

// Metrics exposes payment lifecycle instruments.
type Metrics struct {
	paymentsRegistered metric.Int64Counter
	paymentsVoided     metric.Int64Counter
	paymentsExpired    metric.Int64Counter
	reminders          metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
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

// New configures the lifecycle instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "gymledger"
	}
	meter := provider.Meter(name)

	paymentsRegistered, err := meter.Int64Counter("gymledger_payments_registered_total")
	if err != nil {
		return nil, err
	}
	paymentsVoided, err := meter.Int64Counter("gymledger_payments_voided_total")
	if err != nil {
		return nil, err
	}
	paymentsExpired, err := meter.Int64Counter("gymledger_payments_expired_total")
	if err != nil {
		return nil, err
	}
	reminders, err := meter.Int64Counter("gymledger_reminders_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("gymledger_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsRegistered: paymentsRegistered,
		paymentsVoided:     paymentsVoided,
		paymentsExpired:    paymentsExpired,
		reminders:          reminders,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordPaymentRegistered counts a registration by payment method.
func (m *Metrics) RecordPaymentRegistered(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsRegistered.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentVoided(ctx context.Context) {
	if m == nil {
		return
	}
	m.paymentsVoided.Add(ctx, 1)
}

// RecordPaymentsExpired adds the rows flipped by one reconciliation run.
func (m *Metrics) RecordPaymentsExpired(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.paymentsExpired.Add(ctx, count)
}

// RecordReminder counts dispatch outcomes: sent, failed or skipped.
func (m *Metrics) RecordReminder(ctx context.Context, kind, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reminders.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts attempts refused by an attempt limiter.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("policy", strings.TrimSpace(policy)))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"method":  {},
	"kind":    {},
	"outcome": {},
	"policy":  {},
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
