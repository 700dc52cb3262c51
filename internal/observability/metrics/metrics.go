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

const exportInterval = 10 * time.Second

// Config configures the OTLP meter provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP counters pushed alongside the Prometheus registry.
// A nil *Metrics records nothing.
type Metrics struct {
	counters map[string]metric.Int64Counter
}

const (
	counterRecordMutations = "cdulog_record_mutations_total"
	counterUnitRecomputes  = "cdulog_unit_recomputes_total"
	counterExports         = "cdulog_exports_total"
	counterTokenRejections = "cdulog_token_rejections_total"
)

var counterDescriptions = map[string]string{
	counterRecordMutations: "Maintenance record writes by operation and type.",
	counterUnitRecomputes:  "Unit status derivations by resulting status.",
	counterExports:         "Rendered history exports by format.",
	counterTokenRejections: "Bearer tokens refused by the verifier.",
}

// NewProvider registers the global meter provider. Disabled telemetry gets a
// noop provider so instruments stay valid.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := dialExporter(context.Background(), cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	log = log.Named("metrics")
	if lc != nil {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			log.Info("flushing meter provider")
			return provider.Shutdown(ctx)
		}})
	}
	log.Info("otlp metrics enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New creates the domain counters on the provider's meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "cdulog"
	}
	meter := provider.Meter(scope)

	m := &Metrics{counters: make(map[string]metric.Int64Counter, len(counterDescriptions))}
	for name, desc := range counterDescriptions {
		counter, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		m.counters[name] = counter
	}
	return m, nil
}

func (m *Metrics) inc(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	counter, ok := m.counters[name]
	if !ok {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

func (m *Metrics) RecordMutation(ctx context.Context, operation, maintenanceType string) {
	m.inc(ctx, counterRecordMutations, label("operation", operation), label("maintenance_type", maintenanceType))
}

func (m *Metrics) RecordRecompute(ctx context.Context, status string) {
	m.inc(ctx, counterUnitRecomputes, label("status", status))
}

func (m *Metrics) RecordExport(ctx context.Context, format string) {
	m.inc(ctx, counterExports, label("format", format))
}

func (m *Metrics) RecordTokenRejected(ctx context.Context, reason string) {
	m.inc(ctx, counterTokenRejections, label("reason", reason))
}

func dialExporter(ctx context.Context, protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// Label keys allowed on any series. Identifiers such as unit or record ids
// are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"operation":        true,
	"maintenance_type": true,
	"status":           true,
	"format":           true,
	"reason":           true,
	"endpoint":         true,
	"status_code":      true,
}

// FilterAttributes drops any label outside the allowed set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			kept = append(kept, attr)
		}
	}
	return kept
}
