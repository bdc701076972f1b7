// Package otelcol installs the global OpenTelemetry tracer provider. Spans
// started by otelgin and otelgorm are exported to OTEL.ADDR.
package otelcol

import (
	"context"

	"reviewhub/pkg/config"
	"reviewhub/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol", fx.Invoke(Register))

func NewResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(cfg.AppVersion),
			semconv.ServiceNamespace(cfg.AppNamespace),
			semconv.DeploymentEnvironment(cfg.AppEnv),
		),
	)
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = []trace.TracerProviderOption{trace.WithResource(resource.Default())}
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

// Register sets the W3C propagators and, when OTEL.ADDR is configured, a batching
// tracer provider that is flushed on shutdown.
func Register(lc fx.Lifecycle, cfg *config.Config) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Otel.Addr == "" {
		zap.L().Debug("otel exporter disabled")
		return nil
	}

	exporter, err := exporters.New(cfg)
	if err != nil {
		zap.L().Error("failed to create otel exporter", zap.String("addr", cfg.Otel.Addr), zap.Error(err))
		return err
	}

	res, err := NewResource(context.Background(), cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter,
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.Otel.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	zap.L().Info("otel tracing enabled",
		zap.String("addr", cfg.Otel.Addr),
		zap.String("protocol", cfg.Otel.Protocol),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return nil
}
