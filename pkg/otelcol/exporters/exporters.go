package exporters

import (
	"fmt"

	"reviewhub/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
)

// New builds the OTLP trace exporter selected by OTEL.PROTOCOL.
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	switch cfg.Otel.Protocol {
	case "", "http":
		return ProvideHttp(cfg)
	case "grpc":
		return ProvideGrpc(cfg)
	default:
		return nil, fmt.Errorf("unsupported OTEL.PROTOCOL %q", cfg.Otel.Protocol)
	}
}
