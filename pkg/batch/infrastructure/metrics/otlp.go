package metrics

import (
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// OTLP transports accepted by billcache.infrastructure.otlp_protocol.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

func protocolName(protocol string) string {
	if protocol == ProtocolGRPC {
		return "OTLP/gRPC"
	}
	return "OTLP/HTTP"
}

// isURL reports whether endpoint carries a scheme, as opposed to a bare "host:port".
func isURL(endpoint string) bool {
	u, err := url.Parse(endpoint)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
}
