package telemetry

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled bool

	// ServiceName is the name of the service reported to the trace backend
	ServiceName string

	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "gplazma",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
