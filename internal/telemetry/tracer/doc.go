// Package tracer provides OpenTelemetry span helpers.
//
// Spans go to whatever TracerProvider is installed globally with
// otel.SetTracerProvider; without one they are no-ops. Exporter setup
// belongs to the embedding process.
package tracer
