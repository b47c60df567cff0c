// Package tracing provides OpenTelemetry tracing for Interpose.
//
// Each CONNECT tunnel is a server span ("proxy.tunnel") carrying the
// domain, port, mode, byte counts and outcome. Leaf issuance
// ("endpoint.issue") and every decrypted request forwarded to the origin
// ("forward.request") are recorded as child spans of the tunnel that
// triggered them, so one trace shows a tunnel from CONNECT to close.
//
// Spans are exported over OTLP/gRPC:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    insecure: true
//	    sampler: ratio
//	    sample_ratio: 0.1
//
// A nil *Tracer is valid and records nothing, so components take one
// optionally.
package tracing
