package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Custom keys use the "interpose.*" namespace.
const (
	AttrTunnelID   = "interpose.tunnel.id"
	AttrDomain     = "interpose.domain"
	AttrPort       = "interpose.port"
	AttrMode       = "interpose.mode"
	AttrClientAddr = "interpose.client_addr"
	AttrOutcome    = "interpose.outcome"
	AttrBytesUp    = "interpose.bytes.up"
	AttrBytesDown  = "interpose.bytes.down"
	AttrRequests   = "interpose.requests"

	AttrSerial = "interpose.certificate.serial"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPURL    = "url.full"
	AttrHTTPStatus = "http.response.status_code"

	AttrErrorMessage = "error.message"
)

// TunnelAttributes describe a tunnel when its span starts.
func TunnelAttributes(id, domain string, port int, mode, clientAddr string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String(AttrTunnelID, id),
		attribute.String(AttrDomain, domain),
		attribute.Int(AttrPort, port),
		attribute.String(AttrMode, mode),
		attribute.String(AttrClientAddr, clientAddr),
	)
}

// SetTunnelClose records how a tunnel ended.
func SetTunnelClose(span trace.Span, outcome string, up, down, requests int64) {
	span.SetAttributes(
		attribute.String(AttrOutcome, outcome),
		attribute.Int64(AttrBytesUp, up),
		attribute.Int64(AttrBytesDown, down),
		attribute.Int64(AttrRequests, requests),
	)
}
