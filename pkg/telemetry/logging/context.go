package logging

import (
	"context"
	"log/slog"
)

// Context keys for tunnel log fields.
type contextKey string

const (
	// TunnelIDKey is the context key for tunnel IDs.
	TunnelIDKey contextKey = "tunnel_id"

	// DomainKey is the context key for the CONNECT target domain.
	DomainKey contextKey = "domain"

	// ClientAddrKey is the context key for the client's remote address.
	ClientAddrKey contextKey = "client_addr"
)

// WithTunnelID adds a tunnel ID to the context.
func WithTunnelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TunnelIDKey, id)
}

// GetTunnelID retrieves the tunnel ID from the context.
func GetTunnelID(ctx context.Context) string {
	if id, ok := ctx.Value(TunnelIDKey).(string); ok {
		return id
	}
	return ""
}

// WithDomain adds a target domain to the context.
func WithDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, DomainKey, domain)
}

// GetDomain retrieves the target domain from the context.
func GetDomain(ctx context.Context) string {
	if domain, ok := ctx.Value(DomainKey).(string); ok {
		return domain
	}
	return ""
}

// WithClientAddr adds the client address to the context.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ClientAddrKey, addr)
}

// GetClientAddr retrieves the client address from the context.
func GetClientAddr(ctx context.Context) string {
	if addr, ok := ctx.Value(ClientAddrKey).(string); ok {
		return addr
	}
	return ""
}

// contextAttrs extracts the tunnel fields present in ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if id := GetTunnelID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(TunnelIDKey), id))
	}
	if domain := GetDomain(ctx); domain != "" {
		attrs = append(attrs, slog.String(string(DomainKey), domain))
	}
	if addr := GetClientAddr(ctx); addr != "" {
		attrs = append(attrs, slog.String(string(ClientAddrKey), addr))
	}

	return attrs
}
