// Package logging builds the process logger on top of log/slog.
//
// New returns a plain *slog.Logger so every component can accept the
// standard type. The handler it installs copies tunnel fields from the
// context into each record:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//
//	ctx = logging.WithTunnelID(ctx, id)
//	ctx = logging.WithDomain(ctx, "example.com")
//	logger.InfoContext(ctx, "tunnel established")
//	// {"level":"INFO","msg":"tunnel established","tunnel_id":"...","domain":"example.com"}
package logging
