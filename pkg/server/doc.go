// Package server provides the admin HTTP server.
//
// The admin server runs on its own listener, separate from the CONNECT
// proxy, and exposes:
//
//	GET /health                   liveness, always 200
//	GET /ready                    readiness checks (root CA, inventory)
//	GET /version                  build information
//	GET /metrics                  Prometheus metrics (path configurable)
//	GET /ca.pem                   the root certificate, for trust stores
//	GET /endpoints                cached MITM endpoints
//	GET /tunnels                  open tunnels
//	GET /inventory/certificates   issued leaves (domain, serial, since, limit)
//	GET /inventory/tunnels        tunnel history (domain, mode, outcome, since, limit, offset)
//
// Routes whose source is missing from Deps are not registered.
//
// # Basic Usage
//
//	admin := server.NewServer(server.Deps{
//	    Config:      cfg.Admin,
//	    MetricsPath: cfg.Telemetry.Metrics.Path,
//	    Checker:     checker,
//	    Metrics:     collector,
//	    Root:        root,
//	    Endpoints:   cache,
//	    Tunnels:     proxyServer,
//	    Inventory:   store,
//	    Logger:      logger,
//	})
//	go admin.Start(ctx)
//
// Every response carries an X-Request-ID header; a client-supplied one is
// echoed back.
package server
