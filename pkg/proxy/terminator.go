package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/interpose/pkg/endpoint"
	"mercator-hq/interpose/pkg/forward"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

type tunnelContextKey struct{}

func withTunnel(ctx context.Context, t *Tunnel) context.Context {
	return context.WithValue(ctx, tunnelContextKey{}, t)
}

func tunnelFromContext(ctx context.Context) *Tunnel {
	t, _ := ctx.Value(tunnelContextKey{}).(*Tunnel)
	return t
}

// Terminator is the single in-process TLS server every MITM tunnel is
// bridged into. Certificates are chosen per handshake from the endpoint
// cache by SNI, falling back to the tunnel's CONNECT domain.
type Terminator struct {
	cache    *endpoint.Cache
	logger   *slog.Logger
	listener *chanListener
	server   *http.Server

	// tunnels maps the terminator side of each bridged pipe to its tunnel
	tunnels sync.Map

	startOnce sync.Once
	served    chan struct{}
}

// NewTerminator returns a terminator serving decrypted requests with handler.
func NewTerminator(cache *endpoint.Cache, handler http.Handler, logger *slog.Logger) *Terminator {
	if logger == nil {
		logger = logging.Discard()
	}
	t := &Terminator{
		cache:    cache,
		logger:   logger,
		listener: newChanListener("interpose-terminator"),
		served:   make(chan struct{}),
	}

	t.server = &http.Server{
		Handler:           recoverHandler(logger, countRequests(handler)),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ConnContext:       t.connContext,
		// A non-nil empty map keeps HTTP/2 off.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}
	return t
}

// TLSConfig returns the server-side TLS configuration.
func (t *Terminator) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"http/1.1"},
		GetCertificate: t.getCertificate,
	}
}

// Start begins serving. It is safe to call more than once.
func (t *Terminator) Start() {
	t.startOnce.Do(func() {
		ln := tls.NewListener(t.listener, t.TLSConfig())
		go func() {
			defer close(t.served)
			if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Error("terminator stopped", "error", err)
			}
		}()
	})
}

// Serve hands the terminator side of a bridged pipe to the TLS server.
func (t *Terminator) Serve(conn net.Conn, tun *Tunnel) error {
	t.tunnels.Store(conn, tun)
	if err := t.listener.Push(conn); err != nil {
		t.tunnels.Delete(conn)
		return fmt.Errorf("terminator closed: %w", err)
	}
	return nil
}

// Forget drops the tunnel mapping for conn.
func (t *Terminator) Forget(conn net.Conn) {
	t.tunnels.Delete(conn)
}

// Close stops accepting and closes every terminated connection.
func (t *Terminator) Close() error {
	t.listener.Close()
	err := t.server.Close()
	t.startOnce.Do(func() { close(t.served) })
	<-t.served
	return err
}

func (t *Terminator) lookup(conn net.Conn) *Tunnel {
	if v, ok := t.tunnels.Load(conn); ok {
		return v.(*Tunnel)
	}
	return nil
}

// connContext attaches the tunnel's identity to every request on conn.
func (t *Terminator) connContext(ctx context.Context, c net.Conn) context.Context {
	raw := c
	if tc, ok := c.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	tun := t.lookup(raw)
	if tun == nil {
		return ctx
	}
	ctx = withTunnel(ctx, tun)
	if tun.spanCtx.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, tun.spanCtx)
	}
	ctx = logging.WithTunnelID(ctx, tun.ID)
	ctx = logging.WithDomain(ctx, tun.Domain)
	ctx = logging.WithClientAddr(ctx, tun.ClientAddr)
	return forward.WithTarget(ctx, tun.Target())
}

// getCertificate selects the leaf for a handshake. No SNI, or SNI equal to
// the CONNECT domain, uses the tunnel's endpoint; any other name is looked
// up (or created) in the cache.
func (t *Terminator) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	tun := t.lookup(hello.Conn)
	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))

	if tun != nil && tun.endpoint != nil && (name == "" || name == tun.Domain) {
		return tun.endpoint.TLSCertificate(), nil
	}
	if name == "" {
		if tun == nil {
			return nil, errors.New("no server name and no tunnel for connection")
		}
		name = tun.Domain
	}

	ep, err := t.cache.GetOrCreate(hello.Context(), name)
	if err != nil {
		t.logger.WarnContext(hello.Context(), "no certificate for server name",
			"server_name", name,
			"error", err,
		)
		return nil, err
	}
	return ep.TLSCertificate(), nil
}
