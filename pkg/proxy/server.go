package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/interpose/pkg/bridge"
	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/endpoint"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
	"mercator-hq/interpose/pkg/telemetry/tracing"
)

// Dialer opens connections to origins in bypass mode.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives a record of every tunnel once it ends.
type Recorder interface {
	TunnelClosed(ctx context.Context, record *inventory.TunnelRecord)
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	// Config is the frontend configuration
	Config config.ProxyConfig

	// Root is the trust anchor leaves chain to
	Root *ca.RootCA

	// Cache resolves MITM endpoints; required in mitm mode and for
	// non-bypassed domains
	Cache *endpoint.Cache

	// Bridge relays tunnel bytes; a default is built from Config.BufferSize
	Bridge *bridge.Bridge

	// Handler serves decrypted requests, typically a forward.Handler
	Handler http.Handler

	// Dialer reaches origins in bypass mode; defaults to a net.Dialer
	Dialer Dialer

	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Tracer   *tracing.Tracer
	Recorder Recorder
}

// Server is the CONNECT frontend. It accepts raw TCP connections, decodes
// one CONNECT head per connection, resolves the target and bridges the
// client to it.
type Server struct {
	config     config.ProxyConfig
	mode       Mode
	bypass     atomic.Pointer[BypassList]
	root       *ca.RootCA
	cache      *endpoint.Cache
	bridge     *bridge.Bridge
	dialer     Dialer
	logger     *slog.Logger
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	recorder   Recorder
	terminator *Terminator

	// baseCtx is the parent of every tunnel context; cancelling it forces
	// open tunnels closed
	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	listener     net.Listener
	tunnels      map[string]*Tunnel
	running      bool
	shuttingDown bool
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New builds a Server from deps.
func New(deps Deps) (*Server, error) {
	mode, err := ParseMode(deps.Config.Mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeMITM && deps.Cache == nil {
		return nil, errors.New("mitm mode requires an endpoint cache")
	}
	if deps.Cache != nil && deps.Handler == nil {
		return nil, errors.New("mitm interception requires a request handler")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	br := deps.Bridge
	if br == nil {
		br = bridge.New(deps.Config.BufferSize)
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: deps.Config.DialTimeout, KeepAlive: 30 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   deps.Config,
		mode:     mode,
		root:     deps.Root,
		cache:    deps.Cache,
		bridge:   br,
		dialer:   dialer,
		logger:   logger,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		recorder: deps.Recorder,
		baseCtx:  ctx,
		cancel:   cancel,
		tunnels:  make(map[string]*Tunnel),
	}
	s.bypass.Store(NewBypassList(deps.Config.BypassDomains))
	if deps.Cache != nil {
		s.terminator = NewTerminator(deps.Cache, deps.Handler, logger)
	}
	return s, nil
}

// ListenAndServe listens on the configured address and serves until ctx
// ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends or Shutdown is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	if s.shuttingDown {
		s.mu.Unlock()
		return errors.New("server is shut down")
	}
	s.running = true
	s.listener = ln
	s.mu.Unlock()

	if s.terminator != nil {
		s.terminator.Start()
	}

	attrs := []any{
		"address", ln.Addr().String(),
		"mode", s.mode,
		"bypass_entries", s.bypass.Load().Len(),
	}
	if s.root != nil {
		attrs = append(attrs, "root", s.root.Subject(), "root_fingerprint", ca.Fingerprint(s.root.Certificate))
	}
	s.logger.Info("proxy listening", attrs...)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during proxy shutdown", "error", err)
		}
	})
	defer stop()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		if !s.admit() {
			conn.Close()
			continue
		}
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, waits for open tunnels to finish until ctx
// ends and then forces the rest closed.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shuttingDown = true
		ln := s.listener
		open := len(s.tunnels)
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "open_tunnels", open)

		if ln != nil {
			ln.Close()
		}

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			s.logger.Warn("shutdown timeout, closing open tunnels", "open_tunnels", s.ActiveTunnels())
			s.cancel()
			<-drained
			err = ctx.Err()
		}
		s.cancel()

		if s.terminator != nil {
			s.terminator.Close()
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("proxy server stopped")
	})
	return err
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true while the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.shuttingDown
}

// ActiveTunnels returns the number of open tunnels.
func (s *Server) ActiveTunnels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tunnels)
}

// Tunnels returns the open tunnels, oldest first.
func (s *Server) Tunnels() []TunnelInfo {
	s.mu.Lock()
	out := make([]TunnelInfo, 0, len(s.tunnels))
	for _, t := range s.tunnels {
		out = append(out, t.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SetBypassDomains replaces the bypass list. Tunnels already open keep
// the mode they were given.
func (s *Server) SetBypassDomains(patterns []string) {
	list := NewBypassList(patterns)
	s.bypass.Store(list)
	s.logger.Info("bypass list updated", "bypass_entries", list.Len())
}

// ModeFor returns how domain is served.
func (s *Server) ModeFor(domain string) Mode {
	if s.mode == ModeBypass || s.bypass.Load().Match(domain) {
		return ModeBypass
	}
	return ModeMITM
}

// admit registers an accepted connection with the drain group unless
// Shutdown has begun. Both happen under mu so Shutdown never waits on a
// group that can still grow.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

func (s *Server) track(t *Tunnel) {
	s.mu.Lock()
	s.tunnels[t.ID] = t
	s.mu.Unlock()
}

func (s *Server) untrack(t *Tunnel) {
	s.mu.Lock()
	delete(s.tunnels, t.ID)
	s.mu.Unlock()
}

// handleConn serves one client connection from CONNECT head to close.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	start := time.Now()
	clientAddr := conn.RemoteAddr().String()
	ctx := logging.WithClientAddr(s.baseCtx, clientAddr)

	if s.config.HeaderTimeout > 0 {
		conn.SetReadDeadline(start.Add(s.config.HeaderTimeout))
	}
	br := bufio.NewReaderSize(conn, 4096)
	req, err := ReadConnect(br, s.config.MaxHeaderBytes)
	if err != nil {
		s.rejectHead(ctx, conn, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	t := &Tunnel{
		ID:         uuid.New().String(),
		Domain:     req.Host,
		Port:       req.Port,
		ClientAddr: clientAddr,
		StartedAt:  start,
	}
	t.Mode = s.ModeFor(t.Domain)
	ctx = logging.WithTunnelID(ctx, t.ID)
	ctx = logging.WithDomain(ctx, t.Domain)

	ctx, span := s.tracer.Start(ctx, "proxy.tunnel",
		trace.WithSpanKind(trace.SpanKindServer),
		tracing.TunnelAttributes(t.ID, t.Domain, t.Port, string(t.Mode), clientAddr))
	defer span.End()
	t.spanCtx = span.SpanContext()

	s.track(t)
	defer s.untrack(t)

	s.logger.DebugContext(ctx, "connect accepted",
		"port", t.Port,
		"mode", t.Mode,
		"user_agent", req.Header.Get("User-Agent"),
	)

	waitCtx, stopWatch := watchClose(ctx, conn, br)
	target, err := s.resolve(waitCtx, t)
	stopWatch()
	if err != nil {
		if cause := context.Cause(waitCtx); errors.Is(cause, errClientGone) {
			err = cause
		}
		s.rejectTarget(ctx, conn, t, err)
		return
	}

	if _, err := io.WriteString(conn, responseEstablished); err != nil {
		if target != nil {
			target.Close()
		}
		s.finish(ctx, t, bridge.Stats{}, err)
		return
	}
	t.setState(StateEstablished)
	s.metrics.TunnelOpened(string(t.Mode))

	client := &bufferedConn{Conn: conn, r: br}

	var stats bridge.Stats
	switch t.Mode {
	case ModeBypass:
		stats, err = s.bridge.Relay(ctx, client, target)
	default:
		stats, err = s.relayMITM(ctx, t, client)
	}
	s.finish(ctx, t, stats, err)
}

// resolve obtains the tunnel's target before the client is told the
// tunnel is established: a dialed origin connection in bypass mode, or the
// domain's endpoint in mitm mode (the returned conn is then nil).
func (s *Server) resolve(ctx context.Context, t *Tunnel) (net.Conn, error) {
	if t.Mode == ModeBypass {
		if s.config.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.DialTimeout)
			defer cancel()
		}
		conn, err := s.dialer.DialContext(ctx, "tcp", t.Target())
		if err != nil {
			return nil, &UpstreamError{Op: "dial", Target: t.Target(), Err: err}
		}
		return conn, nil
	}

	ep, err := s.cache.GetOrCreate(ctx, t.Domain)
	if err != nil {
		return nil, &UpstreamError{Op: "endpoint", Target: t.Target(), Err: err}
	}
	t.endpoint = ep
	return nil, nil
}

// relayMITM bridges client into the terminator through an in-memory pipe.
func (s *Server) relayMITM(ctx context.Context, t *Tunnel, client net.Conn) (bridge.Stats, error) {
	release := t.endpoint.Attach(t.ID)
	defer release()

	outer, inner := net.Pipe()
	if err := s.terminator.Serve(inner, t); err != nil {
		outer.Close()
		inner.Close()
		return bridge.Stats{}, err
	}
	defer s.terminator.Forget(inner)

	return s.bridge.Relay(ctx, client, outer)
}

// rejectHead answers an undecodable CONNECT head with 400.
func (s *Server) rejectHead(ctx context.Context, conn net.Conn, err error) {
	var protoErr *ProtocolError
	reason := "bad_request"
	if errors.As(err, &protoErr) {
		reason = protoErr.Reason
	}
	code := StatusFor(err)
	s.metrics.RecordConnectRejected(reason)
	s.logger.InfoContext(ctx, "rejecting connection", "status", code, "error", err)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, statusResponse(code))
}

// rejectTarget answers an unresolvable target with 502 and records the
// rejected tunnel.
func (s *Server) rejectTarget(ctx context.Context, conn net.Conn, t *Tunnel, err error) {
	code := StatusFor(err)
	s.metrics.RecordConnectRejected("bad_gateway")
	s.logger.WarnContext(ctx, "rejecting tunnel",
		"status", code,
		"mode", t.Mode,
		"error", err,
	)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, statusResponse(code))

	t.setState(StateClosed)
	s.record(ctx, t, bridge.Stats{}, inventory.OutcomeRejected, err)
}

// finish closes out an established tunnel.
func (s *Server) finish(ctx context.Context, t *Tunnel, stats bridge.Stats, err error) {
	t.setState(StateClosed)

	outcome := inventory.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = inventory.OutcomeCancelled
	default:
		outcome = inventory.OutcomeError
	}

	duration := time.Since(t.StartedAt)
	s.metrics.TunnelClosed(string(t.Mode), outcome, duration, stats.Up, stats.Down)

	attrs := []any{
		"mode", t.Mode,
		"outcome", outcome,
		"bytes_up", stats.Up,
		"bytes_down", stats.Down,
		"requests", t.Requests(),
		"duration", duration,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.InfoContext(ctx, "tunnel closed", attrs...)

	s.record(ctx, t, stats, outcome, err)
}

// record closes the tunnel's span and hands the tunnel to the recorder.
func (s *Server) record(ctx context.Context, t *Tunnel, stats bridge.Stats, outcome string, err error) {
	span := trace.SpanFromContext(ctx)
	tracing.SetTunnelClose(span, outcome, stats.Up, stats.Down, t.Requests())
	tracing.SetStatus(span, err)

	if s.recorder == nil {
		return
	}
	rec := &inventory.TunnelRecord{
		ID:         t.ID,
		Domain:     t.Domain,
		Port:       t.Port,
		Mode:       string(t.Mode),
		ClientAddr: t.ClientAddr,
		StartedAt:  t.StartedAt,
		EndedAt:    time.Now(),
		BytesUp:    stats.Up,
		BytesDown:  stats.Down,
		Requests:   t.Requests(),
		Outcome:    outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.recorder.TunnelClosed(ctx, rec)
}
