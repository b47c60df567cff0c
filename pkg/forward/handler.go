package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
	"mercator-hq/interpose/pkg/telemetry/tracing"
)

type contextKey int

const targetKey contextKey = iota

// WithTarget returns a context carrying the CONNECT authority (host:port)
// a decrypted request arrived through.
func WithTarget(ctx context.Context, hostport string) context.Context {
	return context.WithValue(ctx, targetKey, hostport)
}

// TargetFromContext returns the authority stored by WithTarget.
func TargetFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(targetKey).(string); ok {
		return v
	}
	return ""
}

// Handler serves decrypted requests by fetching them from the origin.
type Handler struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// NewHandler returns a Handler using fetcher. logger and collector may be nil.
func NewHandler(fetcher Fetcher, logger *slog.Logger, collector *metrics.Collector) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{fetcher: fetcher, logger: logger, metrics: collector}
}

// WithTracer records a span per forwarded request and returns h.
func (h *Handler) WithTracer(t *tracing.Tracer) *Handler {
	h.tracer = t
	return h
}

// ServeHTTP rewrites r to an absolute https URL, fetches it and streams the
// response back. A failed fetch is answered with 502.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "forward.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracing.AttrHTTPMethod, r.Method)))
	defer span.End()

	out, err := OriginRequest(ctx, r)
	if err != nil {
		tracing.SetStatus(span, err)
		h.metrics.RecordUpstream(0, time.Since(start))
		h.logger.WarnContext(ctx, "cannot build origin request", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String(tracing.AttrHTTPURL, out.URL.String()))

	resp, err := h.fetcher.Fetch(ctx, out)
	if err != nil {
		tracing.SetStatus(span, err)
		h.metrics.RecordUpstream(0, time.Since(start))
		h.logger.WarnContext(ctx, "origin fetch failed",
			"method", r.Method,
			"url", out.URL.String(),
			"error", err,
		)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	RemoveHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	n, err := copyFlush(w, resp.Body)
	h.metrics.RecordUpstream(resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, resp.StatusCode))
	tracing.SetStatus(span, err)

	attrs := []any{
		"method", r.Method,
		"url", out.URL.String(),
		"status", resp.StatusCode,
		"bytes", n,
		"duration", time.Since(start),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(ctx, "origin response truncated", append(attrs, "error", err)...)
		return
	}
	h.logger.DebugContext(ctx, "request forwarded", attrs...)
}

// OriginRequest builds the outbound request for a decrypted one. The Host
// header names the origin; the CONNECT authority fills in when it is
// missing and supplies a non-default port.
func OriginRequest(ctx context.Context, r *http.Request) (*http.Request, error) {
	host := r.Host
	target := TargetFromContext(ctx)
	if host == "" {
		host = target
	}
	if host == "" && r.TLS != nil {
		host = r.TLS.ServerName
	}
	if host == "" {
		return nil, errors.New("request names no host")
	}
	if _, _, err := net.SplitHostPort(host); err != nil && target != "" {
		if _, port, terr := net.SplitHostPort(target); terr == nil && port != "443" {
			host = net.JoinHostPort(host, port)
		}
	}

	out := r.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = "https"
	out.URL.Host = host
	out.Host = r.Host
	out.Close = false
	if r.ContentLength == 0 {
		out.Body = nil
	}
	RemoveHopHeaders(out.Header)
	return out, nil
}

// copyFlush copies src to w, flushing after every chunk so streamed
// responses reach the client as they arrive.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
