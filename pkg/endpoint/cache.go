package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/interpose/pkg/issuer"
	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
	"mercator-hq/interpose/pkg/telemetry/tracing"
)

// Observer is notified of every successful issuance.
type Observer interface {
	CertificateIssued(ctx context.Context, cert *issuer.DomainCertificate)
}

// Options configures a Cache.
type Options struct {
	// RenewBefore treats entries expiring sooner than this as missing.
	// Zero disables renewal.
	RenewBefore time.Duration

	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Tracer   *tracing.Tracer
	Observer Observer
}

// call is one in-flight creation. ep and err are written before done is
// closed and read only after.
type call struct {
	done chan struct{}
	ep   *Endpoint
	err  error
}

// Cache maps domains to endpoints and guarantees at most one in-flight
// creation per domain. Entries live for the process lifetime unless their
// leaf needs renewal; failures are never stored.
type Cache struct {
	issuer      issuer.Issuer
	renewBefore time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
	observer    Observer
	now         func() time.Time

	// mu protects entries and calls
	mu      sync.Mutex
	entries map[string]*Endpoint
	calls   map[string]*call
}

// NewCache returns a cache that creates endpoints with iss.
func NewCache(iss issuer.Issuer, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{
		issuer:      iss,
		renewBefore: opts.RenewBefore,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		observer:    opts.Observer,
		now:         time.Now,
		entries:     make(map[string]*Endpoint),
		calls:       make(map[string]*call),
	}
}

// GetOrCreate returns the endpoint for domain, creating it on first use.
// Concurrent callers for the same unseen domain share one creation. A
// caller whose ctx ends stops waiting and gets ctx.Err(); the creation
// continues for the others.
func (c *Cache) GetOrCreate(ctx context.Context, domain string) (*Endpoint, error) {
	domain, err := issuer.NormalizeDomain(domain)
	if err != nil {
		return nil, &issuer.IssueError{Domain: domain, Stage: issuer.StageValidate, Err: err}
	}

	c.mu.Lock()
	existing, found := c.entries[domain]
	if found && !c.needsRenewal(existing) {
		c.mu.Unlock()
		c.metrics.RecordCacheHit()
		return existing, nil
	}
	if cl, ok := c.calls[domain]; ok {
		c.mu.Unlock()
		c.metrics.RecordCacheCoalesced()
		return c.wait(ctx, cl)
	}
	cl := &call{done: make(chan struct{})}
	c.calls[domain] = cl
	c.mu.Unlock()

	if found {
		c.metrics.RecordCacheRenewal()
		c.logger.InfoContext(ctx, "renewing endpoint certificate",
			"domain", domain,
			"not_after", existing.NotAfter(),
		)
	} else {
		c.metrics.RecordCacheMiss()
	}

	go c.create(context.WithoutCancel(ctx), domain, cl)

	return c.wait(ctx, cl)
}

// wait blocks until cl completes or ctx ends.
func (c *Cache) wait(ctx context.Context, cl *call) (*Endpoint, error) {
	select {
	case <-cl.done:
		return cl.ep, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// create runs one issuance and publishes its result.
func (c *Cache) create(ctx context.Context, domain string, cl *call) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "endpoint.issue",
		trace.WithAttributes(attribute.String(tracing.AttrDomain, domain)))
	defer span.End()

	cert, err := c.issue(ctx, domain)
	c.metrics.RecordIssue(domain, err, time.Since(start))
	if err == nil {
		span.SetAttributes(attribute.String(tracing.AttrSerial, cert.Serial()))
	}
	tracing.SetStatus(span, err)

	var ep *Endpoint
	if err == nil {
		ep = newEndpoint(cert, c.now())
	}

	c.mu.Lock()
	if ep != nil {
		c.entries[domain] = ep
	}
	delete(c.calls, domain)
	size := len(c.entries)
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnContext(ctx, "endpoint creation failed",
			"domain", domain,
			"error", err,
		)
	} else {
		c.metrics.UpdateCacheSize(size)
		c.logger.InfoContext(ctx, "endpoint created",
			"domain", domain,
			"serial", cert.Serial(),
			"not_after", cert.Certificate.NotAfter,
			"duration", time.Since(start),
		)
		if c.observer != nil {
			c.observer.CertificateIssued(ctx, cert)
		}
	}

	cl.ep, cl.err = ep, err
	close(cl.done)
}

// issue calls the issuer, turning a panic into an error so waiters are
// always released.
func (c *Cache) issue(ctx context.Context, domain string) (cert *issuer.DomainCertificate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &issuer.IssueError{Domain: domain, Stage: issuer.StageSign, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	cert, err = c.issuer.Issue(ctx, domain)
	if err == nil && cert == nil {
		err = &issuer.IssueError{Domain: domain, Stage: issuer.StageSign, Err: fmt.Errorf("issuer returned no certificate")}
	}
	return cert, err
}

// needsRenewal must be called with mu held.
func (c *Cache) needsRenewal(ep *Endpoint) bool {
	if c.renewBefore <= 0 {
		return !c.now().Before(ep.NotAfter())
	}
	return !c.now().Add(c.renewBefore).Before(ep.NotAfter())
}

// Lookup returns the cached endpoint for domain without creating one.
func (c *Cache) Lookup(domain string) (*Endpoint, bool) {
	domain, err := issuer.NormalizeDomain(domain)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.entries[domain]
	return ep, ok
}

// Size returns the number of cached endpoints.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InFlight returns the number of creations currently running.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Snapshots returns every cached endpoint's state, sorted by domain.
func (c *Cache) Snapshots() []Snapshot {
	c.mu.Lock()
	eps := make([]*Endpoint, 0, len(c.entries))
	for _, ep := range c.entries {
		eps = append(eps, ep)
	}
	c.mu.Unlock()

	out := make([]Snapshot, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
