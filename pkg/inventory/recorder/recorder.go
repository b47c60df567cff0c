package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/issuer"
	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
)

// Record kinds, used as the metrics label.
const (
	KindCertificate = "certificate"
	KindTunnel      = "tunnel"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("recorder is closed")

// Config contains configuration for the inventory recorder.
type Config struct {
	// AsyncBuffer is the size of the write queue. Records are dropped when
	// it is full.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

type item struct {
	certificate *inventory.CertificateRecord
	tunnel      *inventory.TunnelRecord
	flushed     chan struct{}
}

func (it item) kind() string {
	if it.certificate != nil {
		return KindCertificate
	}
	return KindTunnel
}

// Recorder writes certificate and tunnel records to storage from a single
// background goroutine. Enqueueing never blocks the caller.
//
// It satisfies endpoint.Observer and proxy.Recorder.
type Recorder struct {
	storage inventory.Storage
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Collector

	queue chan item
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing to storage.
func NewRecorder(storage inventory.Storage, config *Config, logger *slog.Logger, collector *metrics.Collector) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		logger:  logger.With("component", "inventory.recorder"),
		metrics: collector,
		queue:   make(chan item, config.AsyncBuffer),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("inventory recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// CertificateIssued records a freshly issued leaf.
func (r *Recorder) CertificateIssued(ctx context.Context, cert *issuer.DomainCertificate) {
	rec := &inventory.CertificateRecord{
		ID:          uuid.New().String(),
		Domain:      cert.Domain,
		Serial:      cert.Serial(),
		Fingerprint: ca.Fingerprint(cert.Certificate),
		NotBefore:   cert.Certificate.NotBefore,
		NotAfter:    cert.Certificate.NotAfter,
		IssuedAt:    time.Now(),
	}
	r.enqueue(ctx, item{certificate: rec})
}

// TunnelClosed records a finished tunnel.
func (r *Recorder) TunnelClosed(ctx context.Context, rec *inventory.TunnelRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	r.enqueue(ctx, item{tunnel: rec})
}

// Flush blocks until every record enqueued before the call is written, or
// ctx ends.
func (r *Recorder) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	select {
	case r.queue <- item{flushed: flushed}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, drains the queue and waits for the
// writes to finish. It does not close the storage.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.logger.Info("shutting down inventory recorder", "pending_count", len(r.queue))
	r.wg.Wait()
	r.logger.Info("inventory recorder shut down complete")
	return nil
}

func (r *Recorder) enqueue(ctx context.Context, it item) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.RecordInventoryDrop(it.kind())
		r.logger.WarnContext(ctx, "recorder closed, dropping record", "kind", it.kind())
		return
	}

	select {
	case r.queue <- it:
	default:
		r.metrics.RecordInventoryDrop(it.kind())
		r.logger.WarnContext(ctx, "inventory queue full, dropping record",
			"kind", it.kind(),
			"queue_capacity", r.config.AsyncBuffer,
		)
	}
}

// worker drains the queue until Close, then writes whatever is left.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case it := <-r.queue:
			r.write(it)
		case <-r.done:
			for {
				select {
				case it := <-r.queue:
					r.write(it)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(it item) {
	if it.flushed != nil {
		close(it.flushed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	var id string
	switch {
	case it.certificate != nil:
		id = it.certificate.ID
		err = r.storage.StoreCertificate(ctx, it.certificate)
	case it.tunnel != nil:
		id = it.tunnel.ID
		err = r.storage.StoreTunnel(ctx, it.tunnel)
	}
	if err != nil {
		r.metrics.RecordInventoryError(it.kind())
		r.logger.Error("failed to store inventory record",
			"kind", it.kind(),
			"record_id", id,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	r.logger.Debug("inventory recorded",
		"kind", it.kind(),
		"record_id", id,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow inventory write",
			"kind", it.kind(),
			"record_id", id,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
