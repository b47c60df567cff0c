package retention

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

// Pruner deletes tunnel records older than the retention period.
// Certificate records are kept: they are the audit trail of every leaf the
// root has signed.
type Pruner struct {
	storage inventory.Storage
	config  config.RetentionConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a new retention pruner.
func NewPruner(storage inventory.Storage, cfg config.RetentionConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pruner{
		storage: storage,
		config:  cfg,
		logger:  logger.With("component", "inventory.retention"),
		now:     time.Now,
	}
}

// Cutoff returns the start time before which tunnels are pruned, or the
// zero time when retention is disabled.
func (p *Pruner) Cutoff() time.Time {
	if p.config.Days <= 0 {
		return time.Time{}
	}
	return p.now().AddDate(0, 0, -p.config.Days)
}

// Prune deletes expired tunnel records and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()
	if cutoff.IsZero() {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	deleted, err := p.storage.DeleteTunnels(ctx, &inventory.TunnelQuery{EndTime: cutoff})
	if err != nil {
		return 0, &inventory.PruneError{RetentionDays: p.config.Days, Cutoff: cutoff, Cause: err}
	}

	if deleted > 0 {
		p.logger.Info("tunnel records pruned",
			"deleted_count", deleted,
			"retention_days", p.config.Days,
			"cutoff", cutoff,
		)
	} else {
		p.logger.Debug("no tunnel records pruned", "retention_days", p.config.Days)
	}
	return deleted, nil
}
