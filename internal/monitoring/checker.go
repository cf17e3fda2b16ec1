package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/health"
)

// EntityLister enumerates entities to sweep.
type EntityLister interface {
	ListEntities(ctx context.Context) ([]string, error)
}

// HealthEvaluator computes one entity's report.
type HealthEvaluator interface {
	ComputeHealthStatus(ctx context.Context, entityID string) *health.Report
}

// Checker periodically evaluates every entity and alerts on the unhealthy ones.
type Checker struct {
	entities EntityLister
	health   HealthEvaluator
	alerter  *Alerter
	cfg      config.MonitorConfig
}

// NewChecker creates a background health checker.
func NewChecker(entities EntityLister, evaluator HealthEvaluator, alerter *Alerter, cfg config.MonitorConfig) *Checker {
	return &Checker{
		entities: entities,
		health:   evaluator,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one sweep and returns the alerts it raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	ids, err := c.entities.ListEntities(ctx)
	if err != nil {
		log.Error("monitoring: failed to list entities", zap.Error(err))
		return nil
	}

	reports := make([]*health.Report, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		reports = append(reports, c.health.ComputeHealthStatus(ctx, id))
	}

	alerts := c.alerter.Evaluate(reports)
	if len(alerts) == 0 {
		log.Debug("monitoring: all entities healthy", zap.Int("entities", len(ids)))
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: health check complete",
		zap.Int("entities", len(ids)),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
