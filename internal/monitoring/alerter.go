// Package monitoring sweeps entity health and posts webhook alerts for
// entities that are not GREEN.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/health"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEntityRed    AlertType = "entity_red"
	AlertEntityYellow AlertType = "entity_yellow"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType       `json:"type"`
	Severity  string          `json:"severity"`
	EntityID  string          `json:"entity_id"`
	Message   string          `json:"message"`
	Reasons   []health.Reason `json:"reasons"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alerter turns health reports into alerts and delivers them.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns one alert per RED report, and per YELLOW report when
// AlertOnYellow is set.
func (a *Alerter) Evaluate(reports []*health.Report) []Alert {
	var alerts []Alert
	now := a.now().UTC()
	for _, r := range reports {
		if r == nil {
			continue
		}
		alert := Alert{
			EntityID:  r.EntityID,
			Reasons:   r.Reasons,
			Timestamp: now,
		}
		switch {
		case r.Status == health.StatusRed:
			alert.Type = AlertEntityRed
			alert.Severity = "high"
		case r.Status == health.StatusYellow && a.cfg.AlertOnYellow:
			alert.Type = AlertEntityYellow
			alert.Severity = "low"
		default:
			continue
		}
		alert.Message = fmt.Sprintf("%s is %s: %s", r.EntityID, r.Status, joinReasons(r.Reasons))
		alerts = append(alerts, alert)
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("entity_id", alert.EntityID),
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func joinReasons(rs []health.Reason) string {
	if len(rs) == 0 {
		return "no reasons"
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
