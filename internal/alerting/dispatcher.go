package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Dispatcher fans an alert out to all configured notifiers. Delivery is
// fire-and-forget: a failing channel is logged and counted but never blocks
// or fails the caller's control loop.
type Dispatcher struct {
	notifiers []Notifier
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// Alert sends a notification on every channel in the background.
func (d *Dispatcher) Alert(ctx context.Context, subject, body, severity string) {
	alert := Alert{
		Subject:   subject,
		Body:      body,
		Severity:  severity,
		Timestamp: time.Now(),
	}

	logger.Warn("Dispatching alert",
		zap.String("subject", subject),
		zap.String("severity", severity),
	)

	for _, n := range d.notifiers {
		go func(n Notifier) {
			// Detach from the caller's deadline; the notifier enforces its own.
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := n.Notify(sendCtx, alert); err != nil {
				logger.Error("Alert delivery failed",
					zap.String("subject", alert.Subject),
					zap.Error(err),
				)
				metrics.AlertsDispatched.WithLabelValues(alert.Severity, "failed").Inc()
				return
			}
			metrics.AlertsDispatched.WithLabelValues(alert.Severity, "ok").Inc()
		}(n)
	}
}

// AlertReport formats an audit report with regressions into a single alert.
func (d *Dispatcher) AlertReport(ctx context.Context, report *models.AuditReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit %s found %d regression(s):\n", report.ID, len(report.Findings))
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "- [%s] %s: %s (baseline %.2f, current %.2f)\n",
			f.Severity, f.Kind, f.Message, f.Baseline, f.Current)
	}

	d.Alert(ctx, "Audit detected regressions", b.String(), report.Severity)
}
