package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/pkg/circuitbreaker"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
	"github.com/vortex-ai/feedback-engine/pkg/retry"
)

// WebhookNotifier POSTs alerts as JSON to an operator-supplied endpoint.
// Deliveries go through a circuit breaker so a dead endpoint cannot tie up
// the dispatcher with retries on every alert.
type WebhookNotifier struct {
	url      string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.RetryableErrors = []error{faults.ErrTransientDependency}
	retryCfg.Logger = logger.Named("webhook-notifier")

	return &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		breaker:  circuitbreaker.New("alert-webhook", circuitbreaker.Config{}),
		retryCfg: retryCfg,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	return n.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, n.retryCfg, func() error {
			return n.post(ctx, payload)
		})
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return faults.Transientf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return faults.Transientf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook rejected alert with status %d", resp.StatusCode)
	}

	return nil
}
