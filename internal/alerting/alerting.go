package alerting

import (
	"context"
	"time"
)

// Alert is a single operator notification.
type Alert struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers an alert to one channel (webhook, websocket feed, log).
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
