package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/logger"
)

// Notifier delivers one alert over one channel (webhook, log line,
// websocket stream, ...).
type Notifier interface {
	Notify(ctx context.Context, alert *model.TriggeredAlert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert *model.TriggeredAlert) error

func (f NotifierFunc) Notify(ctx context.Context, alert *model.TriggeredAlert) error {
	return f(ctx, alert)
}

// Registry maps rule action names to notifiers and implements the
// engine's Dispatcher interface. Unknown actions are errors so a typo
// in a rule surfaces in the action-failure metrics instead of silently
// doing nothing.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	log       *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		log:       logger.Named("dispatcher"),
	}
}

func (r *Registry) Register(action string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[action] = n
}

func (r *Registry) Dispatch(ctx context.Context, action string, alert *model.TriggeredAlert) error {
	r.mu.RLock()
	n, ok := r.notifiers[action]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no notifier registered for action %q", action)
	}
	return n.Notify(ctx, alert)
}

// Actions returns the registered action names, for the rules handler's
// validation hints.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	return names
}

// LogNotifier writes alerts to the structured log. Always registered,
// so a fresh deployment has a working "log" action before any webhook
// or stream consumer exists.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Named("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, alert *model.TriggeredAlert) error {
	n.log.Warn("alert triggered",
		"rule", alert.RuleID,
		"name", alert.RuleName,
		"severity", string(alert.Severity),
		"conditions", alert.ConditionsMet,
		"correlation_id", alert.CorrelationID,
		"records", len(alert.TriggerRecords))
	return nil
}

// WebhookNotifier POSTs the alert as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert *model.TriggeredAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", alert.CorrelationID)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
