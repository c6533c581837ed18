// Package alert is the operator alerting sink. The reconciliation monitor
// raises alerts through the Alerter interface; the concrete sink (webhook,
// log, fan-out) is wired at startup.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("module", "alert")

type AlertType string

const (
	AlertTypeStuckTransaction AlertType = "STUCK_TRANSACTION"
	AlertTypeLowBalance       AlertType = "LOW_BALANCE"
)

// Alert represents a single operator alert event.
type Alert struct {
	Type    AlertType         `json:"type"`
	Chain   string            `json:"chain"`
	Wallet  string            `json:"wallet"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Alerter is the interface for sending operator alerts.
type Alerter interface {
	Send(alert Alert) error
}

// LogAlerter writes alerts to the structured log only.
type LogAlerter struct{}

func (la *LogAlerter) Send(alert Alert) error {
	entry := logger.WithFields(logrus.Fields{
		"alertType": alert.Type,
		"chain":     alert.Chain,
		"wallet":    alert.Wallet,
	})
	for name, value := range alert.Fields {
		entry = entry.WithField(name, value)
	}
	entry.Warnf("ALERT: %v", alert.Message)
	return nil
}

// WebhookAlerter POSTs alerts as JSON to an operator webhook.
type WebhookAlerter struct {
	url        string
	httpClient *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (wa *WebhookAlerter) Send(alert Alert) error {
	payload, err := json.Marshal(&alert)
	if err != nil {
		return fmt.Errorf("error marshalling alert: %w", err)
	}
	resp, err := wa.httpClient.Post(wa.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error sending alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %v", resp.StatusCode)
	}
	return nil
}

// MultiAlerter fans out alerts to multiple sinks and suppresses repeats of
// the same (type, chain, wallet) key within the cooldown window.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration

	mutex    sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		lastSent: map[string]time.Time{},
	}
}

func cooldownKey(alert Alert) string {
	return fmt.Sprintf("%v:%v:%v", alert.Type, alert.Chain, alert.Wallet)
}

func (ma *MultiAlerter) Send(alert Alert) error {
	key := cooldownKey(alert)

	ma.mutex.Lock()
	if last, ok := ma.lastSent[key]; ok && time.Since(last) < ma.cooldown {
		ma.mutex.Unlock()
		logger.Debugf("alert suppressed by cooldown: %v", key)
		return nil
	}
	ma.lastSent[key] = time.Now()
	ma.mutex.Unlock()

	var firstErr error
	for _, alerter := range ma.alerters {
		err := alerter.Send(alert)
		if err != nil {
			logger.Warnf("alert send failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
