package notify

import (
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// Alert is the payload fanned out to every enabled channel when the health
// monitor finds an issue.
type Alert struct {
	Text      string
	Severity  domain.AlertSeverity
	Kind      domain.AlertKind
	ProjectID string
	RunID     string
	Context   string
}

// Notifier is the interface for one alert channel. Implementations must be
// independently fallible: an error from one channel never stops the others.
type Notifier interface {
	Send(a Alert) error
}

// MultiNotifier fans an alert out to multiple channels best-effort
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided channels
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every channel and returns the last error, if any
func (m *MultiNotifier) Send(a Alert) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(a); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(a Alert) error { return nil }
