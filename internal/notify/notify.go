package notify

import (
	"time"

	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/realtime"
)

// Severity controls how a notification is presented
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a transient, user-facing message
type Notification struct {
	Topic    realtime.Topic
	Severity Severity
	Title    string
	Text     string
	Duration time.Duration
}

// Notifier displays notifications
type Notifier interface {
	Notify(n Notification)
}

// Nop discards notifications
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) Notify(Notification) {}

// LogNotifier renders notifications as log lines
type LogNotifier struct {
	logger *logrus.Entry
}

// NewLogNotifier creates a notifier writing through logger
func NewLogNotifier(logger *logrus.Entry) *LogNotifier {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogNotifier{logger: logger.WithField("component", "notifier")}
}

// Notify logs n at a level matching its severity
func (l *LogNotifier) Notify(n Notification) {
	entry := l.logger.WithFields(logrus.Fields{
		"topic":    n.Topic,
		"severity": n.Severity,
		"duration": n.Duration.String(),
	})

	switch n.Severity {
	case SeverityError:
		entry.Errorf("%s: %s", n.Title, n.Text)
	case SeverityWarning:
		entry.Warnf("%s: %s", n.Title, n.Text)
	default:
		entry.Infof("%s: %s", n.Title, n.Text)
	}
}
