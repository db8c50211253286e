// Package notification delivers signal alerts to external channels
// (log, webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// AlertFromSignal renders a signal as an alert.
func AlertFromSignal(s model.Signal) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s", s.Symbol, s.Side),
		Message: fmt.Sprintf("%s on candle %s",
			s.Reason, time.UnixMilli(s.CandleTime).UTC().Format("2006-01-02 15:04:05")),
		Signal: &s,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, alert.Title, "level", alert.Level, "message", alert.Message)
	return nil
}

// Multi sends each alert to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher turns emitted signals into alerts. It implements
// model.SignalSink.
type Dispatcher struct {
	n       Notifier
	log     *slog.Logger
	m       *metrics.Metrics
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(n Notifier, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{n: n, log: log.With("component", "notify"), m: m, timeout: 15 * time.Second}
}

// RunSignals delivers one alert per signal until ctx is cancelled or ch is
// closed. Delivery failures are logged and counted, never retried.
func (d *Dispatcher) RunSignals(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.n.Send(sendCtx, AlertFromSignal(s))
			cancel()
			if err != nil {
				d.log.Error("alert delivery failed", "id", s.ID, "error", err)
				if d.m != nil {
					d.m.NotifyFailures.Inc()
				}
			}
		}
	}
}
