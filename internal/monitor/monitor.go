// Package monitor exposes engine metrics and forwards critical events to an
// operator notifier.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"perp-core/internal/events"
)

// Monitor relays critical bus events to a Notifier.
type Monitor struct {
	Bus      *events.Bus
	Notifier Notifier
	Log      *zap.Logger
}

// Start subscribes to critical events until ctx is done. The returned channel
// closes once the relay goroutine exits.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Notifier == nil {
		log.Warn("monitor not fully configured; skipping")
		close(done)
		return done
	}

	stream, unsub := m.Bus.Subscribe(events.EventCritical, 50)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Notifier.Notify(ctx, formatAlert(msg)); err != nil {
					log.Warn("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}

func formatAlert(msg any) string {
	switch t := msg.(type) {
	case events.CriticalEvent:
		at := t.At
		if at.IsZero() {
			at = time.Now()
		}
		s := fmt.Sprintf("[%s] CRITICAL", at.UTC().Format(time.RFC3339))
		if t.Symbol != "" {
			s += " " + t.Symbol
		}
		s += ": " + t.Message
		if t.Error != "" {
			s += " (" + t.Error + ")"
		}
		return s
	case string:
		return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + t
	default:
		return "[" + time.Now().UTC().Format(time.RFC3339) + "] critical condition"
	}
}
