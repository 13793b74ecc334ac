package monitor

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes alerts to the log at ERROR; used when no chat is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, message string) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("operator alert", zap.String("alert", message))
	return nil
}
