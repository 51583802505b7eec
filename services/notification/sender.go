package notification

import (
	"context"

	"go.uber.org/zap"
)

// Sender hands a notification to the push transport.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// LogSender is the default transport; push delivery itself lives outside
// this service.
type LogSender struct{}

func NewLogSender() Sender {
	return LogSender{}
}

func (LogSender) Send(ctx context.Context, n *Notification) error {
	zap.L().Info("push notification",
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.Bool("with_delay", n.WithDelay),
	)
	return nil
}
