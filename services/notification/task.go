package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "loyalty_notifications_delivered_total",
	Help: "Notifications handed to the push transport.",
}, []string{"kind", "result"})

type Task struct {
	node   *snowflake.Node
	sender Sender
	inbox  repository.Repository[Notification]
}

type TaskParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Sender Sender
}

func NewTask(p TaskParams) *Task {
	return &Task{
		node:   p.Node,
		sender: p.Sender,
		inbox:  repository.ProvideStore[Notification](p.DB),
	}
}

func (t *Task) HandlePushTask(ctx context.Context, at *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(at.Payload(), &msg); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", at.Type()),
		zap.String("user_id", msg.UserID),
		zap.String("kind", string(msg.Kind)),
	)

	data, _ := json.Marshal(msg.Data)
	n := &Notification{
		ID:        gen.NextID(t.node),
		UserID:    msg.UserID,
		Kind:      msg.Kind,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      datatypes.JSON(data),
		WithDelay: msg.WithDelay,
	}
	if err := t.inbox.Create(ctx, n); err != nil {
		zapLog.Error("failed to store notification", zap.Error(err))
		return err
	}

	if err := t.sender.Send(ctx, n); err != nil {
		deliveredTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
		zapLog.Error("failed to send notification", zap.Error(err))
		return err
	}

	now := time.Now()
	if err := t.inbox.Update(ctx, n.ID, map[string]any{"sent_at": now}); err != nil {
		zapLog.Warn("failed to mark notification sent", zap.Error(err))
	}
	deliveredTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
	return nil
}
