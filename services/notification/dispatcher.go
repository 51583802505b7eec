package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"retail-loyalty/pkg/task"
	"retail-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

type asynqDispatcher struct {
	enqueuer task.Enqueuer
}

func NewDispatcher(enqueuer task.Enqueuer) Dispatcher {
	return &asynqDispatcher{enqueuer: enqueuer}
}

func NewPushTask(msg Message) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotificationPush, payload,
		asynq.Queue(taskname.QueueDefault), asynq.MaxRetry(5)), nil
}

func (d *asynqDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if msg.UserID == "" {
		return fmt.Errorf("notification without user")
	}

	t, err := NewPushTask(msg)
	if err != nil {
		return err
	}

	if _, err := d.enqueuer.Enqueue(ctx, t); err != nil {
		zap.L().Error("failed to enqueue notification",
			zap.String("user_id", msg.UserID), zap.String("kind", string(msg.Kind)), zap.Error(err))
		return err
	}
	return nil
}
