package task

import (
	"context"
	"fmt"
	"time"

	"retail-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// routes pins each task type to its queue and retry budget. User-facing pushes
// go to the critical queue; ledger mirror refreshes can wait.
var routes = map[string][]asynq.Option{
	taskname.NotificationPush: {asynq.Queue(taskname.QueueCritical), asynq.MaxRetry(10)},
	taskname.ERPSyncClient:    {asynq.Queue(taskname.QueueLow), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)},
}

// Route returns the default options for a task type followed by opts, so
// caller options take precedence.
func Route(taskType string, opts ...asynq.Option) []asynq.Option {
	base, ok := routes[taskType]
	if !ok {
		base = []asynq.Option{asynq.Queue(taskname.QueueDefault)}
	}
	out := make([]asynq.Option, 0, len(base)+len(opts))
	out = append(out, base...)
	return append(out, opts...)
}

type enqueuerImpl struct {
	client *asynq.Client
}

// NewEnqueuer wraps an asynq client, routing tasks by type.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, Route(task.Type(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}
