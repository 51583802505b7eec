package task

import (
	"testing"

	"retail-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func optionValues(opts []asynq.Option) map[asynq.OptionType]interface{} {
	out := map[asynq.OptionType]interface{}{}
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestRoute(t *testing.T) {
	push := optionValues(Route(taskname.NotificationPush))
	require.Equal(t, taskname.QueueCritical, push[asynq.QueueOpt])
	require.Equal(t, 10, push[asynq.MaxRetryOpt])

	sync := optionValues(Route(taskname.ERPSyncClient))
	require.Equal(t, taskname.QueueLow, sync[asynq.QueueOpt])
	require.Equal(t, 5, sync[asynq.MaxRetryOpt])

	other := optionValues(Route("unknown:task"))
	require.Equal(t, taskname.QueueDefault, other[asynq.QueueOpt])
}

func TestRouteCallerOptionsWin(t *testing.T) {
	opts := Route(taskname.ERPSyncClient, asynq.Queue(taskname.QueueCritical))
	require.Equal(t, taskname.QueueCritical, optionValues(opts)[asynq.QueueOpt])
}
