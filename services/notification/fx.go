package notification

import (
	"retail-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.dispatcher",
	fx.Provide(NewDispatcher),
)

var TaskModule = fx.Module("notification.task",
	fx.Provide(NewLogSender, NewTask),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.NotificationPush, t.HandlePushTask)
}
