package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"retail-loyalty/pkg/taskname"
	"retail-loyalty/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return nil, nil
}

type fakeSender struct {
	sent []*Notification
	err  error
}

func (f *fakeSender) Send(ctx context.Context, n *Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func TestDispatchCarriesDelayFlag(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewDispatcher(enq)

	err := d.Dispatch(context.Background(), Message{UserID: "u1", Kind: KindBonusAccrued, Title: "Bonus", WithDelay: true})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.NotificationPush, enq.tasks[0].Type())

	var msg Message
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &msg))
	require.True(t, msg.WithDelay)
	require.Equal(t, "u1", msg.UserID)
}

func TestDispatchRequiresUser(t *testing.T) {
	d := NewDispatcher(&fakeEnqueuer{})
	require.Error(t, d.Dispatch(context.Background(), Message{Kind: KindGiftIssued}))
}

func TestDispatchEnqueueFailure(t *testing.T) {
	d := NewDispatcher(&fakeEnqueuer{err: errors.New("redis down")})
	require.Error(t, d.Dispatch(context.Background(), Message{UserID: "u1", Kind: KindGiftIssued}))
}

func TestHandlePushTaskStoresInbox(t *testing.T) {
	db := testutil.NewTestDB(t, &Notification{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	sender := &fakeSender{}
	task := NewTask(TaskParams{DB: db, Node: node, Sender: sender})

	at, err := NewPushTask(Message{UserID: "u1", Kind: KindLevelAchieved, Title: "Gold", Data: map[string]string{"level_id": "l3"}})
	require.NoError(t, err)
	require.NoError(t, task.HandlePushTask(context.Background(), at))

	require.Len(t, sender.sent, 1)
	var stored []Notification
	require.NoError(t, db.Find(&stored).Error)
	require.Len(t, stored, 1)
	require.Equal(t, KindLevelAchieved, stored[0].Kind)
	require.NotNil(t, stored[0].SentAt)
}

func TestHandlePushTaskInvalidPayload(t *testing.T) {
	db := testutil.NewTestDB(t, &Notification{})
	node, _ := snowflake.NewNode(1)
	task := NewTask(TaskParams{DB: db, Node: node, Sender: &fakeSender{}})

	err := task.HandlePushTask(context.Background(), asynq.NewTask(taskname.NotificationPush, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
