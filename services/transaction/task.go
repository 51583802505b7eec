package transaction

import (
	"context"
	"encoding/json"
	"fmt"

	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/taskname"
	"retail-loyalty/services/user"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SyncClientPayload struct {
	UserID string `json:"user_id"`
	Phone  string `json:"phone"`
}

func NewSyncClientTask(p SyncClientPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ERPSyncClient, payload,
		asynq.Queue(taskname.QueueLow), asynq.MaxRetry(3)), nil
}

// SyncTask pulls the authoritative balance from the ERP into the local
// mirror after a webhook changed it.
type SyncTask struct {
	ledger erp.Client
	users  *user.Service
}

type SyncTaskParams struct {
	fx.In
	Ledger erp.Client
	Users  *user.Service
}

func NewSyncTask(p SyncTaskParams) *SyncTask {
	return &SyncTask{ledger: p.Ledger, users: p.Users}
}

func (t *SyncTask) HandleSyncClientTask(ctx context.Context, at *asynq.Task) error {
	var p SyncClientPayload
	if err := json.Unmarshal(at.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(zap.String("task_type", at.Type()), zap.String("user_id", p.UserID))

	info, err := t.ledger.GetClientInfo(ctx, p.Phone)
	if err != nil {
		zapLog.Warn("failed to read client from erp", zap.Error(err))
		return err
	}
	if info == nil {
		zapLog.Info("client unknown to erp")
		return nil
	}

	if err := t.users.SyncFromLedger(ctx, p.UserID, info); err != nil {
		zapLog.Error("failed to store ledger mirror", zap.Error(err))
		return err
	}
	return nil
}
