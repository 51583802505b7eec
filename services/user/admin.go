package user

import (
	"context"
	"time"

	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"

	"go.uber.org/zap"
)

type BonusRequest struct {
	Amount    float64       `json:"amount" binding:"required,gt=0"`
	Operation erp.Operation `json:"operation" binding:"required,oneof=add write-off"`
	Comment   string        `json:"comment"`
}

type DiscountRequest struct {
	Percent float64 `json:"percent" binding:"gte=0,lte=100"`
}

// AdminAdjustBonus pushes a bonus change straight to the ERP. ERP failures are
// reported to the caller since nothing else records the intent.
func (s *Service) AdminAdjustBonus(ctx context.Context, userID string, req BonusRequest) (*User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	zapLog := zap.L().With(
		zap.String("user_id", u.ID),
		zap.Float64("amount", req.Amount),
		zap.String("operation", string(req.Operation)),
		zap.String("stage", "admin_bonus"),
	)

	if err := s.ledger.UpdateBonus(ctx, erp.BonusUpdate{
		Phone:     u.Phone,
		Amount:    req.Amount,
		Operation: req.Operation,
		Date:      time.Now(),
		Comment:   req.Comment,
	}); err != nil {
		zapLog.Error("failed to update bonus in erp", zap.Error(err))
		return nil, errutil.BadGateway("bonus could not be updated in the ERP", err)
	}

	delta := req.Amount
	if req.Operation == erp.OperationWriteOff {
		delta = -delta
	}
	if err := s.AdjustBonus(ctx, nil, u.ID, delta); err != nil {
		zapLog.Error("failed to adjust local bonus counter", zap.Error(err))
	}

	return s.Get(ctx, u.ID)
}

func (s *Service) AdminSetDiscount(ctx context.Context, userID string, req DiscountRequest) (*User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.UpdateDiscount(ctx, u.Phone, req.Percent); err != nil {
		zap.L().Error("failed to update discount in erp",
			zap.String("user_id", u.ID), zap.Float64("percent", req.Percent), zap.String("stage", "admin_discount"), zap.Error(err))
		return nil, errutil.BadGateway("discount could not be updated in the ERP", err)
	}

	if err := s.MirrorDiscount(ctx, nil, u.ID, req.Percent); err != nil {
		return nil, err
	}
	return s.Get(ctx, u.ID)
}
