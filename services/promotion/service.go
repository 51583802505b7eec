package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"retail-loyalty/pkg/celengine"
	"retail-loyalty/pkg/db/option"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/services/gift"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	promotions repository.Repository[Promotion]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		now:        time.Now,
		promotions: repository.ProvideStore[Promotion](p.DB),
	}
}

type CreateRequest struct {
	Type     Type            `json:"type" binding:"required"`
	Name     string          `json:"name" binding:"required"`
	Settings json.RawMessage `json:"settings"`
	StartAt  *time.Time      `json:"start_at"`
	EndAt    *time.Time      `json:"end_at"`
	Activate bool            `json:"activate"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Promotion, error) {
	if !req.Type.Valid() {
		return nil, errutil.ValidationFailed("unknown promotion type", nil)
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return nil, errutil.ValidationFailed("promotion ends before it starts", nil)
	}

	p := &Promotion{
		ID:       gen.NextID(s.node),
		Type:     req.Type,
		Name:     req.Name,
		Settings: []byte(req.Settings),
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
	}
	if err := validateSettings(p); err != nil {
		return nil, err
	}
	if req.Activate {
		p.IsActive = true
		p.ExclusiveKey = p.exclusiveKey()
	}

	if err := s.promotions.Create(ctx, p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, exclusiveConflict(p.Type, err)
		}
		return nil, err
	}

	zap.L().Info("promotion created", zap.String("promotion_id", p.ID), zap.String("type", string(p.Type)), zap.Bool("active", p.IsActive))
	return p, nil
}

func validateSettings(p *Promotion) error {
	switch p.Type {
	case TypeDateBased:
		st, err := DecodeSettings[LotterySettings](p)
		if err != nil {
			return errutil.ValidationFailed("invalid lottery settings", err)
		}
		if len(st.GiftCatalogIDs) < gift.MinGroupSize {
			return errutil.ValidationFailed("lottery needs a gift pool of at least two items", nil)
		}
		if st.Eligibility != "" {
			env, err := celengine.GetOrBuildEnv(UserAttributes(nil))
			if err != nil {
				return err
			}
			if err := celengine.ValidateExpression(env, st.Eligibility); err != nil {
				return errutil.ValidationFailed("invalid eligibility expression", err)
			}
		}
	case TypeFriendDiscount:
		st, err := DecodeSettings[ReferralSettings](p)
		if err != nil {
			return errutil.ValidationFailed("invalid referral settings", err)
		}
		if st.NewUserDiscountPercent < 0 || st.NewUserDiscountPercent > 100 ||
			st.ReferrerBonusPercent < 0 || st.NewUserBonusPercent < 0 {
			return errutil.ValidationFailed("referral percentages out of range", nil)
		}
	}
	return nil
}

func exclusiveConflict(t Type, err error) error {
	return errutil.Conflict("another active "+string(t)+" promotion already exists", err)
}

func (s *Service) Get(ctx context.Context, id string) (*Promotion, error) {
	p, err := s.promotions.FindOne(ctx, &Promotion{ID: id})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("promotion not found", nil)
	}
	return p, nil
}

func (s *Service) Activate(ctx context.Context, id string) (*Promotion, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsArchived {
		return nil, errutil.Conflict("archived promotions cannot be activated", nil)
	}
	if p.IsActive {
		return p, nil
	}

	err = s.promotions.Update(ctx, p.ID, map[string]any{
		"is_active":     true,
		"exclusive_key": p.exclusiveKey(),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, exclusiveConflict(p.Type, err)
		}
		return nil, err
	}
	return s.Get(ctx, p.ID)
}

func (s *Service) Archive(ctx context.Context, id string) (*Promotion, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.promotions.Update(ctx, p.ID, map[string]any{
		"is_active":     false,
		"is_archived":   true,
		"exclusive_key": nil,
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, p.ID)
}

// ActiveByType returns the live promotion of type t, or nil when none is live.
// Newer promotions win when several overlap.
func (s *Service) ActiveByType(ctx context.Context, t Type) (*Promotion, error) {
	candidates, err := s.promotions.Find(ctx, &Promotion{Type: t, IsActive: true},
		option.ApplyOperator(option.Condition{Field: "is_archived", Operator: option.EQ, Value: false}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, p := range candidates {
		if p.IsLive(now) {
			return p, nil
		}
	}
	return nil, nil
}

// DeactivateExpired switches off promotions whose end date has passed.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Promotion{}).
		Where("is_active = ? AND end_at IS NOT NULL AND end_at < ?", true, s.now()).
		Updates(map[string]any{"is_active": false, "exclusive_key": nil})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
