package user

import (
	"context"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	ledger      erp.Client
	seq         sequence.Generator
	countryCode string

	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Ledger   erp.Client         `optional:"true"`
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cc := "7"
	if p.Config != nil && p.Config.Loyalty.CountryCode != "" {
		cc = p.Config.Loyalty.CountryCode
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		ledger:      p.Ledger,
		seq:         p.Sequence,
		countryCode: cc,
		users:       repository.ProvideStore[User](p.DB),
	}
}

func (s *Service) Normalize(raw string) string {
	return NormalizePhone(raw, s.countryCode)
}

// FindByPhone returns (nil, nil) when no user has this phone.
func (s *Service) FindByPhone(ctx context.Context, raw string) (*User, error) {
	phone := s.Normalize(raw)
	if phone == "" {
		return nil, nil
	}
	return s.users.FindOne(ctx, &User{Phone: phone})
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

func (s *Service) FindByPromoCode(ctx context.Context, code string) (*User, error) {
	if code == "" {
		return nil, nil
	}
	return s.users.FindOne(ctx, &User{PromoCode: code})
}

type RegisterRequest struct {
	Phone     string     `json:"phone" binding:"required"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date"`
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	phone := s.Normalize(req.Phone)
	if phone == "" {
		return nil, errutil.ValidationFailed("invalid phone number", nil)
	}

	if existing, err := s.users.FindOne(ctx, &User{Phone: phone}); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errutil.Conflict("user with this phone already exists", nil)
	}

	u := &User{
		ID:        gen.NextID(s.node),
		Phone:     phone,
		Name:      req.Name,
		BirthDate: req.BirthDate,
	}
	if s.seq != nil {
		code, err := s.seq.NextPromoCode(ctx)
		if err != nil {
			zap.L().Error("failed to generate promo code", zap.String("phone", phone), zap.Error(err))
			return nil, err
		}
		u.PromoCode = code
	}

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AdjustBonus moves the advisory local bonus counter by delta.
func (s *Service) AdjustBonus(ctx context.Context, tx *gorm.DB, userID string, delta float64) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("bonus_balance", gorm.Expr("bonus_balance + ?", delta)).Error
}

// MirrorDiscount stores the discount the ERP accepted.
func (s *Service) MirrorDiscount(ctx context.Context, tx *gorm.DB, userID string, percent float64) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("discount_percent", percent).Error
}

// MarkReferred records the referrer once. It reports false when the user has
// already applied a promo code.
func (s *Service) MarkReferred(ctx context.Context, tx *gorm.DB, userID, referrerID string) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	res := tx.WithContext(ctx).Model(&User{}).
		Where("id = ? AND used_promo_code = ?", userID, false).
		Updates(map[string]any{"referrer_id": referrerID, "used_promo_code": true})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SyncFromLedger refreshes the local mirror from the ERP's authoritative data.
func (s *Service) SyncFromLedger(ctx context.Context, userID string, info *erp.ClientInfo) error {
	if info == nil {
		return nil
	}
	return s.users.Update(ctx, userID, map[string]any{
		"bonus_balance":    info.BonusAmount,
		"discount_percent": info.PersonalDiscount,
	})
}
