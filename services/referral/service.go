package referral

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/promotion"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLinkTTL = 24 * time.Hour

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	users      *user.Service
	gifts      *gift.Service
	promotions *promotion.Service
	ledger     erp.Client
	notifier   notification.Dispatcher
	links      LinkStore
	linkTTL    time.Duration
	intn       func(n int) int

	grants  repository.Repository[Grant]
	payouts repository.Repository[Payout]
	awards  repository.Repository[GiftAward]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Users      *user.Service
	Gifts      *gift.Service
	Promotions *promotion.Service
	Ledger     erp.Client
	Notifier   notification.Dispatcher
	Links      LinkStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	ttl := defaultLinkTTL
	if p.Config != nil && p.Config.Referral.LinkTTL > 0 {
		ttl = p.Config.Referral.LinkTTL
	}
	return &Service{
		db:         p.DB,
		node:       p.Node,
		users:      p.Users,
		gifts:      p.Gifts,
		promotions: p.Promotions,
		ledger:     p.Ledger,
		notifier:   p.Notifier,
		links:      p.Links,
		linkTTL:    ttl,
		intn:       rand.IntN,
		grants:     repository.ProvideStore[Grant](p.DB),
		payouts:    repository.ProvideStore[Payout](p.DB),
		awards:     repository.ProvideStore[GiftAward](p.DB),
	}
}

type Info struct {
	PromoCode      string                      `json:"promo_code"`
	UsedPromoCode  bool                        `json:"used_promo_code"`
	ReferrerID     *string                     `json:"referrer_id,omitempty"`
	Settings       *promotion.ReferralSettings `json:"settings,omitempty"`
	FromSnapshot   bool                        `json:"from_snapshot"`
	ReferralsCount int64                       `json:"referrals_count"`
}

// GetInfo shows the settings that apply to the caller: the frozen snapshot
// once a code was applied, the live program otherwise.
func (s *Service) GetInfo(ctx context.Context, userID string) (*Info, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := &Info{PromoCode: u.PromoCode, UsedPromoCode: u.UsedPromoCode, ReferrerID: u.ReferrerID}

	grant, err := s.grants.FindOne(ctx, &Grant{UserID: u.ID})
	if err != nil {
		return nil, err
	}
	if grant != nil {
		st, err := decodeSnapshot(grant)
		if err != nil {
			return nil, err
		}
		info.Settings = &st
		info.FromSnapshot = true
	} else {
		promo, err := s.promotions.ActiveByType(ctx, promotion.TypeFriendDiscount)
		if err != nil {
			return nil, err
		}
		if promo != nil {
			st, err := promotion.DecodeSettings[promotion.ReferralSettings](promo)
			if err != nil {
				return nil, err
			}
			info.Settings = &st
		}
	}

	info.ReferralsCount, err = s.grants.Count(ctx, &Grant{ReferrerID: u.ID})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func decodeSnapshot(g *Grant) (promotion.ReferralSettings, error) {
	var st promotion.ReferralSettings
	if len(g.SettingsSnapshot) == 0 {
		return st, nil
	}
	err := json.Unmarshal(g.SettingsSnapshot, &st)
	return st, err
}

type ApplyCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Service) ApplyCode(ctx context.Context, userID, code string) (*Info, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errutil.ValidationFailed("promo code is required", nil)
	}
	referrer, err := s.users.FindByPromoCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrer == nil {
		return nil, errutil.NotFound("promo code not found", nil)
	}
	return s.apply(ctx, userID, referrer)
}

type ApplyLinkRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Service) ApplyLinkToken(ctx context.Context, userID, token string) (*Info, error) {
	if s.links == nil {
		return nil, errutil.Internal("referral links are unavailable", nil)
	}
	referrerID, err := s.links.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if referrerID == "" {
		return nil, errutil.NotFound("referral link expired or invalid", nil)
	}
	referrer, err := s.users.Get(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, userID, referrer)
}

type LinkToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) CreateLinkToken(ctx context.Context, userID string) (*LinkToken, error) {
	if s.links == nil {
		return nil, errutil.Internal("referral links are unavailable", nil)
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := s.links.Put(ctx, token, userID, s.linkTTL); err != nil {
		return nil, err
	}
	return &LinkToken{Token: token, ExpiresAt: time.Now().Add(s.linkTTL)}, nil
}

var errMutual = errors.New("mutual referral")

func mutualConflict() error {
	return errutil.Conflict("you cannot use the promo code of someone you referred", errMutual)
}

func (s *Service) apply(ctx context.Context, userID string, referrer *user.User) (*Info, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if referrer.ID == u.ID {
		return nil, errutil.Conflict("you cannot use your own promo code", nil)
	}
	if u.UsedPromoCode {
		return nil, errutil.Conflict("you have already used a promo code", nil)
	}
	if referrer.ReferrerID != nil && *referrer.ReferrerID == u.ID {
		return nil, mutualConflict()
	}
	swapped, err := s.grants.FindOne(ctx, &Grant{UserID: referrer.ID, ReferrerID: u.ID})
	if err != nil {
		return nil, err
	}
	if swapped != nil {
		return nil, mutualConflict()
	}

	promo, err := s.promotions.ActiveByType(ctx, promotion.TypeFriendDiscount)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, errutil.NotFound("the referral program is not active", nil)
	}
	st, err := promotion.DecodeSettings[promotion.ReferralSettings](promo)
	if err != nil {
		return nil, errutil.Internal("referral program is misconfigured", err)
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.users.MarkReferred(ctx, tx, u.ID, referrer.ID)
		if err != nil {
			return err
		}
		if !marked {
			return errutil.Conflict("you have already used a promo code", nil)
		}

		err = s.grants.WithTrx(tx).Create(ctx, &Grant{
			ID:               gen.NextID(s.node),
			UserID:           u.ID,
			ReferrerID:       referrer.ID,
			PromotionID:      promo.ID,
			PairKey:          pairKey(u.ID, referrer.ID),
			SettingsSnapshot: snapshot,
			AppliedAt:        time.Now(),
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return mutualConflict()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	zapLog := zap.L().With(zap.String("user_id", u.ID), zap.String("referrer_id", referrer.ID), zap.String("stage", "referral_apply"))
	zapLog.Info("referral applied", zap.String("promotion_id", promo.ID))

	if st.NewUserDiscountPercent > 0 {
		if err := s.ledger.UpdateDiscount(ctx, u.Phone, st.NewUserDiscountPercent); err != nil {
			zapLog.Error("failed to set new user discount in erp", zap.Float64("percent", st.NewUserDiscountPercent), zap.Error(err))
		} else if err := s.users.MirrorDiscount(ctx, nil, u.ID, st.NewUserDiscountPercent); err != nil {
			zapLog.Error("failed to mirror new user discount", zap.Error(err))
		}
	}

	s.notify(ctx, notification.Message{
		UserID: referrer.ID,
		Kind:   notification.KindReferralJoined,
		Title:  "A friend joined",
		Body:   "Someone joined using your promo code",
		Data:   map[string]string{"referred_user_id": u.ID},
	})

	return s.GetInfo(ctx, u.ID)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, msg); err != nil {
		zap.L().Error("failed to dispatch referral notification",
			zap.String("user_id", msg.UserID), zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}
