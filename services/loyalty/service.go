package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"retail-loyalty/pkg/db/option"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const levelCacheTTL = time.Minute

var levelsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "loyalty_levels_granted_total",
	Help: "Loyalty levels granted, by level.",
}, []string{"level"})

var errAlreadyGranted = errors.New("level already granted")

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	users    *user.Service
	gifts    *gift.Service
	ledger   erp.Client
	notifier notification.Dispatcher
	cache    *levelCache
	now      func() time.Time

	levels  repository.Repository[Level]
	rewards repository.Repository[Reward]
	grants  repository.Repository[Grant]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Users    *user.Service
	Gifts    *gift.Service
	Ledger   erp.Client
	Notifier notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		users:    p.Users,
		gifts:    p.Gifts,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		cache:    newLevelCache(levelCacheTTL),
		now:      time.Now,
		levels:   repository.ProvideStore[Level](p.DB),
		rewards:  repository.ProvideStore[Reward](p.DB),
		grants:   repository.ProvideStore[Grant](p.DB),
	}
}

func (s *Service) activeLevels(ctx context.Context) ([]*Level, error) {
	return s.cache.get(ctx, func(ctx context.Context) ([]*Level, error) {
		return s.levels.Find(ctx, &Level{IsActive: true},
			option.WithPreload("Rewards.GiftOptions"),
			option.WithSortBy(option.QuerySortBy{SortBy: "min_purchase_amount", OrderBy: "asc"}),
		)
	})
}

type Result struct {
	Granted []*Level
}

// Highest is the most expensive level granted in this pass, or nil.
func (r *Result) Highest() *Level {
	if r == nil || len(r.Granted) == 0 {
		return nil
	}
	return r.Granted[len(r.Granted)-1]
}

// Evaluate grants every level the total reaches that the user does not hold
// yet, cheapest first. Each level commits on its own; the first failing level
// stops the pass and its error is returned alongside what was granted.
func (s *Service) Evaluate(ctx context.Context, u *user.User, total float64) (*Result, error) {
	levels, err := s.activeLevels(ctx)
	if err != nil {
		return nil, err
	}
	held, err := s.grants.Find(ctx, &Grant{UserID: u.ID})
	if err != nil {
		return nil, err
	}
	granted := make(map[string]bool, len(held))
	for _, g := range held {
		granted[g.LevelID] = true
	}

	zapLog := zap.L().With(zap.String("user_id", u.ID), zap.Float64("total", total), zap.String("stage", "loyalty"))

	res := &Result{}
	var failure error
	for _, lvl := range NewlyAchieved(levels, granted, total) {
		if err := s.grantLevel(ctx, u, lvl); err != nil {
			if errors.Is(err, errAlreadyGranted) {
				continue
			}
			zapLog.Error("failed to grant loyalty level", zap.String("level_id", lvl.ID), zap.Error(err))
			failure = fmt.Errorf("grant level %s: %w", lvl.ID, err)
			break
		}
		levelsGranted.WithLabelValues(lvl.Name).Inc()
		res.Granted = append(res.Granted, lvl)
	}

	if top := res.Highest(); top != nil {
		zapLog.Info("loyalty levels granted", zap.Int("count", len(res.Granted)), zap.String("highest", top.Name))
		s.notify(ctx, notification.Message{
			UserID: u.ID,
			Kind:   notification.KindLevelAchieved,
			Title:  "New level reached",
			Body:   "Congratulations! You reached " + top.Name,
			Data:   map[string]string{"level_id": top.ID},
		})
	}
	return res, failure
}

// grantLevel records the grant and applies every reward in one transaction.
func (s *Service) grantLevel(ctx context.Context, u *user.User, lvl *Level) error {
	snapshot := snapshotRewards(lvl.Rewards)
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	grant := &Grant{
		ID:             gen.NextID(s.node),
		UserID:         u.ID,
		LevelID:        lvl.ID,
		RewardSnapshot: raw,
		AchievedAt:     s.now(),
	}
	for _, r := range snapshot {
		if r.Type == RewardGiftChoice {
			id := r.ID
			grant.RewardID = &id
			break
		}
	}

	var paid []RewardSnapshot
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.grants.WithTrx(tx).CreateIfAbsent(ctx, grant)
		if err != nil {
			return err
		}
		if !created {
			return errAlreadyGranted
		}

		for _, r := range applyOrder(snapshot) {
			if err := s.applyReward(ctx, tx, u, lvl, r); err != nil {
				return err
			}
			if r.Type == RewardBonus && r.BonusAmount > 0 {
				paid = append(paid, r)
			}
		}
		return nil
	})
	if err != nil && len(paid) > 0 {
		s.reverseBonuses(ctx, u, lvl, paid)
	}
	return err
}

// applyOrder puts ERP bonuses last so a failing discount never leaves a paid
// bonus behind a rolled back grant.
func applyOrder(rewards []RewardSnapshot) []RewardSnapshot {
	out := make([]RewardSnapshot, 0, len(rewards))
	var bonuses []RewardSnapshot
	for _, r := range rewards {
		if r.Type == RewardBonus {
			bonuses = append(bonuses, r)
			continue
		}
		out = append(out, r)
	}
	return append(out, bonuses...)
}

// reverseBonuses writes off bonuses the ERP accepted for a level whose grant
// was rolled back, so the next evaluation does not pay them twice.
func (s *Service) reverseBonuses(ctx context.Context, u *user.User, lvl *Level, paid []RewardSnapshot) {
	for _, r := range paid {
		zapLog := zap.L().With(
			zap.String("user_id", u.ID),
			zap.String("level_id", lvl.ID),
			zap.Float64("amount", r.BonusAmount),
			zap.String("stage", "loyalty_reversal"),
		)
		if err := s.ledger.UpdateBonus(ctx, erp.BonusUpdate{
			Phone:     u.Phone,
			Amount:    r.BonusAmount,
			Operation: erp.OperationWriteOff,
			Date:      s.now(),
			Comment:   "Loyalty level " + lvl.Name + " reversal",
		}); err != nil {
			zapLog.Error("failed to reverse loyalty bonus, replay manually", zap.Error(err))
			continue
		}
		zapLog.Warn("loyalty bonus reversed after failed grant")
	}
}

func (s *Service) applyReward(ctx context.Context, tx *gorm.DB, u *user.User, lvl *Level, r RewardSnapshot) error {
	switch r.Type {
	case RewardDiscount:
		if err := s.ledger.UpdateDiscount(ctx, u.Phone, r.DiscountPercent); err != nil {
			return err
		}
		return s.users.MirrorDiscount(ctx, tx, u.ID, r.DiscountPercent)
	case RewardBonus:
		if r.BonusAmount <= 0 {
			return nil
		}
		if err := s.ledger.UpdateBonus(ctx, erp.BonusUpdate{
			Phone:     u.Phone,
			Amount:    r.BonusAmount,
			Operation: erp.OperationAdd,
			Date:      s.now(),
			Comment:   "Loyalty level " + lvl.Name,
		}); err != nil {
			return err
		}
		return s.users.AdjustBonus(ctx, tx, u.ID, r.BonusAmount)
	case RewardGiftChoice:
		// the grant's reward_id is the claim ticket; SelectGift redeems it
		return nil
	default:
		return fmt.Errorf("unknown reward type %q", r.Type)
	}
}

type GrantView struct {
	*Grant
	LevelName string           `json:"level_name"`
	Rewards   []RewardSnapshot `json:"rewards"`
}

func (s *Service) ListGrants(ctx context.Context, userID string) ([]*GrantView, error) {
	grants, err := s.grants.Find(ctx, &Grant{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "achieved_at", OrderBy: "asc"}))
	if err != nil {
		return nil, err
	}
	levels, err := s.activeLevels(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(levels))
	for _, l := range levels {
		names[l.ID] = l.Name
	}

	out := make([]*GrantView, 0, len(grants))
	for _, g := range grants {
		var rewards []RewardSnapshot
		if len(g.RewardSnapshot) > 0 {
			if err := json.Unmarshal(g.RewardSnapshot, &rewards); err != nil {
				return nil, err
			}
		}
		out = append(out, &GrantView{Grant: g, LevelName: names[g.LevelID], Rewards: rewards})
	}
	return out, nil
}

type SelectGiftRequest struct {
	CatalogItemID string `json:"catalog_item_id" binding:"required"`
}

// SelectGift redeems a gift_choice reward for one of its snapshotted options,
// once per grant.
func (s *Service) SelectGift(ctx context.Context, userID, grantID, catalogItemID string) (*gift.Gift, error) {
	grant, err := s.grants.FindOne(ctx, &Grant{ID: grantID})
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.UserID != userID {
		return nil, errutil.NotFound("loyalty grant not found", nil)
	}
	if grant.RewardID == nil {
		return nil, errutil.Conflict("this level has no gift to choose", nil)
	}
	if grant.RewardClaimedAt != nil {
		return nil, errutil.Conflict("gift already chosen for this level", nil)
	}

	var rewards []RewardSnapshot
	if err := json.Unmarshal(grant.RewardSnapshot, &rewards); err != nil {
		return nil, err
	}
	if !offers(rewards, *grant.RewardID, catalogItemID) {
		return nil, errutil.ValidationFailed("this gift is not among the level's options", nil)
	}

	var g *gift.Gift
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.gifts.LoadCatalog(ctx, tx, []string{catalogItemID})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errutil.ValidationFailed("this gift is no longer available", nil)
		}

		g, err = s.gifts.CreateSelected(ctx, tx, userID, items[0], gift.SourceLoyalty, grant.ID)
		if err != nil {
			return err
		}

		res := tx.Model(&Grant{}).
			Where("id = ? AND reward_claimed_at IS NULL", grant.ID).
			Updates(map[string]any{
				"selected_gift_id":  catalogItemID,
				"reward_claimed_at": s.now(),
				"gift_id":           g.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("gift already chosen for this level", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func offers(rewards []RewardSnapshot, rewardID, catalogItemID string) bool {
	for _, r := range rewards {
		if r.ID != rewardID || r.Type != RewardGiftChoice {
			continue
		}
		for _, id := range r.GiftOptionIDs {
			if id == catalogItemID {
				return true
			}
		}
	}
	return false
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, msg); err != nil {
		zap.L().Error("failed to dispatch loyalty notification",
			zap.String("user_id", msg.UserID), zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}
