package gift

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"retail-loyalty/pkg/db/option"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	notifier notification.Dispatcher
	intn     func(n int) int
	now      func() time.Time

	gifts       repository.Repository[Gift]
	catalog     repository.Repository[CatalogItem]
	resolutions repository.Repository[GroupResolution]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Notifier notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		notifier:    p.Notifier,
		intn:        rand.IntN,
		now:         time.Now,
		gifts:       repository.ProvideStore[Gift](p.DB),
		catalog:     repository.ProvideStore[CatalogItem](p.DB),
		resolutions: repository.ProvideStore[GroupResolution](p.DB),
	}
}

// WithRand replaces the random source used for group selection.
func (s *Service) WithRand(intn func(n int) int) *Service {
	s.intn = intn
	return s
}

func (s *Service) Get(ctx context.Context, giftID string) (*Gift, error) {
	g, err := s.gifts.FindOne(ctx, &Gift{ID: giftID})
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errutil.NotFound("gift not found", nil)
	}
	return g, nil
}

// owned hides gifts of other users behind NotFound.
func (s *Service) owned(ctx context.Context, userID, giftID string) (*Gift, error) {
	g, err := s.Get(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if g.UserID != userID {
		return nil, errutil.NotFound("gift not found", nil)
	}
	return g, nil
}

type CatalogItemRequest struct {
	Name  string `json:"name" binding:"required"`
	Image string `json:"image"`
}

func (s *Service) CreateCatalogItem(ctx context.Context, req CatalogItemRequest) (*CatalogItem, error) {
	item := &CatalogItem{
		ID:       gen.NextID(s.node),
		Name:     req.Name,
		Image:    req.Image,
		IsActive: true,
	}
	if err := s.catalog.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// LoadCatalog returns the active items among ids, in the order given.
func (s *Service) LoadCatalog(ctx context.Context, tx *gorm.DB, ids []string) ([]*CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := s.catalog.WithTrx(tx).Find(ctx, &CatalogItem{IsActive: true},
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*CatalogItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]*CatalogItem, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
			delete(byID, id)
		}
	}
	return out, nil
}

// CreateGroup materializes one pending gift per item under a fresh group id.
func (s *Service) CreateGroup(ctx context.Context, tx *gorm.DB, userID string, items []*CatalogItem, source Source, ref string) ([]*Gift, error) {
	if len(items) < MinGroupSize {
		return nil, errutil.ValidationFailed("gift group is too small", ErrGroupTooSmall)
	}
	if len(items) > MaxGroupSize {
		return nil, errutil.ValidationFailed("gift group is too large", ErrGroupTooLarge)
	}

	groupID := gen.NextID(s.node)
	gifts := make([]*Gift, 0, len(items))
	for _, it := range items {
		itemID := it.ID
		gifts = append(gifts, &Gift{
			ID:            gen.NextID(s.node),
			UserID:        userID,
			CatalogItemID: &itemID,
			GroupID:       &groupID,
			Name:          it.Name,
			Image:         it.Image,
			Status:        StatusPending,
			Source:        source,
			SourceRef:     ref,
		})
	}

	if err := s.gifts.WithTrx(tx).BatchCreate(ctx, gifts); err != nil {
		return nil, err
	}
	return gifts, nil
}

// CreateGroupFromPool builds a group from a catalog pool, sampling down to
// MaxGroupSize items when the pool is larger.
func (s *Service) CreateGroupFromPool(ctx context.Context, tx *gorm.DB, userID string, pool []string, source Source, ref string) ([]*Gift, error) {
	items, err := s.LoadCatalog(ctx, tx, pool)
	if err != nil {
		return nil, err
	}
	if len(items) > MaxGroupSize {
		for i := len(items) - 1; i > 0; i-- {
			j := s.intn(i + 1)
			items[i], items[j] = items[j], items[i]
		}
		items = items[:MaxGroupSize]
	}
	return s.CreateGroup(ctx, tx, userID, items, source, ref)
}

// CreateSelected records a gift the user already chose, outside any group.
func (s *Service) CreateSelected(ctx context.Context, tx *gorm.DB, userID string, item *CatalogItem, source Source, ref string) (*Gift, error) {
	now := s.now()
	itemID := item.ID
	g := &Gift{
		ID:            gen.NextID(s.node),
		UserID:        userID,
		CatalogItemID: &itemID,
		Name:          item.Name,
		Image:         item.Image,
		Status:        StatusSelected,
		Source:        source,
		SourceRef:     ref,
		SelectedAt:    &now,
	}
	if err := s.gifts.WithTrx(tx).Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ClaimPendingGroups returns the caller's unresolved groups and marks them viewed.
func (s *Service) ClaimPendingGroups(ctx context.Context, userID string) ([]*Group, error) {
	pending, err := s.gifts.Find(ctx, &Gift{UserID: userID, Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "group_id", Operator: option.NEQ, Value: ""}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, err
	}

	var unseen []string
	for _, g := range pending {
		if !g.IsViewed {
			unseen = append(unseen, g.ID)
			g.IsViewed = true
		}
	}
	if len(unseen) > 0 {
		if err := s.db.WithContext(ctx).Model(&Gift{}).Where("id IN ?", unseen).Update("is_viewed", true).Error; err != nil {
			zap.L().Warn("failed to mark gifts viewed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return GroupByID(pending), nil
}

type resolveParams struct {
	GroupID    string
	CallerID   string
	ExplicitID string
	ResolvedBy string
}

// resolveTx moves one pending member of a group to selected and discards the
// rest. The group resolution row is inserted first so concurrent resolutions
// of the same group cannot both win.
func (s *Service) resolveTx(ctx context.Context, tx *gorm.DB, p resolveParams) (*Gift, error) {
	groupID := p.GroupID
	members, err := s.gifts.WithTrx(tx).Find(ctx, &Gift{GroupID: &groupID, Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 || (p.CallerID != "" && members[0].UserID != p.CallerID) {
		return nil, errutil.NotFound("gift group not found or already resolved", ErrNoPending)
	}

	winner, err := PickWinner(members, p.ExplicitID, s.intn)
	if err != nil {
		return nil, errutil.NotFound("gift not found in group", err)
	}

	created, err := s.resolutions.WithTrx(tx).CreateIfAbsent(ctx, &GroupResolution{
		GroupID:      groupID,
		WinnerGiftID: winner.ID,
		UserID:       winner.UserID,
		ResolvedBy:   p.ResolvedBy,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errutil.NotFound("gift group not found or already resolved", ErrNoPending)
	}

	now := s.now()
	res := tx.WithContext(ctx).Model(&Gift{}).
		Where("id = ? AND status = ?", winner.ID, StatusPending).
		Updates(map[string]any{"status": StatusSelected, "selected_at": now, "is_viewed": true})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("gift group already resolved", nil)
	}

	if err := tx.WithContext(ctx).Model(&Gift{}).
		Where("group_id = ? AND id <> ? AND status = ?", groupID, winner.ID, StatusPending).
		Updates(map[string]any{"status": StatusDiscarded, "discarded_for_gift_id": winner.ID}).Error; err != nil {
		return nil, err
	}

	winner.Status = StatusSelected
	winner.SelectedAt = &now
	winner.IsViewed = true
	return winner, nil
}

// Select resolves the caller's group, at random when giftID is empty.
func (s *Service) Select(ctx context.Context, userID, groupID, giftID string) (*Gift, error) {
	var winner *Gift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		winner, err = s.resolveTx(ctx, tx, resolveParams{
			GroupID:    groupID,
			CallerID:   userID,
			ExplicitID: giftID,
			ResolvedBy: "user:" + userID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("gift group resolved", zap.String("user_id", userID), zap.String("group_id", groupID), zap.String("gift_id", winner.ID))
	return winner, nil
}

func (s *Service) Activate(ctx context.Context, userID, giftID string) (*Gift, error) {
	g, err := s.owned(ctx, userID, giftID)
	if err != nil {
		return nil, err
	}

	switch g.Status {
	case StatusActivated:
		return g, nil
	case StatusSelected:
	case StatusIssued:
		return nil, errutil.Conflict("gift already issued", nil)
	case StatusPending:
		return nil, errutil.Conflict("gift must be selected before activation", nil)
	default:
		return nil, errutil.Conflict("gift is no longer available", nil)
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&Gift{}).
		Where("id = ? AND status = ?", g.ID, StatusSelected).
		Updates(map[string]any{"status": StatusActivated, "is_activated": true, "activated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusActivated {
			return current, nil
		}
		return nil, errutil.Conflict("gift cannot be activated", nil)
	}

	return s.Get(ctx, g.ID)
}

// ActivateByScan selects a random gift from the group and activates it. A
// group the caller already resolved activates its winner instead.
func (s *Service) ActivateByScan(ctx context.Context, userID, groupID string) (*Gift, error) {
	winner, err := s.Select(ctx, userID, groupID, "")
	if err != nil {
		if !errutil.HasStatus(err, errutil.StatusNotFound) {
			return nil, err
		}
		res, ferr := s.resolutions.FindOne(ctx, &GroupResolution{GroupID: groupID})
		if ferr != nil {
			return nil, ferr
		}
		if res == nil || res.UserID != userID {
			return nil, err
		}
		return s.Activate(ctx, userID, res.WinnerGiftID)
	}
	return s.Activate(ctx, userID, winner.ID)
}

func (s *Service) ConfirmIssuance(ctx context.Context, userID, giftID, code string) (*Gift, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errutil.ValidationFailed("issuance code is required", nil)
	}
	g, err := s.owned(ctx, userID, giftID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, g, code, "user:"+userID)
}

func (s *Service) AdminIssue(ctx context.Context, adminID, giftID, code string) (*Gift, error) {
	g, err := s.Get(ctx, giftID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, g, strings.TrimSpace(code), "admin:"+adminID)
}

func (s *Service) issue(ctx context.Context, g *Gift, code, issuedBy string) (*Gift, error) {
	switch g.Status {
	case StatusSelected, StatusActivated:
	case StatusIssued:
		return nil, errutil.Conflict("gift already issued", nil)
	default:
		return nil, errutil.Conflict("gift is not ready for issuance", nil)
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&Gift{}).
		Where("id = ? AND status IN ?", g.ID, []Status{StatusSelected, StatusActivated}).
		Updates(map[string]any{
			"status":        StatusIssued,
			"issued_at":     now,
			"issuance_code": code,
			"issued_by":     issuedBy,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("gift already issued", nil)
	}

	issued, err := s.Get(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	s.notifyIssued(ctx, issued)
	return issued, nil
}

func (s *Service) notifyIssued(ctx context.Context, g *Gift) {
	s.notify(ctx, notification.Message{
		UserID: g.UserID,
		Kind:   notification.KindGiftIssued,
		Title:  "Gift received",
		Body:   "You have received your gift: " + g.Name,
		Data:   map[string]string{"gift_id": g.ID},
	})
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, msg); err != nil {
		zap.L().Error("failed to dispatch gift notification",
			zap.String("user_id", msg.UserID), zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}

var errInvalidStatus = errors.New("invalid target status")

type SetStatusRequest struct {
	Status         Status `json:"status" binding:"required"`
	AutoSelectGift bool   `json:"auto_select_gift"`
}

// AdminSetStatus forces a gift into status. A pending gift is only moved when
// AutoSelectGift is set, which resolves its group in favour of this gift.
func (s *Service) AdminSetStatus(ctx context.Context, adminID, giftID string, req SetStatusRequest) (*Gift, error) {
	switch req.Status {
	case StatusSelected, StatusActivated, StatusIssued:
	default:
		return nil, errutil.ValidationFailed("status must be selected, activated or issued", errInvalidStatus)
	}

	g, err := s.Get(ctx, giftID)
	if err != nil {
		return nil, err
	}
	switch g.Status {
	case StatusIssued:
		return nil, errutil.Conflict("gift already issued", nil)
	case StatusDiscarded:
		return nil, errutil.Conflict("gift is no longer available", nil)
	case StatusPending:
		if !req.AutoSelectGift {
			return nil, errutil.Conflict("gift is pending; enable auto_select_gift to resolve its group", nil)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		if g.Status == StatusPending {
			if g.GroupID != nil {
				if _, err := s.resolveTx(ctx, tx, resolveParams{
					GroupID:    *g.GroupID,
					ExplicitID: g.ID,
					ResolvedBy: "admin:" + adminID,
				}); err != nil {
					return err
				}
			} else if err := tx.Model(&Gift{}).Where("id = ?", g.ID).
				Updates(map[string]any{"status": StatusSelected, "selected_at": now}).Error; err != nil {
				return err
			}
		}

		updates := map[string]any{"status": req.Status}
		switch req.Status {
		case StatusActivated:
			updates["is_activated"] = true
			updates["activated_at"] = now
		case StatusIssued:
			updates["issued_at"] = now
			updates["issued_by"] = "admin:" + adminID
		}
		return tx.Model(&Gift{}).
			Where("id = ? AND status <> ?", g.ID, StatusIssued).
			Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.Get(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusIssued {
		s.notifyIssued(ctx, updated)
	}
	return updated, nil
}

type DispatchRequest struct {
	UserID         string   `json:"user_id" binding:"required"`
	CatalogItemIDs []string `json:"catalog_item_ids" binding:"required,min=2,max=4"`
}

// AdminDispatch hands a user a manual gift group.
func (s *Service) AdminDispatch(ctx context.Context, req DispatchRequest) ([]*Gift, error) {
	var gifts []*Gift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.LoadCatalog(ctx, tx, req.CatalogItemIDs)
		if err != nil {
			return err
		}
		if len(items) != len(req.CatalogItemIDs) {
			return errutil.ValidationFailed("unknown or inactive catalog item", nil)
		}
		gifts, err = s.CreateGroup(ctx, tx, req.UserID, items, SourceAdmin, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.NotifyAssigned(ctx, req.UserID, gifts)
	return gifts, nil
}

// NotifyAssigned tells the user a new gift group is waiting.
func (s *Service) NotifyAssigned(ctx context.Context, userID string, gifts []*Gift) {
	if len(gifts) == 0 {
		return
	}
	data := map[string]string{}
	if gifts[0].GroupID != nil {
		data["group_id"] = *gifts[0].GroupID
	}
	s.notify(ctx, notification.Message{
		UserID: userID,
		Kind:   notification.KindGiftAssigned,
		Title:  "You have a gift",
		Body:   "Open the app to pick your gift",
		Data:   data,
	})
}
