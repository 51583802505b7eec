package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp/erptest"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/notification/notificationtest"
	"retail-loyalty/services/testutil"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	users  *user.Service
	gifts  *gift.Service
	ledger *erptest.Ledger
	rec    *notificationtest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	models := append(Models(), gift.Models()...)
	models = append(models, &user.User{})
	db := testutil.NewTestDB(t, models...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledger := erptest.NewLedger()
	rec := &notificationtest.Recorder{}
	users := user.NewService(user.ServiceParams{DB: db, Node: node, Config: &config.Config{}, Ledger: ledger})
	gifts := gift.NewService(gift.ServiceParams{DB: db, Node: node, Notifier: rec})
	svc := NewService(ServiceParams{DB: db, Node: node, Users: users, Gifts: gifts, Ledger: ledger, Notifier: rec})
	return &fixture{db: db, svc: svc, users: users, gifts: gifts, ledger: ledger, rec: rec}
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) level(t *testing.T, name string, min float64, rewards ...RewardRequest) *Level {
	t.Helper()
	lvl, err := f.svc.CreateLevel(context.Background(), LevelRequest{Name: name, MinPurchaseAmount: min, Rewards: rewards})
	require.NoError(t, err)
	return lvl
}

func (f *fixture) user(t *testing.T) *user.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), user.RegisterRequest{Phone: "79990001122"})
	require.NoError(t, err)
	return u
}

func TestNewlyAchieved(t *testing.T) {
	levels := []*Level{
		{ID: "gold", MinPurchaseAmount: 600, IsActive: true},
		{ID: "bronze", MinPurchaseAmount: 100, IsActive: true},
		{ID: "hidden", MinPurchaseAmount: 50, IsActive: false},
		{ID: "silver", MinPurchaseAmount: 300, IsActive: true},
		{ID: "platinum", MinPurchaseAmount: 1000, IsActive: true},
	}

	got := NewlyAchieved(levels, map[string]bool{"bronze": true}, 650)
	require.Len(t, got, 2)
	require.Equal(t, "silver", got[0].ID)
	require.Equal(t, "gold", got[1].ID)

	require.Empty(t, NewlyAchieved(levels, nil, 10))
	require.Len(t, NewlyAchieved(levels, nil, 600), 3)
}

func TestEvaluateCascadesWithSingleNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.level(t, "Bronze", 100000, RewardRequest{Type: RewardDiscount, DiscountPercent: ptr(5)})
	f.level(t, "Silver", 300000, RewardRequest{Type: RewardBonus, BonusAmount: ptr(500)})
	gold := f.level(t, "Gold", 600000,
		RewardRequest{Type: RewardDiscount, DiscountPercent: ptr(10)},
		RewardRequest{Type: RewardBonus, BonusAmount: ptr(1000)},
	)
	u := f.user(t)

	res, err := f.svc.Evaluate(ctx, u, 650000)
	require.NoError(t, err)
	require.Len(t, res.Granted, 3)
	require.Equal(t, gold.ID, res.Highest().ID)

	var grants int64
	require.NoError(t, f.db.Model(&Grant{}).Where("user_id = ?", u.ID).Count(&grants).Error)
	require.EqualValues(t, 3, grants)

	achieved := f.rec.OfKind(notification.KindLevelAchieved)
	require.Len(t, achieved, 1)
	require.Equal(t, gold.ID, achieved[0].Data["level_id"])

	require.Equal(t, []float64{500, 1000}, f.ledger.BonusAmounts(u.Phone))
	for _, b := range f.ledger.Bonuses() {
		require.False(t, b.WithDelay)
	}
	d, _ := f.ledger.Discount(u.Phone)
	require.Equal(t, 10.0, d)

	got, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, got.DiscountPercent)
	require.Equal(t, 1500.0, got.BonusBalance)

	again, err := f.svc.Evaluate(ctx, u, 700000)
	require.NoError(t, err)
	require.Empty(t, again.Granted)
	require.Len(t, f.rec.OfKind(notification.KindLevelAchieved), 1)
}

func TestEvaluateRollsBackFailedLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.level(t, "Bronze", 100, RewardRequest{Type: RewardDiscount, DiscountPercent: ptr(3)})
	silver := f.level(t, "Silver", 300,
		RewardRequest{Type: RewardBonus, BonusAmount: ptr(50)},
	)
	u := f.user(t)

	f.ledger.BonusErr = errors.New("erp down")
	res, err := f.svc.Evaluate(ctx, u, 400)
	require.Error(t, err)
	require.Len(t, res.Granted, 1)

	var held []Grant
	require.NoError(t, f.db.Where("user_id = ?", u.ID).Find(&held).Error)
	require.Len(t, held, 1)
	require.NotEqual(t, silver.ID, held[0].LevelID)

	f.ledger.BonusErr = nil
	res, err = f.svc.Evaluate(ctx, u, 400)
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	require.Equal(t, silver.ID, res.Granted[0].ID)
}

func TestEvaluateAppliesBonusAfterDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.level(t, "Silver", 300,
		RewardRequest{Type: RewardBonus, BonusAmount: ptr(50)},
		RewardRequest{Type: RewardDiscount, DiscountPercent: ptr(5)},
	)
	u := f.user(t)

	f.ledger.DiscountErr = errors.New("erp down")
	_, err := f.svc.Evaluate(ctx, u, 400)
	require.Error(t, err)
	require.Empty(t, f.ledger.BonusAmounts(u.Phone))

	f.ledger.DiscountErr = nil
	res, err := f.svc.Evaluate(ctx, u, 400)
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	require.Equal(t, []float64{50}, f.ledger.BonusAmounts(u.Phone))
	d, ok := f.ledger.Discount(u.Phone)
	require.True(t, ok)
	require.Equal(t, 5.0, d)
}

func TestEvaluateReversesPaidBonusOnRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.level(t, "Gold", 500,
		RewardRequest{Type: RewardBonus, BonusAmount: ptr(50)},
		RewardRequest{Type: RewardBonus, BonusAmount: ptr(20)},
	)
	u := f.user(t)

	f.ledger.BonusAddLimit = 1
	_, err := f.svc.Evaluate(ctx, u, 600)
	require.Error(t, err)
	require.Equal(t, 0.0, f.ledger.NetBonus(u.Phone))

	var held []Grant
	require.NoError(t, f.db.Where("user_id = ?", u.ID).Find(&held).Error)
	require.Empty(t, held)

	f.ledger.BonusAddLimit = 0
	res, err := f.svc.Evaluate(ctx, u, 600)
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	require.Equal(t, 70.0, f.ledger.NetBonus(u.Phone))
}

func TestSelectGiftOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mug, err := f.gifts.CreateCatalogItem(ctx, gift.CatalogItemRequest{Name: "mug"})
	require.NoError(t, err)
	bag, err := f.gifts.CreateCatalogItem(ctx, gift.CatalogItemRequest{Name: "bag"})
	require.NoError(t, err)
	other, err := f.gifts.CreateCatalogItem(ctx, gift.CatalogItemRequest{Name: "other"})
	require.NoError(t, err)

	f.level(t, "Bronze", 100, RewardRequest{Type: RewardGiftChoice, GiftOptionIDs: []string{mug.ID, bag.ID}})
	u := f.user(t)

	_, err = f.svc.Evaluate(ctx, u, 150)
	require.NoError(t, err)

	grants, err := f.svc.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "Bronze", grants[0].LevelName)
	grantID := grants[0].ID

	_, err = f.svc.SelectGift(ctx, "someone-else", grantID, mug.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = f.svc.SelectGift(ctx, u.ID, grantID, other.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	g, err := f.svc.SelectGift(ctx, u.ID, grantID, bag.ID)
	require.NoError(t, err)
	require.Equal(t, gift.StatusSelected, g.Status)
	require.Equal(t, "bag", g.Name)

	_, err = f.svc.SelectGift(ctx, u.ID, grantID, mug.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	var grant Grant
	require.NoError(t, f.db.First(&grant, "id = ?", grantID).Error)
	require.Equal(t, bag.ID, *grant.SelectedGiftID)
	require.NotNil(t, grant.RewardClaimedAt)
}

func TestCreateLevelValidatesRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateLevel(ctx, LevelRequest{Name: "x", Rewards: []RewardRequest{{Type: RewardBonus}}})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = f.svc.CreateLevel(ctx, LevelRequest{Name: "x", Rewards: []RewardRequest{{Type: RewardGiftChoice, GiftOptionIDs: []string{"missing"}}}})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestPurchaseWebhook(t *testing.T) {
	f := newFixture(t)
	f.level(t, "Bronze", 100, RewardRequest{Type: RewardBonus, BonusAmount: ptr(10)})
	f.level(t, "Silver", 300, RewardRequest{Type: RewardBonus, BonusAmount: ptr(20)})
	f.user(t)

	r := gin.New()
	r.POST("/webhooks/erp/purchases", NewWebhookHandler(f.svc, f.users).HandlePurchase)

	call := func(body any) (int, WebhookResponse) {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/erp/purchases", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		var out WebhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return w.Code, out
	}

	code, out := call(map[string]any{"phone": "70000000000", "total_purchases": 500})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, WebhookUserNotFound, out.Status)

	code, out = call(map[string]any{"phone": "8 999 000 11 22", "total_purchases": 350})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, WebhookOK, out.Status)
	require.Equal(t, 2, out.LevelsGranted)
	require.Equal(t, "Silver", *out.HighestLevel)
	require.Equal(t, []string{"Bronze", "Silver"}, out.NewLevels)

	code, out = call(map[string]any{"total_purchases": 1})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, WebhookError, out.Status)
}
