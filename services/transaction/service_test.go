package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/erp/erptest"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/middleware"
	"retail-loyalty/pkg/taskname"
	"retail-loyalty/services/idempotency"
	"retail-loyalty/services/loyalty"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/notification/notificationtest"
	"retail-loyalty/services/referral"
	"retail-loyalty/services/testutil"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type memCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memCache) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type evaluation struct {
	userID string
	total  float64
}

type fakeLoyalty struct {
	calls []evaluation
	grant bool
	err   error
}

func (f *fakeLoyalty) Evaluate(ctx context.Context, u *user.User, total float64) (*loyalty.Result, error) {
	f.calls = append(f.calls, evaluation{userID: u.ID, total: total})
	res := &loyalty.Result{}
	if f.grant {
		res.Granted = []*loyalty.Level{{ID: "lvl", Name: "Silver"}}
	}
	return res, f.err
}

type fakeReferral struct {
	purchases []referral.Purchase
	err       error
}

func (f *fakeReferral) ProcessPurchase(ctx context.Context, p referral.Purchase) error {
	f.purchases = append(f.purchases, p)
	return f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	users    *user.Service
	loyalty  *fakeLoyalty
	referral *fakeReferral
	rec      *notificationtest.Recorder
	enq      *fakeEnqueuer
}

func newFixture(t *testing.T, cache idempotency.Cache) *fixture {
	t.Helper()
	models := append(Models(), idempotency.Models()...)
	models = append(models, &user.User{})
	db := testutil.NewTestDB(t, models...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Loyalty.CountryCode = "7"
	cfg.Loyalty.Timezone = "UTC"
	cfg.Loyalty.ReturnWindowDays = 14

	f := &fixture{
		db:       db,
		users:    user.NewService(user.ServiceParams{DB: db, Node: node, Config: cfg}),
		loyalty:  &fakeLoyalty{},
		referral: &fakeReferral{},
		rec:      &notificationtest.Recorder{},
		enq:      &fakeEnqueuer{},
	}
	gate := idempotency.NewGate(idempotency.GateParams{DB: db, Node: node, Config: cfg, Cache: cache})
	f.svc = NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Users:    f.users,
		Gate:     gate,
		Loyalty:  f.loyalty,
		Referral: f.referral,
		Notifier: f.rec,
		Enqueuer: f.enq,
	})
	return f
}

func (f *fixture) register(t *testing.T, phone string) *user.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), user.RegisterRequest{Phone: phone})
	require.NoError(t, err)
	return u
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func add(phone, doc string, purchase, bonus float64) WebhookItem {
	return WebhookItem{
		UserID:           phone,
		Operation:        erp.OperationAdd,
		PurchaseAmount:   purchase,
		BonusAmount:      bonus,
		BonusAccrualDate: "2025-03-20T12:00:00",
		DocumentID:       doc,
	}
}

func TestProcessBatchRecordsPurchase(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	u := f.register(t, "89001234567")
	ctx := context.Background()

	item := add("+7 900 123-45-67", "DOC-1", 1500, 75)
	item.WithDelay = true
	res, err := f.svc.ProcessBatch(ctx, []WebhookItem{item})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 0, res.LoyaltyUpdates)

	var pr PurchaseRecord
	require.NoError(t, f.db.First(&pr).Error)
	require.Equal(t, u.ID, pr.UserID)
	require.Equal(t, 1500.0, pr.Amount)
	require.Equal(t, time.Date(2025, 3, 6, 12, 0, 0, 0, time.UTC), pr.PurchasedAt.UTC())

	var ev Event
	require.NoError(t, f.db.First(&ev).Error)
	require.Equal(t, erp.OperationAdd, ev.Kind)
	require.Equal(t, 75.0, ev.Amount)
	require.NotNil(t, ev.PurchaseID)
	require.Equal(t, pr.ID, *ev.PurchaseID)

	got, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 75.0, got.BonusBalance)

	require.Equal(t, []evaluation{{userID: u.ID, total: 1500}}, f.loyalty.calls)
	require.Empty(t, f.referral.purchases)

	require.Len(t, f.rec.Messages, 1)
	require.Equal(t, notification.KindBonusAccrued, f.rec.Messages[0].Kind)
	require.True(t, f.rec.Messages[0].WithDelay)

	require.Len(t, f.enq.tasks, 1)
	require.Equal(t, taskname.ERPSyncClient, f.enq.tasks[0].Type())
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	f.register(t, "79001234567")
	ctx := context.Background()

	res, err := f.svc.ProcessBatch(ctx, []WebhookItem{
		add("79001234567", "DOC-1", 1000, 50),
		add("79001234567", "DOC-1", 1000, 50),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	res, err = f.svc.ProcessBatch(ctx, []WebhookItem{add("79001234567", "DOC-1", 1000, 50)})
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)

	require.EqualValues(t, 1, f.count(t, &PurchaseRecord{}))
	require.EqualValues(t, 1, f.count(t, &Event{}))
	require.Len(t, f.loyalty.calls, 1)
}

func TestProcessBatchDurableClaimWithoutCache(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "79001234567")
	ctx := context.Background()

	for i, want := range []int{1, 0} {
		res, err := f.svc.ProcessBatch(ctx, []WebhookItem{add("79001234567", "DOC-7", 400, 20)})
		require.NoError(t, err, "delivery %d", i)
		require.Equal(t, want, res.Processed)
	}

	require.EqualValues(t, 1, f.count(t, &PurchaseRecord{}))
	require.Len(t, f.loyalty.calls, 1)
	got, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, got.BonusBalance)
}

func TestProcessBatchSkipsZeroBonusAndUnknownPhone(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	f.register(t, "79001234567")

	res, err := f.svc.ProcessBatch(context.Background(), []WebhookItem{
		add("79001234567", "DOC-1", 1000, 0),
		add("79990000000", "DOC-2", 1000, 10),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.EqualValues(t, 0, f.count(t, &PurchaseRecord{}))
	require.Empty(t, f.loyalty.calls)
}

func TestProcessBatchWriteOff(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	u := f.register(t, "79001234567")
	ctx := context.Background()

	item := add("79001234567", "DOC-1", 0, 30)
	item.Operation = erp.OperationWriteOff
	_, err := f.svc.ProcessBatch(ctx, []WebhookItem{item})
	require.NoError(t, err)

	require.EqualValues(t, 0, f.count(t, &PurchaseRecord{}))
	var ev Event
	require.NoError(t, f.db.First(&ev).Error)
	require.Equal(t, erp.OperationWriteOff, ev.Kind)
	require.Nil(t, ev.PurchaseID)

	got, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, -30.0, got.BonusBalance)
	require.Empty(t, f.loyalty.calls)
	require.Equal(t, []notification.Kind{notification.KindBonusWrittenOff}, f.rec.Kinds())
}

func TestProcessBatchRejectsMalformedBatch(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	f.register(t, "79001234567")

	bad := add("79001234567", "DOC-2", 100, 5)
	bad.Operation = "refund"
	_, err := f.svc.ProcessBatch(context.Background(), []WebhookItem{add("79001234567", "DOC-1", 100, 5), bad})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
	require.EqualValues(t, 0, f.count(t, &PurchaseRecord{}))

	late := add("79001234567", "DOC-3", 100, 5)
	late.BonusAccrualDate = "yesterday"
	_, err = f.svc.ProcessBatch(context.Background(), []WebhookItem{late})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestDownstreamFailuresDoNotUndoRecording(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	u := f.register(t, "79001234567")
	ref := f.register(t, "79007654321")
	ctx := context.Background()
	ok, err := f.users.MarkReferred(ctx, nil, u.ID, ref.ID)
	require.NoError(t, err)
	require.True(t, ok)

	f.loyalty.err = errors.New("boom")
	f.referral.err = errors.New("boom")

	res, err := f.svc.ProcessBatch(ctx, []WebhookItem{
		add("79001234567", "DOC-1", 1000, 50),
		add("79001234567", "DOC-2", 500, 25),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.EqualValues(t, 2, f.count(t, &PurchaseRecord{}))

	require.Equal(t, []evaluation{{userID: u.ID, total: 1000}, {userID: u.ID, total: 1500}}, f.loyalty.calls)
	require.Len(t, f.referral.purchases, 2)
	require.Equal(t, 1, f.referral.purchases[0].Number)
	require.Equal(t, 2, f.referral.purchases[1].Number)
	require.Equal(t, 500.0, f.referral.purchases[1].Amount)
}

func TestLoyaltyUpdatesCounted(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	f.register(t, "79001234567")
	f.loyalty.grant = true

	res, err := f.svc.ProcessBatch(context.Background(), []WebhookItem{add("79001234567", "DOC-1", 1000, 50)})
	require.NoError(t, err)
	require.Equal(t, 1, res.LoyaltyUpdates)
}

func TestBatchHandler(t *testing.T) {
	f := newFixture(t, &memCache{keys: map[string]bool{}})
	f.register(t, "79001234567")

	r := gin.New()
	r.Use(middleware.Error())
	r.POST("/webhooks/erp/transactions", NewHandler(f.svc).Batch)

	post := func(body []byte) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/erp/transactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	raw, err := json.Marshal([]WebhookItem{add("79001234567", "DOC-1", 1000, 50), add("79990000000", "DOC-2", 10, 1)})
	require.NoError(t, err)
	w := post(raw)
	require.Equal(t, http.StatusOK, w.Code)

	var res BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Processed)

	w = post([]byte(`{"not":"a batch"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncClientTask(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "79001234567")
	ledger := erptest.NewLedger()
	ledger.SetDiscount(u.Phone, 12)

	st := NewSyncTask(SyncTaskParams{Ledger: ledger, Users: f.users})
	at, err := NewSyncClientTask(SyncClientPayload{UserID: u.ID, Phone: u.Phone})
	require.NoError(t, err)
	require.NoError(t, st.HandleSyncClientTask(context.Background(), at))

	got, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, 12.0, got.DiscountPercent)

	unknown, err := NewSyncClientTask(SyncClientPayload{UserID: "x", Phone: "70000000000"})
	require.NoError(t, err)
	require.NoError(t, st.HandleSyncClientTask(context.Background(), unknown))
}
