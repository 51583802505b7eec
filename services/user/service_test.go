package user

import (
	"context"
	"errors"
	"testing"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/erp/erpmock"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequence struct{ n int }

func (f *fakeSequence) NextPromoCode(ctx context.Context) (string, error) {
	f.n++
	return "CODE" + string(rune('A'+f.n)), nil
}

func newTestService(t *testing.T, ledger erp.Client) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &User{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node, Config: &config.Config{}, Ledger: ledger, Sequence: &fakeSequence{}})
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+7 (999) 000-11-22": "79990001122",
		"89990001122":        "79990001122",
		"9990001122":         "79990001122",
		"79990001122":        "79990001122",
		"12345":              "",
		"":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizePhone(in, "7"), in)
	}
}

func TestRegisterAndFindByPhone(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{Phone: "8 999 000 11 22", Name: "Anna"})
	require.NoError(t, err)
	require.Equal(t, "79990001122", u.Phone)
	require.NotEmpty(t, u.PromoCode)

	found, err := svc.FindByPhone(ctx, "+79990001122")
	require.NoError(t, err)
	require.Equal(t, u.ID, found.ID)

	byCode, err := svc.FindByPromoCode(ctx, u.PromoCode)
	require.NoError(t, err)
	require.Equal(t, u.ID, byCode.ID)

	_, err = svc.Register(ctx, RegisterRequest{Phone: "9990001122"})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	missing, err := svc.FindByPhone(ctx, "70000000000")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMarkReferredOnlyOnce(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterRequest{Phone: "79990001122"})
	require.NoError(t, err)

	ok, err := svc.MarkReferred(ctx, nil, u.ID, "ref-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.MarkReferred(ctx, nil, u.ID, "ref-2")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.HasReferral())
	require.Equal(t, "ref-1", *got.ReferrerID)
}

func TestAdminAdjustBonus(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := erpmock.NewMockClient(ctrl)
	svc := newTestService(t, ledger)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{Phone: "79990001122"})
	require.NoError(t, err)

	ledger.EXPECT().UpdateBonus(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req erp.BonusUpdate) error {
		require.Equal(t, "79990001122", req.Phone)
		require.Equal(t, erp.OperationAdd, req.Operation)
		return nil
	})

	got, err := svc.AdminAdjustBonus(ctx, u.ID, BonusRequest{Amount: 300, Operation: erp.OperationAdd})
	require.NoError(t, err)
	require.Equal(t, 300.0, got.BonusBalance)

	ledger.EXPECT().UpdateBonus(gomock.Any(), gomock.Any()).Return(errors.New("timeout"))
	_, err = svc.AdminAdjustBonus(ctx, u.ID, BonusRequest{Amount: 100, Operation: erp.OperationWriteOff})
	require.True(t, errutil.HasStatus(err, errutil.StatusBadGateway))

	got, err = svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 300.0, got.BonusBalance)
}

func TestAdminSetDiscount(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := erpmock.NewMockClient(ctrl)
	svc := newTestService(t, ledger)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{Phone: "79990001122"})
	require.NoError(t, err)

	ledger.EXPECT().UpdateDiscount(gomock.Any(), "79990001122", 15.0).Return(nil)
	got, err := svc.AdminSetDiscount(ctx, u.ID, DiscountRequest{Percent: 15})
	require.NoError(t, err)
	require.Equal(t, 15.0, got.DiscountPercent)

	ledger.EXPECT().UpdateDiscount(gomock.Any(), "79990001122", 20.0).Return(errors.New("down"))
	_, err = svc.AdminSetDiscount(ctx, u.ID, DiscountRequest{Percent: 20})
	require.True(t, errutil.HasStatus(err, errutil.StatusBadGateway))

	got, err = svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 15.0, got.DiscountPercent)
}

func TestGetUnknownUser(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Get(context.Background(), "nope")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}
