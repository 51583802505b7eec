package gift

import (
	"context"
	"testing"

	"retail-loyalty/pkg/errutil"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/notification/notificationtest"
	"retail-loyalty/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *notificationtest.Recorder) {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	rec := &notificationtest.Recorder{}
	svc := NewService(ServiceParams{DB: db, Node: node, Notifier: rec})
	return svc, db, rec
}

func seedCatalog(t *testing.T, svc *Service, names ...string) []*CatalogItem {
	t.Helper()
	var out []*CatalogItem
	for _, n := range names {
		item, err := svc.CreateCatalogItem(context.Background(), CatalogItemRequest{Name: n})
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func seedGroup(t *testing.T, svc *Service, db *gorm.DB, userID string, n int) []*Gift {
	t.Helper()
	names := []string{"mug", "bag", "tea", "candle"}[:n]
	items := seedCatalog(t, svc, names...)
	gifts, err := svc.CreateGroup(context.Background(), db, userID, items, SourceLottery, "promo-1")
	require.NoError(t, err)
	return gifts
}

func countByStatus(t *testing.T, db *gorm.DB, groupID string) map[Status]int {
	t.Helper()
	var gifts []Gift
	require.NoError(t, db.Where("group_id = ?", groupID).Find(&gifts).Error)
	out := map[Status]int{}
	for _, g := range gifts {
		out[g.Status]++
	}
	return out
}

func TestPickWinner(t *testing.T) {
	members := []*Gift{
		{ID: "a", Status: StatusPending},
		{ID: "b", Status: StatusDiscarded},
		{ID: "c", Status: StatusPending},
	}

	w, err := PickWinner(members, "", func(n int) int { return n - 1 })
	require.NoError(t, err)
	require.Equal(t, "c", w.ID)

	w, err = PickWinner(members, "a", nil)
	require.NoError(t, err)
	require.Equal(t, "a", w.ID)

	_, err = PickWinner(members, "b", nil)
	require.ErrorIs(t, err, ErrNotInGroup)

	_, err = PickWinner([]*Gift{{ID: "x", Status: StatusSelected}}, "", nil)
	require.ErrorIs(t, err, ErrNoPending)
}

func TestCreateGroupBounds(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, db, "u1", nil, SourceAdmin, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	items := seedCatalog(t, svc, "a", "b", "c", "d", "e")
	_, err = svc.CreateGroup(ctx, db, "u1", items[:1], SourceAdmin, "")
	require.ErrorIs(t, err, ErrGroupTooSmall)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = svc.CreateGroupFromPool(ctx, db, "u1", []string{items[0].ID}, SourceLottery, "")
	require.ErrorIs(t, err, ErrGroupTooSmall)

	var n int64
	require.NoError(t, db.Model(&Gift{}).Where("user_id = ?", "u1").Count(&n).Error)
	require.Zero(t, n)

	pair, err := svc.CreateGroup(ctx, db, "u1", items[:2], SourceAdmin, "")
	require.NoError(t, err)
	require.Len(t, pair, MinGroupSize)

	_, err = svc.CreateGroup(ctx, db, "u1", items, SourceAdmin, "")
	require.ErrorIs(t, err, ErrGroupTooLarge)

	gifts, err := svc.CreateGroupFromPool(ctx, db, "u1", []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID, items[4].ID}, SourceLottery, "")
	require.NoError(t, err)
	require.Len(t, gifts, MaxGroupSize)
	for _, g := range gifts {
		require.Equal(t, *gifts[0].GroupID, *g.GroupID)
		require.Equal(t, StatusPending, g.Status)
	}
}

func TestSelectCollapsesGroup(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	svc.WithRand(func(n int) int { return 1 })

	gifts := seedGroup(t, svc, db, "u1", 3)
	groupID := *gifts[0].GroupID

	winner, err := svc.Select(ctx, "u1", groupID, "")
	require.NoError(t, err)
	require.Equal(t, gifts[1].ID, winner.ID)
	require.Equal(t, StatusSelected, winner.Status)

	counts := countByStatus(t, db, groupID)
	require.Equal(t, 1, counts[StatusSelected])
	require.Equal(t, 2, counts[StatusDiscarded])
	require.Zero(t, counts[StatusPending])

	var discarded []Gift
	require.NoError(t, db.Where("group_id = ? AND status = ?", groupID, StatusDiscarded).Find(&discarded).Error)
	for _, g := range discarded {
		require.NotNil(t, g.DiscardedForGiftID)
		require.Equal(t, winner.ID, *g.DiscardedForGiftID)
	}

	_, err = svc.Select(ctx, "u1", groupID, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestSelectRejectsForeignGroup(t *testing.T) {
	svc, db, _ := newTestService(t)
	gifts := seedGroup(t, svc, db, "owner", 2)

	_, err := svc.Select(context.Background(), "intruder", *gifts[0].GroupID, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
	require.Equal(t, 2, countByStatus(t, db, *gifts[0].GroupID)[StatusPending])
}

func TestSelectExplicitGift(t *testing.T) {
	svc, db, _ := newTestService(t)
	gifts := seedGroup(t, svc, db, "u1", 2)

	_, err := svc.Select(context.Background(), "u1", *gifts[0].GroupID, "missing")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	w, err := svc.Select(context.Background(), "u1", *gifts[0].GroupID, gifts[0].ID)
	require.NoError(t, err)
	require.Equal(t, gifts[0].ID, w.ID)
}

func TestActivateTransitions(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	gifts := seedGroup(t, svc, db, "u1", 2)

	_, err := svc.Activate(ctx, "u1", gifts[0].ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	w, err := svc.Select(ctx, "u1", *gifts[0].GroupID, gifts[0].ID)
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "u2", w.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	activated, err := svc.Activate(ctx, "u1", w.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActivated, activated.Status)
	require.True(t, activated.IsActivated)

	again, err := svc.Activate(ctx, "u1", w.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActivated, again.Status)

	_, err = svc.Activate(ctx, "u1", gifts[1].ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestActivateByScanReusesResolvedWinner(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	gifts := seedGroup(t, svc, db, "u1", 3)
	groupID := *gifts[0].GroupID

	first, err := svc.ActivateByScan(ctx, "u1", groupID)
	require.NoError(t, err)
	require.Equal(t, StatusActivated, first.Status)

	second, err := svc.ActivateByScan(ctx, "u1", groupID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = svc.ActivateByScan(ctx, "u2", groupID)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestConfirmIssuance(t *testing.T) {
	svc, db, rec := newTestService(t)
	ctx := context.Background()
	gifts := seedGroup(t, svc, db, "u1", 2)
	w, err := svc.Select(ctx, "u1", *gifts[0].GroupID, "")
	require.NoError(t, err)

	_, err = svc.ConfirmIssuance(ctx, "u1", w.ID, "  ")
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = svc.ConfirmIssuance(ctx, "u2", w.ID, "QR-1")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	issued, err := svc.ConfirmIssuance(ctx, "u1", w.ID, "QR-1")
	require.NoError(t, err)
	require.Equal(t, StatusIssued, issued.Status)
	require.Equal(t, "QR-1", issued.IssuanceCode)
	require.NotNil(t, issued.IssuedAt)

	_, err = svc.ConfirmIssuance(ctx, "u1", w.ID, "QR-2")
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	_, err = svc.AdminIssue(ctx, "admin", w.ID, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	require.Len(t, rec.OfKind(notification.KindGiftIssued), 1)
}

func TestAdminSetStatus(t *testing.T) {
	svc, db, rec := newTestService(t)
	ctx := context.Background()
	gifts := seedGroup(t, svc, db, "u1", 3)
	groupID := *gifts[0].GroupID

	_, err := svc.AdminSetStatus(ctx, "admin", gifts[2].ID, SetStatusRequest{Status: StatusActivated})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	_, err = svc.AdminSetStatus(ctx, "admin", gifts[2].ID, SetStatusRequest{Status: StatusPending, AutoSelectGift: true})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	g, err := svc.AdminSetStatus(ctx, "admin", gifts[2].ID, SetStatusRequest{Status: StatusIssued, AutoSelectGift: true})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, g.Status)

	counts := countByStatus(t, db, groupID)
	require.Equal(t, 1, counts[StatusIssued])
	require.Equal(t, 2, counts[StatusDiscarded])
	require.Len(t, rec.OfKind(notification.KindGiftIssued), 1)

	_, err = svc.AdminSetStatus(ctx, "admin", gifts[2].ID, SetStatusRequest{Status: StatusActivated})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	_, err = svc.AdminSetStatus(ctx, "admin", gifts[0].ID, SetStatusRequest{Status: StatusSelected, AutoSelectGift: true})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestAdminDispatchAndClaimPending(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	items := seedCatalog(t, svc, "a", "b")

	gifts, err := svc.AdminDispatch(ctx, DispatchRequest{UserID: "u1", CatalogItemIDs: []string{items[0].ID, items[1].ID}})
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	require.Len(t, rec.OfKind(notification.KindGiftAssigned), 1)

	_, err = svc.AdminDispatch(ctx, DispatchRequest{UserID: "u1", CatalogItemIDs: []string{"nope"}})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	groups, err := svc.ClaimPendingGroups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Gifts, 2)
	require.True(t, groups[0].Gifts[0].IsViewed)

	none, err := svc.ClaimPendingGroups(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, none)
}
