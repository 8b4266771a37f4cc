package steam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/steam-billing-api/internal/types"
)

func TestSandbox_PurchaseLifecycle(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sb.SetClock(func() time.Time { return now })

	res, err := sb.InitTxn(ctx, InitTxnRequest{
		OrderID: "100", SteamID: "7656", ItemID: 42, Amount: 500,
		Currency: "USD", Language: "en", Description: "Premium", Period: "Month", Frequency: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TransID)

	details, err := sb.QueryTxn(ctx, "100", res.TransID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, details.Status)

	byOrder, err := sb.QueryTxn(ctx, "100", "")
	require.NoError(t, err)
	assert.Equal(t, "7656", byOrder.SteamID)

	_, err = sb.QueryTxn(ctx, "100", "other")
	assert.Error(t, err)

	require.NoError(t, sb.FinalizeTxn(ctx, "100"))

	details, err = sb.QueryTxn(ctx, "100", res.TransID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, details.Status)

	agreement, err := sb.GetUserAgreementInfo(ctx, "7656")
	require.NoError(t, err)
	assert.Equal(t, "Active", agreement.Status)
	assert.Equal(t, "20240601", agreement.NextPayment)

	report, err := sb.GetReport(ctx, ReportQuery{Since: now.Add(-time.Minute)})
	require.NoError(t, err)
	require.Len(t, report.Orders, 1)
	assert.Equal(t, agreement.AgreementID, report.Orders[0].AgreementID)
	assert.Equal(t, "Active", report.Orders[0].AgreementStatus)

	_, err = sb.CancelAgreement(ctx, "7656", agreement.AgreementID)
	require.NoError(t, err)
	agreement, err = sb.GetUserAgreementInfo(ctx, "7656")
	require.NoError(t, err)
	assert.Equal(t, "Inactive", agreement.Status)
}

func TestSandbox_RejectsDuplicateOrder(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	req := InitTxnRequest{OrderID: "1", SteamID: "7656", ItemID: 1, Amount: 10, Currency: "USD"}

	_, err := sb.InitTxn(ctx, req)
	require.NoError(t, err)
	_, err = sb.InitTxn(ctx, req)
	assert.ErrorIs(t, err, types.ErrPlatform)
}

func TestSandbox_DeclinedPurchaseCannotFinalize(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	sb.ApprovalRate = 0

	res, err := sb.InitTxn(ctx, InitTxnRequest{OrderID: "1", SteamID: "7656", ItemID: 1, Amount: 10, Currency: "USD"})
	require.NoError(t, err)

	details, err := sb.QueryTxn(ctx, "1", res.TransID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, details.Status)
	assert.ErrorIs(t, sb.FinalizeTxn(ctx, "1"), types.ErrPlatform)
}

func TestSandbox_Ownership(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	sb.Disown("1")

	o, err := sb.CheckAppOwnership(ctx, "1", "480")
	require.NoError(t, err)
	assert.False(t, o.OwnsApp)

	o, err = sb.CheckAppOwnership(ctx, "2", "480")
	require.NoError(t, err)
	assert.True(t, o.OwnsApp)
	assert.Equal(t, "2", o.OwnerSteamID)
}

func TestSandbox_Tickets(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()

	auth, err := sb.AuthenticateUserTicket(ctx, SandboxTicketPrefix+"7656", "480")
	require.NoError(t, err)
	assert.Equal(t, "7656", auth.SteamID)

	_, err = sb.AuthenticateUserTicket(ctx, "garbage", "480")
	assert.ErrorIs(t, err, types.ErrPlatform)
}

func TestSandbox_ReportWindowAndCap(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sb.SetClock(func() time.Time { return clock })

	for _, id := range []string{"a", "b", "c"} {
		_, err := sb.InitTxn(ctx, InitTxnRequest{OrderID: id, SteamID: "7656", ItemID: 1, Amount: 10, Currency: "USD"})
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}

	report, err := sb.GetReport(ctx, ReportQuery{Since: time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, report.Orders, 2)
	assert.Equal(t, "b", report.Orders[0].OrderID)
	assert.Equal(t, "c", report.Orders[1].OrderID)

	report, err = sb.GetReport(ctx, ReportQuery{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, report.Orders, 1)
	assert.Equal(t, "a", report.Orders[0].OrderID)
}

func TestSandbox_SetStatus(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	res, err := sb.InitTxn(ctx, InitTxnRequest{OrderID: "1", SteamID: "7656", ItemID: 1, Amount: 10, Currency: "USD"})
	require.NoError(t, err)

	require.NoError(t, sb.SetStatus("1", types.StatusRefunded))
	details, err := sb.QueryTxn(ctx, "1", res.TransID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRefunded, details.Status)

	assert.Error(t, sb.SetStatus("missing", types.StatusRefunded))
}

func TestSandbox_LatencyHonoursContext(t *testing.T) {
	sb := NewSandbox()
	sb.MinLatency = time.Second
	sb.MaxLatency = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sb.GetUserInfo(ctx, "7656")
	assert.ErrorIs(t, err, types.ErrPlatform)
}
