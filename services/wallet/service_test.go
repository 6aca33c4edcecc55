package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{DB: db, Node: node})
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return svc
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func fund(t *testing.T, svc *Service, ws string, amount string) {
	t.Helper()
	_, err := svc.Deposit(context.Background(), DepositParams{WorkspaceID: ws, Amount: dec(amount)})
	require.NoError(t, err)
}

func TestNewService(t *testing.T) {
	svc := newTestService(t)

	require.NotNil(t, svc.wallets)
	require.NotNil(t, svc.transactions)
}

func TestGetMissingWallet(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get(context.Background(), "ws-missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestGetOrCreateIsStable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "ws-1")
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, "ws-1")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Balance.IsZero())
}

func TestDepositIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := DepositParams{WorkspaceID: "ws-1", Amount: dec("500"), IdempotencyKey: "topup-1"}
	first, err := svc.Deposit(ctx, p)
	require.NoError(t, err)
	second, err := svc.Deposit(ctx, p)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("500")))

	p.Amount = dec("600")
	_, err = svc.Deposit(ctx, p)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestDepositRejectsNonPositive(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Deposit(context.Background(), DepositParams{WorkspaceID: "ws-1", Amount: dec("0")})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestLockInsufficientBalanceLeavesWalletUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "50000")

	_, err := svc.Lock(ctx, LockParams{
		WorkspaceID:  "ws-1",
		ActivationID: "act-1",
		Budget:       dec("100000"),
		Fee:          dec("10000"),
	})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	require.Contains(t, err.Error(), "insufficient wallet balance")

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("50000")))
	require.True(t, w.LockedBalance.IsZero())

	funds, err := svc.Funds(ctx, "act-1")
	require.NoError(t, err)
	require.True(t, funds.Locked.IsZero())
}

func TestLockMovesBudgetAndFee(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "5000")

	res, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("2000"), Fee: dec("200")})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.NotNil(t, res.ServiceFee)
	require.True(t, res.TotalCost.Equal(dec("2200")))
	require.True(t, res.Wallet.Balance.Equal(dec("2800")))
	require.True(t, res.Wallet.LockedBalance.Equal(dec("2000")))
	require.True(t, res.Wallet.DailySpentToday.Equal(dec("2200")))

	again, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("2000"), Fee: dec("200")})
	require.NoError(t, err)
	require.True(t, again.Replayed)

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("2800")))
}

func TestLockDailyLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "10000")

	limit := dec("3000")
	_, err := svc.SetDailyLimit(ctx, "ws-1", &limit)
	require.NoError(t, err)

	_, err = svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("2000"), Fee: dec("200")})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-2", Budget: dec("1000"), Fee: dec("100")})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	require.Contains(t, err.Error(), "daily spend limit exceeded")

	// the counter resets on the next UTC day
	svc.now = func() time.Time { return time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC) }
	res, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-2", Budget: dec("1000"), Fee: dec("100")})
	require.NoError(t, err)
	require.True(t, res.Wallet.DailySpentToday.Equal(dec("1100")))
	require.Equal(t, "2026-03-11", res.Wallet.DailySpentDate)

	_, err = svc.SetDailyLimit(ctx, "ws-1", nil)
	require.NoError(t, err)
	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.Nil(t, w.DailySpendLimit)
}

func TestReleasePayment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "1000")

	_, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("300"), Fee: dec("30")})
	require.NoError(t, err)

	p := ReleaseParams{WorkspaceID: "ws-1", ActivationID: "act-1", SubmissionID: "sub-1", Amount: dec("120")}
	first, err := svc.ReleasePayment(ctx, p)
	require.NoError(t, err)
	second, err := svc.ReleasePayment(ctx, p)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = svc.ReleasePayment(ctx, ReleaseParams{WorkspaceID: "ws-1", ActivationID: "act-1", SubmissionID: "sub-2", Amount: dec("200")})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	funds, err := svc.Funds(ctx, "act-1")
	require.NoError(t, err)
	require.True(t, funds.Paid.Equal(dec("120")))
	require.True(t, funds.Remaining().Equal(dec("180")))

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.LockedBalance.Equal(dec("180")))
}

func TestSettleWinnersRefundsRemainder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "5000")

	_, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("2000"), Fee: dec("200")})
	require.NoError(t, err)

	params := SettleParams{
		WorkspaceID:  "ws-1",
		ActivationID: "act-1",
		Payouts: []Payout{
			{SubmissionID: "sub-1", Amount: dec("800")},
			{SubmissionID: "sub-2", Amount: dec("500")},
			{SubmissionID: "sub-3", Amount: dec("0")},
		},
	}
	res, err := svc.SettleWinners(ctx, params)
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.True(t, res.TotalPaid.Equal(dec("1300")))
	require.True(t, res.Refunded.Equal(dec("700")))

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.LockedBalance.IsZero())
	require.True(t, w.Balance.Equal(dec("3500")))

	replay, err := svc.SettleWinners(ctx, params)
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.True(t, replay.TotalPaid.Equal(dec("1300")))

	w, err = svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("3500")))

	_, err = svc.ReleasePayment(ctx, ReleaseParams{WorkspaceID: "ws-1", ActivationID: "act-1", SubmissionID: "sub-9", Amount: dec("1")})
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestSettleWinnersRejectsOverspend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "1000")

	_, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("500"), Fee: dec("50")})
	require.NoError(t, err)

	_, err = svc.SettleWinners(ctx, SettleParams{
		WorkspaceID:  "ws-1",
		ActivationID: "act-1",
		Payouts:      []Payout{{SubmissionID: "sub-1", Amount: dec("600")}},
	})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = svc.SettleWinners(ctx, SettleParams{
		WorkspaceID:  "ws-1",
		ActivationID: "act-1",
		Payouts:      []Payout{{SubmissionID: "sub-1", Amount: dec("1")}, {SubmissionID: "sub-1", Amount: dec("1")}},
	})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestRefundUnusedAfterPartialPayouts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "1000")

	_, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("400"), Fee: dec("40")})
	require.NoError(t, err)
	_, err = svc.ReleasePayment(ctx, ReleaseParams{WorkspaceID: "ws-1", ActivationID: "act-1", SubmissionID: "sub-1", Amount: dec("150")})
	require.NoError(t, err)

	res, err := svc.RefundUnused(ctx, "ws-1", "act-1")
	require.NoError(t, err)
	require.True(t, res.Refunded.Equal(dec("250")))
	require.True(t, res.TotalPaid.Equal(dec("150")))

	w, err := svc.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("810")))
	require.True(t, w.LockedBalance.IsZero())
}

func TestRefundUnusedWithoutLockIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "100")

	res, err := svc.RefundUnused(ctx, "ws-1", "act-unknown")
	require.NoError(t, err)
	require.True(t, res.Refunded.IsZero())
}

func TestTransactionsFormHashChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "ws-1", "5000")

	_, err := svc.Lock(ctx, LockParams{WorkspaceID: "ws-1", ActivationID: "act-1", Budget: dec("2000"), Fee: dec("200")})
	require.NoError(t, err)
	_, err = svc.SettleWinners(ctx, SettleParams{
		WorkspaceID:  "ws-1",
		ActivationID: "act-1",
		Payouts:      []Payout{{SubmissionID: "sub-1", Amount: dec("800")}},
	})
	require.NoError(t, err)

	ok, err := svc.VerifyChain(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, ok)

	// deposit, lock, fee, payout, refund
	rows, info, err := svc.ListTransactions(ctx, "ws-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, info.HasMore)

	rest, info, err := svc.ListTransactions(ctx, "ws-1", pagination.Pagination{Limit: 10, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.False(t, info.HasMore)

	require.NoError(t, svc.db.Model(&Transaction{}).Where("type = ?", TypePayout).Update("amount", dec("900")).Error)
	ok, err = svc.VerifyChain(ctx, "ws-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	a := &Transaction{ID: "1", WalletID: "w", Sequence: 1, Amount: dec("1"), PreviousHash: GenesisHash}
	a.Hash = a.GenerateHash()
	b := &Transaction{ID: "2", WalletID: "w", Sequence: 2, Amount: dec("2"), PreviousHash: a.Hash}
	b.Hash = b.GenerateHash()

	require.True(t, verify([]*Transaction{a, b}))

	b.PreviousHash = "tampered"
	require.False(t, verify([]*Transaction{a, b}))
}
