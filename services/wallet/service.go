package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activations-controlplane/pkg/db/option"
	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("activations-controlplane/services/wallet")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	wallets      repository.Repository[Wallet]
	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		wallets:      repository.ProvideStore[Wallet](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

func (s *Service) today() string {
	return s.now().UTC().Format("2006-01-02")
}

func (s *Service) Get(ctx context.Context, workspaceID string) (*Wallet, error) {
	w, err := s.wallets.FindOne(ctx, &Wallet{WorkspaceID: workspaceID})
	if err != nil {
		logger.WithTrace(ctx).Error("failed to query wallet", zap.String("workspace_id", workspaceID), zap.Error(err))
		return nil, errutil.Internal("failed to load wallet", err)
	}
	if w == nil {
		return nil, errutil.NotFound("wallet not found", nil)
	}
	return w, nil
}

func (s *Service) GetOrCreate(ctx context.Context, workspaceID string) (*Wallet, error) {
	var w *Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.lockWallet(ctx, tx, workspaceID, true)
		return err
	})
	return w, err
}

// lockWallet loads the wallet row FOR UPDATE, creating it first when create
// is set. Every balance mutation goes through this lock.
func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, workspaceID string, create bool) (*Wallet, error) {
	if workspaceID == "" {
		return nil, errutil.ValidationFailed("workspace id is required", nil)
	}

	walletTx := s.wallets.WithTrx(tx)
	if create {
		now := s.now().UTC()
		if _, err := walletTx.CreateOrIgnore(ctx, &Wallet{
			ID:             s.node.Generate().String(),
			WorkspaceID:    workspaceID,
			DailySpentDate: now.Format("2006-01-02"),
			CreatedAt:      now,
			UpdatedAt:      now,
		}, "workspace_id"); err != nil {
			return nil, err
		}
	}

	w, err := walletTx.FindOne(ctx, &Wallet{WorkspaceID: workspaceID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound("wallet not found", nil)
	}
	return w, nil
}

func (s *Service) findByReference(ctx context.Context, tx *gorm.DB, referenceID string) (*Transaction, error) {
	return s.transactions.WithTrx(tx).FindOne(ctx, &Transaction{ReferenceID: referenceID})
}

// appendTransaction chains t after the wallet's last row. Callers hold the
// wallet lock.
func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, w *Wallet, t *Transaction) error {
	txnRepo := s.transactions.WithTrx(tx)

	last, err := txnRepo.FindOne(ctx, &Transaction{WalletID: w.ID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "desc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return err
	}

	previousHash, sequence := GenesisHash, int64(1)
	if last != nil {
		previousHash, sequence = last.Hash, last.Sequence+1
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	transactionID, err := GenerateTransactionID(now)
	if err != nil {
		return err
	}

	t.ID = s.node.Generate().String()
	t.WalletID = w.ID
	t.WorkspaceID = w.WorkspaceID
	t.Sequence = sequence
	t.TransactionID = transactionID
	t.PreviousHash = previousHash
	t.CreatedAt = now
	t.Hash = t.GenerateHash()

	return txnRepo.Create(ctx, t)
}

func metadata(values map[string]any) datatypes.JSON {
	b, _ := json.Marshal(values)
	return datatypes.JSON(b)
}

func (s *Service) Deposit(ctx context.Context, p DepositParams) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "wallet.Deposit")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("workspace_id", p.WorkspaceID))

	if !p.Amount.IsPositive() {
		return nil, errutil.ValidationFailed("deposit amount must be greater than zero", nil, errutil.WithField("amount", "must be > 0"))
	}

	ref := DepositReference(p.WorkspaceID, p.IdempotencyKey)
	if p.IdempotencyKey == "" {
		ref = DepositReference(p.WorkspaceID, s.node.Generate().String())
	}

	var out *Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.lockWallet(ctx, tx, p.WorkspaceID, true)
		if err != nil {
			return err
		}

		existing, err := s.findByReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Amount.Equal(p.Amount) {
				return errutil.Conflict("idempotency key reused with a different amount", nil)
			}
			out = existing
			return nil
		}

		if err := s.wallets.WithTrx(tx).Update(ctx, w.ID, map[string]any{
			"balance":    gorm.Expr("balance + ?", p.Amount),
			"updated_at": s.now().UTC(),
		}); err != nil {
			return err
		}

		description := p.Description
		if description == "" {
			description = "Wallet deposit"
		}
		out = &Transaction{
			Type:        TypeDeposit,
			Amount:      p.Amount,
			ReferenceID: ref,
			Description: description,
		}
		return s.appendTransaction(ctx, tx, w, out)
	})
	if err != nil {
		zapLog.Error("failed to deposit", zap.Error(err))
		return nil, errutil.OrInternal("failed to deposit", err)
	}

	return out, nil
}

func (s *Service) SetDailyLimit(ctx context.Context, workspaceID string, limit *decimal.Decimal) (*Wallet, error) {
	if limit != nil && limit.IsNegative() {
		return nil, errutil.ValidationFailed("daily spend limit must not be negative", nil)
	}

	var out *Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.lockWallet(ctx, tx, workspaceID, true)
		if err != nil {
			return err
		}

		var value any = gorm.Expr("NULL")
		if limit != nil {
			value = *limit
		}
		if err := s.wallets.WithTrx(tx).Update(ctx, w.ID, map[string]any{
			"daily_spend_limit": value,
			"updated_at":        s.now().UTC(),
		}); err != nil {
			return err
		}

		out, err = s.wallets.WithTrx(tx).FindOne(ctx, &Wallet{ID: w.ID})
		return err
	})
	if err != nil {
		return nil, errutil.OrInternal("failed to set daily limit", err)
	}
	return out, nil
}

func (s *Service) Lock(ctx context.Context, p LockParams) (*LockResult, error) {
	var res *LockResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.LockTx(ctx, tx, p)
		return err
	})
	return res, err
}

// LockTx moves budget+fee out of the spendable balance: the budget into
// locked_balance, the fee out of the wallet. Both checks run before any write
// so a refused lock leaves the wallet untouched.
func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, p LockParams) (*LockResult, error) {
	ctx, span := tracer.Start(ctx, "wallet.Lock")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("workspace_id", p.WorkspaceID), zap.String("activation_id", p.ActivationID))

	if p.ActivationID == "" {
		return nil, errutil.ValidationFailed("activation id is required", nil)
	}
	if !p.Budget.IsPositive() {
		return nil, errutil.ValidationFailed("budget to lock must be greater than zero", nil)
	}
	if p.Fee.IsNegative() {
		return nil, errutil.ValidationFailed("service fee must not be negative", nil)
	}

	w, err := s.lockWallet(ctx, tx, p.WorkspaceID, true)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByReference(ctx, tx, LockReference(p.ActivationID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		zapLog.Warn("budget already locked for activation")
		return &LockResult{Wallet: w, Lock: existing, TotalCost: p.Budget.Add(p.Fee), Replayed: true}, nil
	}

	cost := p.Budget.Add(p.Fee)
	today := s.today()
	spent := w.SpentOn(today)

	if w.Balance.LessThan(cost) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("insufficient wallet balance: required %s, available %s", cost.StringFixed(2), w.Balance.StringFixed(2)), nil,
			errutil.WithField("balance", "insufficient"),
		)
	}
	if w.DailySpendLimit != nil && spent.Add(cost).GreaterThan(*w.DailySpendLimit) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("daily spend limit exceeded: spent %s of %s today, requested %s", spent.StringFixed(2), w.DailySpendLimit.StringFixed(2), cost.StringFixed(2)), nil,
			errutil.WithField("daily_spend_limit", "exceeded"),
		)
	}

	rows, err := s.wallets.WithTrx(tx).UpdateWhere(ctx, &Wallet{ID: w.ID}, map[string]any{
		"balance":           gorm.Expr("balance - ?", cost),
		"locked_balance":    gorm.Expr("locked_balance + ?", p.Budget),
		"daily_spent_today": spent.Add(cost),
		"daily_spent_date":  today,
		"updated_at":        s.now().UTC(),
	}, option.ApplyOperator(option.Condition{Field: "balance", Operator: option.GTE, Value: cost}))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errutil.ValidationFailed("insufficient wallet balance", nil)
	}

	res := &LockResult{TotalCost: cost}
	res.Lock = &Transaction{
		ActivationID: p.ActivationID,
		Type:         TypeLock,
		Amount:       p.Budget,
		ReferenceID:  LockReference(p.ActivationID),
		Description:  "Budget locked for activation",
		Metadata:     metadata(map[string]any{"service_fee": p.Fee.StringFixed(2), "total_cost": cost.StringFixed(2)}),
	}
	if err := s.appendTransaction(ctx, tx, w, res.Lock); err != nil {
		return nil, err
	}

	if p.Fee.IsPositive() {
		res.ServiceFee = &Transaction{
			ActivationID: p.ActivationID,
			Type:         TypeServiceFee,
			Amount:       p.Fee,
			ReferenceID:  FeeReference(p.ActivationID),
			Description:  "Platform service fee",
		}
		if err := s.appendTransaction(ctx, tx, w, res.ServiceFee); err != nil {
			return nil, err
		}
	}

	res.Wallet, err = s.wallets.WithTrx(tx).FindOne(ctx, &Wallet{ID: w.ID})
	if err != nil {
		return nil, err
	}

	zapLog.Info("budget locked", zap.String("budget", p.Budget.StringFixed(2)), zap.String("fee", p.Fee.StringFixed(2)))
	return res, nil
}

// FundsTx sums the wallet rows of one activation.
func (s *Service) FundsTx(ctx context.Context, tx *gorm.DB, activationID string) (ActivationFunds, error) {
	rows, err := s.transactions.WithTrx(tx).Find(ctx, &Transaction{ActivationID: activationID})
	if err != nil {
		return ActivationFunds{}, err
	}

	funds := ActivationFunds{Locked: decimal.Zero, Paid: decimal.Zero, Refunded: decimal.Zero}
	for _, r := range rows {
		switch r.Type {
		case TypeLock:
			funds.Locked = funds.Locked.Add(r.Amount)
		case TypePayout:
			funds.Paid = funds.Paid.Add(r.Amount)
		case TypeRefund:
			funds.Refunded = funds.Refunded.Add(r.Amount)
			funds.Settled = true
		}
	}
	return funds, nil
}

func (s *Service) Funds(ctx context.Context, activationID string) (ActivationFunds, error) {
	return s.FundsTx(ctx, s.db.WithContext(ctx), activationID)
}

func (s *Service) ReleasePayment(ctx context.Context, p ReleaseParams) (*Transaction, error) {
	var out *Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ReleasePaymentTx(ctx, tx, p)
		return err
	})
	return out, err
}

// ReleasePaymentTx pays one submission out of its activation's locked
// budget. Replays with the same submission return the original row.
func (s *Service) ReleasePaymentTx(ctx context.Context, tx *gorm.DB, p ReleaseParams) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "wallet.ReleasePayment")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", p.ActivationID), zap.String("submission_id", p.SubmissionID))

	if !p.Amount.IsPositive() {
		return nil, errutil.ValidationFailed("payment amount must be greater than zero", nil)
	}

	w, err := s.lockWallet(ctx, tx, p.WorkspaceID, false)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByReference(ctx, tx, PayoutReference(p.SubmissionID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ActivationID != p.ActivationID || !existing.Amount.Equal(p.Amount) {
			return nil, errutil.Conflict("submission already paid with different terms", nil)
		}
		return existing, nil
	}

	funds, err := s.FundsTx(ctx, tx, p.ActivationID)
	if err != nil {
		return nil, err
	}
	if funds.Settled {
		return nil, errutil.Conflict("activation budget already settled", nil)
	}
	if funds.Remaining().LessThan(p.Amount) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("insufficient locked budget: remaining %s, requested %s", funds.Remaining().StringFixed(2), p.Amount.StringFixed(2)), nil,
		)
	}

	rows, err := s.wallets.WithTrx(tx).UpdateWhere(ctx, &Wallet{ID: w.ID}, map[string]any{
		"locked_balance": gorm.Expr("locked_balance - ?", p.Amount),
		"updated_at":     s.now().UTC(),
	}, option.ApplyOperator(option.Condition{Field: "locked_balance", Operator: option.GTE, Value: p.Amount}))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		zapLog.Error("locked balance lower than activation remainder", zap.String("amount", p.Amount.StringFixed(2)))
		return nil, errutil.Internal("wallet locked balance out of sync", nil)
	}

	out := &Transaction{
		ActivationID: p.ActivationID,
		SubmissionID: p.SubmissionID,
		Type:         TypePayout,
		Amount:       p.Amount,
		ReferenceID:  PayoutReference(p.SubmissionID),
		Description:  "Creator payment released",
	}
	if err := s.appendTransaction(ctx, tx, w, out); err != nil {
		return nil, err
	}

	zapLog.Info("payment released", zap.String("amount", p.Amount.StringFixed(2)))
	return out, nil
}

func (s *Service) SettleWinners(ctx context.Context, p SettleParams) (*SettleResult, error) {
	var out *SettleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.SettleWinnersTx(ctx, tx, p)
		return err
	})
	return out, err
}

// SettleWinnersTx pays every winner and unlocks whatever is left back to the
// spendable balance. The refund row marks the activation as settled, so a
// replay returns the recorded totals and moves nothing.
func (s *Service) SettleWinnersTx(ctx context.Context, tx *gorm.DB, p SettleParams) (*SettleResult, error) {
	ctx, span := tracer.Start(ctx, "wallet.SettleWinners")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", p.ActivationID))

	if p.ActivationID == "" {
		return nil, errutil.ValidationFailed("activation id is required", nil)
	}

	seen := make(map[string]bool, len(p.Payouts))
	for _, po := range p.Payouts {
		if po.SubmissionID == "" {
			return nil, errutil.ValidationFailed("payout submission id is required", nil)
		}
		if seen[po.SubmissionID] {
			return nil, errutil.ValidationFailed(fmt.Sprintf("duplicate payout for submission %s", po.SubmissionID), nil)
		}
		seen[po.SubmissionID] = true
		if po.Amount.IsNegative() {
			return nil, errutil.ValidationFailed("payout amount must not be negative", nil)
		}
	}

	funds, err := s.FundsTx(ctx, tx, p.ActivationID)
	if err != nil {
		return nil, err
	}
	if funds.Settled {
		return &SettleResult{TotalPaid: funds.Paid, Refunded: funds.Refunded, Replayed: true}, nil
	}

	pending := make([]Payout, 0, len(p.Payouts))
	total := decimal.Zero
	for _, po := range p.Payouts {
		if !po.Amount.IsPositive() {
			continue
		}
		existing, err := s.findByReference(ctx, tx, PayoutReference(po.SubmissionID))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.ActivationID != p.ActivationID {
				return nil, errutil.Conflict(fmt.Sprintf("submission %s was paid by another activation", po.SubmissionID), nil)
			}
			continue
		}
		pending = append(pending, po)
		total = total.Add(po.Amount)
	}

	remaining := funds.Remaining()
	if funds.Locked.IsZero() {
		if total.IsPositive() {
			return nil, errutil.ValidationFailed("activation has no locked budget to pay from", nil)
		}
		return &SettleResult{TotalPaid: funds.Paid, Refunded: decimal.Zero}, nil
	}
	if total.GreaterThan(remaining) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("payouts %s exceed locked budget %s", total.StringFixed(2), remaining.StringFixed(2)), nil,
		)
	}

	w, err := s.lockWallet(ctx, tx, p.WorkspaceID, false)
	if err != nil {
		return nil, err
	}

	refund := remaining.Sub(total)
	rows, err := s.wallets.WithTrx(tx).UpdateWhere(ctx, &Wallet{ID: w.ID}, map[string]any{
		"locked_balance": gorm.Expr("locked_balance - ?", remaining),
		"balance":        gorm.Expr("balance + ?", refund),
		"updated_at":     s.now().UTC(),
	}, option.ApplyOperator(option.Condition{Field: "locked_balance", Operator: option.GTE, Value: remaining}))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		zapLog.Error("locked balance lower than activation remainder", zap.String("remaining", remaining.StringFixed(2)))
		return nil, errutil.Internal("wallet locked balance out of sync", nil)
	}

	for _, po := range pending {
		if err := s.appendTransaction(ctx, tx, w, &Transaction{
			ActivationID: p.ActivationID,
			SubmissionID: po.SubmissionID,
			Type:         TypePayout,
			Amount:       po.Amount,
			ReferenceID:  PayoutReference(po.SubmissionID),
			Description:  "Contest prize paid",
		}); err != nil {
			return nil, err
		}
	}

	if err := s.appendTransaction(ctx, tx, w, &Transaction{
		ActivationID: p.ActivationID,
		Type:         TypeRefund,
		Amount:       refund,
		ReferenceID:  RefundReference(p.ActivationID),
		Description:  "Unused budget returned",
		Metadata:     metadata(map[string]any{"payouts": len(pending), "paid": total.StringFixed(2)}),
	}); err != nil {
		return nil, err
	}

	zapLog.Info("activation budget settled", zap.String("paid", total.StringFixed(2)), zap.String("refunded", refund.StringFixed(2)))
	return &SettleResult{TotalPaid: funds.Paid.Add(total), Refunded: refund}, nil
}

func (s *Service) RefundUnused(ctx context.Context, workspaceID, activationID string) (*SettleResult, error) {
	return s.SettleWinners(ctx, SettleParams{WorkspaceID: workspaceID, ActivationID: activationID})
}

// RefundUnusedTx returns the unpaid part of an activation's budget. It is a
// settlement without winners and shares its idempotency.
func (s *Service) RefundUnusedTx(ctx context.Context, tx *gorm.DB, workspaceID, activationID string) (*SettleResult, error) {
	return s.SettleWinnersTx(ctx, tx, SettleParams{WorkspaceID: workspaceID, ActivationID: activationID})
}

func (s *Service) ListTransactions(ctx context.Context, workspaceID string, page pagination.Pagination) ([]*Transaction, pagination.PageInfo, error) {
	w, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	rows, err := s.transactions.Find(ctx, &Transaction{WalletID: w.ID}, option.ApplyPagination(page))
	if err != nil {
		logger.WithTrace(ctx).Error("failed to list wallet transactions", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list transactions", err)
	}

	rows, info := pagination.Page(rows, page.Limit, func(t *Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return rows, info, nil
}

// VerifyChain recomputes every hash of the wallet's journal.
func (s *Service) VerifyChain(ctx context.Context, workspaceID string) (bool, error) {
	w, err := s.Get(ctx, workspaceID)
	if err != nil {
		return false, err
	}

	rows, err := s.transactions.Find(ctx, &Transaction{WalletID: w.ID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return false, errutil.Internal("failed to load transactions", err)
	}

	return verify(rows), nil
}

func verify(rows []*Transaction) bool {
	lastHash := GenesisHash
	for i, r := range rows {
		if r.Sequence != int64(i+1) || r.PreviousHash != lastHash || r.Hash != r.GenerateHash() {
			return false
		}
		lastHash = r.Hash
	}
	return true
}
