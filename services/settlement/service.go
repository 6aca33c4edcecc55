package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db/option"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/repository"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/prize"
	"activations-controlplane/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("activations-controlplane/services/settlement")

// reconcileGrace keeps the reconciler away from finalizations still running.
const reconcileGrace = time.Minute

// Syncer pushes settlement events to the partner platform.
type Syncer interface {
	Sync(ctx context.Context, syncType partnersync.SyncType, endpoint string, payload any, entityID string, opts partnersync.Options) partnersync.Result
	DefaultOptions() partnersync.Options
}

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	activations *activation.Service
	wallet      *wallet.Service
	pricing     pricing.Model
	sync        Syncer
	now         func() time.Time

	feeRate        decimal.Decimal
	reconcileBatch int

	activationRepo repository.Repository[activation.Activation]
	submissionRepo repository.Repository[activation.Submission]
	records        repository.Repository[FinalizationRecord]
	incidents      repository.Repository[Incident]
}

type ServiceParams struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Activations *activation.Service
	Wallet      *wallet.Service
	Pricing     pricing.Model
	Sync        Syncer
}

func NewService(p ServiceParams) *Service {
	activations, submissions := p.Activations.Repositories()
	return &Service{
		db:          p.DB,
		node:        p.Node,
		activations: p.Activations,
		wallet:      p.Wallet,
		pricing:     p.Pricing,
		sync:        p.Sync,
		now:         time.Now,

		feeRate:        decimal.NewFromFloat(p.Config.Settlement.ServiceFeeRate),
		reconcileBatch: p.Config.Settlement.ReconcileBatch,

		activationRepo: activations,
		submissionRepo: submissions,
		records:        repository.ProvideStore[FinalizationRecord](p.DB),
		incidents:      repository.ProvideStore[Incident](p.DB),
	}
}

// ServiceFee is the platform fee charged on top of a budget at publish.
func (s *Service) ServiceFee(budget decimal.Decimal) decimal.Decimal {
	return budget.Mul(s.feeRate).Round(0)
}

func (s *Service) lockActivation(ctx context.Context, tx *gorm.DB, id string) (*activation.Activation, error) {
	if err := errutil.RequireID("activation_id", id); err != nil {
		return nil, err
	}
	a, err := s.activationRepo.WithTrx(tx).FindOne(ctx, &activation.Activation{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errutil.NotFound("activation not found", nil)
	}
	return a, nil
}

func requireStatus(a *activation.Activation, allowed ...activation.Status) error {
	for _, st := range allowed {
		if a.Status == st {
			return nil
		}
	}
	return errutil.Conflict(fmt.Sprintf("activation is %s; expected %v", a.Status, allowed), nil)
}

// setStatus flips the activation from one status to another. A row that
// already moved is a conflict.
func (s *Service) setStatus(ctx context.Context, tx *gorm.DB, a *activation.Activation, to activation.Status, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	rows, err := s.activationRepo.WithTrx(tx).UpdateWhere(ctx, &activation.Activation{ID: a.ID, Status: a.Status}, updates)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errutil.Conflict("activation status changed concurrently", nil)
	}
	return nil
}

// Publish takes a draft live. The budget and the service fee leave the
// workspace wallet in the same transaction as the status flip, so a refused
// lock leaves both untouched. Partner sync runs after commit.
func (s *Service) Publish(ctx context.Context, activationID string) (*PublishResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.Publish")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", activationID))

	res := &PublishResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.lockActivation(ctx, tx, activationID)
		if err != nil {
			return err
		}
		if err := requireStatus(a, activation.StatusDraft); err != nil {
			return err
		}
		if a.Type == activation.TypeCreatorRequest {
			return errutil.BadRequest("creator requests are not published with a budget", nil)
		}
		if a.TotalBudget.IsNegative() {
			return errutil.ValidationFailed("budget must not be negative", nil)
		}

		res.TestMode = a.IsTestMode()
		res.ServiceFee = decimal.Zero
		if !res.TestMode {
			res.ServiceFee = s.ServiceFee(a.TotalBudget)
			if _, err := s.wallet.LockTx(ctx, tx, wallet.LockParams{
				WorkspaceID:  a.WorkspaceID,
				ActivationID: a.ID,
				Budget:       a.TotalBudget,
				Fee:          res.ServiceFee,
			}); err != nil {
				return err
			}
		}
		res.TotalCost = a.TotalBudget.Add(res.ServiceFee)

		return s.setStatus(ctx, tx, a, activation.StatusLive, map[string]any{
			"service_fee":  res.ServiceFee,
			"published_at": s.now().UTC(),
		})
	})
	if err != nil {
		zapLog.Warn("publish refused", zap.Error(err))
		return nil, errutil.OrInternal("failed to publish activation", err)
	}

	a, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}

	res.Sync = s.sync.Sync(ctx, partnersync.SyncActivation, "", a, a.ID, s.sync.DefaultOptions())
	if err := s.activationRepo.Update(ctx, a.ID, map[string]any{
		"synced_to_dobble_tap": res.Sync.Synced,
		"dobble_tap_id":        res.Sync.DobbleTapID,
	}); err != nil {
		zapLog.Error("failed to record sync state", zap.Error(err))
	}
	a.SyncedToPartner = res.Sync.Synced
	a.PartnerID = res.Sync.DobbleTapID
	res.Activation = a

	zapLog.Info("activation published",
		zap.String("budget", a.TotalBudget.StringFixed(2)),
		zap.String("service_fee", res.ServiceFee.StringFixed(2)),
		zap.Bool("test_mode", res.TestMode),
		zap.Bool("synced", res.Sync.Synced),
	)
	return res, nil
}

// Submit stores a submission and auto approves it when the panel asks for it.
func (s *Service) Submit(ctx context.Context, p activation.SubmissionParams) (*activation.Submission, error) {
	a, sub, err := s.activations.CreateSubmission(ctx, p)
	if err != nil {
		return nil, err
	}

	s.sync.Sync(ctx, partnersync.SyncSubmission, "", sub, sub.ID, s.sync.DefaultOptions())

	if a.Type == activation.TypeSMPanel && a.AutoApprove {
		approved, err := s.Approve(ctx, sub.ID)
		if err != nil {
			logger.WithTrace(ctx).Warn("auto approve failed, submission left pending",
				zap.String("submission_id", sub.ID), zap.Error(err))
			return sub, nil
		}
		return approved, nil
	}
	return sub, nil
}

func (s *Service) lockPendingSubmission(ctx context.Context, tx *gorm.DB, submissionID string) (*activation.Submission, *activation.Activation, error) {
	if err := errutil.RequireID("submission_id", submissionID); err != nil {
		return nil, nil, err
	}
	sub, err := s.submissionRepo.WithTrx(tx).FindOne(ctx, &activation.Submission{ID: submissionID}, option.WithLockingUpdate())
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, errutil.NotFound("submission not found", nil)
	}

	a, err := s.lockActivation(ctx, tx, sub.ActivationID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireStatus(a, activation.StatusLive); err != nil {
		return nil, nil, err
	}
	if sub.Status != activation.SubmissionPending {
		return nil, nil, errutil.Conflict(fmt.Sprintf("submission is already %s", sub.Status), nil)
	}
	return sub, a, nil
}

// Approve accepts a pending submission. A panel task is priced and paid from
// the locked budget first; the submission only turns approved once the
// wallet accepted the payment.
func (s *Service) Approve(ctx context.Context, submissionID string) (*activation.Submission, error) {
	ctx, span := tracer.Start(ctx, "settlement.Approve")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("submission_id", submissionID))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, a, err := s.lockPendingSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":      activation.SubmissionApproved,
			"reviewed_at": now,
		}

		if a.Type == activation.TypeSMPanel {
			if a.BaseRate == nil {
				return errutil.Internal("panel activation has no base rate", nil)
			}
			payment, err := s.pricing.CalculateCreatorPayment(sub.CreatorFollowers, *a.BaseRate, a.TaskType, a.TotalBudget, a.Remaining())
			if err != nil {
				return err
			}
			if !payment.Allowed {
				return errutil.ValidationFailed(payment.Reason, nil, errutil.WithField("budget", "exhausted"))
			}

			if payment.Amount.IsPositive() {
				if _, err := s.wallet.ReleasePaymentTx(ctx, tx, wallet.ReleaseParams{
					WorkspaceID:  a.WorkspaceID,
					ActivationID: a.ID,
					SubmissionID: sub.ID,
					Amount:       payment.Amount,
				}); err != nil {
					return err
				}
				if _, err := s.activationRepo.WithTrx(tx).UpdateWhere(ctx, &activation.Activation{ID: a.ID}, map[string]any{
					"spent_amount": gorm.Expr("spent_amount + ?", payment.Amount),
				}); err != nil {
					return err
				}
			}
			updates["payment_amount"] = payment.Amount
		}

		rows, err := s.submissionRepo.WithTrx(tx).UpdateWhere(ctx, &activation.Submission{ID: sub.ID, Status: activation.SubmissionPending}, updates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errutil.Conflict("submission was reviewed concurrently", nil)
		}
		return nil
	})
	if err != nil {
		zapLog.Warn("approve refused", zap.Error(err))
		return nil, errutil.OrInternal("failed to approve submission", err)
	}

	sub, err := s.activations.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.sync.Sync(ctx, partnersync.SyncReview, "", sub, sub.ID, s.sync.DefaultOptions())
	if sub.PaymentAmount != nil && sub.PaymentAmount.IsPositive() {
		s.sync.Sync(ctx, partnersync.SyncPayout, "", sub, sub.ID, s.sync.DefaultOptions())
	}

	zapLog.Info("submission approved")
	return sub, nil
}

func (s *Service) Reject(ctx context.Context, submissionID string) (*activation.Submission, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, _, err := s.lockPendingSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		rows, err := s.submissionRepo.WithTrx(tx).UpdateWhere(ctx, &activation.Submission{ID: sub.ID, Status: activation.SubmissionPending}, map[string]any{
			"status":      activation.SubmissionRejected,
			"reviewed_at": s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errutil.Conflict("submission was reviewed concurrently", nil)
		}
		return nil
	})
	if err != nil {
		return nil, errutil.OrInternal("failed to reject submission", err)
	}

	sub, err := s.activations.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.sync.Sync(ctx, partnersync.SyncReview, "", sub, sub.ID, s.sync.DefaultOptions())
	return sub, nil
}

// resolveWinners validates explicit winners or, when none are given, takes
// the current top 20 of the leaderboard.
func (s *Service) resolveWinners(ctx context.Context, a *activation.Activation, input []Winner) ([]Award, error) {
	subs, views, err := s.activations.ScoredSubmissions(ctx, nil, a.ID)
	if err != nil {
		return nil, errutil.Internal("failed to load submissions", err)
	}
	prizes := prize.Build(a.TotalBudget)

	if len(input) == 0 {
		var awards []Award
		for _, e := range s.activations.ScoringEngine().Build(views, prizes) {
			if !e.IsWinner {
				break
			}
			awards = append(awards, Award{SubmissionID: e.BestSubmissionID, Rank: e.CurrentRank, Amount: e.PrizeAmount})
		}
		return awards, nil
	}

	owned := make(map[string]bool, len(subs))
	for _, sub := range subs {
		owned[sub.ID] = true
	}

	seenRank := make(map[int]bool, len(input))
	seenSub := make(map[string]bool, len(input))
	total := decimal.Zero
	awards := make([]Award, 0, len(input))
	for _, w := range input {
		if w.Rank < 1 || w.Rank > prize.WinnerCount {
			return nil, errutil.ValidationFailed(fmt.Sprintf("rank %d is outside 1..%d", w.Rank, prize.WinnerCount), nil, errutil.WithField("rank", "out of range"))
		}
		if seenRank[w.Rank] {
			return nil, errutil.ValidationFailed(fmt.Sprintf("rank %d is assigned twice", w.Rank), nil, errutil.WithField("rank", "duplicate"))
		}
		if seenSub[w.SubmissionID] {
			return nil, errutil.ValidationFailed(fmt.Sprintf("submission %s is listed twice", w.SubmissionID), nil, errutil.WithField("submissionId", "duplicate"))
		}
		if !owned[w.SubmissionID] {
			return nil, errutil.ValidationFailed(fmt.Sprintf("submission %s is not an eligible entry of this contest", w.SubmissionID), nil, errutil.WithField("submissionId", "unknown"))
		}
		seenRank[w.Rank] = true
		seenSub[w.SubmissionID] = true

		amount := prizes.Amount(w.Rank)
		if w.Amount != nil {
			amount = w.Amount.Round(2)
		}
		if amount.IsNegative() {
			return nil, errutil.ValidationFailed("prize amount must not be negative", nil, errutil.WithField("amount", "must be >= 0"))
		}
		total = total.Add(amount)
		awards = append(awards, Award{SubmissionID: w.SubmissionID, Rank: w.Rank, Amount: amount})
	}

	if total.GreaterThan(a.TotalBudget) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("prizes total %s exceeds budget %s", total.StringFixed(2), a.TotalBudget.StringFixed(2)), nil,
			errutil.WithField("winners", "over budget"),
		)
	}
	return awards, nil
}

func (s *Service) recordAwards(rec *FinalizationRecord) ([]Award, error) {
	var awards []Award
	if len(rec.Winners) == 0 {
		return awards, nil
	}
	if err := json.Unmarshal(rec.Winners, &awards); err != nil {
		return nil, err
	}
	return awards, nil
}

// FinalizeWinners closes a contest. Money moves first: the wallet pays every
// winner and refunds the rest in one transaction, pinned by a finalization
// record. The submission and status writes follow in a second transaction;
// if those fail the contest is flagged inconsistent and a replay, or the
// reconcile task, completes them without paying again.
func (s *Service) FinalizeWinners(ctx context.Context, activationID string, input []Winner) (*FinalizeResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.FinalizeWinners")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", activationID))

	a, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.Type != activation.TypeContest {
		return nil, errutil.BadRequest("only contests have winners", nil)
	}

	rec, err := s.records.FindOne(ctx, &FinalizationRecord{ActivationID: a.ID})
	if err != nil {
		return nil, errutil.Internal("failed to load finalization", err)
	}
	if rec != nil {
		return s.replayFinalization(ctx, a, rec, input)
	}

	if err := requireStatus(a, activation.StatusLive); err != nil {
		return nil, err
	}

	awards, err := s.resolveWinners(ctx, a, input)
	if err != nil {
		return nil, err
	}
	winners, err := json.Marshal(awards)
	if err != nil {
		return nil, errutil.Internal("failed to encode winners", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockActivation(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if err := requireStatus(locked, activation.StatusLive); err != nil {
			return err
		}

		settled := &wallet.SettleResult{TotalPaid: decimal.Zero, Refunded: decimal.Zero}
		if !locked.IsTestMode() {
			settled, err = s.wallet.SettleWinnersTx(ctx, tx, wallet.SettleParams{
				WorkspaceID:  locked.WorkspaceID,
				ActivationID: locked.ID,
				Payouts:      payouts(awards),
			})
			if err != nil {
				return err
			}
		}

		rec = &FinalizationRecord{
			ActivationID: locked.ID,
			WorkspaceID:  locked.WorkspaceID,
			Winners:      winners,
			WinnersHash:  hashWinners(awards),
			State:        FinalizationWalletSettled,
			TotalPaid:    settled.TotalPaid,
			Refunded:     settled.Refunded,
		}
		if err := s.records.WithTrx(tx).Create(ctx, rec); err != nil {
			if repository.IsUniqueViolation(err) {
				return errutil.Conflict("contest is already being finalized", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		zapLog.Warn("finalize refused", zap.Error(err))
		return nil, errutil.OrInternal("failed to settle winners", err)
	}

	zapLog.Info("contest winners paid",
		zap.Int("winners", len(awards)),
		zap.String("paid", rec.TotalPaid.StringFixed(2)),
		zap.String("refunded", rec.Refunded.StringFixed(2)),
	)

	out, err := s.completeFinalization(ctx, rec, awards)
	if err != nil {
		return nil, err
	}
	s.sync.Sync(ctx, partnersync.SyncWinners, "", out, a.ID, s.sync.DefaultOptions())
	return out, nil
}

func (s *Service) replayFinalization(ctx context.Context, a *activation.Activation, rec *FinalizationRecord, input []Winner) (*FinalizeResult, error) {
	awards, err := s.recordAwards(rec)
	if err != nil {
		return nil, errutil.Internal("failed to decode recorded winners", err)
	}

	if len(input) > 0 {
		requested, err := s.resolveWinners(ctx, a, input)
		if err != nil && errutil.StatusOf(err) != errutil.StatusValidationFailed {
			return nil, err
		}
		if err != nil || hashWinners(requested) != rec.WinnersHash {
			return nil, errutil.Conflict("contest was already finalized with different winners", nil)
		}
	}

	if rec.State == FinalizationCompleted {
		return &FinalizeResult{Activation: a, Winners: awards, TotalPaid: rec.TotalPaid, Refunded: rec.Refunded, Replayed: true}, nil
	}

	out, err := s.completeFinalization(ctx, rec, awards)
	if err != nil {
		return nil, err
	}
	out.Replayed = true
	return out, nil
}

// completeFinalization writes ranks and prizes and completes the contest for
// a record whose money already moved.
func (s *Service) completeFinalization(ctx context.Context, rec *FinalizationRecord, awards []Award) (*FinalizeResult, error) {
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", rec.ActivationID))
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.lockActivation(ctx, tx, rec.ActivationID)
		if err != nil {
			return err
		}

		for _, w := range awards {
			if err := s.submissionRepo.WithTrx(tx).Update(ctx, w.SubmissionID, map[string]any{
				"status":         activation.SubmissionApproved,
				"rank":           w.Rank,
				"prize_amount":   w.Amount,
				"payment_amount": w.Amount,
				"reviewed_at":    now,
			}); err != nil {
				return err
			}
		}

		if a.Status != activation.StatusCompleted {
			if err := requireStatus(a, activation.StatusLive); err != nil {
				return err
			}
			if err := s.setStatus(ctx, tx, a, activation.StatusCompleted, map[string]any{
				"spent_amount": rec.TotalPaid,
				"completed_at": now,
			}); err != nil {
				return err
			}
		}

		if _, err := s.records.WithTrx(tx).UpdateWhere(ctx, &FinalizationRecord{ActivationID: rec.ActivationID}, map[string]any{
			"state": FinalizationCompleted,
		}); err != nil {
			return err
		}
		_, err = s.incidents.WithTrx(tx).UpdateWhere(ctx, &Incident{ActivationID: rec.ActivationID}, map[string]any{"resolved": true})
		return err
	})
	if err != nil {
		incident := &Incident{
			ID:           s.node.Generate().String(),
			ActivationID: rec.ActivationID,
			Operation:    "finalize_winners",
			Detail:       err.Error(),
		}
		if ierr := s.incidents.Create(ctx, incident); ierr != nil {
			zapLog.Error("failed to record settlement incident", zap.Error(ierr))
		}
		zapLog.Error("winners paid but contest not completed",
			zap.Bool("settlement_inconsistent", true),
			zap.String("incident_id", incident.ID),
			zap.String("paid", rec.TotalPaid.StringFixed(2)),
			zap.Error(err),
		)
		return nil, errutil.Inconsistent("winners were paid but the contest could not be completed; it will be reconciled", err)
	}

	a, err := s.activations.Get(ctx, rec.ActivationID)
	if err != nil {
		return nil, err
	}
	rec.State = FinalizationCompleted
	return &FinalizeResult{Activation: a, Winners: awards, TotalPaid: rec.TotalPaid, Refunded: rec.Refunded}, nil
}

// Complete closes a live panel and returns whatever budget was not paid.
func (s *Service) Complete(ctx context.Context, activationID string) (*CloseResult, error) {
	a, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.Type == activation.TypeContest {
		return nil, errutil.BadRequest("contests are completed by finalizing winners", nil)
	}
	return s.close(ctx, activationID, activation.StatusCompleted)
}

// Cancel stops an activation. A live one gets its unpaid budget back.
func (s *Service) Cancel(ctx context.Context, activationID string) (*CloseResult, error) {
	return s.close(ctx, activationID, activation.StatusCancelled)
}

func (s *Service) close(ctx context.Context, activationID string, to activation.Status) (*CloseResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.Close")
	defer span.End()
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", activationID), zap.String("to", string(to)))

	refunded := decimal.Zero
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.lockActivation(ctx, tx, activationID)
		if err != nil {
			return err
		}

		allowed := []activation.Status{activation.StatusLive}
		if to == activation.StatusCancelled {
			allowed = append(allowed, activation.StatusDraft)
		}
		if err := requireStatus(a, allowed...); err != nil {
			return err
		}

		rec, err := s.records.WithTrx(tx).FindOne(ctx, &FinalizationRecord{ActivationID: a.ID})
		if err != nil {
			return err
		}
		if rec != nil {
			return errutil.Conflict("contest winners are already being paid", nil)
		}

		if a.Status == activation.StatusLive && !a.IsTestMode() {
			res, err := s.wallet.RefundUnusedTx(ctx, tx, a.WorkspaceID, a.ID)
			if err != nil {
				return err
			}
			refunded = res.Refunded
		}

		return s.setStatus(ctx, tx, a, to, map[string]any{"completed_at": s.now().UTC()})
	})
	if err != nil {
		zapLog.Warn("close refused", zap.Error(err))
		return nil, errutil.OrInternal("failed to close activation", err)
	}

	a, err := s.activations.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}

	s.sync.Sync(ctx, partnersync.SyncActivationStatus, "", map[string]any{"id": a.ID, "status": a.Status}, a.ID, s.sync.DefaultOptions())
	if refunded.IsPositive() {
		s.sync.Sync(ctx, partnersync.SyncRefund, "", map[string]any{"activation_id": a.ID, "amount": refunded}, a.ID, s.sync.DefaultOptions())
	}

	zapLog.Info("activation closed", zap.String("refunded", refunded.StringFixed(2)))
	return &CloseResult{Activation: a, Refunded: refunded}, nil
}

// Reconcile completes finalizations whose money moved but whose bookkeeping
// did not. It returns how many were completed.
func (s *Service) Reconcile(ctx context.Context, limit int) (int, error) {
	zapLog := logger.WithTrace(ctx)
	if limit <= 0 {
		limit = s.reconcileBatch
	}

	stuck, err := s.records.Find(ctx, &FinalizationRecord{State: FinalizationWalletSettled},
		option.ApplyOperator(option.Condition{Field: "updated_at", Operator: option.LTE, Value: s.now().Add(-reconcileGrace)}),
		option.WithLimit(limit),
	)
	if err != nil {
		return 0, errutil.Internal("failed to load finalizations", err)
	}

	done := 0
	for _, rec := range stuck {
		awards, err := s.recordAwards(rec)
		if err != nil {
			zapLog.Error("undecodable finalization winners", zap.String("activation_id", rec.ActivationID), zap.Error(err))
			continue
		}
		if _, err := s.completeFinalization(ctx, rec, awards); err != nil {
			continue
		}
		done++
	}

	if len(stuck) > 0 {
		zapLog.Info("finalizations reconciled", zap.Int("stuck", len(stuck)), zap.Int("completed", done))
	}
	return done, nil
}

func (s *Service) Incidents(ctx context.Context, activationID string) ([]*Incident, error) {
	return s.incidents.Find(ctx, &Incident{ActivationID: activationID})
}
