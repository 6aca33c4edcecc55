package activation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"activations-controlplane/pkg/celengine"
	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/db/option"
	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/repository"
	"activations-controlplane/pkg/sequence"
	"activations-controlplane/services/pricing"
	"activations-controlplane/services/prize"
	"activations-controlplane/services/scoring"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	seq     sequence.Generator
	rules   *celengine.Engine
	pricing pricing.Model
	scoring scoring.Engine
	now     func() time.Time

	minContestBudget decimal.Decimal

	activations repository.Repository[Activation]
	submissions repository.Repository[Submission]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Seq     sequence.Generator
	Config  *config.Config
	Pricing pricing.Model
	Rules   *celengine.Engine
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		seq:     p.Seq,
		rules:   p.Rules,
		pricing: p.Pricing,
		scoring: scoring.NewEngine(),
		now:     time.Now,

		minContestBudget: decimal.NewFromFloat(p.Config.Settlement.MinContestBudget),

		activations: repository.ProvideStore[Activation](p.DB),
		submissions: repository.ProvideStore[Submission](p.DB),
	}
}

// Repositories exposes the stores so the settlement engine can run its writes
// inside its own transactions.
func (s *Service) Repositories() (repository.Repository[Activation], repository.Repository[Submission]) {
	return s.activations, s.submissions
}

func (s *Service) ScoringEngine() scoring.Engine {
	return s.scoring
}

func (s *Service) validate(a *Activation) error {
	if strings.TrimSpace(a.WorkspaceID) == "" {
		return errutil.ValidationFailed("workspace_id is required", nil, errutil.WithField("workspace_id", "required"))
	}
	if strings.TrimSpace(a.Title) == "" {
		return errutil.ValidationFailed("title is required", nil, errutil.WithField("title", "required"))
	}
	if a.TotalBudget.IsNegative() {
		return errutil.ValidationFailed("budget must not be negative", nil, errutil.WithField("total_budget", "must be >= 0"))
	}

	switch a.Visibility {
	case VisibilityPublic, VisibilityCommunity:
	default:
		return errutil.ValidationFailed(fmt.Sprintf("invalid visibility %q", a.Visibility), nil, errutil.WithField("visibility", "must be public or community"))
	}

	switch a.Type {
	case TypeContest:
		if err := prize.ValidateContestBudget(a.TotalBudget, s.minContestBudget); err != nil {
			return err
		}
	case TypeSMPanel:
		if err := pricing.ValidateTaskType(a.TaskType); err != nil {
			return err
		}
		if a.BaseRate == nil {
			return errutil.ValidationFailed("base_rate is required for sm_panel", nil, errutil.WithField("base_rate", "required"))
		}
		if err := pricing.ValidateBaseRate(*a.BaseRate); err != nil {
			return err
		}
		if a.MaxParticipants != nil && *a.MaxParticipants <= 0 {
			return errutil.ValidationFailed("max_participants must be greater than zero", nil, errutil.WithField("max_participants", "must be > 0"))
		}
	case TypeCreatorRequest:
	default:
		return errutil.ValidationFailed(fmt.Sprintf("invalid activation type %q", a.Type), nil, errutil.WithField("type", "unsupported"))
	}

	if a.EligibilityRule != "" {
		if err := s.rules.Validate(a.EligibilityRule); err != nil {
			return errutil.ValidationFailed("invalid eligibility rule", err, errutil.WithField("eligibility_rule", err.Error()))
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Activation, error) {
	zapLog := logger.WithTrace(ctx, zap.String("workspace_id", p.WorkspaceID))

	a := &Activation{
		ID:              s.node.Generate().String(),
		WorkspaceID:     p.WorkspaceID,
		Type:            p.Type,
		Title:           strings.TrimSpace(p.Title),
		Description:     p.Description,
		Status:          StatusDraft,
		TotalBudget:     p.TotalBudget,
		Visibility:      p.Visibility,
		TaskType:        p.TaskType,
		BaseRate:        p.BaseRate,
		MaxParticipants: p.MaxParticipants,
		AutoApprove:     p.AutoApprove,
		EligibilityRule: strings.TrimSpace(p.EligibilityRule),
	}
	if a.Visibility == "" {
		a.Visibility = VisibilityPublic
	}
	if a.Type == TypeContest {
		a.WinnerCount = prize.WinnerCount
	}

	if err := s.validate(a); err != nil {
		return nil, err
	}

	code, err := s.seq.NextActivationCode(ctx, a.WorkspaceID)
	if err != nil {
		zapLog.Error("failed to generate activation code", zap.Error(err))
		return nil, errutil.ServiceUnavailable("failed to generate activation code", err)
	}
	a.Code = code
	a.Slug = slug.Make(a.Title)

	if err := s.activations.Create(ctx, a); err != nil {
		zapLog.Error("failed to create activation", zap.Error(err))
		return nil, errutil.Internal("failed to create activation", err)
	}

	zapLog.Info("activation created", zap.String("activation_id", a.ID), zap.String("type", string(a.Type)))
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Activation, error) {
	if err := errutil.RequireID("id", id); err != nil {
		return nil, err
	}
	a, err := s.activations.FindOne(ctx, &Activation{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load activation", err)
	}
	if a == nil {
		return nil, errutil.NotFound("activation not found", nil)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, p ListParams, page pagination.Pagination) ([]*Activation, pagination.PageInfo, error) {
	rows, err := s.activations.Find(ctx, &Activation{WorkspaceID: p.WorkspaceID, Status: p.Status, Type: p.Type}, option.ApplyPagination(page))
	if err != nil {
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list activations", err)
	}

	rows, info := pagination.Page(rows, page.Limit, func(a *Activation) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return rows, info, nil
}

// LiveIDs lists every live activation of type t across workspaces.
func (s *Service) LiveIDs(ctx context.Context, t Type) ([]string, error) {
	rows, err := s.activations.Find(ctx, &Activation{Status: StatusLive, Type: t})
	if err != nil {
		return nil, errutil.Internal("failed to list live activations", err)
	}
	ids := make([]string, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// Update changes a draft. Anything past draft only moves through the
// settlement transitions.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*Activation, error) {
	if err := errutil.RequireID("id", id); err != nil {
		return nil, err
	}
	var out *Activation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.activations.WithTrx(tx).FindOne(ctx, &Activation{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if a == nil {
			return errutil.NotFound("activation not found", nil)
		}
		if a.Status != StatusDraft {
			return errutil.Conflict(fmt.Sprintf("activation is %s; only draft activations can be edited", a.Status), nil)
		}

		if p.Title != nil {
			a.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			a.Description = *p.Description
		}
		if p.TotalBudget != nil {
			a.TotalBudget = *p.TotalBudget
		}
		if p.Visibility != nil {
			a.Visibility = *p.Visibility
		}
		if p.TaskType != nil {
			a.TaskType = *p.TaskType
		}
		if p.BaseRate != nil {
			a.BaseRate = p.BaseRate
		}
		if p.MaxParticipants != nil {
			a.MaxParticipants = p.MaxParticipants
		}
		if p.AutoApprove != nil {
			a.AutoApprove = *p.AutoApprove
		}
		if p.EligibilityRule != nil {
			a.EligibilityRule = strings.TrimSpace(*p.EligibilityRule)
		}

		if err := s.validate(a); err != nil {
			return err
		}
		a.Slug = slug.Make(a.Title)

		updates := map[string]any{
			"title":            a.Title,
			"slug":             a.Slug,
			"description":      a.Description,
			"total_budget":     a.TotalBudget,
			"visibility":       a.Visibility,
			"task_type":        a.TaskType,
			"base_rate":        a.BaseRate,
			"max_participants": a.MaxParticipants,
			"auto_approve":     a.AutoApprove,
			"eligibility_rule": a.EligibilityRule,
		}
		rows, err := s.activations.WithTrx(tx).UpdateWhere(ctx, &Activation{ID: a.ID, Status: StatusDraft}, updates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errutil.Conflict("activation is no longer a draft", nil)
		}

		out, err = s.activations.WithTrx(tx).FindOne(ctx, &Activation{ID: a.ID})
		return err
	})
	if err != nil {
		return nil, errutil.OrInternal("failed to update activation", err)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := errutil.RequireID("id", id); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.activations.WithTrx(tx).FindOne(ctx, &Activation{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if a == nil {
			return errutil.NotFound("activation not found", nil)
		}
		if a.Status != StatusDraft {
			return errutil.Conflict(fmt.Sprintf("activation is %s; only draft activations can be deleted", a.Status), nil)
		}
		return s.activations.WithTrx(tx).Delete(ctx, a.ID)
	})
	if err != nil {
		return errutil.OrInternal("failed to delete activation", err)
	}
	return nil
}

// CreateSubmission records a creator's entry on a live activation and caches
// its score. Limits are checked under the activation row lock.
func (s *Service) CreateSubmission(ctx context.Context, p SubmissionParams) (*Activation, *Submission, error) {
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", p.ActivationID))

	if err := errutil.RequireID("activation_id", p.ActivationID); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(p.CreatorHandle) == "" || strings.TrimSpace(p.CreatorPlatform) == "" {
		return nil, nil, errutil.ValidationFailed("creator handle and platform are required", nil)
	}
	if strings.TrimSpace(p.PostURL) == "" {
		return nil, nil, errutil.ValidationFailed("post_url is required", nil, errutil.WithField("post_url", "required"))
	}
	if p.CreatorFollowers < 0 || p.Views < 0 || p.Likes < 0 || p.Comments < 0 {
		return nil, nil, errutil.ValidationFailed("metrics must not be negative", nil)
	}

	sub := &Submission{
		ID:               s.node.Generate().String(),
		ActivationID:     p.ActivationID,
		CreatorID:        strings.TrimSpace(p.CreatorID),
		CreatorHandle:    strings.TrimSpace(p.CreatorHandle),
		CreatorPlatform:  strings.ToLower(strings.TrimSpace(p.CreatorPlatform)),
		CreatorFollowers: p.CreatorFollowers,
		CreatorVerified:  p.CreatorVerified,
		PostURL:          strings.TrimSpace(p.PostURL),
		Views:            p.Views,
		Likes:            p.Likes,
		Comments:         p.Comments,
		Status:           SubmissionPending,
	}
	sub.PerformanceScore = s.scoring.Weights.Score(sub.Metrics())

	var act *Activation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.activations.WithTrx(tx).FindOne(ctx, &Activation{ID: p.ActivationID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if a == nil {
			return errutil.NotFound("activation not found", nil)
		}
		if a.Status != StatusLive {
			return errutil.Conflict(fmt.Sprintf("activation is %s; submissions are accepted while live", a.Status), nil)
		}
		act = a

		if a.EligibilityRule != "" {
			ok, err := s.rules.Evaluate(a.EligibilityRule, sub.eligibilityAttributes())
			if err != nil {
				zapLog.Error("failed to evaluate eligibility rule", zap.Error(err))
				return errutil.Internal("failed to evaluate eligibility rule", err)
			}
			if !ok {
				return errutil.ValidationFailed("creator does not meet the activation requirements", nil)
			}
		}

		if err := s.checkLimits(ctx, tx, a, sub); err != nil {
			return err
		}

		code, err := s.seq.NextSubmissionCode(ctx, a.ID)
		if err != nil {
			return errutil.ServiceUnavailable("failed to generate submission code", err)
		}
		sub.Code = code

		return s.submissions.WithTrx(tx).Create(ctx, sub)
	})
	if err != nil {
		return nil, nil, errutil.OrInternal("failed to create submission", err)
	}

	zapLog.Info("submission created", zap.String("submission_id", sub.ID), zap.Int64("score", sub.PerformanceScore))
	return act, sub, nil
}

func (s *Service) checkLimits(ctx context.Context, tx *gorm.DB, a *Activation, sub *Submission) error {
	existing, err := s.submissions.WithTrx(tx).Find(ctx, &Submission{ActivationID: a.ID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: SubmissionRejected}))
	if err != nil {
		return err
	}

	key := sub.GroupKey()
	mine := 0
	for _, e := range existing {
		if e.GroupKey() == key {
			mine++
		}
	}

	switch a.Type {
	case TypeContest:
		if mine >= MaxContestSubmissions {
			return errutil.ValidationFailed(fmt.Sprintf("creator already has %d submissions in this contest", MaxContestSubmissions), nil)
		}
	case TypeSMPanel:
		if mine > 0 {
			return errutil.Conflict("creator already submitted to this task", nil)
		}
		if a.MaxParticipants != nil && len(existing) >= *a.MaxParticipants {
			return errutil.ValidationFailed("activation has reached its participant limit", nil)
		}
	}
	return nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	if err := errutil.RequireID("id", id); err != nil {
		return nil, err
	}
	sub, err := s.submissions.FindOne(ctx, &Submission{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load submission", err)
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

func (s *Service) ListSubmissions(ctx context.Context, activationID string, status SubmissionStatus, page pagination.Pagination) ([]*Submission, pagination.PageInfo, error) {
	if _, err := s.Get(ctx, activationID); err != nil {
		return nil, pagination.PageInfo{}, err
	}

	rows, err := s.submissions.Find(ctx, &Submission{ActivationID: activationID, Status: status}, option.ApplyPagination(page))
	if err != nil {
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list submissions", err)
	}

	rows, info := pagination.Page(rows, page.Limit, func(sub *Submission) pagination.Cursor {
		return pagination.Cursor{CreatedAt: sub.CreatedAt, ID: sub.ID}
	})
	return rows, info, nil
}

// ScoredSubmissions returns every non rejected submission of an activation in
// the scoring view.
func (s *Service) ScoredSubmissions(ctx context.Context, tx *gorm.DB, activationID string) ([]*Submission, []scoring.Submission, error) {
	subs, err := s.submissions.WithTrx(tx).Find(ctx, &Submission{ActivationID: activationID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: SubmissionRejected}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}))
	if err != nil {
		return nil, nil, err
	}

	views := make([]scoring.Submission, 0, len(subs))
	for _, sub := range subs {
		views = append(views, sub.ScoringView())
	}
	return subs, views, nil
}

// Leaderboard ranks a contest from its current submissions. Prizes follow the
// current budget.
func (s *Service) Leaderboard(ctx context.Context, activationID string) (*Leaderboard, error) {
	a, err := s.Get(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.Type != TypeContest {
		return nil, errutil.BadRequest("leaderboards exist for contests only", nil)
	}

	_, views, err := s.ScoredSubmissions(ctx, nil, a.ID)
	if err != nil {
		return nil, errutil.Internal("failed to load submissions", err)
	}

	prizes := prize.Build(a.TotalBudget)
	structure := make(map[int]string, len(prizes))
	for rank, amount := range prizes {
		structure[rank] = amount.StringFixed(2)
	}

	return &Leaderboard{
		ActivationID:   a.ID,
		TotalBudget:    a.TotalBudget,
		PrizeStructure: structure,
		Entries:        s.scoring.Build(views, prizes),
	}, nil
}

// UpdateMetrics stores freshly scraped metrics and the recomputed score.
func (s *Service) UpdateMetrics(ctx context.Context, submissionID string, m scoring.Metrics) (*Submission, error) {
	if m.Views < 0 || m.Likes < 0 || m.Comments < 0 {
		return nil, errutil.ValidationFailed("metrics must not be negative", nil)
	}

	now := s.now().UTC()
	if err := s.submissions.Update(ctx, submissionID, map[string]any{
		"views":              m.Views,
		"likes":              m.Likes,
		"comments":           m.Comments,
		"performance_score":  s.scoring.Weights.Score(m),
		"metrics_scraped_at": now,
	}); err != nil {
		return nil, errutil.Internal("failed to update submission metrics", err)
	}

	return s.GetSubmission(ctx, submissionID)
}
