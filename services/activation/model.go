package activation

import (
	"time"

	"activations-controlplane/services/pricing"
	"activations-controlplane/services/scoring"

	"github.com/shopspring/decimal"
)

type Type string
type Status string
type Visibility string
type SubmissionStatus string

const (
	TypeContest        Type = "contest"
	TypeSMPanel        Type = "sm_panel"
	TypeCreatorRequest Type = "creator_request"

	StatusDraft     Status = "draft"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"

	VisibilityPublic    Visibility = "public"
	VisibilityCommunity Visibility = "community"

	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// MaxContestSubmissions is how many entries one creator may post to a contest.
const MaxContestSubmissions = 5

type Activation struct {
	ID              string           `gorm:"column:id;primaryKey" json:"id"`
	Code            string           `gorm:"column:code;index" json:"code"`
	Slug            string           `gorm:"column:slug" json:"slug"`
	WorkspaceID     string           `gorm:"column:workspace_id;index;not null" json:"workspace_id"`
	Type            Type             `gorm:"column:type;size:20;not null" json:"type"`
	Title           string           `gorm:"column:title;not null" json:"title"`
	Description     string           `gorm:"column:description;type:text" json:"description"`
	Status          Status           `gorm:"column:status;size:20;not null;default:'draft'" json:"status"`
	TotalBudget     decimal.Decimal  `gorm:"column:total_budget;type:numeric(20,2);not null" json:"total_budget"`
	SpentAmount     decimal.Decimal  `gorm:"column:spent_amount;type:numeric(20,2);not null" json:"spent_amount"`
	ServiceFee      decimal.Decimal  `gorm:"column:service_fee;type:numeric(20,2);not null" json:"service_fee"`
	Visibility      Visibility       `gorm:"column:visibility;size:20;not null;default:'public'" json:"visibility"`
	WinnerCount     int              `gorm:"column:winner_count" json:"winner_count,omitempty"`
	TaskType        pricing.TaskType `gorm:"column:task_type;size:20" json:"task_type,omitempty"`
	BaseRate        *decimal.Decimal `gorm:"column:base_rate;type:numeric(20,2)" json:"base_rate,omitempty"`
	MaxParticipants *int             `gorm:"column:max_participants" json:"max_participants,omitempty"`
	AutoApprove     bool             `gorm:"column:auto_approve" json:"auto_approve"`
	// EligibilityRule is an optional CEL expression a creator must satisfy to
	// submit.
	EligibilityRule string     `gorm:"column:eligibility_rule;type:text" json:"eligibility_rule,omitempty"`
	SyncedToPartner bool       `gorm:"column:synced_to_dobble_tap" json:"synced_to_dobble_tap"`
	PartnerID       string     `gorm:"column:dobble_tap_id" json:"dobble_tap_id,omitempty"`
	PublishedAt     *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`
	CompletedAt     *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Activation) TableName() string { return "activations" }

func (a *Activation) IsTestMode() bool {
	return a.TotalBudget.IsZero()
}

// Remaining is the part of the budget not yet paid out.
func (a *Activation) Remaining() decimal.Decimal {
	return a.TotalBudget.Sub(a.SpentAmount)
}

type Submission struct {
	ID               string           `gorm:"column:id;primaryKey" json:"id"`
	Code             string           `gorm:"column:code" json:"code"`
	ActivationID     string           `gorm:"column:activation_id;index;not null" json:"activation_id"`
	CreatorID        string           `gorm:"column:creator_id;index" json:"creator_id,omitempty"`
	CreatorHandle    string           `gorm:"column:creator_handle;not null" json:"creator_handle"`
	CreatorPlatform  string           `gorm:"column:creator_platform;size:30;not null" json:"creator_platform"`
	CreatorFollowers int64            `gorm:"column:creator_followers" json:"creator_followers"`
	CreatorVerified  bool             `gorm:"column:creator_verified" json:"creator_verified"`
	PostURL          string           `gorm:"column:post_url" json:"post_url"`
	Views            int64            `gorm:"column:views" json:"views"`
	Likes            int64            `gorm:"column:likes" json:"likes"`
	Comments         int64            `gorm:"column:comments" json:"comments"`
	PerformanceScore int64            `gorm:"column:performance_score" json:"performance_score"`
	MetricsScrapedAt *time.Time       `gorm:"column:metrics_scraped_at" json:"metrics_scraped_at,omitempty"`
	Status           SubmissionStatus `gorm:"column:status;size:20;not null;default:'pending'" json:"status"`
	PaymentAmount    *decimal.Decimal `gorm:"column:payment_amount;type:numeric(20,2)" json:"payment_amount,omitempty"`
	Rank             *int             `gorm:"column:rank" json:"rank,omitempty"`
	PrizeAmount      *decimal.Decimal `gorm:"column:prize_amount;type:numeric(20,2)" json:"prize_amount,omitempty"`
	ReviewedAt       *time.Time       `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

func (s *Submission) Metrics() scoring.Metrics {
	return scoring.Metrics{Views: s.Views, Likes: s.Likes, Comments: s.Comments}
}

func (s *Submission) GroupKey() string {
	return scoring.GroupKey(s.CreatorID, s.CreatorHandle, s.CreatorPlatform)
}

func (s *Submission) ScoringView() scoring.Submission {
	return scoring.Submission{
		ID:              s.ID,
		CreatorID:       s.CreatorID,
		CreatorHandle:   s.CreatorHandle,
		CreatorPlatform: s.CreatorPlatform,
		Metrics:         s.Metrics(),
		SubmittedAt:     s.CreatedAt,
	}
}

// eligibilityAttributes feeds an activation's eligibility rule.
func (s *Submission) eligibilityAttributes() map[string]any {
	return map[string]any{
		"followers": s.CreatorFollowers,
		"platform":  s.CreatorPlatform,
		"handle":    s.CreatorHandle,
		"post_url":  s.PostURL,
		"verified":  s.CreatorVerified,
	}
}

type CreateParams struct {
	WorkspaceID     string           `json:"workspace_id" binding:"required"`
	Type            Type             `json:"type" binding:"required"`
	Title           string           `json:"title" binding:"required"`
	Description     string           `json:"description"`
	TotalBudget     decimal.Decimal  `json:"total_budget"`
	Visibility      Visibility       `json:"visibility"`
	TaskType        pricing.TaskType `json:"task_type"`
	BaseRate        *decimal.Decimal `json:"base_rate"`
	MaxParticipants *int             `json:"max_participants"`
	AutoApprove     bool             `json:"auto_approve"`
	EligibilityRule string           `json:"eligibility_rule"`
}

// UpdateParams holds the draft fields a caller may change. Nil means keep.
type UpdateParams struct {
	Title           *string           `json:"title"`
	Description     *string           `json:"description"`
	TotalBudget     *decimal.Decimal  `json:"total_budget"`
	Visibility      *Visibility       `json:"visibility"`
	TaskType        *pricing.TaskType `json:"task_type"`
	BaseRate        *decimal.Decimal  `json:"base_rate"`
	MaxParticipants *int              `json:"max_participants"`
	AutoApprove     *bool             `json:"auto_approve"`
	EligibilityRule *string           `json:"eligibility_rule"`
}

type ListParams struct {
	WorkspaceID string `form:"workspace_id" binding:"required"`
	Status      Status `form:"status"`
	Type        Type   `form:"type"`
}

type SubmissionParams struct {
	ActivationID     string `json:"-"`
	CreatorID        string `json:"creator_id"`
	CreatorHandle    string `json:"creator_handle" binding:"required"`
	CreatorPlatform  string `json:"creator_platform" binding:"required"`
	CreatorFollowers int64  `json:"creator_followers"`
	CreatorVerified  bool   `json:"creator_verified"`
	PostURL          string `json:"post_url" binding:"required"`
	Views            int64  `json:"views"`
	Likes            int64  `json:"likes"`
	Comments         int64  `json:"comments"`
}

type Leaderboard struct {
	ActivationID   string          `json:"activation_id"`
	TotalBudget    decimal.Decimal `json:"total_budget"`
	PrizeStructure map[int]string  `json:"prize_structure"`
	Entries        []scoring.Entry `json:"entries"`
}
