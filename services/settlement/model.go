package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"activations-controlplane/services/activation"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/wallet"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type FinalizationState string

const (
	FinalizationWalletSettled FinalizationState = "wallet_settled"
	FinalizationCompleted     FinalizationState = "completed"
)

// FinalizationRecord pins the winners of a contest once the wallet has paid
// them. Replays compare against it instead of moving money again.
type FinalizationRecord struct {
	ActivationID string            `gorm:"column:activation_id;primaryKey" json:"activation_id"`
	WorkspaceID  string            `gorm:"column:workspace_id;index" json:"workspace_id"`
	Winners      datatypes.JSON    `gorm:"column:winners" json:"winners"`
	WinnersHash  string            `gorm:"column:winners_hash;not null" json:"winners_hash"`
	State        FinalizationState `gorm:"column:state;size:20;not null;index" json:"state"`
	TotalPaid    decimal.Decimal   `gorm:"column:total_paid;type:numeric(20,2);not null" json:"total_paid"`
	Refunded     decimal.Decimal   `gorm:"column:refunded;type:numeric(20,2);not null" json:"refunded"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FinalizationRecord) TableName() string { return "activation_finalizations" }

// Incident records money that moved without the matching bookkeeping.
type Incident struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	ActivationID string    `gorm:"column:activation_id;index;not null" json:"activation_id"`
	Operation    string    `gorm:"column:operation;not null" json:"operation"`
	Detail       string    `gorm:"column:detail;type:text" json:"detail"`
	Resolved     bool      `gorm:"column:resolved;not null;default:false" json:"resolved"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Incident) TableName() string { return "settlement_incidents" }

type Winner struct {
	SubmissionID string `json:"submissionId" binding:"required"`
	Rank         int    `json:"rank" binding:"required"`
	// Amount defaults to the prize of Rank.
	Amount *decimal.Decimal `json:"prizeAmount,omitempty"`
}

// Award is a winner with its final amount.
type Award struct {
	SubmissionID string          `json:"submission_id"`
	Rank         int             `json:"rank"`
	Amount       decimal.Decimal `json:"amount"`
}

func hashWinners(winners []Award) string {
	sorted := append([]Award(nil), winners...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	parts := make([]string, 0, len(sorted))
	for _, w := range sorted {
		parts = append(parts, fmt.Sprintf("%d:%s:%s", w.Rank, w.SubmissionID, w.Amount.StringFixed(2)))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func payouts(winners []Award) []wallet.Payout {
	out := make([]wallet.Payout, 0, len(winners))
	for _, w := range winners {
		out = append(out, wallet.Payout{SubmissionID: w.SubmissionID, Amount: w.Amount})
	}
	return out
}

type PublishResult struct {
	Activation *activation.Activation `json:"activation"`
	ServiceFee decimal.Decimal        `json:"service_fee"`
	TotalCost  decimal.Decimal        `json:"total_cost"`
	TestMode   bool                   `json:"test_mode"`
	Sync       partnersync.Result     `json:"sync"`
}

type FinalizeResult struct {
	Activation *activation.Activation `json:"activation"`
	Winners    []Award                `json:"winners"`
	TotalPaid  decimal.Decimal        `json:"total_paid"`
	Refunded   decimal.Decimal        `json:"refunded"`
	Replayed   bool                   `json:"replayed"`
}

type CloseResult struct {
	Activation *activation.Activation `json:"activation"`
	Refunded   decimal.Decimal        `json:"refunded"`
}
