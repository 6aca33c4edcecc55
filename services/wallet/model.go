package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const GenesisHash = "GENESIS"

type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeLock       TransactionType = "lock"
	TypeServiceFee TransactionType = "service_fee"
	TypePayout     TransactionType = "payout"
	TypeRefund     TransactionType = "refund"
)

type Wallet struct {
	ID              string           `gorm:"column:id;primaryKey" json:"id"`
	WorkspaceID     string           `gorm:"column:workspace_id;uniqueIndex;not null" json:"workspace_id"`
	Balance         decimal.Decimal  `gorm:"column:balance;type:numeric(20,2);not null" json:"balance"`
	LockedBalance   decimal.Decimal  `gorm:"column:locked_balance;type:numeric(20,2);not null" json:"locked_balance"`
	DailySpendLimit *decimal.Decimal `gorm:"column:daily_spend_limit;type:numeric(20,2)" json:"daily_spend_limit,omitempty"`
	DailySpentToday decimal.Decimal  `gorm:"column:daily_spent_today;type:numeric(20,2);not null" json:"daily_spent_today"`
	// DailySpentDate is the UTC day (YYYY-MM-DD) DailySpentToday belongs to.
	DailySpentDate  string           `gorm:"column:daily_spent_date;size:10" json:"daily_spent_date"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Wallet) TableName() string { return "workspace_wallets" }

// SpentOn returns the daily spend counter as seen on day. A counter from a
// previous day reads as zero.
func (w *Wallet) SpentOn(day string) decimal.Decimal {
	if w.DailySpentDate != day {
		return decimal.Zero
	}
	return w.DailySpentToday
}

// Transaction is an append-only audit row. Rows of one wallet form a hash
// chain ordered by Sequence.
type Transaction struct {
	ID            string          `gorm:"column:id;primaryKey" json:"id"`
	WalletID      string          `gorm:"column:wallet_id;not null;uniqueIndex:idx_wallet_tx_sequence" json:"wallet_id"`
	Sequence      int64           `gorm:"column:sequence;not null;uniqueIndex:idx_wallet_tx_sequence" json:"sequence"`
	WorkspaceID   string          `gorm:"column:workspace_id;index" json:"workspace_id"`
	ActivationID  string          `gorm:"column:activation_id;index" json:"activation_id,omitempty"`
	SubmissionID  string          `gorm:"column:submission_id" json:"submission_id,omitempty"`
	Type          TransactionType `gorm:"column:type;size:20;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	TransactionID string          `gorm:"column:transaction_id" json:"transaction_id"`
	ReferenceID   string          `gorm:"column:reference_id;uniqueIndex;not null" json:"reference_id"`
	Description   string          `gorm:"column:description" json:"description"`
	PreviousHash  string          `gorm:"column:previous_hash" json:"previous_hash"`
	Hash          string          `gorm:"column:hash" json:"hash"`
	Metadata      datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

func (t *Transaction) HashFields() map[string]string {
	return map[string]string{
		"id":             t.ID,
		"wallet_id":      t.WalletID,
		"sequence":       fmt.Sprintf("%d", t.Sequence),
		"workspace_id":   t.WorkspaceID,
		"activation_id":  t.ActivationID,
		"submission_id":  t.SubmissionID,
		"type":           string(t.Type),
		"amount":         t.Amount.StringFixed(2),
		"transaction_id": t.TransactionID,
		"reference_id":   t.ReferenceID,
		"description":    t.Description,
		"created_at":     t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  t.PreviousHash,
	}
}

func (t *Transaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

func GenerateTransactionID(now time.Time) (string, error) {
	datePart := now.UTC().Format("20060102")

	r := make([]byte, 3) // 6 hex chars
	if _, err := rand.Read(r); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s", datePart, strings.ToUpper(hex.EncodeToString(r))), nil
}

// Reference ids make every money movement idempotent.
func LockReference(activationID string) string { return "lock:" + activationID }
func FeeReference(activationID string) string { return "fee:" + activationID }
func PayoutReference(submissionID string) string { return "payout:" + submissionID }
func RefundReference(activationID string) string { return "refund:" + activationID }
func DepositReference(workspaceID, key string) string { return "deposit:" + workspaceID + ":" + key }

type LockParams struct {
	WorkspaceID  string
	ActivationID string
	Budget       decimal.Decimal
	Fee          decimal.Decimal
}

type LockResult struct {
	Wallet     *Wallet
	Lock       *Transaction
	ServiceFee *Transaction
	TotalCost  decimal.Decimal
	Replayed   bool
}

type ReleaseParams struct {
	WorkspaceID  string
	ActivationID string
	SubmissionID string
	Amount       decimal.Decimal
}

type Payout struct {
	SubmissionID string          `json:"submission_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type SettleParams struct {
	WorkspaceID  string
	ActivationID string
	Payouts      []Payout
}

type SettleResult struct {
	TotalPaid decimal.Decimal `json:"total_paid"`
	Refunded  decimal.Decimal `json:"refunded"`
	Replayed  bool            `json:"replayed"`
}

type DepositParams struct {
	WorkspaceID    string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// ActivationFunds is the money an activation holds in the wallet.
type ActivationFunds struct {
	Locked   decimal.Decimal
	Paid     decimal.Decimal
	Refunded decimal.Decimal
	Settled  bool
}

func (f ActivationFunds) Remaining() decimal.Decimal {
	return f.Locked.Sub(f.Paid).Sub(f.Refunded)
}
