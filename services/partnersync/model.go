package partnersync

import (
	"time"

	"gorm.io/datatypes"
)

type SyncType string

const (
	SyncActivation       SyncType = "activation"
	SyncActivationUpdate SyncType = "activation_update"
	SyncActivationStatus SyncType = "activation_status"
	SyncSubmission       SyncType = "submission"
	SyncReview           SyncType = "review"
	SyncWinners          SyncType = "winners"
	SyncPayout           SyncType = "payout"
	SyncRefund           SyncType = "refund"
)

var eventTypes = map[SyncType]string{
	SyncActivation:       "activation.created",
	SyncActivationUpdate: "activation.updated",
	SyncActivationStatus: "activation.status_changed",
	SyncSubmission:       "submission.created",
	SyncReview:           "submission.reviewed",
	SyncWinners:          "contest.winners_selected",
	SyncPayout:           "payout.released",
	SyncRefund:           "budget.refunded",
}

func EventType(t SyncType) (string, bool) {
	e, ok := eventTypes[t]
	return e, ok
}

// Endpoint is the partner path a sync type is delivered to.
func Endpoint(t SyncType, entityID string) string {
	switch t {
	case SyncActivation:
		return "/activations"
	case SyncActivationUpdate:
		return "/activations/" + entityID
	case SyncActivationStatus:
		return "/activations/" + entityID + "/status"
	case SyncSubmission:
		return "/submissions"
	case SyncReview:
		return "/submissions/" + entityID + "/review"
	case SyncWinners:
		return "/activations/" + entityID + "/winners"
	case SyncPayout:
		return "/payouts"
	case SyncRefund:
		return "/refunds"
	}
	return "/events"
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// QueueItem is a sync that failed inline and waits for the drain task.
type QueueItem struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	SyncType   SyncType       `gorm:"column:sync_type;size:40;not null" json:"sync_type"`
	Endpoint   string         `gorm:"column:endpoint;not null" json:"endpoint"`
	EntityID   string         `gorm:"column:entity_id;index" json:"entity_id"`
	Payload    datatypes.JSON `gorm:"column:payload" json:"payload"`
	RetryCount int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	RetryAfter time.Time      `gorm:"column:retry_after;index" json:"retry_after"`
	Status     ItemStatus     `gorm:"column:status;size:20;not null;default:'pending';index" json:"status"`
	LastError  string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (QueueItem) TableName() string { return "sync_queue" }

type Options struct {
	// MaxRetries is the number of retries after the first try.
	MaxRetries     int
	QueueOnFailure bool
}

type Result struct {
	Success     bool   `json:"success"`
	Synced      bool   `json:"synced"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryQueued bool   `json:"retry_queued"`
	DobbleTapID string `json:"dobble_tap_id,omitempty"`
	Attempts    int    `json:"attempts"`
}

type DrainResult struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
}

type envelope struct {
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type partnerResponse struct {
	ID string `json:"id"`
}
