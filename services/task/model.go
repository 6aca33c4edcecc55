package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is an execution record of a background task for one activation.
type Job struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	Task         string         `gorm:"column:task;size:100;index;not null" json:"task"`
	ActivationID string         `gorm:"column:activation_id;index" json:"activation_id,omitempty"`
	Status       JobStatus      `gorm:"column:status;size:20;not null;default:'pending'" json:"status"`
	ErrorMsg     string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string { return "task_jobs" }

type RescrapePayload struct {
	ActivationID string `json:"activation_id"`
	JobID        string `json:"job_id"`
}
