package model

import (
	"time"
)

// JobRecord 任务历史，任务到达终态时写入
type JobRecord struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	JobID       string     `gorm:"size:32;not null;uniqueIndex" json:"job_id"`
	Kind        string     `gorm:"size:20;not null;index" json:"kind"`
	TargetURL   string     `gorm:"size:500;not null;index:idx_jobs_target_created" json:"target_url"`
	Snapshot    string     `gorm:"size:14" json:"snapshot,omitempty"`
	State       string     `gorm:"size:20;not null" json:"state"` // done 或 error
	SummaryJSON string     `gorm:"type:text" json:"-"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"index:idx_jobs_target_created" json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (JobRecord) TableName() string {
	return "job_records"
}
