package model

import (
	"time"
)

// Project 以规范化目标URL为身份的站点项目
type Project struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	TargetURL          string    `gorm:"size:500;not null;uniqueIndex" json:"target_url"`
	Domain             string    `gorm:"size:255;not null;index" json:"domain"`
	LastOutputRoot     string    `gorm:"size:500" json:"last_output_root,omitempty"`
	LastSnapshot       string    `gorm:"size:14" json:"last_snapshot,omitempty"`
	LastSiteType       string    `gorm:"size:50" json:"last_site_type,omitempty"`
	LastEstimatedFiles int       `json:"last_estimated_files,omitempty"`
	LastEstimatedSize  int64     `json:"last_estimated_size,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `gorm:"index" json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}
