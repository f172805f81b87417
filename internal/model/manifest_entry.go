package model

import (
	"time"
)

// 清单条目状态
const (
	ManifestStatusDownloaded = "downloaded"
	ManifestStatusMissing    = "missing"
	ManifestStatusFailed     = "failed"
)

// ManifestEntry 离线副本应包含的一个文件及其抓取状态。
// 下载任务创建，check / download-missing 任务更新。
type ManifestEntry struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	TargetURL     string     `gorm:"size:500;not null;uniqueIndex:idx_manifest_key" json:"target_url"`
	Snapshot      string     `gorm:"size:14;not null;uniqueIndex:idx_manifest_key" json:"snapshot"`
	URL           string     `gorm:"size:1000;not null;uniqueIndex:idx_manifest_key" json:"url"`
	LocalPath     string     `gorm:"size:1000" json:"local_path,omitempty"`
	Mime          string     `gorm:"size:100" json:"mime,omitempty"`
	Status        string     `gorm:"size:20;not null;default:missing;index" json:"status"`
	Size          int64      `json:"size,omitempty"`
	Digest        string     `gorm:"size:64" json:"digest,omitempty"`
	UsedTimestamp string     `gorm:"size:14" json:"used_timestamp,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (ManifestEntry) TableName() string {
	return "manifest_entries"
}
