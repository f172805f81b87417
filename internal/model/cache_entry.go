package model

import (
	"time"
)

// 缓存结果类型
const (
	CacheKindInspect = "inspect"
	CacheKindAnalyze = "analyze"
	CacheKindSitemap = "sitemap"
	CacheKindCheck   = "check"
)

// CacheEntry 持久化的操作结果缓存，按 (target_url, kind, snapshot) 查询，
// created_at 用于新鲜度判断和保留期清理
type CacheEntry struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	CacheKey    string    `gorm:"size:600;not null;uniqueIndex" json:"cache_key"`
	TargetURL   string    `gorm:"size:500;not null;index:idx_cache_target_kind" json:"target_url"`
	Kind        string    `gorm:"size:20;not null;index:idx_cache_target_kind" json:"kind"`
	Snapshot    string    `gorm:"size:14" json:"snapshot,omitempty"`
	PayloadJSON string    `gorm:"type:text;not null" json:"-"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (CacheEntry) TableName() string {
	return "cache_entries"
}
