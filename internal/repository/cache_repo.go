package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
)

type CacheRepository struct {
	db *gorm.DB
}

func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Set 按 cache_key 插入或整行覆盖（created_at 刷新为当前时间）
func (r *CacheRepository) Set(entry *model.CacheEntry) error {
	entry.TargetURL = NormalizeTargetURL(entry.TargetURL)
	entry.CreatedAt = time.Now()

	var existing model.CacheEntry
	err := r.db.Where("cache_key = ?", entry.CacheKey).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(entry).Error
	}
	if err != nil {
		return err
	}
	entry.ID = existing.ID
	return r.db.Save(entry).Error
}

// Get 按 cache_key 读取；超过 maxAge 视为未命中
func (r *CacheRepository) Get(cacheKey string, maxAge time.Duration) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	err := r.db.Where("cache_key = ?", cacheKey).First(&entry).Error
	if err != nil {
		return nil, err
	}
	if time.Since(entry.CreatedAt) > maxAge {
		return nil, gorm.ErrRecordNotFound
	}
	return &entry, nil
}

// GetLatest 某目标某类型的最新一条（snapshot 为空时不限快照）
func (r *CacheRepository) GetLatest(targetURL, kind, snapshot string, maxAge time.Duration) (*model.CacheEntry, error) {
	q := r.db.Where("target_url = ? AND kind = ?", NormalizeTargetURL(targetURL), kind)
	if snapshot != "" {
		q = q.Where("snapshot = ?", snapshot)
	}
	var entry model.CacheEntry
	err := q.Order("created_at DESC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	if time.Since(entry.CreatedAt) > maxAge {
		return nil, gorm.ErrRecordNotFound
	}
	return &entry, nil
}

// ListSnapshots 某目标某类型按快照聚合的最新缓存时间（用于 data status 预填）
type SnapshotCacheInfo struct {
	Snapshot  string    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *CacheRepository) ListSnapshots(targetURL, kind string, limit int) ([]SnapshotCacheInfo, error) {
	if limit < 1 {
		limit = 60
	}
	var out []SnapshotCacheInfo
	err := r.db.Model(&model.CacheEntry{}).
		Select("snapshot, MAX(created_at) AS created_at").
		Where("target_url = ? AND kind = ? AND snapshot <> ''", NormalizeTargetURL(targetURL), kind).
		Group("snapshot").
		Order("created_at DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// PruneOlderThan 删除早于保留期的缓存行，返回删除数量
func (r *CacheRepository) PruneOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := r.db.Where("created_at < ?", cutoff).Delete(&model.CacheEntry{})
	return res.RowsAffected, res.Error
}
