package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
)

type ManifestRepository struct {
	db *gorm.DB
}

func NewManifestRepository(db *gorm.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Upsert 按 (target_url, snapshot, url) 插入或更新
func (r *ManifestRepository) Upsert(entry *model.ManifestEntry) error {
	entry.TargetURL = NormalizeTargetURL(entry.TargetURL)

	var existing model.ManifestEntry
	err := r.db.Where("target_url = ? AND snapshot = ? AND url = ?",
		entry.TargetURL, entry.Snapshot, entry.URL).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(entry).Error
	}
	if err != nil {
		return err
	}
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	return r.db.Save(entry).Error
}

// List 某项目某快照的全部清单条目
func (r *ManifestRepository) List(targetURL, snapshot string) ([]*model.ManifestEntry, error) {
	var entries []*model.ManifestEntry
	err := r.db.Where("target_url = ? AND snapshot = ?", NormalizeTargetURL(targetURL), snapshot).
		Order("url ASC").
		Find(&entries).Error
	return entries, err
}

// ListByStatus 按状态过滤
func (r *ManifestRepository) ListByStatus(targetURL, snapshot, status string) ([]*model.ManifestEntry, error) {
	var entries []*model.ManifestEntry
	err := r.db.Where("target_url = ? AND snapshot = ? AND status = ?",
		NormalizeTargetURL(targetURL), snapshot, status).
		Order("url ASC").
		Find(&entries).Error
	return entries, err
}

// UpdateStatus 更新单条状态并记录检查时间
func (r *ManifestRepository) UpdateStatus(id int64, status string) error {
	now := time.Now()
	return r.db.Model(&model.ManifestEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_checked_at": now}).Error
}

// TouchChecked 仅刷新检查时间
func (r *ManifestRepository) TouchChecked(id int64) error {
	now := time.Now()
	return r.db.Model(&model.ManifestEntry{}).Where("id = ?", id).
		Update("last_checked_at", now).Error
}

// DistinctSnapshots 某项目清单里出现过的全部快照
func (r *ManifestRepository) DistinctSnapshots(targetURL string) ([]string, error) {
	var out []string
	err := r.db.Model(&model.ManifestEntry{}).
		Where("target_url = ?", NormalizeTargetURL(targetURL)).
		Distinct("snapshot").
		Pluck("snapshot", &out).Error
	return out, err
}

// CountByStatus 统计某项目某快照各状态数量
func (r *ManifestRepository) CountByStatus(targetURL, snapshot string) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.db.Model(&model.ManifestEntry{}).
		Select("status, COUNT(*) AS n").
		Where("target_url = ? AND snapshot = ?", NormalizeTargetURL(targetURL), snapshot).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
