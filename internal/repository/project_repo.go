package repository

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// NormalizeTargetURL 统一为 https://host（去 www、去路径），作为项目身份
func NormalizeTargetURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Host))
	if host == "" {
		host = strings.ToLower(strings.TrimSpace(parsed.Path))
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return raw
	}
	return "https://" + host
}

// ExtractDomain 提取去 www 的主机名
func ExtractDomain(raw string) string {
	normalized := NormalizeTargetURL(raw)
	parsed, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}

// TargetURLVariants 同一域名的 scheme/www 变体，用于级联删除匹配
func TargetURLVariants(raw string) []string {
	host := ExtractDomain(raw)
	if host == "" {
		normalized := NormalizeTargetURL(raw)
		if normalized == "" {
			return nil
		}
		return []string{normalized}
	}
	return []string{
		"https://" + host,
		"http://" + host,
		"https://www." + host,
		"http://www." + host,
	}
}

// Upsert 按 target_url 插入或更新，零值字段不覆盖已有值
func (r *ProjectRepository) Upsert(p *model.Project) error {
	p.TargetURL = NormalizeTargetURL(p.TargetURL)
	if p.Domain == "" {
		p.Domain = ExtractDomain(p.TargetURL)
	}

	var existing model.Project
	err := r.db.Where("target_url = ?", p.TargetURL).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(p).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"domain":     p.Domain,
		"updated_at": time.Now(),
	}
	if p.LastOutputRoot != "" {
		updates["last_output_root"] = p.LastOutputRoot
	}
	if p.LastSnapshot != "" {
		updates["last_snapshot"] = p.LastSnapshot
	}
	if p.LastSiteType != "" {
		updates["last_site_type"] = p.LastSiteType
	}
	if p.LastEstimatedFiles > 0 {
		updates["last_estimated_files"] = p.LastEstimatedFiles
	}
	if p.LastEstimatedSize > 0 {
		updates["last_estimated_size"] = p.LastEstimatedSize
	}
	return r.db.Model(&model.Project{}).Where("id = ?", existing.ID).Updates(updates).Error
}

func (r *ProjectRepository) GetByTargetURL(targetURL string) (*model.Project, error) {
	var p model.Project
	err := r.db.Where("target_url = ?", NormalizeTargetURL(targetURL)).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRecent 按更新时间倒序
func (r *ProjectRepository) ListRecent(limit int) ([]*model.Project, error) {
	if limit < 1 {
		limit = 1
	}
	var projects []*model.Project
	err := r.db.Order("updated_at DESC").Limit(limit).Find(&projects).Error
	return projects, err
}

// DeleteCounts 级联删除的行数统计
type DeleteCounts struct {
	Projects        int64 `json:"projects"`
	CacheEntries    int64 `json:"cache_entries"`
	ManifestEntries int64 `json:"manifest_entries"`
	JobRecords      int64 `json:"job_records"`
}

// Delete 删除项目；purgeRelated 时按 URL 变体级联删除缓存、清单、任务历史。
// 磁盘输出文件由调用方另行显式处理，这里绝不触碰。
func (r *ProjectRepository) Delete(targetURL string, purgeRelated bool) (*DeleteCounts, error) {
	normalized := NormalizeTargetURL(targetURL)
	domain := ExtractDomain(targetURL)
	variants := TargetURLVariants(targetURL)
	counts := &DeleteCounts{}

	deleteByTarget := func(tx *gorm.DB, value interface{}) (int64, error) {
		if len(variants) == 0 {
			return 0, nil
		}
		q := tx.Where("target_url IN ?", variants)
		for _, v := range variants {
			q = q.Or("target_url LIKE ?", v+"/%")
		}
		res := q.Delete(value)
		return res.RowsAffected, res.Error
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("target_url = ? OR domain = ?", normalized, domain).Delete(&model.Project{})
		if res.Error != nil {
			return res.Error
		}
		counts.Projects = res.RowsAffected

		if !purgeRelated {
			return nil
		}
		var err error
		if counts.CacheEntries, err = deleteByTarget(tx, &model.CacheEntry{}); err != nil {
			return err
		}
		if counts.ManifestEntries, err = deleteByTarget(tx, &model.ManifestEntry{}); err != nil {
			return err
		}
		if counts.JobRecords, err = deleteByTarget(tx, &model.JobRecord{}); err != nil {
			return err
		}
		return nil
	})
	return counts, err
}
