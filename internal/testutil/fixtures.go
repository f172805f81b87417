package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
)

// TestProject 创建测试项目
func TestProject(t *testing.T, db *gorm.DB, opts ...func(*model.Project)) *model.Project {
	t.Helper()

	host := fmt.Sprintf("site%d.example.com", time.Now().UnixNano()%100000)
	project := &model.Project{
		TargetURL: "https://" + host,
		Domain:    host,
	}

	for _, opt := range opts {
		opt(project)
	}

	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}

	return project
}

// WithTargetURL 设置目标站点
func WithTargetURL(targetURL, domain string) func(*model.Project) {
	return func(p *model.Project) {
		p.TargetURL = targetURL
		p.Domain = domain
	}
}

// WithSnapshot 设置最近快照
func WithSnapshot(snapshot string) func(*model.Project) {
	return func(p *model.Project) {
		p.LastSnapshot = snapshot
	}
}

// WithOutputRoot 设置输出目录
func WithOutputRoot(root string) func(*model.Project) {
	return func(p *model.Project) {
		p.LastOutputRoot = root
	}
}

// TestCacheEntry 创建测试缓存行
func TestCacheEntry(t *testing.T, db *gorm.DB, targetURL, kind, cacheKey, payload string) *model.CacheEntry {
	t.Helper()

	entry := &model.CacheEntry{
		CacheKey:    cacheKey,
		TargetURL:   targetURL,
		Kind:        kind,
		PayloadJSON: payload,
		CreatedAt:   time.Now(),
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test cache entry: %v", err)
	}

	return entry
}

// TestManifestEntry 创建测试清单条目
func TestManifestEntry(t *testing.T, db *gorm.DB, targetURL, snapshot, fileURL, status string) *model.ManifestEntry {
	t.Helper()

	entry := &model.ManifestEntry{
		TargetURL: targetURL,
		Snapshot:  snapshot,
		URL:       fileURL,
		Status:    status,
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test manifest entry: %v", err)
	}

	return entry
}

// TestJobRecord 创建测试任务历史
func TestJobRecord(t *testing.T, db *gorm.DB, jobID, kind, targetURL, state string) *model.JobRecord {
	t.Helper()

	now := time.Now()
	rec := &model.JobRecord{
		JobID:       jobID,
		Kind:        kind,
		TargetURL:   targetURL,
		State:       state,
		SummaryJSON: "{}",
		FinishedAt:  &now,
	}

	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("Failed to create test job record: %v", err)
	}

	return rec
}
