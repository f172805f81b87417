package service

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

var ErrProjectNotFound = errors.New("项目不存在")

// 缓存命中来源标记
const (
	SourceMemory   = "memory"
	SourceDatabase = "database"
	SourceArchive  = "archive"
)

// CachedPayload 带来源标记的缓存结果
type CachedPayload struct {
	Source   string      `json:"source"`
	CachedAt time.Time   `json:"cached_at"`
	Snapshot string      `json:"snapshot,omitempty"`
	Data     interface{} `json:"data"`
}

type memoryEntry struct {
	payload  interface{}
	snapshot string
	storedAt time.Time
}

// ProjectService 项目数据的读取、缓存与删除。
// 读取按 内存 → 数据库 → 归档 三级回退，命中标记来源。
type ProjectService struct {
	projects  *repository.ProjectRepository
	cache     *repository.CacheRepository
	manifests *repository.ManifestRepository
	jobsRepo  *repository.JobRepository
	writer    *output.Writer

	memTTL time.Duration // 内存层新鲜度
	dbTTL  time.Duration // 数据库层新鲜度

	memMu sync.Mutex
	mem   map[string]memoryEntry
}

func NewProjectService(
	projects *repository.ProjectRepository,
	cache *repository.CacheRepository,
	manifests *repository.ManifestRepository,
	jobsRepo *repository.JobRepository,
	writer *output.Writer,
	memTTL, dbTTL time.Duration,
) *ProjectService {
	if memTTL <= 0 {
		memTTL = 15 * time.Minute
	}
	if dbTTL <= 0 {
		dbTTL = 14 * 24 * time.Hour
	}
	return &ProjectService{
		projects:  projects,
		cache:     cache,
		manifests: manifests,
		jobsRepo:  jobsRepo,
		writer:    writer,
		memTTL:    memTTL,
		dbTTL:     dbTTL,
		mem:       map[string]memoryEntry{},
	}
}

func cacheKey(kind, target, snapshot string) string {
	return kind + ":" + repository.NormalizeTargetURL(target) + ":" + snapshot
}

// Lookup 按 内存 → 数据库 顺序找缓存结果；都没有返回 (nil, false)
func (s *ProjectService) Lookup(kind, target, snapshot string) (*CachedPayload, bool) {
	key := cacheKey(kind, target, snapshot)

	s.memMu.Lock()
	if entry, ok := s.mem[key]; ok {
		if time.Since(entry.storedAt) <= s.memTTL {
			s.memMu.Unlock()
			return &CachedPayload{
				Source:   SourceMemory,
				CachedAt: entry.storedAt,
				Snapshot: entry.snapshot,
				Data:     entry.payload,
			}, true
		}
		delete(s.mem, key)
	}
	s.memMu.Unlock()

	row, err := s.cache.Get(key, s.dbTTL)
	if err != nil {
		return nil, false
	}
	var data json.RawMessage = []byte(row.PayloadJSON)
	return &CachedPayload{
		Source:   SourceDatabase,
		CachedAt: row.CreatedAt,
		Snapshot: row.Snapshot,
		Data:     data,
	}, true
}

// LookupLatest 不限快照找某类型最新缓存（用于未指定快照的读取）
func (s *ProjectService) LookupLatest(kind, target string) (*CachedPayload, bool) {
	row, err := s.cache.GetLatest(target, kind, "", s.dbTTL)
	if err != nil {
		return nil, false
	}
	var data json.RawMessage = []byte(row.PayloadJSON)
	return &CachedPayload{
		Source:   SourceDatabase,
		CachedAt: row.CreatedAt,
		Snapshot: row.Snapshot,
		Data:     data,
	}, true
}

// Store 结果写入内存和数据库两层缓存。
// 写入前顺手清掉已过期的内存键，内存层不会跨目标无界增长。
func (s *ProjectService) Store(kind, target, snapshot string, payload interface{}) {
	key := cacheKey(kind, target, snapshot)

	s.memMu.Lock()
	for k, entry := range s.mem {
		if time.Since(entry.storedAt) > s.memTTL {
			delete(s.mem, k)
		}
	}
	s.mem[key] = memoryEntry{payload: payload, snapshot: snapshot, storedAt: time.Now()}
	s.memMu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal %s cache for %s failed: %v", kind, target, err)
		return
	}
	err = s.cache.Set(&model.CacheEntry{
		CacheKey:    key,
		TargetURL:   target,
		Kind:        kind,
		Snapshot:    snapshot,
		PayloadJSON: string(data),
	})
	if err != nil {
		log.Printf("store %s cache for %s failed: %v", kind, target, err)
	}
}

// InvalidateMemory 清掉某目标的内存缓存（删除项目时用）
func (s *ProjectService) InvalidateMemory(target string) {
	normalized := repository.NormalizeTargetURL(target)
	s.memMu.Lock()
	for key := range s.mem {
		if entryMatchesTarget(key, normalized) {
			delete(s.mem, key)
		}
	}
	s.memMu.Unlock()
}

// key 形如 kind:target:snapshot
func entryMatchesTarget(key, normalized string) bool {
	return normalized != "" && strings.Contains(key, ":"+normalized+":")
}

// TouchProject 写项目档案（零值字段不覆盖）
func (s *ProjectService) TouchProject(p *model.Project) {
	if err := s.projects.Upsert(p); err != nil {
		log.Printf("upsert project %s failed: %v", p.TargetURL, err)
	}
}

// DataStatus 某目标已有哪些数据：档案、各类缓存快照、清单统计、任务历史
func (s *ProjectService) DataStatus(target string) (map[string]interface{}, error) {
	normalized := repository.NormalizeTargetURL(target)
	status := map[string]interface{}{"target_url": normalized}

	project, err := s.projects.GetByTargetURL(normalized)
	if err == nil {
		status["project"] = project
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cached := map[string]interface{}{}
	for _, kind := range []string{model.CacheKindInspect, model.CacheKindAnalyze, model.CacheKindSitemap, model.CacheKindCheck} {
		snapshots, err := s.cache.ListSnapshots(normalized, kind, 30)
		if err != nil {
			return nil, err
		}
		if latest, ok := s.LookupLatest(kind, normalized); ok {
			cached[kind] = map[string]interface{}{
				"snapshots": snapshots,
				"latest_at": latest.CachedAt,
				"snapshot":  latest.Snapshot,
			}
		} else if len(snapshots) > 0 {
			cached[kind] = map[string]interface{}{"snapshots": snapshots}
		}
	}
	status["cached"] = cached

	if project != nil && project.LastSnapshot != "" {
		if counts, err := s.manifests.CountByStatus(normalized, project.LastSnapshot); err == nil && len(counts) > 0 {
			status["manifest"] = map[string]interface{}{
				"snapshot": project.LastSnapshot,
				"counts":   counts,
			}
		}
	}

	if records, err := s.jobsRepo.ListRecent(12); err == nil {
		var own []*model.JobRecord
		for _, rec := range records {
			if rec.TargetURL == normalized {
				own = append(own, rec)
			}
		}
		status["recent_jobs"] = own
	}

	return status, nil
}

// RecentProjects 最近的项目列表
func (s *ProjectService) RecentProjects(limit int) ([]*model.Project, error) {
	if limit < 1 {
		limit = 20
	}
	return s.projects.ListRecent(limit)
}

// DeleteResult 删除操作的统计
type DeleteResult struct {
	repository.DeleteCounts
	OutputDirsPurged []string `json:"output_dirs_purged,omitempty"`
}

// Delete 删除项目。purgeRelated 级联数据库数据；
// purgeOutput 为真时才显式删除磁盘输出目录，否则绝不碰磁盘。
func (s *ProjectService) Delete(target string, purgeRelated, purgeOutput bool) (*DeleteResult, error) {
	normalized := repository.NormalizeTargetURL(target)
	host := wayback.Host(normalized)

	// 删库前先收集要清的输出目录（按清单里出现过的快照）
	var outputDirs []string
	if purgeOutput && s.writer != nil {
		snapshots := map[string]struct{}{}
		if snaps, err := s.manifests.DistinctSnapshots(normalized); err == nil {
			for _, snap := range snaps {
				snapshots[snap] = struct{}{}
			}
		}
		if project, err := s.projects.GetByTargetURL(normalized); err == nil && project.LastSnapshot != "" {
			snapshots[project.LastSnapshot] = struct{}{}
		}
		for snap := range snapshots {
			if snap == "" {
				continue
			}
			outputDirs = append(outputDirs, s.writer.SiteDir(host, snap))
		}
	}

	counts, err := s.projects.Delete(normalized, purgeRelated)
	if err != nil {
		return nil, err
	}
	if counts.Projects == 0 && counts.CacheEntries == 0 && counts.ManifestEntries == 0 {
		return nil, ErrProjectNotFound
	}

	s.InvalidateMemory(normalized)

	result := &DeleteResult{DeleteCounts: *counts}
	for _, dir := range outputDirs {
		if err := s.writer.PurgeDir(dir); err != nil {
			log.Printf("purge output dir %s failed: %v", dir, err)
			continue
		}
		result.OutputDirsPurged = append(result.OutputDirsPurged, dir)
	}
	return result, nil
}
