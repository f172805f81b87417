package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wbrx/wayback_go_server/internal/archiver"
	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

var (
	ErrUnknownKind   = errors.New("未知任务类型")
	ErrInvalidTarget = errors.New("目标站点地址无效")
)

// 支持的任务类型
const (
	KindInspect         = "inspect"
	KindAnalyze         = "analyze"
	KindAnalyzeBatch    = "analyze-batch"
	KindSitemap         = "sitemap"
	KindCheck           = "check"
	KindDownload        = "download"
	KindDownloadMissing = "download-missing"
)

// JobParams 任务启动参数
type JobParams struct {
	TargetURL    string `json:"target_url"`
	Snapshot     string `json:"snapshot"`
	MaxFiles     int    `json:"max_files"`
	MissingLimit int    `json:"missing_limit"`
	CDXLimit     int    `json:"cdx_limit"`
	DisplayLimit int    `json:"display_limit"`
	AnalyzeCount int    `json:"analyze_count"`
	ForceRefresh bool   `json:"force_refresh"`
}

// JobService 把任务类型映射到引擎操作并交给调度器执行
type JobService struct {
	engine   *archiver.Engine
	sched    *scheduler.Scheduler
	projects *ProjectService
	jobsRepo *repository.JobRepository
}

func NewJobService(
	engine *archiver.Engine,
	sched *scheduler.Scheduler,
	projects *ProjectService,
	jobsRepo *repository.JobRepository,
) *JobService {
	return &JobService{
		engine:   engine,
		sched:    sched,
		projects: projects,
		jobsRepo: jobsRepo,
	}
}

// Start 校验参数并提交任务；槽位占满时返回 scheduler.ErrBusy
func (s *JobService) Start(ctx context.Context, kind string, p JobParams) (*scheduler.JobStatus, error) {
	target := wayback.NormalizeTarget(p.TargetURL)
	if target == "" || wayback.Host(target) == "" {
		return nil, ErrInvalidTarget
	}
	p.TargetURL = target

	var handler scheduler.HandlerFunc
	switch kind {
	case KindInspect:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runInspect(ctx, ctl, p)
		}
	case KindAnalyze:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runAnalyze(ctx, ctl, p)
		}
	case KindAnalyzeBatch:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runAnalyzeBatch(ctx, ctl, p)
		}
	case KindSitemap:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runSitemap(ctx, ctl, p)
		}
	case KindCheck:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runCheck(ctx, ctl, p)
		}
	case KindDownload:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runDownload(ctx, ctl, p)
		}
	case KindDownloadMissing:
		handler = func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return s.runDownloadMissing(ctx, ctl, p)
		}
	default:
		return nil, ErrUnknownKind
	}

	return s.sched.Submit(ctx, kind, target, p.Snapshot, handler)
}

// Status 先查内存中的任务，再回退到历史记录
func (s *JobService) Status(jobID string) (interface{}, error) {
	status, err := s.sched.Status(jobID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, scheduler.ErrJobNotFound) {
		return nil, err
	}

	rec, recErr := s.jobsRepo.GetByJobID(jobID)
	if recErr != nil {
		return nil, scheduler.ErrJobNotFound
	}
	var summary interface{}
	if rec.SummaryJSON != "" {
		var raw json.RawMessage = []byte(rec.SummaryJSON)
		summary = raw
	}
	return map[string]interface{}{
		"job_id":      rec.JobID,
		"kind":        rec.Kind,
		"target_url":  rec.TargetURL,
		"snapshot":    rec.Snapshot,
		"state":       rec.State,
		"result":      summary,
		"error":       rec.Error,
		"finished_at": rec.FinishedAt,
		"archived":    true,
	}, nil
}

func (s *JobService) Pause(jobID string) error  { return s.sched.Pause(jobID) }
func (s *JobService) Resume(jobID string) error { return s.sched.Resume(jobID) }
func (s *JobService) Stop(jobID string) error   { return s.sched.Stop(jobID) }

// ListJobs 内存中的全部任务
func (s *JobService) ListJobs() []*scheduler.JobStatus {
	return s.sched.List()
}

func (s *JobService) runInspect(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	if !p.ForceRefresh {
		if payload, ok := s.projects.Lookup(model.CacheKindInspect, p.TargetURL, ""); ok {
			return payload, nil
		}
	}

	result, err := s.engine.Inspect(ctx, ctl, p.TargetURL, p.DisplayLimit, p.ForceRefresh)
	if err != nil {
		return nil, err
	}
	s.projects.Store(model.CacheKindInspect, p.TargetURL, "", result)
	s.projects.TouchProject(&model.Project{
		TargetURL:    p.TargetURL,
		LastSnapshot: result.LatestOKSnapshot,
	})
	return &CachedPayload{Source: SourceArchive, CachedAt: time.Now(), Data: result}, nil
}

// analysisFor 拿某快照的分析结果：缓存命中直接用，否则跑引擎并回填缓存
func (s *JobService) analysisFor(ctx context.Context, ctl archiver.JobControl, target, snapshot string, cdxLimit int, force bool) (*archiver.AnalyzeResult, string, error) {
	if !force {
		var payload *CachedPayload
		var ok bool
		if snapshot != "" {
			payload, ok = s.projects.Lookup(model.CacheKindAnalyze, target, snapshot)
		} else {
			payload, ok = s.projects.LookupLatest(model.CacheKindAnalyze, target)
		}
		if ok {
			switch data := payload.Data.(type) {
			case *archiver.AnalyzeResult:
				return data, payload.Source, nil
			case json.RawMessage:
				var analysis archiver.AnalyzeResult
				if err := json.Unmarshal(data, &analysis); err == nil && analysis.TargetURL != "" {
					return &analysis, payload.Source, nil
				}
			}
		}
	}

	analysis, err := s.engine.Analyze(ctx, ctl, target, snapshot, cdxLimit, force)
	if err != nil {
		return nil, "", err
	}
	s.projects.Store(model.CacheKindAnalyze, target, analysis.Snapshot, analysis)
	s.projects.TouchProject(&model.Project{
		TargetURL:          target,
		LastSnapshot:       analysis.Snapshot,
		LastSiteType:       analysis.SiteType,
		LastEstimatedFiles: analysis.TotalFiles,
		LastEstimatedSize:  analysis.TotalSize,
	})
	return analysis, SourceArchive, nil
}

func (s *JobService) runAnalyze(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	analysis, source, err := s.analysisFor(ctx, ctl, p.TargetURL, p.Snapshot, p.CDXLimit, p.ForceRefresh)
	if err != nil {
		return nil, err
	}
	return &CachedPayload{Source: source, CachedAt: time.Now(), Snapshot: analysis.Snapshot, Data: analysis}, nil
}

func (s *JobService) runAnalyzeBatch(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	return s.engine.AnalyzeBatch(ctx, ctl, p.TargetURL, p.AnalyzeCount,
		func(ctx context.Context, snapshot string) (*archiver.AnalyzeResult, error) {
			analysis, _, err := s.analysisFor(ctx, ctl, p.TargetURL, snapshot, p.CDXLimit, p.ForceRefresh)
			return analysis, err
		})
}

func (s *JobService) runSitemap(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	if !p.ForceRefresh && p.Snapshot != "" {
		if payload, ok := s.projects.Lookup(model.CacheKindSitemap, p.TargetURL, p.Snapshot); ok {
			return payload, nil
		}
	}

	analysis, _, err := s.analysisFor(ctx, ctl, p.TargetURL, p.Snapshot, p.CDXLimit, p.ForceRefresh)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Sitemap(ctx, ctl, analysis, p.DisplayLimit)
	if err != nil {
		return nil, err
	}
	s.projects.Store(model.CacheKindSitemap, p.TargetURL, analysis.Snapshot, result)
	return &CachedPayload{Source: SourceArchive, CachedAt: time.Now(), Snapshot: analysis.Snapshot, Data: result}, nil
}

func (s *JobService) runCheck(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	snapshot := p.Snapshot
	if snapshot == "" {
		if project, err := s.projects.projects.GetByTargetURL(p.TargetURL); err == nil {
			snapshot = project.LastSnapshot
		}
	}
	if snapshot == "" {
		return nil, ErrInvalidTarget
	}

	result, err := s.engine.Check(ctx, ctl, p.TargetURL, snapshot, p.CDXLimit)
	if err != nil {
		return nil, err
	}
	s.projects.Store(model.CacheKindCheck, p.TargetURL, snapshot, result)
	return &CachedPayload{Source: SourceArchive, CachedAt: time.Now(), Snapshot: snapshot, Data: result}, nil
}

func (s *JobService) runDownload(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	analysis, _, err := s.analysisFor(ctx, ctl, p.TargetURL, p.Snapshot, p.CDXLimit, p.ForceRefresh)
	if err != nil {
		return nil, err
	}

	result, downloadErr := s.engine.Download(ctx, ctl, analysis, p.MaxFiles)
	if result != nil {
		s.projects.TouchProject(&model.Project{
			TargetURL:          p.TargetURL,
			LastOutputRoot:     result.OutputDir,
			LastSnapshot:       analysis.Snapshot,
			LastSiteType:       analysis.SiteType,
			LastEstimatedFiles: analysis.TotalFiles,
			LastEstimatedSize:  analysis.TotalSize,
		})
	}
	// 停止信号原样上抛，调度器会把部分结果记为完成
	return result, downloadErr
}

func (s *JobService) runDownloadMissing(ctx context.Context, ctl *scheduler.Control, p JobParams) (interface{}, error) {
	snapshot := p.Snapshot
	if snapshot == "" {
		if project, err := s.projects.projects.GetByTargetURL(p.TargetURL); err == nil {
			snapshot = project.LastSnapshot
		}
	}
	if snapshot == "" {
		return nil, ErrInvalidTarget
	}
	return s.engine.DownloadMissing(ctx, ctl, p.TargetURL, snapshot, p.MissingLimit, p.CDXLimit)
}
