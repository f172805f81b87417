package cron

import (
	"log"
	"time"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
)

// Service 后台定时清理：
// 定期把过期的数据库缓存和任务历史删掉，并清理调度器里的终态任务。
type Service struct {
	sched    *scheduler.Scheduler
	cache    *repository.CacheRepository
	jobsRepo *repository.JobRepository

	jobsCfg      *config.JobsConfig
	retentionCfg *config.RetentionConfig

	stopChan chan struct{}
}

func NewService(
	sched *scheduler.Scheduler,
	cache *repository.CacheRepository,
	jobsRepo *repository.JobRepository,
	jobsCfg *config.JobsConfig,
	retentionCfg *config.RetentionConfig,
) *Service {
	return &Service{
		sched:        sched,
		cache:        cache,
		jobsRepo:     jobsRepo,
		jobsCfg:      jobsCfg,
		retentionCfg: retentionCfg,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runJobSweep()
	go s.runDBPrune()
	log.Println("Cron service started (job sweep + db prune)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) jobSweepInterval() time.Duration {
	if s.jobsCfg != nil && s.jobsCfg.CleanupIntervalSeconds > 0 {
		return time.Duration(s.jobsCfg.CleanupIntervalSeconds) * time.Second
	}
	return 60 * time.Second
}

func (s *Service) jobRetention() time.Duration {
	if s.jobsCfg != nil && s.jobsCfg.RetentionSeconds > 0 {
		return time.Duration(s.jobsCfg.RetentionSeconds) * time.Second
	}
	return time.Hour
}

func (s *Service) dbPruneInterval() time.Duration {
	if s.retentionCfg != nil && s.retentionCfg.DBPruneIntervalSeconds > 0 {
		return time.Duration(s.retentionCfg.DBPruneIntervalSeconds) * time.Second
	}
	return time.Hour
}

func (s *Service) cacheRetention() time.Duration {
	if s.retentionCfg != nil && s.retentionCfg.DBCacheRetentionSeconds > 0 {
		return time.Duration(s.retentionCfg.DBCacheRetentionSeconds) * time.Second
	}
	return 14 * 24 * time.Hour
}

func (s *Service) jobsHistoryRetention() time.Duration {
	if s.retentionCfg != nil && s.retentionCfg.DBJobsRetentionSeconds > 0 {
		return time.Duration(s.retentionCfg.DBJobsRetentionSeconds) * time.Second
	}
	return 7 * 24 * time.Hour
}

// runJobSweep 周期清理调度器里的终态任务
func (s *Service) runJobSweep() {
	ticker := time.NewTicker(s.jobSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.SweepJobs()
		}
	}
}

// runDBPrune 周期清理数据库里过期的缓存和历史
func (s *Service) runDBPrune() {
	ticker := time.NewTicker(s.dbPruneInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.PruneDB()
		}
	}
}

// SweepJobs 立即清理一轮终态任务（定时器和手动触发共用）
func (s *Service) SweepJobs() int {
	if s.sched == nil {
		return 0
	}
	swept := s.sched.Sweep(s.jobRetention())
	if swept > 0 {
		log.Printf("Job sweep: removed %d finished jobs", swept)
	}
	return swept
}

// PruneDB 立即清理一轮数据库，返回删掉的缓存行数和历史行数
func (s *Service) PruneDB() (int64, int64) {
	var prunedCache, prunedJobs int64

	if s.cache != nil {
		n, err := s.cache.PruneOlderThan(s.cacheRetention())
		if err != nil {
			log.Printf("DB prune: cache entries failed: %v", err)
		} else {
			prunedCache = n
		}
	}
	if s.jobsRepo != nil {
		n, err := s.jobsRepo.PruneOlderThan(s.jobsHistoryRetention())
		if err != nil {
			log.Printf("DB prune: job records failed: %v", err)
		} else {
			prunedJobs = n
		}
	}

	if prunedCache > 0 || prunedJobs > 0 {
		log.Printf("DB prune summary: cache=%d, jobs=%d", prunedCache, prunedJobs)
	}
	return prunedCache, prunedJobs
}
