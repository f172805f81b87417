package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/testutil"
)

func setupCronService(t *testing.T) (*Service, *gorm.DB, *scheduler.Scheduler) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	sched := scheduler.New(4)
	svc := NewService(sched,
		repository.NewCacheRepository(db),
		repository.NewJobRepository(db),
		&config.JobsConfig{RetentionSeconds: 1, CleanupIntervalSeconds: 3600},
		&config.RetentionConfig{
			DBPruneIntervalSeconds:  3600,
			DBCacheRetentionSeconds: 60,
			DBJobsRetentionSeconds:  60,
		})
	return svc, db, sched
}

func TestService_StartAndStop(t *testing.T) {
	svc, _, _ := setupCronService(t)

	svc.Start()
	time.Sleep(10 * time.Millisecond)
	svc.Stop()
}

func TestService_StopBeforeStart(t *testing.T) {
	svc, _, _ := setupCronService(t)

	// 未启动就停不应 panic
	svc.Stop()
}

func TestService_PruneDB(t *testing.T) {
	svc, db, _ := setupCronService(t)

	// 一条过期缓存、一条新鲜缓存
	old := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindAnalyze,
		"analyze:https://example.com:20200101000000", "{}")
	db.Model(old).Update("created_at", time.Now().Add(-2*time.Minute))
	testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindAnalyze,
		"analyze:https://example.com:20200601000000", "{}")

	// 一条过期历史、一条新鲜历史
	oldJob := testutil.TestJobRecord(t, db, "job-old", "download", "https://example.com",
		string(scheduler.StateDone))
	db.Model(oldJob).Update("created_at", time.Now().Add(-2*time.Minute))
	testutil.TestJobRecord(t, db, "job-new", "download", "https://example.com",
		string(scheduler.StateDone))

	prunedCache, prunedJobs := svc.PruneDB()
	assert.Equal(t, int64(1), prunedCache)
	assert.Equal(t, int64(1), prunedJobs)

	var remainingCache, remainingJobs int64
	db.Model(&model.CacheEntry{}).Count(&remainingCache)
	db.Model(&model.JobRecord{}).Count(&remainingJobs)
	assert.Equal(t, int64(1), remainingCache)
	assert.Equal(t, int64(1), remainingJobs)
}

func TestService_PruneDB_NilRepos(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)
	prunedCache, prunedJobs := svc.PruneDB()
	assert.Zero(t, prunedCache)
	assert.Zero(t, prunedJobs)
	assert.Zero(t, svc.SweepJobs())
}

func TestService_SweepJobs(t *testing.T) {
	svc, _, sched := setupCronService(t)

	status, err := sched.Submit(context.Background(), "inspect", "https://example.com", "",
		func(ctx context.Context, ctl *scheduler.Control) (interface{}, error) {
			return "ok", nil
		})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		js, err := sched.Status(status.JobID)
		require.NoError(t, err)
		if js.State == scheduler.StateDone {
			break
		}
		require.True(t, time.Now().Before(deadline), "job did not finish")
		time.Sleep(10 * time.Millisecond)
	}

	assert.Zero(t, svc.SweepJobs(), "fresh jobs stay within retention")

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, 1, svc.SweepJobs())
	_, err = sched.Status(status.JobID)
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}
