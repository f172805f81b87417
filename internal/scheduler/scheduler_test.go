package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/testutil"
)

func waitForState(t *testing.T, s *Scheduler, jobID string, want State) *JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := s.Status(jobID)
		require.NoError(t, err)
		if status.State == want {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	status, _ := s.Status(jobID)
	t.Fatalf("job %s never reached state %s, last: %+v", jobID, want, status)
	return nil
}

func TestScheduler_RunToDone(t *testing.T) {
	s := New(2)

	status, err := s.Submit(context.Background(), "inspect", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			ctl.SetProgress(Progress{Stage: "listing", Percent: 50})
			return map[string]int{"captures": 3}, nil
		})
	require.NoError(t, err)
	require.NotEmpty(t, status.JobID)
	assert.Len(t, status.JobID, 32)

	final := waitForState(t, s, status.JobID, StateDone)
	assert.Equal(t, float64(100), final.Progress.Percent)
	assert.NotNil(t, final.Result)
	assert.NotNil(t, final.FinishedAt)
}

func TestScheduler_HandlerError(t *testing.T) {
	s := New(2)

	status, err := s.Submit(context.Background(), "analyze", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			return nil, errors.New("archive unreachable")
		})
	require.NoError(t, err)

	final := waitForState(t, s, status.JobID, StateError)
	assert.Equal(t, "archive unreachable", final.Error)
}

func TestScheduler_BusyAtCap(t *testing.T) {
	s := New(2)
	release := make(chan struct{})

	blocker := func(ctx context.Context, ctl *Control) (interface{}, error) {
		<-release
		return nil, nil
	}

	_, err := s.Submit(context.Background(), "download", "https://a.example.com", "", blocker)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "download", "https://b.example.com", "", blocker)
	require.NoError(t, err)

	// 第三个提交应立即拒绝而不是排队
	_, err = s.Submit(context.Background(), "download", "https://c.example.com", "", blocker)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
}

func TestScheduler_SlotFreedAfterTerminal(t *testing.T) {
	s := New(1)

	status, err := s.Submit(context.Background(), "inspect", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	waitForState(t, s, status.JobID, StateDone)

	_, err = s.Submit(context.Background(), "inspect", "https://other.example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) { return nil, nil })
	assert.NoError(t, err, "terminal job must release its slot")
}

func TestScheduler_PauseResume(t *testing.T) {
	s := New(1)
	s.pausePollInterval = 10 * time.Millisecond

	var steps atomic.Int64
	status, err := s.Submit(context.Background(), "download", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			for i := 0; i < 1000; i++ {
				if err := ctl.Checkpoint(ctx); err != nil {
					return nil, err
				}
				steps.Add(1)
				time.Sleep(time.Millisecond)
			}
			return nil, nil
		})
	require.NoError(t, err)

	waitForState(t, s, status.JobID, StateRunning)
	require.NoError(t, s.Pause(status.JobID))
	// 重复暂停无害
	require.NoError(t, s.Pause(status.JobID))

	// 暂停生效后计数停止增长
	time.Sleep(50 * time.Millisecond)
	before := steps.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, steps.Load(), "paused job must not make progress")

	require.NoError(t, s.Resume(status.JobID))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && steps.Load() == before {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Greater(t, steps.Load(), before, "resumed job must make progress again")

	require.NoError(t, s.Stop(status.JobID))
	waitForState(t, s, status.JobID, StateDone)
}

func TestScheduler_StopWhilePaused(t *testing.T) {
	s := New(1)
	s.pausePollInterval = 10 * time.Millisecond

	status, err := s.Submit(context.Background(), "download", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			for {
				if err := ctl.Checkpoint(ctx); err != nil {
					// 带部分结果返回
					return map[string]string{"note": "partial"}, err
				}
				time.Sleep(time.Millisecond)
			}
		})
	require.NoError(t, err)

	waitForState(t, s, status.JobID, StateRunning)
	require.NoError(t, s.Pause(status.JobID))
	// 停止优先于暂停
	require.NoError(t, s.Stop(status.JobID))

	final := waitForState(t, s, status.JobID, StateDone)
	assert.NotNil(t, final.Result, "stopped job keeps partial result")
	assert.Empty(t, final.Error)
}

func TestScheduler_StopWhilePending(t *testing.T) {
	s := New(1)

	// 直接摆一个等待中的任务，停止先于执行到达
	j := &job{
		id:        "pending-job",
		kind:      "download",
		targetURL: "https://example.com",
		state:     StatePending,
		createdAt: time.Now(),
	}
	s.jobs[j.id] = j
	require.NoError(t, s.Stop(j.id))

	ran := false
	s.run(context.Background(), j, func(ctx context.Context, ctl *Control) (interface{}, error) {
		ran = true
		return nil, nil
	})

	assert.False(t, ran, "stopped job must not execute any unit")
	final, err := s.Status(j.id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, final.State)
	assert.Equal(t, float64(100), final.Progress.Percent)
	assert.Empty(t, final.Error)
}

func TestScheduler_ControlLegality(t *testing.T) {
	s := New(1)

	status, err := s.Submit(context.Background(), "inspect", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	waitForState(t, s, status.JobID, StateDone)

	// 终态任务不接受控制操作
	assert.ErrorIs(t, s.Pause(status.JobID), ErrConflict)
	assert.ErrorIs(t, s.Resume(status.JobID), ErrConflict)
	assert.ErrorIs(t, s.Stop(status.JobID), ErrConflict)

	assert.ErrorIs(t, s.Pause("missing"), ErrJobNotFound)
	_, err = s.Status("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_ProgressMonotonic(t *testing.T) {
	s := New(1)
	started := make(chan *Control)
	release := make(chan struct{})

	status, err := s.Submit(context.Background(), "download", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			started <- ctl
			<-release
			return nil, nil
		})
	require.NoError(t, err)
	ctl := <-started

	ctl.SetProgress(Progress{Stage: "fetching", Percent: 40, CurrentItem: "a.css"})
	ctl.SetProgress(Progress{Stage: "fetching", Percent: 20})
	got, err := s.Status(status.JobID)
	require.NoError(t, err)
	assert.Equal(t, float64(40), got.Progress.Percent, "percent must not go backwards")
	assert.Equal(t, "a.css", got.Progress.CurrentItem, "current item carried over when omitted")

	ctl.SetProgress(Progress{Stage: "writing", Percent: 250})
	got, err = s.Status(status.JobID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), got.Progress.Percent, "percent clamped to 100")

	close(release)
	waitForState(t, s, status.JobID, StateDone)
}

func TestScheduler_Sweep(t *testing.T) {
	s := New(4)

	done, err := s.Submit(context.Background(), "inspect", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	waitForState(t, s, done.JobID, StateDone)

	release := make(chan struct{})
	running, err := s.Submit(context.Background(), "download", "https://example.com", "",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			<-release
			return nil, nil
		})
	require.NoError(t, err)

	// 保留期内不清理
	assert.Equal(t, 0, s.Sweep(time.Hour))

	removed := s.Sweep(0)
	assert.Equal(t, 1, removed)
	_, err = s.Status(done.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// 运行中的任务永不清理
	_, err = s.Status(running.JobID)
	assert.NoError(t, err)
	close(release)
}

func TestScheduler_RecordsHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := repository.NewJobRepository(db)

	s := New(1, WithHistory(repo))

	status, err := s.Submit(context.Background(), "sitemap", "https://example.com", "20200101000000",
		func(ctx context.Context, ctl *Control) (interface{}, error) {
			return map[string]int{"groups": 2}, nil
		})
	require.NoError(t, err)
	waitForState(t, s, status.JobID, StateDone)

	// 历史写入是异步的，稍等
	var found bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, err := repo.GetByJobID(status.JobID); err == nil {
			assert.Equal(t, "sitemap", rec.Kind)
			assert.Equal(t, "done", rec.State)
			assert.Contains(t, rec.SummaryJSON, `"groups":2`)
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, found, "terminal job must be recorded in history")
}
