package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/archiver"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/pkg/cdxcache"
	"github.com/wbrx/wayback_go_server/internal/pkg/ratelimit"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/testutil"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// cdxHits 统计落到假归档上的 CDX 请求数
func newJobTestStack(t *testing.T) (*JobService, *ProjectService, *int64) {
	t.Helper()

	var cdxHits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.String(), "output=json") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt64(&cdxHits, 1)
		if r.URL.Query().Get("url") != "http://example.com/" {
			w.Write([]byte("[]"))
			return
		}
		w.Write([]byte(`[["timestamp","original","mimetype","length","urlkey"],` +
			`["20200601000000","http://example.com/","text/html","120","com,example)/"],` +
			`["20200701000000","http://example.com/","text/html","130","com,example)/"]]`))
	}))
	t.Cleanup(srv.Close)

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	writer, err := output.NewWriter(&config.OutputConfig{RootDir: t.TempDir()})
	require.NoError(t, err)

	waybackCfg := &config.WaybackConfig{
		CDXEndpoint:       srv.URL,
		ReplayEndpoint:    srv.URL,
		AvailableEndpoint: srv.URL,
		TimeoutSeconds:    5,
		MaxRetries:        1,
	}
	client := wayback.NewClient(waybackCfg, ratelimit.New(0), cdxcache.New(64, 0))
	resolver := wayback.NewResolver(client, 4)

	manifests := repository.NewManifestRepository(db)
	jobsRepo := repository.NewJobRepository(db)
	jobsCfg := &config.JobsConfig{
		MaxActive:           2,
		DefaultMaxFiles:     400,
		DefaultMissingLimit: 300,
		DefaultCDXLimit:     12000,
		DefaultDisplayLimit: 120,
	}
	engine := archiver.NewEngine(client, resolver, writer, manifests, jobsCfg)

	projects := NewProjectService(
		repository.NewProjectRepository(db),
		repository.NewCacheRepository(db),
		manifests,
		jobsRepo,
		writer,
		time.Hour, time.Hour,
	)
	sched := scheduler.New(jobsCfg.MaxActive, scheduler.WithHistory(jobsRepo))
	jobs := NewJobService(engine, sched, projects, jobsRepo)
	return jobs, projects, &cdxHits
}

func waitForJobDone(t *testing.T, jobs *JobService, jobID string) *scheduler.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := jobs.Status(jobID)
		require.NoError(t, err)
		if status, ok := raw.(*scheduler.JobStatus); ok {
			if status.State == scheduler.StateDone {
				return status
			}
			require.NotEqual(t, scheduler.StateError, status.State,
				"job failed: %s", status.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestJobService_StartValidation(t *testing.T) {
	jobs, _, _ := newJobTestStack(t)

	_, err := jobs.Start(context.Background(), KindInspect, JobParams{TargetURL: "   "})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = jobs.Start(context.Background(), "transcode", JobParams{TargetURL: "http://example.com"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestJobService_InspectThenCacheHit(t *testing.T) {
	jobs, _, cdxHits := newJobTestStack(t)

	status, err := jobs.Start(context.Background(), KindInspect, JobParams{TargetURL: "example.com"})
	require.NoError(t, err)
	done := waitForJobDone(t, jobs, status.JobID)

	payload, ok := done.Result.(*CachedPayload)
	require.True(t, ok)
	assert.Equal(t, SourceArchive, payload.Source)
	result, ok := payload.Data.(*archiver.InspectResult)
	require.True(t, ok)
	assert.Equal(t, 2, result.TotalCaptures)
	assert.Equal(t, "20200701000000", result.LatestOKSnapshot)

	firstHits := atomic.LoadInt64(cdxHits)
	require.Greater(t, firstHits, int64(0))

	// 第二次跑同一目标：内存缓存命中，不再打归档
	status, err = jobs.Start(context.Background(), KindInspect, JobParams{TargetURL: "https://www.example.com/"})
	require.NoError(t, err)
	done = waitForJobDone(t, jobs, status.JobID)

	payload, ok = done.Result.(*CachedPayload)
	require.True(t, ok)
	assert.Equal(t, SourceMemory, payload.Source)
	assert.Equal(t, firstHits, atomic.LoadInt64(cdxHits))
}

func TestJobService_ForceRefreshSkipsCache(t *testing.T) {
	jobs, _, cdxHits := newJobTestStack(t)

	status, err := jobs.Start(context.Background(), KindInspect, JobParams{TargetURL: "example.com"})
	require.NoError(t, err)
	waitForJobDone(t, jobs, status.JobID)
	firstHits := atomic.LoadInt64(cdxHits)

	status, err = jobs.Start(context.Background(), KindInspect,
		JobParams{TargetURL: "example.com", ForceRefresh: true})
	require.NoError(t, err)
	done := waitForJobDone(t, jobs, status.JobID)

	payload, ok := done.Result.(*CachedPayload)
	require.True(t, ok)
	assert.Equal(t, SourceArchive, payload.Source)
	assert.Greater(t, atomic.LoadInt64(cdxHits), firstHits)
}

func TestJobService_InspectTouchesProject(t *testing.T) {
	jobs, projects, _ := newJobTestStack(t)

	status, err := jobs.Start(context.Background(), KindInspect, JobParams{TargetURL: "example.com"})
	require.NoError(t, err)
	waitForJobDone(t, jobs, status.JobID)

	project, err := projects.projects.GetByTargetURL("example.com")
	require.NoError(t, err)
	assert.Equal(t, "20200701000000", project.LastSnapshot)
}

func TestJobService_StatusFallsBackToHistory(t *testing.T) {
	jobs, _, _ := newJobTestStack(t)

	testJobID := "0123456789abcdef0123456789abcdef"
	require.NoError(t, jobs.jobsRepo.Record(
		testJobID, KindDownload, "https://example.com", "20200601000000",
		string(scheduler.StateDone), map[string]int{"downloaded": 9}, ""))

	raw, err := jobs.Status(testJobID)
	require.NoError(t, err)
	archived, ok := raw.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testJobID, archived["job_id"])
	assert.Equal(t, string(scheduler.StateDone), archived["state"])
	assert.Equal(t, true, archived["archived"])

	_, err = jobs.Status("missing-job")
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestJobService_CheckWithoutSnapshotOrProject(t *testing.T) {
	jobs, _, _ := newJobTestStack(t)

	status, err := jobs.Start(context.Background(), KindCheck, JobParams{TargetURL: "nosuch.example.org"})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := jobs.Status(status.JobID)
		require.NoError(t, err)
		js := raw.(*scheduler.JobStatus)
		if js.State == scheduler.StateError {
			assert.Contains(t, js.Error, "目标站点地址无效")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("check job did not fail in time")
}
