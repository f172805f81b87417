package wayback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/pkg/cdxcache"
	"github.com/wbrx/wayback_go_server/internal/pkg/ratelimit"
)

func newTestClient(t *testing.T, cdxURL, replayURL, availableURL string) *Client {
	t.Helper()
	cfg := &config.WaybackConfig{
		CDXEndpoint:         cdxURL,
		ReplayEndpoint:      replayURL,
		AvailableEndpoint:   availableURL,
		TimeoutSeconds:      5,
		MaxRetries:          3,
		UnavailableHoldSecs: 1,
	}
	return NewClient(cfg, ratelimit.New(0), cdxcache.New(16, 0))
}

const cdxBody = `[["timestamp","original","mimetype","length","urlkey"],
["20200101000000","http://www.example.com/","text/html","5120","com,example)/"],
["20200102000000","http://www.example.com/style.css","text/css","800","com,example)/style.css"]]`

func TestClient_ListCaptures(t *testing.T) {
	var queries atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries.Add(1)
		assert.Equal(t, "example.com/*", r.URL.Query().Get("url"))
		assert.Equal(t, "statuscode:200", r.URL.Query().Get("filter"))
		assert.Equal(t, "urlkey", r.URL.Query().Get("collapse"))
		w.Write([]byte(cdxBody))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	captures, err := client.ListCaptures(context.Background(), "example.com/*", ListOptions{Collapse: true, OKOnly: true})
	require.NoError(t, err)
	require.Len(t, captures, 2)
	assert.Equal(t, "20200101000000", captures[0].Timestamp)
	assert.Equal(t, "text/css", captures[1].MimeType)
	assert.Equal(t, int64(800), captures[1].Length)

	// 相同查询命中缓存，不再出网
	_, err = client.ListCaptures(context.Background(), "example.com/*", ListOptions{Collapse: true, OKOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), queries.Load())
}

func TestClient_ListCapturesForceRefresh(t *testing.T) {
	var queries atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries.Add(1)
		w.Write([]byte(cdxBody))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	opts := ListOptions{Collapse: true, OKOnly: true}
	_, err := client.ListCaptures(context.Background(), "example.com/*", opts)
	require.NoError(t, err)
	require.Equal(t, int64(1), queries.Load())

	// 强制刷新绕过缓存重新出网
	opts.ForceRefresh = true
	_, err = client.ListCaptures(context.Background(), "example.com/*", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), queries.Load())

	// 刷新后的结果回填缓存，普通查询继续命中
	opts.ForceRefresh = false
	_, err = client.ListCaptures(context.Background(), "example.com/*", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), queries.Load())
}

func TestClient_ListCapturesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	captures, err := client.ListCaptures(context.Background(), "nothing.example/*", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, captures)
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("file content"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	body, err := client.FetchFile(context.Background(), "20200101000000", "http://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "file content", string(body))
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_NotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	_, err := client.FetchFile(context.Background(), "20200101000000", "http://example.com/a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), calls.Load(), "404 should not be retried")
}

func TestClient_ForbiddenIsFatal(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	_, err := client.FetchFile(context.Background(), "20200101000000", "http://example.com/a")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrNotFound, "403 is not a missing resource")
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_GoneIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	_, err := client.FetchFile(context.Background(), "20200101000000", "http://example.com/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ServiceUnavailableHold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	_, err := client.FetchFile(context.Background(), "20200101000000", "http://example.com/a")
	assert.ErrorIs(t, err, ErrTransient)

	// 冷却期内直接快速失败，不出网
	start := time.Now()
	_, err = client.FetchFile(context.Background(), "20200101000000", "http://example.com/b")
	assert.ErrorIs(t, err, ErrTransient)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestClient_ReplayURL(t *testing.T) {
	client := newTestClient(t, "http://cdx.test", "https://web.archive.org/web", "http://avail.test")
	assert.Equal(t,
		"https://web.archive.org/web/20200101000000id_/http://example.com/style.css",
		client.ReplayURL("20200101000000", "http://example.com/style.css"))
}

func TestClient_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://example.com/", r.URL.Query().Get("url"))
		w.Write([]byte(`{"archived_snapshots":{"closest":{"timestamp":"20190601000000","url":"http://web.archive.org/web/20190601000000/http://example.com/","status":"200"}}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	snap, err := client.Available(context.Background(), "http://example.com/", "20200101")
	require.NoError(t, err)
	assert.Equal(t, "20190601000000", snap.Timestamp)
}

func TestClient_AvailableEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"archived_snapshots":{}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL, srv.URL)
	_, err := client.Available(context.Background(), "http://example.com/", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
