package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/pkg/cdxcache"
	"github.com/wbrx/wayback_go_server/internal/pkg/ratelimit"
)

// Client 归档服务客户端。
// 所有出站请求经过全局限速器；索引查询结果进入进程内 LRU 缓存。
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cdxcache.Cache

	cdxEndpoint       string
	replayEndpoint    string
	availableEndpoint string
	maxRetries        int
	holdDuration      time.Duration

	mu              sync.Mutex
	unavailableTill time.Time
}

// NewClient 创建客户端；limiter 与 cache 由调用方注入，进程内共享
func NewClient(cfg *config.WaybackConfig, limiter *ratelimit.Limiter, cache *cdxcache.Cache) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}
	hold := time.Duration(cfg.UnavailableHoldSecs) * time.Second
	if hold <= 0 {
		hold = 120 * time.Second
	}
	return &Client{
		httpClient:        &http.Client{Timeout: timeout},
		limiter:           limiter,
		cache:             cache,
		cdxEndpoint:       cfg.CDXEndpoint,
		replayEndpoint:    cfg.ReplayEndpoint,
		availableEndpoint: cfg.AvailableEndpoint,
		maxRetries:        maxRetries,
		holdDuration:      hold,
	}
}

// ListOptions 捕获索引查询参数
type ListOptions struct {
	To           string // 时间上界（14 位时间戳前缀）
	Limit        int
	Collapse     bool // 按 urlkey 去重，只留每个地址最新一条
	OKOnly       bool // 只要 statuscode=200 的捕获
	ForceRefresh bool // 跳过缓存读取直接出网，新结果仍回填缓存
}

// CacheStats 索引缓存命中统计
func (c *Client) CacheStats() cdxcache.Stats {
	return c.cache.Stats()
}

func (c *Client) markUnavailable() {
	c.mu.Lock()
	c.unavailableTill = time.Now().Add(c.holdDuration)
	c.mu.Unlock()
	log.Printf("archive marked unavailable for %v", c.holdDuration)
}

func (c *Client) checkAvailable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.unavailableTill) {
		return fmt.Errorf("%w: 冷却期未结束", ErrTransient)
	}
	return nil
}

// 重试间隔 0.6s * 2^attempt
func retryDelay(attempt int) time.Duration {
	return time.Duration(float64(600*time.Millisecond) * math.Pow(2, float64(attempt)))
}

func (c *Client) doWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.checkAvailable(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "wayback-go-server/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = fmt.Errorf("%w: %v", ErrTransient, readErr)
				continue
			}
			return body, nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusServiceUnavailable:
			c.markUnavailable()
			return nil, fmt.Errorf("%w: 上游返回 503", ErrTransient)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: 上游返回 %d", ErrTransient, resp.StatusCode)
			continue
		default:
			// 403/400 之类不代表资源不存在，按致命错误上抛
			return nil, fmt.Errorf("%w: 上游返回 %d", ErrUpstream, resp.StatusCode)
		}
	}
	if lastErr == nil {
		lastErr = ErrTransient
	}
	return nil, lastErr
}

// ListCaptures 查询捕获索引。matchURL 可为具体地址或 host/* 通配。
// 只返回 statuscode=200 的捕获；结果写入 LRU 缓存。
func (c *Client) ListCaptures(ctx context.Context, matchURL string, opts ListOptions) ([]Capture, error) {
	params := url.Values{}
	params.Set("url", matchURL)
	params.Set("output", "json")
	params.Set("fl", "timestamp,original,mimetype,length,urlkey")
	if opts.OKOnly {
		params.Set("filter", "statuscode:200")
	}
	if opts.Collapse {
		params.Set("collapse", "urlkey")
	}
	if opts.To != "" {
		params.Set("to", opts.To)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	queryURL := c.cdxEndpoint + "?" + params.Encode()

	if !opts.ForceRefresh {
		if cached, ok := c.cache.Get(queryURL); ok {
			return cached.([]Capture), nil
		}
	}

	body, err := c.doWithRetry(ctx, queryURL)
	if err != nil {
		return nil, err
	}

	captures, err := parseCDXResponse(body)
	if err != nil {
		return nil, err
	}

	c.cache.Put(queryURL, captures)
	return captures, nil
}

// parseCDXResponse 解析 CDX JSON（首行是表头）
func parseCDXResponse(body []byte) ([]Capture, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "[]" {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("解析索引响应失败: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}

	captures := make([]Capture, 0, len(rows)-1)
	for _, row := range rows[1:] {
		capture := Capture{}
		if i, ok := idx["timestamp"]; ok && i < len(row) {
			capture.Timestamp = row[i]
		}
		if i, ok := idx["original"]; ok && i < len(row) {
			capture.Original = row[i]
		}
		if i, ok := idx["mimetype"]; ok && i < len(row) {
			capture.MimeType = row[i]
		}
		if i, ok := idx["length"]; ok && i < len(row) {
			capture.Length, _ = strconv.ParseInt(row[i], 10, 64)
		}
		if i, ok := idx["urlkey"]; ok && i < len(row) {
			capture.URLKey = row[i]
		}
		if capture.Timestamp == "" {
			continue
		}
		captures = append(captures, capture)
	}
	return captures, nil
}

// ListTimestamps 某个具体地址的全部 200 捕获时间戳，升序
func (c *Client) ListTimestamps(ctx context.Context, fileURL, to string) ([]string, error) {
	captures, err := c.ListCaptures(ctx, fileURL, ListOptions{To: to, OKOnly: true})
	if err != nil {
		return nil, err
	}
	timestamps := make([]string, 0, len(captures))
	for _, capture := range captures {
		timestamps = append(timestamps, capture.Timestamp)
	}
	return timestamps, nil
}

// ReplayURL 原样回放地址（id_ 后缀取未改写内容）
func (c *Client) ReplayURL(timestamp, fileURL string) string {
	return fmt.Sprintf("%s/%sid_/%s", strings.TrimRight(c.replayEndpoint, "/"), timestamp, fileURL)
}

// FetchFile 抓取某时间戳下的归档文件内容
func (c *Client) FetchFile(ctx context.Context, timestamp, fileURL string) ([]byte, error) {
	return c.doWithRetry(ctx, c.ReplayURL(timestamp, fileURL))
}

// AvailableSnapshot available 接口返回的最近快照
type AvailableSnapshot struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}

// Available 查询某地址在指定时间附近是否有可用快照（索引查不到时的兜底）
func (c *Client) Available(ctx context.Context, fileURL, timestamp string) (*AvailableSnapshot, error) {
	params := url.Values{}
	params.Set("url", fileURL)
	if timestamp != "" {
		params.Set("timestamp", timestamp)
	}
	queryURL := c.availableEndpoint + "?" + params.Encode()

	body, err := c.doWithRetry(ctx, queryURL)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ArchivedSnapshots struct {
			Closest *AvailableSnapshot `json:"closest"`
		} `json:"archived_snapshots"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("解析 available 响应失败: %w", err)
	}
	if payload.ArchivedSnapshots.Closest == nil || payload.ArchivedSnapshots.Closest.Timestamp == "" {
		return nil, ErrNotFound
	}
	return payload.ArchivedSnapshots.Closest, nil
}
