package archiver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// InventoryItem 索引清单中的一个资源
type InventoryItem struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	MimeType  string `json:"mimetype"`
	Length    int64  `json:"length"`
}

// AnalyzeResult 快照分析结果
type AnalyzeResult struct {
	TargetURL    string           `json:"target_url"`
	Snapshot     string           `json:"snapshot"`
	TotalFiles   int              `json:"total_files"`
	TotalSize    int64            `json:"total_size"`
	MimeCounts   map[string]int   `json:"mime_counts"`
	ExtCounts    map[string]int   `json:"ext_counts"`
	FolderCounts map[string]int   `json:"folder_counts"`
	SitePages    []string         `json:"site_pages"`
	Inventory    []InventoryItem  `json:"inventory"`
	Signals      Signals          `json:"signals"`
	WordPress    *WordPressDetail `json:"wordpress,omitempty"`
	SiteType     string           `json:"site_type"`
}

// Analyze 分析某快照的资源构成。snapshot 为空时取最新可用快照。
// force 为真时索引查询绕过进程内缓存重新出网。
func (e *Engine) Analyze(ctx context.Context, ctl JobControl, target, snapshot string, cdxLimit int, force bool) (*AnalyzeResult, error) {
	target = wayback.NormalizeTarget(target)
	limit := e.cdxLimit(cdxLimit)

	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}

	if snapshot == "" {
		var err error
		snapshot, err = e.latestSnapshot(ctx, target, force)
		if err != nil {
			return nil, err
		}
	}

	ctl.SetProgress(scheduler.Progress{Stage: pubsub.StageListing, Percent: 10, CurrentItem: target})

	captures, err := e.client.ListCaptures(ctx, wayback.WildcardURL(target), wayback.ListOptions{
		To:           snapshot,
		Limit:        limit,
		Collapse:     true,
		OKOnly:       true,
		ForceRefresh: force,
	})
	if err != nil {
		if errors.Is(err, wayback.ErrNotFound) {
			return nil, wayback.ErrNoSnapshots
		}
		return nil, err
	}
	if len(captures) == 0 {
		return nil, wayback.ErrNoSnapshots
	}

	result := &AnalyzeResult{
		TargetURL:    target,
		Snapshot:     snapshot,
		MimeCounts:   map[string]int{},
		ExtCounts:    map[string]int{},
		FolderCounts: map[string]int{},
	}

	seen := map[string]struct{}{}
	var allURLs []string
	for i, capture := range captures {
		// 每批行检查一次控制点
		if i%200 == 0 {
			if err := ctl.Checkpoint(ctx); err != nil {
				return result, err
			}
			ctl.SetProgress(scheduler.Progress{
				Stage:   pubsub.StageListing,
				Percent: 10 + float64(i)/float64(len(captures))*70,
				Done:    i,
				Total:   len(captures),
			})
		}

		clean := wayback.CleanURL(capture.Original)
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		result.Inventory = append(result.Inventory, InventoryItem{
			URL:       clean,
			Timestamp: capture.Timestamp,
			MimeType:  capture.MimeType,
			Length:    capture.Length,
		})
		allURLs = append(allURLs, clean)
		result.TotalFiles++
		result.TotalSize += capture.Length

		mime := capture.MimeType
		if mime == "" {
			mime = "unknown"
		}
		result.MimeCounts[mime]++
		result.ExtCounts[extOf(clean)]++
		result.FolderCounts[topFolder(clean)]++

		if wayback.IsPageURL(clean) {
			result.SitePages = append(result.SitePages, clean)
		}
	}
	sort.Strings(result.SitePages)

	// 首页内容辅助识别建站平台；取不到不影响结果
	var homepage []byte
	if body, err := e.client.FetchFile(ctx, snapshot, wayback.RootURL(target)); err == nil {
		homepage = body
	}

	result.Signals = detectSignals(allURLs, homepage)
	if result.Signals.WordPress {
		result.WordPress = wordpressDetail(allURLs)
	}
	result.SiteType = guessSiteType(result.Signals)

	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageListing,
		Percent: 100,
		Done:    len(captures),
		Total:   len(captures),
	})
	return result, nil
}

// latestSnapshot 根页面最新 200 捕获；根页面没有时退回站点通配
func (e *Engine) latestSnapshot(ctx context.Context, target string, force bool) (string, error) {
	captures, err := e.client.ListCaptures(ctx, wayback.RootURL(target),
		wayback.ListOptions{OKOnly: true, ForceRefresh: force})
	if err != nil && !errors.Is(err, wayback.ErrNotFound) {
		return "", err
	}
	latest := ""
	for _, c := range captures {
		if c.Timestamp > latest {
			latest = c.Timestamp
		}
	}
	if latest != "" {
		return latest, nil
	}

	captures, err = e.client.ListCaptures(ctx, wayback.WildcardURL(target),
		wayback.ListOptions{OKOnly: true, Limit: 1000, ForceRefresh: force})
	if err != nil {
		if errors.Is(err, wayback.ErrNotFound) {
			return "", wayback.ErrNoSnapshots
		}
		return "", err
	}
	for _, c := range captures {
		if c.Timestamp > latest {
			latest = c.Timestamp
		}
	}
	if latest == "" {
		return "", wayback.ErrNoSnapshots
	}
	return latest, nil
}

func extOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "none"
	}
	p := parsed.Path
	slash := strings.LastIndex(p, "/")
	dot := strings.LastIndex(p, ".")
	if dot <= slash {
		return "none"
	}
	return strings.ToLower(p[dot+1:])
}

func topFolder(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" {
		return "/"
	}
	return segments[0]
}

// BatchItem 批量分析里单个快照的摘要
type BatchItem struct {
	Snapshot   string `json:"snapshot"`
	SiteType   string `json:"site_type,omitempty"`
	TotalFiles int    `json:"total_files"`
	TotalSize  int64  `json:"total_size"`
	Error      string `json:"error,omitempty"`
}

// AnalyzeBatchResult 批量分析结果
type AnalyzeBatchResult struct {
	TargetURL string      `json:"target_url"`
	Items     []BatchItem `json:"items"`
}

// AnalyzeBatch 分析最近 count 个（按天去重的）快照。
// analyzeOne 由调用方注入，便于套缓存；单个快照失败不中断整批。
func (e *Engine) AnalyzeBatch(
	ctx context.Context,
	ctl JobControl,
	target string,
	count int,
	analyzeOne func(ctx context.Context, snapshot string) (*AnalyzeResult, error),
) (*AnalyzeBatchResult, error) {
	target = wayback.NormalizeTarget(target)
	count = e.analyzeBatchSize(count)

	timestamps, err := e.client.ListTimestamps(ctx, wayback.RootURL(target), "")
	if err != nil {
		if errors.Is(err, wayback.ErrNotFound) {
			return nil, wayback.ErrNoSnapshots
		}
		return nil, err
	}
	snapshots := latestPerDay(timestamps, count)
	if len(snapshots) == 0 {
		return nil, wayback.ErrNoSnapshots
	}

	result := &AnalyzeBatchResult{TargetURL: target}
	for i, snapshot := range snapshots {
		if err := ctl.Checkpoint(ctx); err != nil {
			return result, err
		}
		ctl.SetProgress(scheduler.Progress{
			Stage:       pubsub.StageListing,
			Percent:     float64(i) / float64(len(snapshots)) * 100,
			CurrentItem: snapshot,
			Done:        i,
			Total:       len(snapshots),
		})

		item := BatchItem{Snapshot: snapshot}
		analysis, err := analyzeOne(ctx, snapshot)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.SiteType = analysis.SiteType
			item.TotalFiles = analysis.TotalFiles
			item.TotalSize = analysis.TotalSize
		}
		result.Items = append(result.Items, item)
	}

	if len(result.Items) == 0 {
		return nil, fmt.Errorf("没有可分析的快照")
	}
	return result, nil
}

// latestPerDay 每天只留最新一条，取最近 count 天
func latestPerDay(sorted []string, count int) []string {
	byDay := map[string]string{}
	var days []string
	for _, ts := range sorted {
		if len(ts) < 8 {
			continue
		}
		day := ts[:8]
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		if ts > byDay[day] {
			byDay[day] = ts
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > count {
		days = days[:count]
	}
	out := make([]string, 0, len(days))
	for _, day := range days {
		out = append(out, byDay[day])
	}
	return out
}
