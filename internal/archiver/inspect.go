package archiver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// JobControl 引擎对调度器的最小依赖：检查点 + 进度上报
type JobControl interface {
	Checkpoint(ctx context.Context) error
	SetProgress(scheduler.Progress)
}

// VariantStat 单个地址变体的捕获统计
type VariantStat struct {
	Variant    string `json:"variant"`
	Captures   int    `json:"captures"`
	OKCaptures int    `json:"ok_captures"`
}

// YearBucket 快照日历的年桶
type YearBucket struct {
	Year   string         `json:"year"`
	Total  int            `json:"total"`
	Months map[string]int `json:"months"`
}

// InspectResult 巡检结果
type InspectResult struct {
	TargetURL        string        `json:"target_url"`
	TotalCaptures    int           `json:"total_captures"`
	OKCaptures       int           `json:"ok_captures"`
	FirstSnapshot    string        `json:"first_snapshot"`
	LatestSnapshot   string        `json:"latest_snapshot"`
	LatestOKSnapshot string        `json:"latest_ok_snapshot"`
	RecentSnapshots  []string      `json:"recent_snapshots"`
	Calendar         []YearBucket  `json:"calendar"`
	Variants         []VariantStat `json:"variants"`
	FallbackUsed     bool          `json:"fallback_used"`
}

// Inspect 汇总站点各地址变体的捕获记录，构建快照日历。
// 所有变体都查不到时退回 available 接口兜底。
// force 为真时索引查询绕过进程内缓存重新出网。
func (e *Engine) Inspect(ctx context.Context, ctl JobControl, target string, displayLimit int, force bool) (*InspectResult, error) {
	target = wayback.NormalizeTarget(target)
	variants := wayback.BuildVariants(target)
	if len(variants) == 0 {
		return nil, fmt.Errorf("无法解析目标站点: %s", target)
	}
	limit := e.displayLimit(displayLimit)

	result := &InspectResult{TargetURL: target}
	allSet := map[string]struct{}{}
	okSet := map[string]struct{}{}

	for i, variant := range variants {
		if err := ctl.Checkpoint(ctx); err != nil {
			return result, err
		}
		ctl.SetProgress(scheduler.Progress{
			Stage:       pubsub.StageListing,
			Percent:     float64(i) / float64(len(variants)) * 90,
			CurrentItem: variant,
			Done:        i,
			Total:       len(variants),
		})

		stat := VariantStat{Variant: variant}

		all, err := e.client.ListCaptures(ctx, variant, wayback.ListOptions{ForceRefresh: force})
		if err != nil && !errors.Is(err, wayback.ErrNotFound) {
			return result, err
		}
		for _, c := range all {
			allSet[c.Timestamp] = struct{}{}
		}
		stat.Captures = len(all)

		ok, err := e.client.ListCaptures(ctx, variant, wayback.ListOptions{OKOnly: true, ForceRefresh: force})
		if err != nil && !errors.Is(err, wayback.ErrNotFound) {
			return result, err
		}
		for _, c := range ok {
			okSet[c.Timestamp] = struct{}{}
		}
		stat.OKCaptures = len(ok)

		result.Variants = append(result.Variants, stat)
	}

	// 变体全空时退回 available 接口
	if len(allSet) == 0 {
		snap, err := e.client.Available(ctx, wayback.RootURL(target), "")
		if err != nil {
			if errors.Is(err, wayback.ErrNotFound) {
				return nil, wayback.ErrNoSnapshots
			}
			return nil, err
		}
		allSet[snap.Timestamp] = struct{}{}
		okSet[snap.Timestamp] = struct{}{}
		result.FallbackUsed = true
	}

	allTS := sortedTimestamps(allSet)
	okTS := sortedTimestamps(okSet)

	result.TotalCaptures = len(allTS)
	result.OKCaptures = len(okTS)
	result.FirstSnapshot = allTS[0]
	result.LatestSnapshot = allTS[len(allTS)-1]
	if len(okTS) > 0 {
		result.LatestOKSnapshot = okTS[len(okTS)-1]
	}
	result.Calendar = buildCalendar(okTS)
	result.RecentSnapshots = recentDescending(okTS, limit)

	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageListing,
		Percent: 100,
		Done:    len(variants),
		Total:   len(variants),
	})
	return result, nil
}

func sortedTimestamps(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for ts := range set {
		out = append(out, ts)
	}
	sort.Strings(out)
	return out
}

func recentDescending(sorted []string, limit int) []string {
	out := make([]string, 0, limit)
	for i := len(sorted) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, sorted[i])
	}
	return out
}

// buildCalendar 把升序时间戳聚合成年/月日历
func buildCalendar(sorted []string) []YearBucket {
	byYear := map[string]*YearBucket{}
	var years []string
	for _, ts := range sorted {
		if len(ts) < 6 {
			continue
		}
		year, month := ts[:4], ts[4:6]
		bucket, ok := byYear[year]
		if !ok {
			bucket = &YearBucket{Year: year, Months: map[string]int{}}
			byYear[year] = bucket
			years = append(years, year)
		}
		bucket.Total++
		bucket.Months[month]++
	}
	sort.Strings(years)
	out := make([]YearBucket, 0, len(years))
	for _, y := range years {
		out = append(out, *byYear[y])
	}
	return out
}
