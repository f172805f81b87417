package archiver

import (
	"context"
	"sort"

	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
)

// SitemapGroup 站点地图中按顶层目录聚合的一组页面
type SitemapGroup struct {
	Folder string   `json:"folder"`
	Count  int      `json:"count"`
	Pages  []string `json:"pages"`
}

// SitemapResult 站点地图
type SitemapResult struct {
	TargetURL  string         `json:"target_url"`
	Snapshot   string         `json:"snapshot"`
	TotalPages int            `json:"total_pages"`
	Groups     []SitemapGroup `json:"groups"`
}

// Sitemap 把分析得到的页面按顶层目录分组；每组页面列表有上限
func (e *Engine) Sitemap(ctx context.Context, ctl JobControl, analysis *AnalyzeResult, pageCap int) (*SitemapResult, error) {
	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if pageCap < 1 {
		pageCap = e.displayLimit(0)
	}

	ctl.SetProgress(scheduler.Progress{Stage: pubsub.StageListing, Percent: 30, Total: len(analysis.SitePages)})

	byFolder := map[string][]string{}
	for _, page := range analysis.SitePages {
		folder := topFolder(page)
		byFolder[folder] = append(byFolder[folder], page)
	}

	folders := make([]string, 0, len(byFolder))
	for folder := range byFolder {
		folders = append(folders, folder)
	}
	// 根目录在前，其余按页面数降序
	sort.Slice(folders, func(i, j int) bool {
		if folders[i] == "/" {
			return true
		}
		if folders[j] == "/" {
			return false
		}
		if len(byFolder[folders[i]]) != len(byFolder[folders[j]]) {
			return len(byFolder[folders[i]]) > len(byFolder[folders[j]])
		}
		return folders[i] < folders[j]
	})

	result := &SitemapResult{
		TargetURL:  analysis.TargetURL,
		Snapshot:   analysis.Snapshot,
		TotalPages: len(analysis.SitePages),
	}
	for _, folder := range folders {
		pages := byFolder[folder]
		group := SitemapGroup{Folder: folder, Count: len(pages)}
		if len(pages) > pageCap {
			pages = pages[:pageCap]
		}
		group.Pages = pages
		result.Groups = append(result.Groups, group)
	}

	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageDone,
		Percent: 100,
		Done:    len(analysis.SitePages),
		Total:   len(analysis.SitePages),
	})
	return result, nil
}
