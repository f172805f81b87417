package archiver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// DownloadResult 下载任务结果
type DownloadResult struct {
	TargetURL       string   `json:"target_url"`
	Snapshot        string   `json:"snapshot"`
	OutputDir       string   `json:"output_dir"`
	Attempted       int      `json:"attempted"`
	Downloaded      int      `json:"downloaded"`
	Failed          int      `json:"failed"`
	Repaired        int      `json:"repaired"`
	Discovered      int      `json:"discovered"`
	BytesWritten    int64    `json:"bytes_written"`
	CoveragePercent float64  `json:"coverage_percent"`
	MissingSample   []string `json:"missing_sample,omitempty"`
}

const missingSampleCap = 20

// priorityScore 下载顺序打分：页面和根优先，样式脚本其次，上传图片靠后
func priorityScore(raw string) int {
	score := 0
	lower := strings.ToLower(raw)

	if wayback.IsPageURL(raw) {
		score += 30
	}
	if strings.Contains(lower, "/wp-content/uploads/") {
		score -= 10
	}
	if strings.HasSuffix(lower, ".css") || strings.HasSuffix(lower, ".js") {
		score += 15
	}
	if parsed, err := url.Parse(raw); err == nil {
		p := strings.Trim(parsed.Path, "/")
		if p == "" || strings.HasPrefix(strings.ToLower(p), "index.") {
			score += 20
		}
		if p != "" && strings.Count(p, "/") < 2 {
			score += 5
		}
	}
	return score
}

// prioritizeInventory 打分降序排列清单地址，分数相同保持字典序稳定
func prioritizeInventory(items []InventoryItem) []InventoryItem {
	out := make([]InventoryItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := priorityScore(out[i].URL), priorityScore(out[j].URL)
		if si != sj {
			return si > sj
		}
		return out[i].URL < out[j].URL
	})
	return out
}

func isHTMLContent(mime, rawURL string) bool {
	if strings.Contains(mime, "html") {
		return true
	}
	return mime == "" && wayback.IsPageURL(rawURL)
}

func isCSSContent(mime, rawURL string) bool {
	return strings.Contains(mime, "css") || strings.HasSuffix(strings.ToLower(rawURL), ".css")
}

// Download 按清单优先级抓取快照内容并落盘为可离线浏览的站点副本。
// 抓到的页面和样式表会继续发现同站链接（广度优先），总量受 maxFiles 约束。
// 停止信号到达时返回已完成的部分结果。
func (e *Engine) Download(ctx context.Context, ctl JobControl, analysis *AnalyzeResult, maxFiles int) (*DownloadResult, error) {
	maxFiles = e.maxFiles(maxFiles)
	host := wayback.Host(analysis.TargetURL)
	siteDir := e.writer.SiteDir(host, analysis.Snapshot)

	result := &DownloadResult{
		TargetURL: analysis.TargetURL,
		Snapshot:  analysis.Snapshot,
		OutputDir: filepath.Join(e.writer.Root(), siteDir),
	}

	queue := prioritizeInventory(analysis.Inventory)
	preferredTS := map[string]string{}
	for _, item := range analysis.Inventory {
		preferredTS[item.URL] = item.Timestamp
	}
	mimeOf := map[string]string{}
	for _, item := range analysis.Inventory {
		mimeOf[item.URL] = item.MimeType
	}

	seen := map[string]struct{}{}
	for _, item := range queue {
		seen[strings.ToLower(item.URL)] = struct{}{}
	}

	for idx := 0; idx < len(queue) && result.Attempted < maxFiles; idx++ {
		item := queue[idx]

		if err := ctl.Checkpoint(ctx); err != nil {
			e.finishDownload(result, analysis, maxFiles)
			return result, err
		}
		ctl.SetProgress(scheduler.Progress{
			Stage:       pubsub.StageFetching,
			Percent:     float64(result.Attempted) / float64(maxFiles) * 95,
			CurrentItem: item.URL,
			Done:        result.Attempted,
			Total:       maxFiles,
		})

		result.Attempted++

		preferred := item.Timestamp
		if preferred == "" {
			preferred = analysis.Snapshot
		}

		resolved, err := e.resolver.Resolve(ctx, item.URL, preferred, analysis.Snapshot)
		if err != nil {
			if errors.Is(err, wayback.ErrTransient) {
				// 归档服务不可用，继续只会连环失败
				e.finishDownload(result, analysis, maxFiles)
				return result, err
			}
			result.Failed++
			if len(result.MissingSample) < missingSampleCap {
				result.MissingSample = append(result.MissingSample, item.URL)
			}
			e.recordManifest(analysis, item.URL, "", item.MimeType, model.ManifestStatusMissing, 0, "", "")
			continue
		}

		content := resolved.Content
		mime := mimeOf[item.URL]

		// 页面和样式表先发现链接再改写引用
		if isHTMLContent(mime, item.URL) {
			for _, link := range ExtractHTMLLinks(item.URL, content) {
				key := strings.ToLower(link)
				if _, dup := seen[key]; dup {
					continue
				}
				if len(queue) >= maxFiles*2 {
					break
				}
				seen[key] = struct{}{}
				queue = append(queue, InventoryItem{URL: link})
				result.Discovered++
			}
			content = RewriteHTML(item.URL, content)
		} else if isCSSContent(mime, item.URL) {
			for _, link := range ExtractCSSLinks(item.URL, content) {
				key := strings.ToLower(link)
				if _, dup := seen[key]; dup {
					continue
				}
				if len(queue) >= maxFiles*2 {
					break
				}
				seen[key] = struct{}{}
				queue = append(queue, InventoryItem{URL: link})
				result.Discovered++
			}
			content = RewriteCSS(item.URL, content)
		}

		localRel := filepath.Join(siteDir, output.LocalPathForURL(item.URL))
		if _, err := e.writer.WriteFile(localRel, content); err != nil {
			result.Failed++
			e.recordManifest(analysis, item.URL, "", mime, model.ManifestStatusFailed, 0, "", "")
			continue
		}

		sum := sha1.Sum(content)
		result.Downloaded++
		result.BytesWritten += int64(len(content))
		if resolved.Repaired {
			result.Repaired++
		}
		e.recordManifest(analysis, item.URL, localRel, mime, model.ManifestStatusDownloaded,
			int64(len(content)), hex.EncodeToString(sum[:]), resolved.UsedTimestamp)
	}

	e.finishDownload(result, analysis, maxFiles)
	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageDone,
		Percent: 100,
		Done:    result.Attempted,
		Total:   maxFiles,
	})
	return result, nil
}

func (e *Engine) finishDownload(result *DownloadResult, analysis *AnalyzeResult, maxFiles int) {
	sample := len(analysis.Inventory)
	if sample > maxFiles {
		sample = maxFiles
	}
	if sample > 0 {
		result.CoveragePercent = float64(result.Downloaded) / float64(sample) * 100
	}
}

func (e *Engine) recordManifest(analysis *AnalyzeResult, fileURL, localPath, mime, status string, size int64, digest, usedTS string) {
	if e.manifests == nil {
		return
	}
	entry := &model.ManifestEntry{
		TargetURL:     analysis.TargetURL,
		Snapshot:      analysis.Snapshot,
		URL:           fileURL,
		LocalPath:     localPath,
		Mime:          mime,
		Status:        status,
		Size:          size,
		Digest:        digest,
		UsedTimestamp: usedTS,
	}
	if err := e.manifests.Upsert(entry); err != nil {
		log.Printf("upsert manifest for %s failed: %v", fileURL, err)
	}
}
