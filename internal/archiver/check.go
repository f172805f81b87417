package archiver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// CheckResult 完整性核对结果
type CheckResult struct {
	TargetURL       string   `json:"target_url"`
	Snapshot        string   `json:"snapshot"`
	Expected        int      `json:"expected"`
	Have            int      `json:"have"`
	Missing         int      `json:"missing"`
	Extra           int      `json:"extra"`
	CoveragePercent float64  `json:"coverage_percent"`
	BytesOnDisk     int64    `json:"bytes_on_disk"`
	MissingSample   []string `json:"missing_sample,omitempty"`
	ExtraSample     []string `json:"extra_sample,omitempty"`
}

// expectedFile 期望清单里的一项：保留原始大小写的地址和首选时间戳，
// 去重用小写键，归档路径本身是大小写敏感的
type expectedFile struct {
	URL       string
	Timestamp string
}

// expectedInventory 快照应有的资源清单，键为小写清洁地址
func (e *Engine) expectedInventory(ctx context.Context, target, snapshot string, cdxLimit int) (map[string]expectedFile, error) {
	captures, err := e.client.ListCaptures(ctx, wayback.WildcardURL(target), wayback.ListOptions{
		To:       snapshot,
		Limit:    e.cdxLimit(cdxLimit),
		Collapse: true,
		OKOnly:   true,
	})
	if err != nil {
		if errors.Is(err, wayback.ErrNotFound) {
			return nil, wayback.ErrNoSnapshots
		}
		return nil, err
	}
	expected := map[string]expectedFile{}
	for _, capture := range captures {
		clean := wayback.CleanURL(capture.Original)
		key := strings.ToLower(clean)
		if _, dup := expected[key]; !dup {
			expected[key] = expectedFile{URL: clean, Timestamp: capture.Timestamp}
		}
	}
	if len(expected) == 0 {
		return nil, wayback.ErrNoSnapshots
	}
	return expected, nil
}

// Check 对比清单、期望清单与磁盘实际文件，更新失效条目状态
func (e *Engine) Check(ctx context.Context, ctl JobControl, target, snapshot string, cdxLimit int) (*CheckResult, error) {
	target = wayback.NormalizeTarget(target)
	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	ctl.SetProgress(scheduler.Progress{Stage: pubsub.StageListing, Percent: 10, CurrentItem: target})

	expected, err := e.expectedInventory(ctx, target, snapshot, cdxLimit)
	if err != nil {
		return nil, err
	}

	entries, err := e.manifests.List(target, snapshot)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{TargetURL: target, Snapshot: snapshot, Expected: len(expected)}
	downloaded := map[string]struct{}{}

	for i, entry := range entries {
		if i%100 == 0 {
			if err := ctl.Checkpoint(ctx); err != nil {
				return result, err
			}
			ctl.SetProgress(scheduler.Progress{
				Stage:   pubsub.StageListing,
				Percent: 10 + float64(i)/float64(len(entries))*80,
				Done:    i,
				Total:   len(entries),
			})
		}

		key := strings.ToLower(entry.URL)
		if entry.Status == model.ManifestStatusDownloaded {
			if entry.LocalPath != "" && e.writer.Exists(entry.LocalPath) {
				downloaded[key] = struct{}{}
				result.Have++
				result.BytesOnDisk += entry.Size
				if err := e.manifests.TouchChecked(entry.ID); err != nil {
					log.Printf("touch manifest %d failed: %v", entry.ID, err)
				}
			} else {
				// 磁盘文件丢了，条目降级
				if err := e.manifests.UpdateStatus(entry.ID, model.ManifestStatusMissing); err != nil {
					log.Printf("downgrade manifest %d failed: %v", entry.ID, err)
				}
			}
		}

		if _, ok := expected[key]; !ok {
			result.Extra++
			if len(result.ExtraSample) < missingSampleCap {
				result.ExtraSample = append(result.ExtraSample, entry.URL)
			}
		}
	}

	missingFiles := missingFromExpected(expected, downloaded)
	result.Missing = len(missingFiles)
	for _, file := range missingFiles {
		if len(result.MissingSample) >= missingSampleCap {
			break
		}
		result.MissingSample = append(result.MissingSample, file.URL)
	}

	if result.Expected > 0 {
		result.CoveragePercent = float64(result.Have) / float64(result.Expected) * 100
	}

	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageDone,
		Percent: 100,
		Done:    len(entries),
		Total:   len(entries),
	})
	return result, nil
}

// DownloadMissingResult 补缺任务结果
type DownloadMissingResult struct {
	TargetURL  string `json:"target_url"`
	Snapshot   string `json:"snapshot"`
	Attempted  int    `json:"attempted"`
	Added      int    `json:"added"`
	Failed     int    `json:"failed"`
	Recovered  int    `json:"recovered"`
	BytesAdded int64  `json:"bytes_added"`
}

// DownloadMissing 补抓期望清单里尚未落盘的文件。
// 单个文件失败只计数不中断；数量受 missingLimit 约束。
func (e *Engine) DownloadMissing(ctx context.Context, ctl JobControl, target, snapshot string, missingLimit, cdxLimit int) (*DownloadMissingResult, error) {
	target = wayback.NormalizeTarget(target)
	limit := e.missingLimit(missingLimit)
	host := wayback.Host(target)
	siteDir := e.writer.SiteDir(host, snapshot)

	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}

	expected, err := e.expectedInventory(ctx, target, snapshot, cdxLimit)
	if err != nil {
		return nil, err
	}

	entries, err := e.manifests.ListByStatus(target, snapshot, model.ManifestStatusDownloaded)
	if err != nil {
		return nil, err
	}
	have := map[string]struct{}{}
	for _, entry := range entries {
		have[strings.ToLower(entry.URL)] = struct{}{}
	}

	missing := missingFromExpected(expected, have)
	if len(missing) > limit {
		missing = missing[:limit]
	}

	result := &DownloadMissingResult{TargetURL: target, Snapshot: snapshot}
	analysisStub := &AnalyzeResult{TargetURL: target, Snapshot: snapshot}

	for i, file := range missing {
		fileURL := file.URL
		if err := ctl.Checkpoint(ctx); err != nil {
			return result, err
		}
		ctl.SetProgress(scheduler.Progress{
			Stage:       pubsub.StageFetching,
			Percent:     float64(i) / float64(len(missing)) * 95,
			CurrentItem: fileURL,
			Done:        i,
			Total:       len(missing),
		})

		result.Attempted++

		preferred := file.Timestamp
		if preferred == "" {
			preferred = snapshot
		}
		resolved, err := e.resolver.Resolve(ctx, fileURL, preferred, snapshot)
		if err != nil {
			result.Failed++
			e.recordManifest(analysisStub, fileURL, "", "", model.ManifestStatusMissing, 0, "", "")
			continue
		}

		localRel := filepath.Join(siteDir, output.LocalPathForURL(fileURL))
		if _, err := e.writer.WriteFile(localRel, resolved.Content); err != nil {
			result.Failed++
			e.recordManifest(analysisStub, fileURL, "", "", model.ManifestStatusFailed, 0, "", "")
			continue
		}

		sum := sha1.Sum(resolved.Content)
		result.Added++
		result.BytesAdded += int64(len(resolved.Content))
		if resolved.Repaired {
			result.Recovered++
		}
		e.recordManifest(analysisStub, fileURL, localRel, "", model.ManifestStatusDownloaded,
			int64(len(resolved.Content)), hex.EncodeToString(sum[:]), resolved.UsedTimestamp)
	}

	ctl.SetProgress(scheduler.Progress{
		Stage:   pubsub.StageDone,
		Percent: 100,
		Done:    len(missing),
		Total:   len(missing),
	})
	return result, nil
}

// missingFromExpected 期望清单中尚未落盘的项，按地址字典序排列，
// 截断和补抓顺序都是确定的
func missingFromExpected(expected map[string]expectedFile, have map[string]struct{}) []expectedFile {
	var missing []expectedFile
	for key, file := range expected {
		if _, ok := have[key]; !ok {
			missing = append(missing, file)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].URL < missing[j].URL })
	return missing
}
