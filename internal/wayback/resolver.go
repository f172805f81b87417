package wayback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"
)

// Resolver 按最近时间戳策略取回单个文件。
// 首选时间戳失败时改用该地址的其他捕获，按与首选的时间距离排序，
// 距离相同偏向更早的捕获，最多尝试 maxCandidates 个。
type Resolver struct {
	client        *Client
	maxCandidates int
}

func NewResolver(client *Client, maxCandidates int) *Resolver {
	if maxCandidates < 1 {
		maxCandidates = 8
	}
	return &Resolver{client: client, maxCandidates: maxCandidates}
}

// Resolved 取回结果
type Resolved struct {
	Content       []byte
	UsedTimestamp string
	Repaired      bool // 是否用了非首选时间戳
}

// Resolve 取回 fileURL 在 preferred 时间戳附近的内容。
// to 限定候选时间戳上界（通常为目标快照）。
func (r *Resolver) Resolve(ctx context.Context, fileURL, preferred, to string) (*Resolved, error) {
	if preferred != "" {
		content, err := r.client.FetchFile(ctx, preferred, fileURL)
		if err == nil {
			return &Resolved{Content: content, UsedTimestamp: preferred}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	candidates, err := r.client.ListTimestamps(ctx, fileURL, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	candidates = rankCandidates(candidates, preferred, r.maxCandidates)
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	var lastErr error
	for _, ts := range candidates {
		if ts == preferred {
			continue
		}
		content, err := r.client.FetchFile(ctx, ts, fileURL)
		if err == nil {
			if preferred != "" {
				log.Printf("repaired %s: %s -> %s", fileURL, preferred, ts)
			}
			return &Resolved{Content: content, UsedTimestamp: ts, Repaired: preferred != ""}, nil
		}
		if errors.Is(err, ErrTransient) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// rankCandidates 按与首选时间戳的距离升序排列，距离相同偏向更早；
// preferred 为空时按时间倒序（最新优先）
func rankCandidates(timestamps []string, preferred string, limit int) []string {
	out := make([]string, len(timestamps))
	copy(out, timestamps)

	if preferred == "" {
		sort.Sort(sort.Reverse(sort.StringSlice(out)))
	} else {
		ref, refErr := ParseTimestamp(preferred)
		sort.SliceStable(out, func(i, j int) bool {
			if refErr != nil {
				return out[i] > out[j]
			}
			ti, ei := ParseTimestamp(out[i])
			tj, ej := ParseTimestamp(out[j])
			if ei != nil || ej != nil {
				return out[i] > out[j]
			}
			di := absDuration(ti.Sub(ref))
			dj := absDuration(tj.Sub(ref))
			if di == dj {
				return ti.Before(tj)
			}
			return di < dj
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
