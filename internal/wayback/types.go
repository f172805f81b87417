package wayback

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// 错误分类：调用方按此决定重试还是放弃
var (
	ErrNotFound    = errors.New("归档中不存在该资源")
	ErrTransient   = errors.New("归档服务暂时不可用")
	ErrUpstream    = errors.New("归档服务响应异常")
	ErrNoSnapshots = errors.New("该站点没有任何快照")
	ErrExhausted   = errors.New("所有候选时间戳均获取失败")
)

// Capture 捕获索引中的一行
type Capture struct {
	Timestamp string `json:"timestamp"`
	Original  string `json:"original"`
	MimeType  string `json:"mimetype"`
	Length    int64  `json:"length"`
	URLKey    string `json:"urlkey"`
}

// TimestampLayout 归档时间戳格式（14 位）
const TimestampLayout = "20060102150405"

// ParseTimestamp 解析 14 位时间戳；不足 14 位时右补齐
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if len(ts) > 14 {
		ts = ts[:14]
	}
	if len(ts) < 14 {
		// 年/月粒度的时间戳补齐到月初、日初
		const pad = "00000101000000"
		ts = ts + pad[len(ts):]
	}
	return time.Parse(TimestampLayout, ts)
}

// NormalizeTarget 统一目标站点为 https://host
func NormalizeTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Host))
	if host == "" {
		host = strings.ToLower(strings.TrimSpace(parsed.Path))
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return raw
	}
	return "https://" + host
}

// Host 提取去 www 的主机名
func Host(raw string) string {
	normalized := NormalizeTarget(raw)
	parsed, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}

// BuildVariants 同一站点的 scheme/www 地址变体
func BuildVariants(raw string) []string {
	host := Host(raw)
	if host == "" {
		return nil
	}
	return []string{
		"http://" + host + "/",
		"https://" + host + "/",
		"http://www." + host + "/",
		"https://www." + host + "/",
	}
}

// WildcardURL 站点级索引查询的匹配串（host/*）
func WildcardURL(raw string) string {
	host := Host(raw)
	if host == "" {
		return ""
	}
	return host + "/*"
}

// RootURL 站点根页面地址
func RootURL(raw string) string {
	host := Host(raw)
	if host == "" {
		return ""
	}
	return "http://" + host + "/"
}

var replayPrefixRe = regexp.MustCompile(`^https?://web\.archive\.org/web/\d{1,14}(?:[a-z_]+)?/`)

// CleanURL 去掉归档回放前缀，还原原始地址
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if loc := replayPrefixRe.FindStringIndex(raw); loc != nil {
		rest := raw[loc[1]:]
		if !strings.Contains(rest, "://") {
			rest = "http://" + strings.TrimPrefix(rest, "/")
		}
		return rest
	}
	return raw
}

// IsPageURL 是否 HTML 页面类资源（按扩展名粗判）
func IsPageURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}
	ext := ""
	if idx := strings.LastIndex(p, "."); idx >= 0 && idx > strings.LastIndex(p, "/") {
		ext = p[idx:]
	}
	switch ext {
	case "", ".html", ".htm", ".php", ".asp", ".aspx", ".shtml", ".jsp":
		return true
	}
	return false
}
