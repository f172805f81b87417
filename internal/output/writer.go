package output

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wbrx/wayback_go_server/config"
)

// ErrPathEscape 目标路径落在输出根目录之外
var ErrPathEscape = errors.New("输出路径越界")

var unsafeCharRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeName 把任意 URL 片段转成安全的文件名片段
func SafeName(segment string) string {
	segment = strings.TrimSpace(segment)
	segment = unsafeCharRe.ReplaceAllString(segment, "_")
	segment = strings.Trim(segment, "._")
	if len(segment) > 120 {
		segment = segment[:120]
	}
	if segment == "" || segment == "." || segment == ".." {
		return "_"
	}
	return segment
}

// HostSlug 主机名的目录安全形式
func HostSlug(host string) string {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	return SafeName(host)
}

// LocalPathForURL 把原始地址映射为站点目录内的相对路径。
// 目录页落到 index.html；无扩展名的页面补 .html；
// 带查询串的地址在扩展名前加 __q_<hash> 防止互相覆盖。
func LocalPathForURL(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "index.html"
	}

	segments := []string{}
	for _, seg := range strings.Split(parsed.Path, "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, SafeName(seg))
	}

	isDir := parsed.Path == "" || strings.HasSuffix(parsed.Path, "/")
	if len(segments) == 0 || isDir {
		segments = append(segments, "index.html")
	} else {
		last := segments[len(segments)-1]
		if !strings.Contains(last, ".") {
			segments[len(segments)-1] = last + ".html"
		}
	}

	if parsed.RawQuery != "" {
		last := segments[len(segments)-1]
		sum := sha1.Sum([]byte(parsed.RawQuery))
		tag := "__q_" + hex.EncodeToString(sum[:])[:8]
		if idx := strings.LastIndex(last, "."); idx > 0 {
			last = last[:idx] + tag + last[idx:]
		} else {
			last = last + tag
		}
		segments[len(segments)-1] = last
	}

	return filepath.Join(segments...)
}

// Writer 输出沙箱。所有磁盘写入都经过它，
// 任何解析后落在根目录之外的路径都会被拒绝。
type Writer struct {
	root        string
	allowUnsafe bool
}

func NewWriter(cfg *config.OutputConfig) (*Writer, error) {
	root := cfg.RootDir
	if root == "" {
		root = "output"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Writer{root: abs, allowUnsafe: cfg.AllowUnsafeRoot}, nil
}

func (w *Writer) Root() string {
	return w.root
}

// SiteDir 某项目某快照的输出目录名（相对根目录）
func (w *Writer) SiteDir(host, snapshot string) string {
	slug := HostSlug(host)
	if snapshot == "" {
		return slug
	}
	return slug + "_" + SafeName(snapshot)
}

// ResolvePath 把相对路径解析到根目录内的绝对路径；越界即拒绝
func (w *Writer) ResolvePath(parts ...string) (string, error) {
	joined := filepath.Join(append([]string{w.root}, parts...)...)
	cleaned := filepath.Clean(joined)
	if !w.allowUnsafe {
		if cleaned != w.root && !strings.HasPrefix(cleaned, w.root+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, filepath.Join(parts...))
		}
	}
	return cleaned, nil
}

// WriteFile 在沙箱内写文件，自动建目录，返回绝对路径
func (w *Writer) WriteFile(relPath string, content []byte) (string, error) {
	abs, err := w.ResolvePath(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return "", err
	}
	return abs, nil
}

// Exists 沙箱内文件是否存在
func (w *Writer) Exists(relPath string) bool {
	abs, err := w.ResolvePath(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// PurgeDir 删除沙箱内的一个目录（项目删除时显式调用）
func (w *Writer) PurgeDir(relDir string) error {
	abs, err := w.ResolvePath(relDir)
	if err != nil {
		return err
	}
	if abs == w.root {
		return fmt.Errorf("%w: 拒绝删除输出根目录", ErrPathEscape)
	}
	return os.RemoveAll(abs)
}
