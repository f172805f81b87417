package archiver

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// 各标签中承载引用的属性
var linkAttrs = map[string]string{
	"a":      "href",
	"link":   "href",
	"script": "src",
	"img":    "src",
	"source": "src",
	"iframe": "src",
}

var cssURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// resolveRef 把文档内的引用解析成同站的绝对地址；跨站或非 http 引用返回空
func resolveRef(docURL *url.URL, host, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "mailto:") ||
		strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	ref = wayback.CleanURL(ref)
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := docURL.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if strings.TrimPrefix(strings.ToLower(abs.Hostname()), "www.") != host {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// ExtractHTMLLinks 从 HTML 中收集同站引用的绝对地址
func ExtractHTMLLinks(docURL string, body []byte) []string {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attrName, ok := linkAttrs[n.Data]; ok {
				for _, attr := range n.Attr {
					if attr.Key != attrName {
						continue
					}
					if abs := resolveRef(parsed, host, attr.Val); abs != "" {
						if _, dup := seen[abs]; !dup {
							seen[abs] = struct{}{}
							links = append(links, abs)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// ExtractCSSLinks 从样式表中收集同站 url(...) 引用
func ExtractCSSLinks(docURL string, body []byte) []string {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	seen := map[string]struct{}{}
	var links []string
	for _, match := range cssURLRe.FindAllSubmatch(body, -1) {
		if abs := resolveRef(parsed, host, string(match[1])); abs != "" {
			if _, dup := seen[abs]; !dup {
				seen[abs] = struct{}{}
				links = append(links, abs)
			}
		}
	}
	return links
}

// relativeLocalPath 文档本地目录到目标本地文件的相对引用（永远用 /）
func relativeLocalPath(docLocal, targetLocal string) string {
	docDir := path.Dir(filepath2slash(docLocal))
	rel, err := relSlash(docDir, filepath2slash(targetLocal))
	if err != nil || rel == "" {
		return filepath2slash(targetLocal)
	}
	return rel
}

func filepath2slash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// relSlash path.Rel 的简易版：docDir 与 target 都是 / 分隔的相对路径
func relSlash(docDir, target string) (string, error) {
	if docDir == "." {
		return target, nil
	}
	docParts := strings.Split(docDir, "/")
	targetParts := strings.Split(target, "/")

	common := 0
	for common < len(docParts) && common < len(targetParts)-1 && docParts[common] == targetParts[common] {
		common++
	}

	var b strings.Builder
	for i := common; i < len(docParts); i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(targetParts[common:], "/"))
	return b.String(), nil
}

// RewriteHTML 把同站引用改写为相对本地路径，返回改写后的文档
func RewriteHTML(docURL string, body []byte) []byte {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return body
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	docLocal := output.LocalPathForURL(docURL)

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return body
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attrName, ok := linkAttrs[n.Data]; ok {
				for i, attr := range n.Attr {
					if attr.Key != attrName {
						continue
					}
					abs := resolveRef(parsed, host, attr.Val)
					if abs == "" {
						continue
					}
					targetLocal := output.LocalPathForURL(abs)
					n.Attr[i].Val = relativeLocalPath(docLocal, targetLocal)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return body
	}
	return buf.Bytes()
}

// RewriteCSS 把样式表里的同站 url(...) 改写为相对本地路径
func RewriteCSS(docURL string, body []byte) []byte {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return body
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	docLocal := output.LocalPathForURL(docURL)

	return cssURLRe.ReplaceAllFunc(body, func(match []byte) []byte {
		sub := cssURLRe.FindSubmatch(match)
		abs := resolveRef(parsed, host, string(sub[1]))
		if abs == "" {
			return match
		}
		targetLocal := output.LocalPathForURL(abs)
		return []byte("url(" + relativeLocalPath(docLocal, targetLocal) + ")")
	})
}
