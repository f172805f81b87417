package archiver

import (
	"regexp"
	"sort"
	"strings"
)

// Signals 建站平台特征
type Signals struct {
	WordPress bool   `json:"wordpress"`
	Wix       bool   `json:"wix"`
	Shopify   bool   `json:"shopify"`
	PHP       bool   `json:"php"`
	SPA       bool   `json:"spa"`
	Generator string `json:"generator,omitempty"`
}

// WordPressDetail WordPress 站点的结构细节
type WordPressDetail struct {
	Themes       []string `json:"themes"`
	Plugins      []string `json:"plugins"`
	Categories   []string `json:"categories"`
	Tags         []string `json:"tags"`
	PostTypes    []string `json:"post_types"`
	BlogPosts    []string `json:"blog_posts"`
	WPJSONRoutes []string `json:"wp_json_routes"`
}

var generatorRe = regexp.MustCompile(`(?i)<meta[^>]+name=["']generator["'][^>]+content=["']([^"']+)["']`)
var generatorReAlt = regexp.MustCompile(`(?i)<meta[^>]+content=["']([^"']+)["'][^>]+name=["']generator["']`)

// detectSignals 从资源地址清单和首页 HTML 推断建站平台
func detectSignals(urls []string, homepage []byte) Signals {
	s := Signals{}
	jsCount, pageCount := 0, 0

	for _, raw := range urls {
		lower := strings.ToLower(raw)
		switch {
		case strings.Contains(lower, "/wp-content/"), strings.Contains(lower, "/wp-includes/"), strings.Contains(lower, "/wp-json/"):
			s.WordPress = true
		case strings.Contains(lower, "wixstatic.com"), strings.Contains(lower, "/_partials/wix"):
			s.Wix = true
		case strings.Contains(lower, "cdn.shopify.com"), strings.Contains(lower, "/collections/"), strings.Contains(lower, "/products/"):
			s.Shopify = true
		}
		if strings.Contains(lower, ".php") {
			s.PHP = true
		}
		if strings.HasSuffix(lower, ".js") {
			jsCount++
		}
		if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, "/") {
			pageCount++
		}
	}

	if len(homepage) > 0 {
		page := string(homepage)
		lower := strings.ToLower(page)
		if strings.Contains(lower, "wp-content") || strings.Contains(lower, "wp-includes") {
			s.WordPress = true
		}
		if strings.Contains(lower, "wixstatic.com") {
			s.Wix = true
		}
		if strings.Contains(lower, "cdn.shopify.com") {
			s.Shopify = true
		}
		if m := generatorRe.FindStringSubmatch(page); m != nil {
			s.Generator = m[1]
		} else if m := generatorReAlt.FindStringSubmatch(page); m != nil {
			s.Generator = m[1]
		}
		if strings.Contains(lower, `id="root"`) || strings.Contains(lower, `id="app"`) {
			s.SPA = true
		}
	}

	// 页面极少而脚本很多也是单页应用的典型形态
	if pageCount <= 2 && jsCount >= 5 {
		s.SPA = true
	}
	return s
}

var (
	wpThemeRe    = regexp.MustCompile(`/wp-content/themes/([^/?#]+)`)
	wpPluginRe   = regexp.MustCompile(`/wp-content/plugins/([^/?#]+)`)
	wpCategoryRe = regexp.MustCompile(`/category/([^/?#]+)`)
	wpTagRe      = regexp.MustCompile(`/tag/([^/?#]+)`)
	wpJSONRe     = regexp.MustCompile(`(/wp-json/[^?#]*)`)
	wpPostRe     = regexp.MustCompile(`/(19|20)\d{2}/\d{2}/[^/?#]+`)
	wpPostTypeRe = regexp.MustCompile(`[?&]post_type=([^&#]+)`)
)

// wordpressDetail 从地址清单提取主题、插件、分类等结构信息
func wordpressDetail(urls []string) *WordPressDetail {
	themes := map[string]struct{}{}
	plugins := map[string]struct{}{}
	categories := map[string]struct{}{}
	tags := map[string]struct{}{}
	postTypes := map[string]struct{}{}
	routes := map[string]struct{}{}
	var posts []string
	postSeen := map[string]struct{}{}

	for _, raw := range urls {
		if m := wpThemeRe.FindStringSubmatch(raw); m != nil {
			themes[m[1]] = struct{}{}
		}
		if m := wpPluginRe.FindStringSubmatch(raw); m != nil {
			plugins[m[1]] = struct{}{}
		}
		if m := wpCategoryRe.FindStringSubmatch(raw); m != nil {
			categories[m[1]] = struct{}{}
		}
		if m := wpTagRe.FindStringSubmatch(raw); m != nil {
			tags[m[1]] = struct{}{}
		}
		if m := wpJSONRe.FindStringSubmatch(raw); m != nil {
			routes[m[1]] = struct{}{}
		}
		if m := wpPostTypeRe.FindStringSubmatch(raw); m != nil {
			postTypes[m[1]] = struct{}{}
		}
		if wpPostRe.MatchString(raw) {
			if _, dup := postSeen[raw]; !dup {
				postSeen[raw] = struct{}{}
				posts = append(posts, raw)
			}
		}
	}

	detail := &WordPressDetail{
		Themes:       sortedKeys(themes),
		Plugins:      sortedKeys(plugins),
		Categories:   sortedKeys(categories),
		Tags:         sortedKeys(tags),
		PostTypes:    sortedKeys(postTypes),
		BlogPosts:    posts,
		WPJSONRoutes: sortedKeys(routes),
	}
	if len(detail.BlogPosts) > 60 {
		detail.BlogPosts = detail.BlogPosts[:60]
	}
	return detail
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// guessSiteType 综合特征给出站点类型
func guessSiteType(s Signals) string {
	switch {
	case s.WordPress:
		return "wordpress"
	case s.Wix:
		return "wix"
	case s.Shopify:
		return "shopify"
	case s.SPA:
		return "spa"
	case s.PHP:
		return "php"
	default:
		return "static"
	}
}
