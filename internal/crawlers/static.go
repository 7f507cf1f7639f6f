package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// ErrDiscoveryFetch 发现阶段单个页面抓取失败 (非致命)
var ErrDiscoveryFetch = errors.New("发现阶段抓取失败")

const depthKey = "bfs_depth"

// Discoverer 落地页URL发现器
// 职责: 显式URL列表优先;否则解析sitemap并做有界广度爬取,合并后截断到MaxPages
type Discoverer struct {
	config         models.CrawlConfig
	matcher        *models.LandingMatcher
	headerProvider models.HeaderProvider
	transport      http.RoundTripper
}

// NewDiscoverer 创建发现器
func NewDiscoverer(config models.CrawlConfig, headerProvider models.HeaderProvider) (*Discoverer, error) {
	matcher, err := models.NewLandingMatcher(config.LandingPatterns)
	if err != nil {
		return nil, err
	}

	// 跳过证书验证,允许访问自签名证书的站点
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Discoverer{
		config:         config,
		matcher:        matcher,
		headerProvider: headerProvider,
		transport:      transport,
	}, nil
}

// Discover 返回待审计的URL列表,长度不超过MaxPages
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	if len(d.config.URLs) > 0 {
		urls := d.ExplicitURLs()
		utils.Infof("📋 使用显式URL列表: %d 个", len(urls))
		return urls, nil
	}

	utils.Info("🗺️  获取sitemap...")
	sitemap := d.SitemapURLs(ctx)
	sitemapMatched := make([]string, 0, len(sitemap))
	for _, u := range sitemap {
		if d.matcher.Match(u) {
			sitemapMatched = append(sitemapMatched, u)
		}
	}
	utils.Infof("sitemap中找到 %d 个URL, 其中落地页 %d 个", len(sitemap), len(sitemapMatched))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	utils.Info("🕷️  广度爬取落地页...")
	crawled := d.CrawlLandingURLs(ctx)
	utils.Infof("爬取发现 %d 个落地页", len(crawled))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	landing := mergeUnique(d.config.MaxPages, sitemapMatched, crawled)
	utils.Infof("✅ 共 %d 个唯一落地页待审计", len(landing))
	return landing, nil
}

// ExplicitURLs 按原样使用显式列表: 相对路径基于域名解析,去掉完全相同的重复项后截断
func (d *Discoverer) ExplicitURLs() []string {
	resolved := make([]string, 0, len(d.config.URLs))
	for _, raw := range d.config.URLs {
		abs, err := models.ResolveURL(d.config.Domain, raw)
		if err != nil {
			utils.Warnf("跳过无效URL [%s]: %v", raw, err)
			continue
		}
		resolved = append(resolved, abs)
	}
	return mergeUnique(d.config.MaxPages, resolved)
}

// SitemapURLs 解析 <domain>/sitemap.xml 及其嵌套的sitemap索引,返回规范化后的同源URL
func (d *Discoverer) SitemapURLs(ctx context.Context) []string {
	c := d.newCollector(ctx, d.config.Timings.SitemapTimeout)
	if d.config.SitemapDepth > 0 {
		c.MaxDepth = d.config.SitemapDepth
	}

	var found []string
	seen := make(map[string]bool)

	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc == "" || !models.SameOrigin(d.config.Domain, loc) {
			return
		}
		normalized, err := models.NormalizeURL(loc)
		if err != nil || seen[normalized] {
			return
		}
		seen[normalized] = true
		found = append(found, normalized)
	})

	// sitemap索引: 每个引用只抓取一次 (colly内部已访问记录)
	c.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc == "" {
			return
		}
		if err := e.Request.Visit(loc); err != nil && !isAlreadyVisited(err) {
			utils.Debugf("跳过嵌套sitemap [%s]: %v", loc, err)
		}
	})

	sitemapURL := d.config.Origin() + "/sitemap.xml"
	if err := c.Visit(sitemapURL); err != nil {
		utils.Warnf("无法获取sitemap [%s]: %v", sitemapURL, err)
	}
	c.Wait()

	return found
}

// CrawlLandingURLs 从根页面开始有界广度爬取,收集匹配落地页规则的URL
// 收集数达到MaxPages时立即停止
func (d *Discoverer) CrawlLandingURLs(ctx context.Context) []string {
	queue := NewURLQueue(d.config.Domain, d.config.MaxDepth, d.config.MaxVisited)
	c := d.newCollector(ctx, d.config.Timings.CrawlTimeout)
	c.AllowURLRevisit = true

	var collected []string
	seen := make(map[string]bool)
	done := false

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if done {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !models.SameOrigin(d.config.Domain, link) {
			return
		}
		normalized, err := models.NormalizeURL(link)
		if err != nil {
			return
		}

		if d.matcher.Match(normalized) && !seen[normalized] {
			seen[normalized] = true
			collected = append(collected, normalized)
			if len(collected) >= d.config.MaxPages {
				done = true
				return
			}
		}

		depth, _ := e.Request.Ctx.GetAny(depthKey).(int)
		if _, err := queue.Push(normalized, depth+1); err != nil && !errors.Is(err, ErrAlreadySeen) {
			utils.Debugf("未入队 [%s]: %v", normalized, err)
		}
	})

	if _, err := queue.Push(d.config.Origin(), 0); err != nil {
		utils.Warnf("根页面入队失败: %v", err)
		return collected
	}

	for !done && ctx.Err() == nil {
		item, ok := queue.Pop()
		if !ok {
			break
		}
		reqCtx := colly.NewContext()
		reqCtx.Put(depthKey, item.Depth)
		if err := c.Request(http.MethodGet, item.URL, nil, reqCtx, nil); err != nil {
			utils.Debugf("%v [%s]: %v", ErrDiscoveryFetch, item.URL, err)
		}
	}

	utils.Debugf("广度爬取结束: 已入队 %d 个URL, 剩余 %d 个未访问", queue.VisitedCount(), queue.PendingCount())
	return collected
}

// newCollector 创建同步Colly采集器,挂载请求头、解压和错误回调
func (d *Discoverer) newCollector(ctx context.Context, timeout time.Duration) *colly.Collector {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	c.SetRequestTimeout(timeout)
	c.WithTransport(d.transport)

	c.OnRequest(func(r *colly.Request) {
		if d.headerProvider == nil {
			return
		}
		headers, err := d.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
			return
		}
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		encoding := r.Headers.Get("Content-Encoding")
		if encoding == "" {
			return
		}
		body, err := decompressResponse(encoding, r.Body)
		if err != nil {
			utils.Warnf("解压响应失败 [%s] (编码=%s): %v", r.Request.URL, encoding, err)
			return
		}
		r.Body = body
	})

	c.OnError(func(r *colly.Response, err error) {
		utils.Warnf("%v [%s]: %v", ErrDiscoveryFetch, r.Request.URL, err)
	})

	return c
}

// isAlreadyVisited colly对重复访问返回 *colly.AlreadyVisitedError
func isAlreadyVisited(err error) bool {
	var ave *colly.AlreadyVisitedError
	return errors.As(err, &ave)
}

// mergeUnique 按顺序合并去重,截断到max
func mergeUnique(max int, lists ...[]string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, list := range lists {
		for _, u := range list {
			if len(out) >= max {
				return out
			}
			if seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// decompressResponse 根据Content-Encoding解压响应体
// gzip可能已被Colly解压,此时按魔数判断后原样返回
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return readAll(reader, "gzip")

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return readAll(reader, "deflate")

	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(body)), "brotli")

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s读取失败: %w", name, err)
	}
	return data, nil
}
