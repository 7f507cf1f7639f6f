package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DeviceKind 设备类型标签
type DeviceKind int

const (
	DeviceDefault DeviceKind = iota // 默认桌面视图
	DeviceNamed                     // 命名的移动端仿真配置
)

// DesktopLabel 默认设备在结果中的显示名称
const DesktopLabel = "desktop"

// Device 设备配置 (封闭的变体: Default 或 Named(profile))
type Device struct {
	Kind    DeviceKind `json:"kind"`
	Profile string     `json:"profile,omitempty"`
}

// DesktopDevice 返回默认桌面设备
func DesktopDevice() Device {
	return Device{Kind: DeviceDefault}
}

// NamedDevice 返回命名设备
func NamedDevice(profile string) Device {
	return Device{Kind: DeviceNamed, Profile: profile}
}

// ParseDevice 将用户输入解析为设备 ("" 或 "desktop" 视为默认)
func ParseDevice(s string) Device {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, DesktopLabel) {
		return DesktopDevice()
	}
	return NamedDevice(s)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Label 结果中使用的设备名称
func (d Device) Label() string {
	if d.Kind == DeviceDefault {
		return DesktopLabel
	}
	return d.Profile
}

// FileSuffix 产物文件名后缀: _desktop 或 _<空白替换为下划线的配置名>
func (d Device) FileSuffix() string {
	if d.Kind == DeviceDefault {
		return "_" + DesktopLabel
	}
	return "_" + whitespaceRun.ReplaceAllString(d.Profile, "_")
}

func (d Device) String() string {
	return d.Label()
}

// Timings 审计过程中所有等待的超时配置
type Timings struct {
	SitemapTimeout     time.Duration `json:"sitemap_timeout" mapstructure:"sitemap_timeout"`
	CrawlTimeout       time.Duration `json:"crawl_timeout" mapstructure:"crawl_timeout"`
	NavigationTimeout  time.Duration `json:"navigation_timeout" mapstructure:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `json:"network_idle_timeout" mapstructure:"network_idle_timeout"`
	NetworkIdleWindow  time.Duration `json:"network_idle_window" mapstructure:"network_idle_window"`
	SettleDelay        time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
	ProbeScrollDelay   time.Duration `json:"probe_scroll_delay" mapstructure:"probe_scroll_delay"`
	ProbeClickTimeout  time.Duration `json:"probe_click_timeout" mapstructure:"probe_click_timeout"`
	ProbeWait          time.Duration `json:"probe_wait" mapstructure:"probe_wait"`
}

// DefaultTimings 默认超时配置
func DefaultTimings() Timings {
	return Timings{
		SitemapTimeout:     15 * time.Second,
		CrawlTimeout:       15 * time.Second,
		NavigationTimeout:  20 * time.Second,
		NetworkIdleTimeout: 8 * time.Second,
		NetworkIdleWindow:  500 * time.Millisecond,
		SettleDelay:        2 * time.Second,
		ProbeScrollDelay:   500 * time.Millisecond,
		ProbeClickTimeout:  2 * time.Second,
		ProbeWait:          1500 * time.Millisecond,
	}
}

// DefaultLandingPatterns 默认落地页匹配规则
var DefaultLandingPatterns = []string{
	`/landing/`, `/lp/`, `/promo`, `/special`, `/offer`, `/book`, `/contact`,
	`/appointment`, `/emergency`, `/new-patient`, `/locations`, `/services`,
	`/treatment`, `/procedure`, `/about`, `/team`, `/testimonial`, `/review`,
	`/blog/`, `/news/`, `/event`,
}

// CrawlConfig 单次审计运行的配置,构造后只读
type CrawlConfig struct {
	Domain          string   `json:"domain"`           // 目标源 (如 https://example.com)
	MaxPages        int      `json:"max_pages"`        // 最多审计的页面数
	LandingPatterns []string `json:"landing_patterns"` // 落地页匹配规则 (正则,不区分大小写)
	Devices         []Device `json:"devices"`          // 设备列表,按顺序审计
	URLs            []string `json:"urls,omitempty"`   // 显式URL列表 (非空时跳过发现)
	MaxVisited      int      `json:"max_visited"`      // 广度爬取最多访问的URL数
	MaxDepth        int      `json:"max_depth"`        // 广度爬取最大深度
	SitemapDepth    int      `json:"sitemap_depth"`    // 嵌套sitemap最大层数
	Timings         Timings  `json:"timings"`
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if err := ValidateURL(c.Domain); err != nil {
		return fmt.Errorf("域名无效: %w", err)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("最大页面数必须大于0")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("至少需要一个设备配置")
	}
	if c.MaxVisited < 1 {
		return fmt.Errorf("最大访问URL数必须大于0")
	}
	if c.MaxDepth < 1 || c.MaxDepth > 10 {
		return fmt.Errorf("爬取深度必须在1-10之间")
	}
	if _, err := NewLandingMatcher(c.LandingPatterns); err != nil {
		return err
	}
	return nil
}

// Origin 返回域名的源 (scheme://host)
func (c *CrawlConfig) Origin() string {
	parsed, err := url.Parse(c.Domain)
	if err != nil {
		return strings.TrimRight(c.Domain, "/")
	}
	return parsed.Scheme + "://" + parsed.Host
}

// PairCount 本次运行的(url, device)组合总数
func (c *CrawlConfig) PairCount(urlCount int) int {
	return urlCount * len(c.Devices)
}

// LandingMatcher 落地页匹配器
type LandingMatcher struct {
	rules []*regexp.Regexp
}

// NewLandingMatcher 编译落地页规则,空规则列表匹配所有URL
func NewLandingMatcher(patterns []string) (*LandingMatcher, error) {
	m := &LandingMatcher{}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("落地页规则无效 %q: %w", p, err)
		}
		m.rules = append(m.rules, re)
	}
	return m, nil
}

// Match 判断URL是否为落地页
func (m *LandingMatcher) Match(rawURL string) bool {
	if len(m.rules) == 0 {
		return true
	}
	for _, re := range m.rules {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
