package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/crawlers"
	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Crawl       CrawlSection      `mapstructure:"crawl"`
	Discovery   DiscoverySection  `mapstructure:"discovery"`
	Audit       models.Timings    `mapstructure:"audit"`
	Browser     BrowserSection    `mapstructure:"browser"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Resource    ResourceSection   `mapstructure:"resource"`
	Headers     map[string]string `mapstructure:"headers"`
	HeadersFile string            `mapstructure:"headers_file"`
}

// CrawlSection 审计范围
type CrawlSection struct {
	Domain          string   `mapstructure:"domain"`
	MaxPages        int      `mapstructure:"max_pages"`
	Devices         []string `mapstructure:"devices"`
	LandingPatterns []string `mapstructure:"landing_patterns"`
	URLFile         string   `mapstructure:"url_file"`
}

// DiscoverySection 广度爬取和sitemap的边界
type DiscoverySection struct {
	MaxVisited   int `mapstructure:"max_visited"`
	MaxDepth     int `mapstructure:"max_depth"`
	SitemapDepth int `mapstructure:"sitemap_depth"`
}

// BrowserSection 浏览器配置
type BrowserSection struct {
	Headless bool   `mapstructure:"headless"`
	BinPath  string `mapstructure:"bin_path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ResourceSection 资源守卫配置
type ResourceSection struct {
	Enabled           bool          `mapstructure:"enabled"`
	SafetyThresholdMB int           `mapstructure:"safety_threshold_mb"`
	CPULoadThreshold  int           `mapstructure:"cpu_load_threshold"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
}

// DefaultDevices 默认设备: 桌面 + iPhone 13
var DefaultDevices = []string{models.DesktopLabel, "iPhone 13"}

// LoadConfig 加载配置文件,未找到时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tagaudit"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_pages", 500)
	v.SetDefault("crawl.devices", DefaultDevices)
	v.SetDefault("crawl.landing_patterns", models.DefaultLandingPatterns)

	v.SetDefault("discovery.max_visited", 2000)
	v.SetDefault("discovery.max_depth", 3)
	v.SetDefault("discovery.sitemap_depth", 3)

	timings := models.DefaultTimings()
	v.SetDefault("audit.sitemap_timeout", timings.SitemapTimeout)
	v.SetDefault("audit.crawl_timeout", timings.CrawlTimeout)
	v.SetDefault("audit.navigation_timeout", timings.NavigationTimeout)
	v.SetDefault("audit.network_idle_timeout", timings.NetworkIdleTimeout)
	v.SetDefault("audit.network_idle_window", timings.NetworkIdleWindow)
	v.SetDefault("audit.settle_delay", timings.SettleDelay)
	v.SetDefault("audit.probe_scroll_delay", timings.ProbeScrollDelay)
	v.SetDefault("audit.probe_click_timeout", timings.ProbeClickTimeout)
	v.SetDefault("audit.probe_wait", timings.ProbeWait)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin_path", "")

	v.SetDefault("output.base_dir", "output")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	resource := crawlers.DefaultResourceMonitorConfig()
	v.SetDefault("resource.enabled", true)
	v.SetDefault("resource.safety_threshold_mb", resource.SafetyThreshold/(1024*1024))
	v.SetDefault("resource.cpu_load_threshold", resource.CPULoadThreshold)
	v.SetDefault("resource.max_wait", resource.MaxWait)
}

// CLIOverrides 命令行参数,零值表示未指定
type CLIOverrides struct {
	Domain      string
	URLFile     string
	MaxPages    int
	Devices     []string
	Patterns    []string
	OutputDir   string
	Headless    *bool
	BrowserBin  string
	LogLevel    string
	HeadersFile string
}

// MergeCLIFlags 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.Domain != "" {
		c.Crawl.Domain = o.Domain
	}
	if o.URLFile != "" {
		c.Crawl.URLFile = o.URLFile
	}
	if o.MaxPages > 0 {
		c.Crawl.MaxPages = o.MaxPages
	}
	if len(o.Devices) > 0 {
		c.Crawl.Devices = o.Devices
	}
	if len(o.Patterns) > 0 {
		c.Crawl.LandingPatterns = o.Patterns
	}
	if o.OutputDir != "" {
		c.Output.BaseDir = o.OutputDir
	}
	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
	if o.BrowserBin != "" {
		c.Browser.BinPath = o.BrowserBin
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.HeadersFile != "" {
		c.HeadersFile = o.HeadersFile
	}
}

// Devices 解析设备列表,去掉重复项
func (c *Config) Devices() []models.Device {
	devices := make([]models.Device, 0, len(c.Crawl.Devices))
	seen := make(map[string]bool)
	for _, name := range c.Crawl.Devices {
		d := models.ParseDevice(name)
		key := strings.ToLower(d.Label())
		if seen[key] {
			continue
		}
		seen[key] = true
		devices = append(devices, d)
	}
	return devices
}

// ToCrawlConfig 构造单次运行的只读配置
// urls 为显式URL列表,为空时执行自动发现
func (c *Config) ToCrawlConfig(urls []string) (models.CrawlConfig, error) {
	domain := strings.TrimRight(strings.TrimSpace(c.Crawl.Domain), "/")
	cfg := models.CrawlConfig{
		Domain:          domain,
		MaxPages:        c.Crawl.MaxPages,
		LandingPatterns: c.Crawl.LandingPatterns,
		Devices:         c.Devices(),
		URLs:            urls,
		MaxVisited:      c.Discovery.MaxVisited,
		MaxDepth:        c.Discovery.MaxDepth,
		SitemapDepth:    c.Discovery.SitemapDepth,
		Timings:         c.Audit,
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := crawlers.ValidateDevices(cfg.Devices); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LogConfig 日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// BrowserOptions 浏览器启动参数
func (c *Config) BrowserOptions() crawlers.BrowserOptions {
	return crawlers.BrowserOptions{
		Headless: c.Browser.Headless,
		BinPath:  c.Browser.BinPath,
		Timings:  c.Audit,
	}
}

// ResourceMonitorConfig 资源守卫配置
func (c *Config) ResourceMonitorConfig() crawlers.ResourceMonitorConfig {
	cfg := crawlers.DefaultResourceMonitorConfig()
	if c.Resource.SafetyThresholdMB > 0 {
		cfg.SafetyThreshold = int64(c.Resource.SafetyThresholdMB) * 1024 * 1024
	}
	if c.Resource.CPULoadThreshold > 0 {
		cfg.CPULoadThreshold = c.Resource.CPULoadThreshold
	}
	if c.Resource.MaxWait > 0 {
		cfg.MaxWait = c.Resource.MaxWait
	}
	return cfg
}
