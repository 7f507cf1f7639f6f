package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("切换目录失败: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() 错误: %v", err)
	}

	if cfg.Crawl.MaxPages != 500 || len(cfg.Crawl.Devices) != 2 || cfg.Crawl.Devices[1] != "iPhone 13" {
		t.Errorf("crawl默认值 = %+v", cfg.Crawl)
	}
	if cfg.Discovery.MaxVisited != 2000 || cfg.Discovery.MaxDepth != 3 {
		t.Errorf("discovery默认值 = %+v", cfg.Discovery)
	}
	if cfg.Audit != models.DefaultTimings() {
		t.Errorf("audit默认值 = %+v", cfg.Audit)
	}
	if !cfg.Browser.Headless || cfg.Output.BaseDir != "output" || cfg.Logging.Level != "info" {
		t.Errorf("其他默认值 = %+v %+v %+v", cfg.Browser, cfg.Output, cfg.Logging)
	}
	if !cfg.Resource.Enabled || cfg.Resource.SafetyThresholdMB != 500 {
		t.Errorf("resource默认值 = %+v", cfg.Resource)
	}
	if cfg.Headers == nil {
		t.Error("Headers应被初始化")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `crawl:
  domain: https://example.com/
  max_pages: 20
  devices: [desktop, "Pixel 2"]
  landing_patterns: ["/contact"]
audit:
  navigation_timeout: 5s
  probe_wait: 750ms
headers:
  X-Audit-Token: abc
resource:
  max_wait: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() 错误: %v", err)
	}
	if cfg.Audit.NavigationTimeout != 5*time.Second || cfg.Audit.ProbeWait != 750*time.Millisecond {
		t.Errorf("时长解析错误: %+v", cfg.Audit)
	}
	if cfg.Audit.SettleDelay != 2*time.Second {
		t.Errorf("未配置的时长应保留默认值: %v", cfg.Audit.SettleDelay)
	}
	if cfg.Headers["x-audit-token"] != "abc" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if cfg.ResourceMonitorConfig().MaxWait != 2*time.Second {
		t.Errorf("ResourceMonitorConfig = %+v", cfg.ResourceMonitorConfig())
	}

	crawl, err := cfg.ToCrawlConfig(nil)
	if err != nil {
		t.Fatalf("ToCrawlConfig() 错误: %v", err)
	}
	if crawl.Domain != "https://example.com" || crawl.MaxPages != 20 || len(crawl.Devices) != 2 {
		t.Errorf("CrawlConfig = %+v", crawl)
	}
	if crawl.Devices[0] != models.DesktopDevice() || crawl.Devices[1] != models.NamedDevice("Pixel 2") {
		t.Errorf("Devices = %+v", crawl.Devices)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("crawl: [broken"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("格式错误的配置应返回错误")
	}
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	cfg := &Config{}
	cfg.Crawl.MaxPages = 500
	cfg.Browser.Headless = true
	headless := false

	cfg.MergeCLIFlags(CLIOverrides{
		Domain:    "https://example.org",
		MaxPages:  5,
		Devices:   []string{"iPhone 13"},
		OutputDir: "/tmp/out",
		Headless:  &headless,
		LogLevel:  "debug",
	})

	if cfg.Crawl.Domain != "https://example.org" || cfg.Crawl.MaxPages != 5 || cfg.Output.BaseDir != "/tmp/out" {
		t.Errorf("合并结果 = %+v", cfg)
	}
	if cfg.Browser.Headless || cfg.Logging.Level != "debug" || cfg.Crawl.Devices[0] != "iPhone 13" {
		t.Errorf("合并结果 = %+v", cfg)
	}

	cfg.MergeCLIFlags(CLIOverrides{})
	if cfg.Crawl.MaxPages != 5 || cfg.Browser.Headless {
		t.Error("未指定的参数不应覆盖配置")
	}
}

func TestConfig_ToCrawlConfigErrors(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Crawl.Domain = "https://example.com"
		cfg.Crawl.MaxPages = 10
		cfg.Crawl.Devices = []string{"desktop"}
		cfg.Discovery = DiscoverySection{MaxVisited: 100, MaxDepth: 3, SitemapDepth: 3}
		cfg.Audit = models.DefaultTimings()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"缺少域名", func(c *Config) { c.Crawl.Domain = "" }},
		{"未知设备", func(c *Config) { c.Crawl.Devices = []string{"desktop", "Nokia 3310"} }},
		{"无效规则", func(c *Config) { c.Crawl.LandingPatterns = []string{"(unclosed"} }},
		{"页面数为0", func(c *Config) { c.Crawl.MaxPages = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if _, err := cfg.ToCrawlConfig(nil); err == nil {
				t.Error("期望返回错误")
			}
		})
	}

	cfg := base()
	cfg.Crawl.Devices = []string{"desktop", "Desktop", "iPhone 13", "iPhone 13"}
	crawl, err := cfg.ToCrawlConfig([]string{"/a"})
	if err != nil {
		t.Fatalf("ToCrawlConfig() 错误: %v", err)
	}
	if len(crawl.Devices) != 2 || len(crawl.URLs) != 1 {
		t.Errorf("设备应去重: %+v", crawl)
	}
}
