package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/crawlers"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
)

// RunOptions 一次命令行运行的输入
type RunOptions struct {
	Config     *Config
	URLs       []string // --urls 显式列表
	CLIHeaders []string // -H 参数
	Progress   ProgressReporter
}

// Execute 组装请求头、URL发现器、浏览器和资源守卫,然后执行审计
func Execute(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	cfg := opts.Config

	urls := append([]string{}, opts.URLs...)
	if cfg.Crawl.URLFile != "" {
		fileURLs, err := utils.ReadURLsFromFile(cfg.Crawl.URLFile)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fileURLs...)
	}

	crawl, err := cfg.ToCrawlConfig(urls)
	if err != nil {
		return nil, err
	}

	headers, err := NewHeaderManager(cfg.Headers, cfg.HeadersFile, opts.CLIHeaders)
	if err != nil {
		return nil, err
	}
	if _, err := headers.GetHeaders(); err != nil {
		return nil, err
	}
	utils.Debugf("请求头: %s", headers.SafeHeadersString())

	discoverer, err := crawlers.NewDiscoverer(crawl, headers)
	if err != nil {
		return nil, err
	}

	utils.Info("🌐 启动浏览器...")
	browser, err := crawlers.LaunchBrowser(cfg.BrowserOptions(), headers)
	if err != nil {
		return nil, &FatalError{Op: "启动浏览器", Err: err}
	}
	defer browser.Close()

	deps := AuditorDeps{
		Discoverer: discoverer,
		Pages:      browser,
		Progress:   opts.Progress,
	}
	if cfg.Resource.Enabled {
		monitor := crawlers.NewResourceMonitor(cfg.ResourceMonitorConfig())
		monitor.StartMonitoring(5 * time.Second)
		defer monitor.StopMonitoring()
		deps.Guard = monitor
	}

	auditor, err := NewAuditor(crawl, cfg.Output.BaseDir, deps)
	if err != nil {
		return nil, err
	}
	return auditor.Run(ctx)
}
