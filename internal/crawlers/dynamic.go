package crawlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrPageCrashed 页面审计过程中发生panic
var ErrPageCrashed = errors.New("页面审计崩溃")

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	Headless bool
	BinPath  string // 为空时由launcher自动查找或下载
	Timings  models.Timings
}

// Browser 基于Rod的页面审计器
// 一次运行只启动一个浏览器;每个 (URL, 设备) 使用独立的隐身上下文
type Browser struct {
	launcher     *launcher.Launcher
	browser      *rod.Browser
	pool         *PagePool
	instrumenter *Instrumenter
	timings      models.Timings
}

// LaunchBrowser 启动并连接浏览器
func LaunchBrowser(opts BrowserOptions, headerProvider models.HeaderProvider) (*Browser, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.BinPath != "" {
		l = l.Bin(opts.BinPath)
	}

	// 允许访问自签名、过期或主机名不匹配的HTTPS站点
	l = l.Set("ignore-certificate-errors")
	utils.Debugf("浏览器启动参数: --ignore-certificate-errors (跳过TLS证书验证)")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	utils.Warnf("浏览器已配置为跳过HTTPS证书验证,仅用于审计")

	return &Browser{
		launcher:     l,
		browser:      browser,
		pool:         NewPagePool(browser, headerProvider),
		instrumenter: NewInstrumenter(opts.Timings),
		timings:      opts.Timings,
	}, nil
}

// Audit 在全新的隔离上下文中加载页面,采集标签调用、网络事件并执行电话链接探测
// 上下文在返回前一定会被关闭,包括panic的情况
func (b *Browser) Audit(ctx context.Context, pageURL string, device models.Device) (capture *models.PageCapture, err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("捕获panic: URL=%s, 设备=%s, 错误=%v, 类型=panic恢复", pageURL, device.Label(), r)
			capture = nil
			err = fmt.Errorf("%w: %v", ErrPageCrashed, r)
		}
	}()

	page, err := b.pool.AcquirePage(ctx, device)
	if err != nil {
		return nil, err
	}
	defer b.pool.ReleasePage(page)

	session, err := b.instrumenter.Attach(ctx, page)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	utils.Debugf("访问页面: %s (设备: %s)", pageURL, device.Label())
	if err := session.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}

	session.Settle(ctx)

	html, calls, pushes, err := session.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// 首次出现时间只取探测点击之前的事件,点击触发的请求只进入原始网络日志
	network := session.Network()
	probe := ProbeTelLink(ctx, page, session.Script(), b.timings)
	telLinks := ExtractTelLinks(page.Context(ctx), html)
	network = network.Append(session.Network())
	if network.Dropped > 0 {
		utils.Warnf("网络事件通道已满,丢弃 %d 条事件", network.Dropped)
	}

	utils.Debugf("页面采集完成: %s gtag调用=%d dataLayer=%d 网络事件=%d", pageURL, len(calls), len(pushes), len(network.Events))

	return &models.PageCapture{
		URL:           pageURL,
		Device:        device,
		HTML:          html,
		Network:       network.Events,
		FirstGTMMs:    network.FirstGTMMs,
		FirstGA4Ms:    network.FirstGA4Ms,
		FirstAWMs:     network.FirstAWMs,
		TagCalls:      calls,
		QueuePushes:   pushes,
		TelLinks:      telLinks,
		Probe:         probe,
		DroppedEvents: network.Dropped,
	}, nil
}

// Close 关闭所有上下文和浏览器进程
func (b *Browser) Close() {
	if b == nil || b.browser == nil {
		return
	}
	if err := b.pool.Close(); err != nil {
		utils.Debugf("关闭标签页池失败: %v", err)
	}
	if err := b.browser.Close(); err != nil {
		utils.Debugf("关闭浏览器失败: %v", err)
	}
	b.launcher.Cleanup()
	utils.Debugf("浏览器已关闭")
}
