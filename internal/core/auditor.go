package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/analyzer"
	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
)

// URLDiscoverer 产出待审计的落地页列表
type URLDiscoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// PageAuditor 在隔离的浏览器上下文中审计单个(url, device)
type PageAuditor interface {
	Audit(ctx context.Context, pageURL string, device models.Device) (*models.PageCapture, error)
}

// ResourceGuard 打开新上下文前的资源检查,返回false表示等待超时(仍会继续审计)
type ResourceGuard interface {
	WaitForCapacity(ctx context.Context) bool
}

// AuditorDeps 审计器的外部依赖
type AuditorDeps struct {
	Discoverer URLDiscoverer
	Pages      PageAuditor
	Guard      ResourceGuard    // 可为nil
	Progress   ProgressReporter // 可为nil
}

// RunOutcome 一次运行的产物位置和结果
type RunOutcome struct {
	RunID           string
	OutputDir       string
	LandingURLsPath string
	SummaryPath     string
	FindingsPath    string
	RunReportPath   string
	Results         []models.AuditResult
	Stats           models.RunStats
}

// Auditor 串行的审计编排器: 发现 → 逐个(url, device)审计 → 汇总报告
type Auditor struct {
	config     models.CrawlConfig
	outputBase string
	deps       AuditorDeps
	now        func() time.Time
}

// NewAuditor 创建审计编排器
func NewAuditor(config models.CrawlConfig, outputBase string, deps AuditorDeps) (*Auditor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("审计配置无效: %w", err)
	}
	if deps.Discoverer == nil || deps.Pages == nil {
		return nil, errors.New("缺少URL发现器或页面审计器")
	}
	if deps.Progress == nil {
		deps.Progress = LogProgressReporter{}
	}
	return &Auditor{
		config:     config,
		outputBase: outputBase,
		deps:       deps,
		now:        time.Now,
	}, nil
}

// runDir 运行目录: <输出目录>/<主机名>/<运行ID>
func (a *Auditor) runDir(runID string) string {
	host := a.config.Domain
	if parsed, err := url.Parse(a.config.Domain); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	host = strings.ReplaceAll(host, ":", "_")
	return filepath.Join(a.outputBase, host, runID)
}

// Run 执行一次完整审计
//
// 单个组合的失败记为占位行,不会中断运行;只有产物无法写入时返回 FatalError。
// context取消后剩余组合直接记为占位行,报告照常写出,并返回包装了取消原因的 FatalError。
func (a *Auditor) Run(ctx context.Context) (*RunOutcome, error) {
	start := a.now()
	runID := models.NewRunID()

	reporter, err := utils.NewReporter(a.runDir(runID))
	if err != nil {
		return nil, &FatalError{Op: "创建输出目录", Err: err}
	}
	outcome := &RunOutcome{RunID: runID, OutputDir: reporter.OutputDir()}

	utils.Infof("🚀 开始审计: %s", a.config.Domain)
	utils.Infof("输出目录: %s", outcome.OutputDir)

	a.deps.Progress.Report(Progress{Percent: PercentDiscovering, Message: "发现落地页"})
	urls, err := a.deps.Discoverer.Discover(ctx)
	if err != nil {
		return nil, &FatalError{Op: "发现落地页", Err: err}
	}

	if outcome.LandingURLsPath, err = reporter.WriteLandingURLs(urls); err != nil {
		return nil, &FatalError{Op: "写入落地页列表", Err: err}
	}

	total := a.config.PairCount(len(urls))
	a.deps.Progress.Report(Progress{
		Total:   total,
		Percent: PercentDiscovered,
		Message: fmt.Sprintf("发现 %d 个落地页, 共 %d 个设备视图", len(urls), total),
	})

	agg := NewAggregator()
	dropped := 0
	index := 0
	for _, pageURL := range urls {
		for _, device := range a.config.Devices {
			index++

			if ctxErr := ctx.Err(); ctxErr != nil {
				agg.AddFailure(pageURL, device, ctxErr)
				a.deps.Progress.Report(Progress{
					Index:   index,
					Total:   total,
					Percent: AuditPercent(index, total),
					URL:     pageURL,
					Device:  device.Label(),
					Message: "已取消",
				})
				continue
			}

			if a.deps.Guard != nil && !a.deps.Guard.WaitForCapacity(ctx) {
				utils.Warnf("⚠️  可用内存不足,仍继续审计 %s [%s]", pageURL, device.Label())
			}

			result, capture, err := a.auditPair(ctx, reporter, pageURL, device)
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return nil, fatal
			}

			message := "完成"
			if err != nil {
				utils.Errorf("❌ %v", err)
				var pageErr *PageAuditError
				if errors.As(err, &pageErr) {
					err = pageErr.Err
				}
				agg.AddFailure(pageURL, device, err)
				message = "失败"
			} else {
				agg.Add(result)
				dropped += capture.DroppedEvents
			}

			a.deps.Progress.Report(Progress{
				Index:   index,
				Total:   total,
				Percent: AuditPercent(index, total),
				URL:     pageURL,
				Device:  device.Label(),
				Message: message,
			})
		}
	}

	results := agg.Results()
	outcome.Results = results
	outcome.Stats = models.RunStats{
		LandingURLs:   len(urls),
		DeviceViews:   len(results),
		FailedViews:   agg.FailedCount(),
		DroppedEvents: dropped,
	}

	if outcome.SummaryPath, err = reporter.WriteSummary(results); err != nil {
		return nil, &FatalError{Op: "写入汇总", Err: err}
	}

	end := a.now()
	findings := agg.Findings(len(urls), len(a.config.Devices), end)
	if outcome.FindingsPath, err = reporter.WriteFindings(a.config.Domain, findings); err != nil {
		return nil, &FatalError{Op: "写入问题报告", Err: err}
	}

	runReport := &models.RunReport{
		RunID:     runID,
		Domain:    a.config.Domain,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start).Seconds(),
		Stats:     outcome.Stats,
		Config:    a.config,
	}
	if outcome.RunReportPath, err = reporter.WriteRunReport(runReport); err != nil {
		return nil, &FatalError{Op: "写入运行报告", Err: err}
	}

	a.deps.Progress.Report(Progress{Index: index, Total: total, Percent: PercentDone, Message: "审计完成"})

	utils.Infof("✅ 审计完成: %d 个设备视图 (失败 %d)", outcome.Stats.DeviceViews, outcome.Stats.FailedViews)
	utils.Infof("📊 summary.csv: %s", outcome.SummaryPath)
	utils.Infof("📝 findings.md: %s", outcome.FindingsPath)
	if dropped > 0 {
		utils.Warnf("⚠️  共丢弃 %d 个网络事件 (事件缓冲区已满)", dropped)
	}

	if err := ctx.Err(); err != nil {
		return outcome, &FatalError{Op: "审计", Err: err}
	}
	return outcome, nil
}

// auditPair 审计单个组合并写出其证据文件;panic被恢复为 PageAuditError
func (a *Auditor) auditPair(ctx context.Context, reporter *utils.Reporter, pageURL string, device models.Device) (result models.AuditResult, capture *models.PageCapture, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PageAuditError{URL: pageURL, Device: device, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	capture, err = a.deps.Pages.Audit(ctx, pageURL, device)
	if err != nil {
		return result, nil, &PageAuditError{URL: pageURL, Device: device, Err: err}
	}
	if capture == nil {
		return result, nil, &PageAuditError{URL: pageURL, Device: device, Err: errors.New("页面审计未返回数据")}
	}

	analysis := analyzer.Analyze(analyzer.Input{
		HTML:        capture.HTML,
		TagCalls:    capture.TagCalls,
		QueuePushes: capture.QueuePushes,
		FirstGTMMs:  capture.FirstGTMMs,
		FirstGA4Ms:  capture.FirstGA4Ms,
	})

	result = models.AuditResult{
		URL:           pageURL,
		Device:        device.Label(),
		FirstGTMMs:    capture.FirstGTMMs,
		FirstGA4Ms:    capture.FirstGA4Ms,
		FirstAWMs:     capture.FirstAWMs,
		TelLinks:      capture.Probe.TelLinks,
		CallEventSeen: capture.Probe.CallEventSeen,
	}
	analysis.Apply(&result)

	if capture.Probe.Degraded != "" {
		utils.Debugf("电话链接探测降级 [%s][%s]: %s", pageURL, device.Label(), capture.Probe.Degraded)
	}

	if err := writeArtifacts(reporter, capture, analysis); err != nil {
		return result, nil, &FatalError{Op: "写入页面产物", Err: err}
	}
	return result, capture, nil
}

func writeArtifacts(reporter *utils.Reporter, capture *models.PageCapture, analysis analyzer.Analysis) error {
	telLinks := capture.TelLinks
	if telLinks == nil {
		telLinks = []models.TelLink{}
	}
	dom := models.DOMSummary{
		GTMIDs:            nonNil(analysis.GTM),
		GA4IDs:            nonNil(analysis.GA4),
		AdsIDs:            nonNil(analysis.Ads),
		ConsentInfo:       analysis.Consent,
		TelLinks:          telLinks,
		CallTrackingFound: analysis.CallTracking,
		HTMLSnippet:       models.Snippet(capture.HTML, models.HTMLSnippetLength),
	}
	return reporter.WritePageArtifacts(capture, dom)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
