package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/schollz/progressbar/v3"
)

// 运行目录中的产物文件名
const (
	LandingURLsFile = "landing_urls.json"
	SummaryFile     = "summary.csv"
	FindingsFile    = "findings.md"
	RunReportFile   = "run_report.json"
)

// Reporter 把审计产物写入运行目录
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器并确保目录存在
func NewReporter(outputDir string) (*Reporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	return &Reporter{outputDir: outputDir}, nil
}

// OutputDir 运行目录
func (r *Reporter) OutputDir() string {
	return r.outputDir
}

// WriteLandingURLs 写入 landing_urls.json
func (r *Reporter) WriteLandingURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	return r.saveJSON(LandingURLsFile, urls)
}

// WritePageArtifacts 写入单个(url, device)的四个证据文件:
// network_/datalayer_/gtag_/dom_ + URL哈希 + 设备后缀
func (r *Reporter) WritePageArtifacts(capture *models.PageCapture, dom models.DOMSummary) error {
	suffix := models.URLHash(capture.URL) + capture.Device.FileSuffix() + ".json"

	network := capture.Network
	if network == nil {
		network = []models.NetworkEvent{}
	}
	pushes := capture.QueuePushes
	if pushes == nil {
		pushes = []models.TagCallEvent{}
	}
	calls := capture.TagCalls
	if calls == nil {
		calls = []models.TagCallEvent{}
	}

	artifacts := []struct {
		prefix string
		data   interface{}
	}{
		{"network_", network},
		{"datalayer_", pushes},
		{"gtag_", calls},
		{"dom_", dom},
	}
	for _, a := range artifacts {
		if _, err := r.saveJSON(a.prefix+suffix, a.data); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary 写入 summary.csv
func (r *Reporter) WriteSummary(results []models.AuditResult) (string, error) {
	path := filepath.Join(r.outputDir, SummaryFile)
	if err := os.WriteFile(path, []byte(BuildSummaryCSV(results)), 0644); err != nil {
		return "", fmt.Errorf("写入summary.csv失败: %w", err)
	}
	Debugf("保存汇总: %s (%d 行)", path, len(results))
	return path, nil
}

// WriteFindings 写入 findings.md
func (r *Reporter) WriteFindings(domain string, report models.FindingsReport) (string, error) {
	var buf bytes.Buffer
	if err := WriteFindingsMarkdown(&buf, domain, report); err != nil {
		return "", fmt.Errorf("生成findings.md失败: %w", err)
	}
	path := filepath.Join(r.outputDir, FindingsFile)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("写入findings.md失败: %w", err)
	}
	return path, nil
}

// WriteRunReport 写入 run_report.json
func (r *Reporter) WriteRunReport(report *models.RunReport) (string, error) {
	data, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化运行报告失败: %w", err)
	}
	path := filepath.Join(r.outputDir, RunReportFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入运行报告失败: %w", err)
	}
	return path, nil
}

func (r *Reporter) saveJSON(filename string, data interface{}) (string, error) {
	path := filepath.Join(r.outputDir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败 [%s]: %w", filename, err)
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("写入文件失败 [%s]: %w", filename, err)
	}

	Debugf("保存产物: %s", path)
	return path, nil
}

// NewProgressBar 创建终端进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
