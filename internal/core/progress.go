package core

import (
	"sync"

	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// 进度百分比的阶段边界
const (
	PercentDiscovering = 10
	PercentDiscovered  = 30
	PercentAuditSpan   = 60
	PercentDone        = 100
)

// Progress 一次进度更新
type Progress struct {
	Index   int    // 已完成的(url, device)组合数
	Total   int    // 组合总数,发现完成前为0
	Percent int    // 0-100
	URL     string // 为空表示阶段性消息
	Device  string
	Message string
}

// ProgressReporter 接收审计进度
type ProgressReporter interface {
	Report(p Progress)
}

// AuditPercent 第index个组合完成后的百分比: 30 + floor(index/total*60)
func AuditPercent(index, total int) int {
	if total <= 0 {
		return PercentDiscovered + PercentAuditSpan
	}
	if index > total {
		index = total
	}
	return PercentDiscovered + index*PercentAuditSpan/total
}

// LogProgressReporter 把进度写入日志
type LogProgressReporter struct{}

// Report 实现 ProgressReporter
func (LogProgressReporter) Report(p Progress) {
	if p.URL == "" {
		utils.Infof("[%3d%%] %s", p.Percent, p.Message)
		return
	}
	utils.Infof("[%d/%d] %s [%s] %s", p.Index, p.Total, p.URL, p.Device, p.Message)
}

// BarProgressReporter 终端进度条,在第一次得知总数时创建
type BarProgressReporter struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarProgressReporter 创建进度条报告器
func NewBarProgressReporter() *BarProgressReporter {
	return &BarProgressReporter{}
}

// Report 实现 ProgressReporter
func (r *BarProgressReporter) Report(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		if p.Total <= 0 {
			return
		}
		r.bar = utils.NewProgressBar(p.Total, "🔎 审计中")
	}
	if p.Index > 0 {
		_ = r.bar.Set(p.Index)
	}
	if p.Percent >= PercentDone {
		_ = r.bar.Finish()
	}
}

// MultiProgressReporter 依次转发给多个报告器
type MultiProgressReporter []ProgressReporter

// Report 实现 ProgressReporter
func (m MultiProgressReporter) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}
