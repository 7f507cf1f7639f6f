package core

import (
	"sync"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

type pairKey struct {
	url    string
	device string
}

// Aggregator 按(url, device)收集审计结果,保持插入顺序;重复的组合替换旧结果
type Aggregator struct {
	mu      sync.Mutex
	index   map[pairKey]int
	results []models.AuditResult
}

// NewAggregator 创建聚合器
func NewAggregator() *Aggregator {
	return &Aggregator{index: make(map[pairKey]int)}
}

// Add 记录一条结果
func (a *Aggregator) Add(result models.AuditResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := pairKey{url: result.URL, device: result.Device}
	if i, ok := a.index[key]; ok {
		a.results[i] = result
		return
	}
	a.index[key] = len(a.results)
	a.results = append(a.results, result)
}

// AddFailure 记录占位结果,备注为 "error: <消息>"
func (a *Aggregator) AddFailure(pageURL string, device models.Device, err error) {
	a.Add(models.NewFailedResult(pageURL, device, err))
}

// Results 结果副本
func (a *Aggregator) Results() []models.AuditResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditResult, len(a.results))
	copy(out, a.results)
	return out
}

// Len 结果数
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// FailedCount 占位结果数
func (a *Aggregator) FailedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := range a.results {
		if a.results[i].Failed() {
			n++
		}
	}
	return n
}

// Findings 生成问题报告
func (a *Aggregator) Findings(pageCount, deviceCount int, now time.Time) models.FindingsReport {
	return models.BuildFindingsReport(a.Results(), pageCount, deviceCount, now)
}
