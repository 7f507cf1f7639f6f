package models

import (
	"encoding/json"
	"time"
)

// AuditResult 单个(url, device)组合的审计结果,字段与summary.csv列一一对应
type AuditResult struct {
	URL    string `json:"url"`
	Device string `json:"device"`

	GTMIDs []string `json:"gtm_ids"`
	GA4IDs []string `json:"ga4_ids"`
	AdsIDs []string `json:"ads_ids"`

	GTMAndGtagBoth bool `json:"gtm_and_gtag_both"`
	DupGA4Config   bool `json:"dup_ga4_config"`
	DupAdsConfig   bool `json:"dup_ads_config"`
	PageViewDupe   bool `json:"page_view_dupe"`
	ConversionDupe bool `json:"conversion_dupe"`
	ConsentDefault bool `json:"consent_default"`
	ConsentUpdated bool `json:"consent_updated"`

	// 首次出现时间(毫秒),未观察到时为nil
	FirstGTMMs *int64 `json:"first_gtm_ms"`
	FirstGA4Ms *int64 `json:"first_ga4_ms"`
	FirstAWMs  *int64 `json:"first_aw_ms"`

	ScriptDeferrerDetected bool `json:"script_deferrer_detected"`
	TelLinks               int  `json:"tel_links"`
	CallTrackingFound      bool `json:"call_tracking_found"`
	CallEventSeen          bool `json:"call_event_seen"`

	Notes string `json:"notes"`
}

// NewFailedResult 创建审计失败时的占位结果 (所有标志为false,notes记录错误)
func NewFailedResult(pageURL string, device Device, err error) AuditResult {
	msg := "unknown"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return AuditResult{
		URL:    pageURL,
		Device: device.Label(),
		GTMIDs: []string{},
		GA4IDs: []string{},
		AdsIDs: []string{},
		Notes:  "error: " + msg,
	}
}

// ConsentStale 已设置consent默认值但从未更新
func (r *AuditResult) ConsentStale() bool {
	return r.ConsentDefault && !r.ConsentUpdated
}

// TelWithoutCallEvent 页面有电话链接但点击后没有转化事件
func (r *AuditResult) TelWithoutCallEvent() bool {
	return r.TelLinks > 0 && !r.CallEventSeen
}

// Failed 是否为占位结果
func (r *AuditResult) Failed() bool {
	return r.Notes != ""
}

// FindingCategory 问题类别
type FindingCategory string

const (
	CategoryGTMAndGtag     FindingCategory = "gtm_and_gtag_both"
	CategoryDupGA4Config   FindingCategory = "dup_ga4_config"
	CategoryDupAdsConfig   FindingCategory = "dup_ads_config"
	CategoryPageViewDupe   FindingCategory = "page_view_dupe"
	CategoryConversionDupe FindingCategory = "conversion_dupe"
	CategoryConsentStale   FindingCategory = "consent_stale"
	CategoryLateScripts    FindingCategory = "script_deferrer"
	CategoryTelNoCallEvent FindingCategory = "tel_without_call_event"
)

// FindingCategories 报告中类别的固定顺序
var FindingCategories = []FindingCategory{
	CategoryGTMAndGtag,
	CategoryDupGA4Config,
	CategoryDupAdsConfig,
	CategoryPageViewDupe,
	CategoryConversionDupe,
	CategoryConsentStale,
	CategoryLateScripts,
	CategoryTelNoCallEvent,
}

// Matches 判断结果是否属于该类别
func (c FindingCategory) Matches(r *AuditResult) bool {
	switch c {
	case CategoryGTMAndGtag:
		return r.GTMAndGtagBoth
	case CategoryDupGA4Config:
		return r.DupGA4Config
	case CategoryDupAdsConfig:
		return r.DupAdsConfig
	case CategoryPageViewDupe:
		return r.PageViewDupe
	case CategoryConversionDupe:
		return r.ConversionDupe
	case CategoryConsentStale:
		return r.ConsentStale()
	case CategoryLateScripts:
		return r.ScriptDeferrerDetected
	case CategoryTelNoCallEvent:
		return r.TelWithoutCallEvent()
	}
	return false
}

// FindingExample 示例 (url + 设备)
type FindingExample struct {
	URL    string `json:"url"`
	Device string `json:"device"`
}

// CategoryFinding 单个类别的统计
type CategoryFinding struct {
	Category FindingCategory  `json:"category"`
	Count    int              `json:"count"`
	Examples []FindingExample `json:"examples"`
}

// MaxFindingExamples 每个类别最多列出的不同URL数
const MaxFindingExamples = 2

// FindingsReport 从审计结果派生的问题报告
type FindingsReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	PageCount   int               `json:"page_count"`
	DeviceCount int               `json:"device_count"`
	ViewCount   int               `json:"view_count"`
	Categories  []CategoryFinding `json:"categories"`
}

// BuildFindingsReport 统计每个类别的数量,并为每个类别取最多2个不同URL的首个设备视图
func BuildFindingsReport(results []AuditResult, pageCount, deviceCount int, now time.Time) FindingsReport {
	report := FindingsReport{
		GeneratedAt: now,
		PageCount:   pageCount,
		DeviceCount: deviceCount,
		ViewCount:   len(results),
		Categories:  make([]CategoryFinding, 0, len(FindingCategories)),
	}

	for _, category := range FindingCategories {
		finding := CategoryFinding{Category: category, Examples: []FindingExample{}}
		seen := make(map[string]bool)
		for i := range results {
			r := &results[i]
			if !category.Matches(r) {
				continue
			}
			finding.Count++
			if seen[r.URL] || len(finding.Examples) >= MaxFindingExamples {
				continue
			}
			seen[r.URL] = true
			finding.Examples = append(finding.Examples, FindingExample{URL: r.URL, Device: r.Device})
		}
		report.Categories = append(report.Categories, finding)
	}

	return report
}

// Get 按类别查找统计
func (r *FindingsReport) Get(category FindingCategory) CategoryFinding {
	for _, c := range r.Categories {
		if c.Category == category {
			return c
		}
	}
	return CategoryFinding{Category: category}
}

// RunReport 运行级别的报告 (run_report.json)
type RunReport struct {
	RunID     string      `json:"run_id"`
	Domain    string      `json:"domain"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	Duration  float64     `json:"duration"` // 秒
	Stats     RunStats    `json:"stats"`
	Config    CrawlConfig `json:"config"`
}

// RunStats 运行统计
type RunStats struct {
	LandingURLs   int `json:"landing_urls"`
	DeviceViews   int `json:"device_views"`
	FailedViews   int `json:"failed_views"`
	DroppedEvents int `json:"dropped_events"`
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
