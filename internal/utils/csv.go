package utils

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// SummaryColumns summary.csv 的列顺序
var SummaryColumns = []string{
	"url", "device", "gtm_ids", "ga4_ids", "ads_ids",
	"gtm_and_gtag_both", "dup_ga4_config", "dup_ads_config",
	"page_view_dupe", "conversion_dupe", "consent_default", "consent_updated",
	"first_gtm_ms", "first_ga4_ms", "first_aw_ms", "script_deferrer_detected",
	"tel_links", "call_tracking_found", "call_event_seen", "notes",
}

// EscapeCSV 值包含逗号、双引号或换行时加引号,内部双引号加倍
func EscapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func jsonList(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func optionalMs(ms *int64) string {
	if ms == nil {
		return ""
	}
	return strconv.FormatInt(*ms, 10)
}

// SummaryRow 按列顺序格式化一行 (未转义)
func SummaryRow(r *models.AuditResult) []string {
	b := strconv.FormatBool
	return []string{
		r.URL,
		r.Device,
		jsonList(r.GTMIDs),
		jsonList(r.GA4IDs),
		jsonList(r.AdsIDs),
		b(r.GTMAndGtagBoth),
		b(r.DupGA4Config),
		b(r.DupAdsConfig),
		b(r.PageViewDupe),
		b(r.ConversionDupe),
		b(r.ConsentDefault),
		b(r.ConsentUpdated),
		optionalMs(r.FirstGTMMs),
		optionalMs(r.FirstGA4Ms),
		optionalMs(r.FirstAWMs),
		b(r.ScriptDeferrerDetected),
		strconv.Itoa(r.TelLinks),
		b(r.CallTrackingFound),
		b(r.CallEventSeen),
		r.Notes,
	}
}

// BuildSummaryCSV 生成summary.csv内容,行之间以"\n"连接,末尾无换行
func BuildSummaryCSV(results []models.AuditResult) string {
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, strings.Join(SummaryColumns, ","))
	for i := range results {
		row := SummaryRow(&results[i])
		for j, v := range row {
			row[j] = EscapeCSV(v)
		}
		lines = append(lines, strings.Join(row, ","))
	}
	return strings.Join(lines, "\n")
}
