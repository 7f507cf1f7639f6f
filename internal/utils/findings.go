package utils

import (
	"fmt"
	"io"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/nao1215/markdown"
)

// findingText 每个问题类别在findings.md中的文字
type findingText struct {
	summary string // "Summary of Issues" 中的条目
	example string // "Example URLs by Issue" 中的小标题
}

var findingTexts = map[models.FindingCategory]findingText{
	models.CategoryGTMAndGtag:     {"GTM + hardcoded gtag on same page", "GTM + gtag both present"},
	models.CategoryDupGA4Config:   {"Duplicate GA4 config", "Duplicate GA4 config"},
	models.CategoryDupAdsConfig:   {"Duplicate Ads config", "Duplicate Ads config"},
	models.CategoryPageViewDupe:   {"Duplicate page_view events", "Duplicate page_view events"},
	models.CategoryConversionDupe: {"Duplicate conversion events", "Duplicate conversion events"},
	models.CategoryConsentStale:   {"Consent Mode defaulted but never updated", "Consent defaulted but not updated"},
	models.CategoryLateScripts:    {"Possible script deferrer/late loads", "Late or deferred scripts"},
	models.CategoryTelNoCallEvent: {"Phone links found but no call event fired", "No call event on tel click"},
}

// fixStep 修复计划中的一步
type fixStep struct {
	title, issue, fix, impact string
}

var fixPlan = []fixStep{
	{
		"Remove Duplicate Tag Loaders",
		"GTM and hardcoded gtag snippets both loading the same IDs",
		"Keep GTM only. Remove hardcoded GA4/AW gtag snippets from theme/plugins.",
		"Prevents double-counting and reduces page load time.",
	},
	{
		"Fix Duplicate Configurations",
		"Same GA4 or Ads ID configured multiple times",
		"Ensure each ID is configured exactly once, preferably in GTM.",
		"Prevents duplicate events and data quality issues.",
	},
	{
		"Fix Duplicate Events",
		"`page_view` or conversion events firing multiple times per page load",
		"GA4: fire exactly one `page_view` per load; if SPA, fire on route change only. " +
			"Ads conversions: fire once with explicit `send_to`; do not piggyback on `page_view`.",
		"Accurate conversion tracking and reporting.",
	},
	{
		"Fix Consent Mode",
		"Consent Mode defaults to denied but never updates to granted",
		"Implement proper consent banner that calls `gtag('consent', 'update', {...})` when user accepts.",
		"Enables proper data collection after consent.",
	},
	{
		"Fix Script Loading Delays",
		"GTM or gtag scripts delayed by deferrers/optimizers",
		"Place GTM in `<head>` and `<noscript>` in `<body>`; disable any tag deferral affecting GTM/gtag (Rocket Loader, Nitro, etc.).",
		"Ensures tags fire early enough to capture all user interactions.",
	},
	{
		"Wire Phone Call Tracking",
		"`tel:` links present but no conversion events fire on click",
		"Ensure `tel:` clicks dispatch a GA4 event marked as conversion or AW event with correct `send_to`. " +
			"Verify CallRail number swap and that the phone number is visible on mobile.",
		"Proper attribution of phone call conversions.",
	},
}

// WriteFindingsMarkdown 生成findings.md
func WriteFindingsMarkdown(w io.Writer, domain string, report models.FindingsReport) error {
	md := markdown.NewMarkdown(w)

	md.H1("Tag Audit Findings: " + domain)
	md.PlainText("")
	md.PlainTextf("**Audit Date:** %s", report.GeneratedAt.UTC().Format(time.RFC3339))
	md.PlainTextf("**Total landing pages checked:** %d pages × %d devices = %d device-views",
		report.PageCount, report.DeviceCount, report.ViewCount)
	md.PlainText("")

	md.H2("Summary of Issues")
	md.PlainText("")
	summary := make([]string, 0, len(report.Categories))
	for _, c := range report.Categories {
		summary = append(summary, fmt.Sprintf("**%s:** %d device-views", findingTexts[c.Category].summary, c.Count))
	}
	md.BulletList(summary...)
	md.PlainText("")

	md.H2("Minimal Fix Plan")
	md.PlainText("")
	for i, step := range fixPlan {
		md.PlainTextf("### %d. %s", i+1, step.title)
		md.PlainText("**Issue:** " + step.issue)
		md.PlainText("**Fix:** " + step.fix)
		md.PlainText("**Impact:** " + step.impact)
		md.PlainText("")
	}

	md.H2("Example URLs by Issue")
	md.PlainText("")
	for _, c := range report.Categories {
		md.PlainText("### " + findingTexts[c.Category].example)
		if len(c.Examples) == 0 {
			md.PlainText("- None found")
		} else {
			items := make([]string, 0, len(c.Examples))
			for _, ex := range c.Examples {
				items = append(items, fmt.Sprintf("%s [%s]", ex.URL, ex.Device))
			}
			md.BulletList(items...)
		}
		md.PlainText("")
	}

	md.H2("Next Steps")
	md.PlainText("")
	md.OrderedList(
		"Review `summary.csv` for page-by-page details",
		"Check the per-page JSON files in the run directory for specific evidence",
		"Prioritize fixes based on conversion impact",
		"Test fixes in staging before deploying to production",
	)

	return md.Build()
}
