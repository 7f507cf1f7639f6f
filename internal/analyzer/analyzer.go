// Package analyzer 从页面HTML、gtag调用日志和网络时间推导标签ID与问题标志。
//
// 所有函数都是纯函数,只依赖传入的数据,不需要浏览器即可测试。
package analyzer

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// 时间阈值(毫秒)
const (
	LateGTMThresholdMs = 1500
	LateGA4ThresholdMs = 2500
)

var (
	gtmIDPattern      = regexp.MustCompile(`(?i)GTM-[A-Z0-9]+`)
	ga4IDPattern      = regexp.MustCompile(`(?i)G-[A-Z0-9]{10}`)
	adsIDPattern      = regexp.MustCompile(`AW-\d+`)
	ga4ConfigID       = regexp.MustCompile(`(?i)^G-[A-Z0-9]{10}$`)
	adsConfigID       = regexp.MustCompile(`^AW-\d+$`)
	conversionIntent  = regexp.MustCompile(`(?i)purchase|generate_lead|begin_checkout|contact|call|conversion|sign_up|subscribe`)
	deferrerPattern   = regexp.MustCompile(`(?i)rocket-loader|nitro|perfmatters|optimize|asyncify|lazyload|delay|defer.*script|wp-rocket`)
	callVendorPattern = regexp.MustCompile(`(?i)callrail|call-tracking|calltracking|twilio|invoca`)
	numberSwapPattern = regexp.MustCompile(`(?i)number.*swap|phone.*swap|dynamic.*number|tracking.*number`)
)

// Input 单个页面的分析输入
type Input struct {
	HTML        string
	TagCalls    []models.TagCallEvent
	QueuePushes []models.TagCallEvent
	FirstGTMMs  *int64
	FirstGA4Ms  *int64
}

// IDs 标签ID提取结果
type IDs struct {
	GTM            []string
	GA4            []string
	Ads            []string
	DupGA4Config   bool
	DupAdsConfig   bool
	GTMAndGtagBoth bool
}

// Events 事件类标志
type Events struct {
	ConsentDefault bool
	ConsentUpdated bool
	PageViewDupe   bool
	ConversionDupe bool
}

// Analysis 单个页面的完整分析结果
type Analysis struct {
	IDs
	Events
	ScriptDeferrer bool
	CallTracking   bool
	Consent        models.ConsentInfo
}

// Analyze 对一个页面执行全部启发式规则
func Analyze(in Input) Analysis {
	commands := CommandCalls(in.TagCalls, in.QueuePushes)
	return Analysis{
		IDs:            ExtractIDs(in.HTML, commands),
		Events:         AnalyzeEvents(commands),
		ScriptDeferrer: DetectDeferrer(in.HTML, in.FirstGTMMs, in.FirstGA4Ms),
		CallTracking:   DetectCallTracking(in.HTML),
		Consent:        ConsentCalls(commands),
	}
}

// CommandCalls 合并gtag调用日志和gtag形式的dataLayer push,按时间戳排序
//
// 页面自己声明 function gtag(){dataLayer.push(arguments);} 时会覆盖注入的包装,
// 命令只出现在dataLayer中: 单个元素且为以字符串开头的参数数组。
// ViaCommand 的push已在调用日志中记录过,跳过。
func CommandCalls(calls, pushes []models.TagCallEvent) []models.TagCallEvent {
	merged := make([]models.TagCallEvent, 0, len(calls)+len(pushes))
	merged = append(merged, calls...)
	for _, p := range pushes {
		if p.ViaCommand || len(p.Args) != 1 {
			continue
		}
		args, ok := p.Args[0].([]any)
		if !ok || len(args) == 0 {
			continue
		}
		if _, ok := args[0].(string); !ok {
			continue
		}
		merged = append(merged, models.TagCallEvent{T: p.T, Args: args})
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].T < merged[j].T })
	return merged
}

// Apply 将分析结果写入审计结果
func (a Analysis) Apply(r *models.AuditResult) {
	r.GTMIDs = a.GTM
	r.GA4IDs = a.GA4
	r.AdsIDs = a.Ads
	r.GTMAndGtagBoth = a.GTMAndGtagBoth
	r.DupGA4Config = a.DupGA4Config
	r.DupAdsConfig = a.DupAdsConfig
	r.PageViewDupe = a.PageViewDupe
	r.ConversionDupe = a.ConversionDupe
	r.ConsentDefault = a.ConsentDefault
	r.ConsentUpdated = a.ConsentUpdated
	r.ScriptDeferrerDetected = a.ScriptDeferrer
	r.CallTrackingFound = a.CallTracking
}

// ExtractIDs 从HTML和config命令中提取ID
//
// 双加载标志: 同一ID同时出现在HTML和config命令中,或页面同时存在GTM容器ID和任意config命令。
// 后一条会把有意部署的第二套标签也算作问题。
func ExtractIDs(html string, calls []models.TagCallEvent) IDs {
	gtm := uniqueMatches(gtmIDPattern, html)
	ga4HTML := uniqueMatches(ga4IDPattern, html)
	adsHTML := uniqueMatches(adsIDPattern, html)

	configIDs := ConfigIDs(calls)
	var ga4Config, adsConfig []string
	for _, id := range configIDs {
		if ga4ConfigID.MatchString(id) {
			ga4Config = append(ga4Config, id)
		}
		if adsConfigID.MatchString(id) {
			adsConfig = append(adsConfig, id)
		}
	}

	configSet := make(map[string]bool, len(configIDs))
	for _, id := range configIDs {
		configSet[id] = true
	}

	both := containsAny(ga4HTML, configSet) || containsAny(adsHTML, configSet) ||
		(len(gtm) > 0 && len(configIDs) > 0)

	return IDs{
		GTM:            gtm,
		GA4:            union(ga4HTML, ga4Config),
		Ads:            union(adsHTML, adsConfig),
		DupGA4Config:   hasDuplicate(ga4Config),
		DupAdsConfig:   hasDuplicate(adsConfig),
		GTMAndGtagBoth: both,
	}
}

// ConfigIDs 返回所有 config 命令的目标ID (按调用顺序,保留重复)
func ConfigIDs(calls []models.TagCallEvent) []string {
	var ids []string
	for i := range calls {
		if calls[i].Command() != "config" || len(calls[i].Args) < 2 {
			continue
		}
		if id, ok := calls[i].Args[1].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// AnalyzeEvents 计算consent与重复事件标志
func AnalyzeEvents(calls []models.TagCallEvent) Events {
	var ev Events
	pageViews, conversions := 0, 0

	for i := range calls {
		c := &calls[i]
		switch c.Command() {
		case "consent":
			switch c.StringArg(1) {
			case "default":
				ev.ConsentDefault = true
			case "update":
				ev.ConsentUpdated = true
			}
		case "event":
			if c.StringArg(1) == "page_view" {
				pageViews++
			}
			if conversionIntent.MatchString(strings.ToLower(Payload(c.Args))) {
				conversions++
			}
		}
	}

	ev.PageViewDupe = pageViews > 1
	ev.ConversionDupe = conversions > 1
	return ev
}

// ConsentCalls 返回consent default/update调用
func ConsentCalls(calls []models.TagCallEvent) models.ConsentInfo {
	info := models.ConsentInfo{
		Defaults: []models.TagCallEvent{},
		Updates:  []models.TagCallEvent{},
	}
	for _, c := range calls {
		if c.Command() != "consent" {
			continue
		}
		switch c.StringArg(1) {
		case "default":
			info.Defaults = append(info.Defaults, c)
		case "update":
			info.Updates = append(info.Updates, c)
		}
	}
	return info
}

// DetectDeferrer HTML中出现延迟加载插件特征,或GTM/GA4首次请求过晚
func DetectDeferrer(html string, firstGTMMs, firstGA4Ms *int64) bool {
	if deferrerPattern.MatchString(html) {
		return true
	}
	if firstGTMMs != nil && *firstGTMMs > LateGTMThresholdMs {
		return true
	}
	return firstGA4Ms != nil && *firstGA4Ms > LateGA4ThresholdMs
}

// DetectCallTracking HTML包含呼叫追踪供应商特征,或内联脚本包含号码替换术语
func DetectCallTracking(html string) bool {
	if callVendorPattern.MatchString(html) {
		return true
	}
	return numberSwapPattern.MatchString(InlineScripts(html))
}

// callEventTerms 点击tel:链接后出现即视为通话转化事件
var callEventTerms = []string{"call", "phone", "contact", "send_to", "conversion"}

// CallEventSeen 任一记录的参数JSON(小写)包含通话转化相关词汇
func CallEventSeen(events []models.TagCallEvent) bool {
	for _, ev := range events {
		if ev.Args == nil {
			continue
		}
		payload := strings.ToLower(Payload(ev.Args))
		for _, term := range callEventTerms {
			if strings.Contains(payload, term) {
				return true
			}
		}
	}
	return false
}

// Payload 参数列表的JSON文本
func Payload(args []any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	return union(re.FindAllString(text, -1))
}

// union 合并并去重,保持首次出现顺序
func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func hasDuplicate(ids []string) bool {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
		if counts[id] > 1 {
			return true
		}
	}
	return false
}

func containsAny(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}
