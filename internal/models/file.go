package models

// NetworkEventType 网络事件类型
type NetworkEventType string

const (
	NetworkRequest  NetworkEventType = "request"
	NetworkResponse NetworkEventType = "response"
)

// NetworkEvent 分析/广告供应商域名的网络事件
type NetworkEvent struct {
	URL    string           `json:"url"`
	Ms     int64            `json:"ms"` // 相对导航开始的毫秒数
	Type   NetworkEventType `json:"type"`
	Status int              `json:"status,omitempty"` // 仅response
}

// TagCallEvent gtag调用或dataLayer push记录
type TagCallEvent struct {
	T    int64 `json:"t"` // 页面内时间戳(epoch毫秒)
	Args []any `json:"args"`
	// ViaCommand 该push发生在被包装的gtag内部,命令本身已记录在调用日志中
	ViaCommand bool `json:"via_command,omitempty"`
}

// Command 返回第一个参数(命令名),非字符串时返回空
func (e *TagCallEvent) Command() string {
	return e.StringArg(0)
}

// StringArg 返回第i个字符串参数
func (e *TagCallEvent) StringArg(i int) string {
	if i >= len(e.Args) {
		return ""
	}
	s, _ := e.Args[i].(string)
	return s
}

// TelLink 页面中的电话链接
type TelLink struct {
	Href    string `json:"href"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// ProbeResult 电话链接点击探测结果
type ProbeResult struct {
	TelLinks      int    `json:"tel_links"`
	CallEventSeen bool   `json:"call_event_seen"`
	Degraded      string `json:"degraded,omitempty"` // 探测降级原因,正常时为空
}

// PageCapture 单个页面审计采集到的原始证据
type PageCapture struct {
	URL    string `json:"url"`
	Device Device `json:"device"`
	HTML   string `json:"-"`

	Network    []NetworkEvent `json:"network"`
	FirstGTMMs *int64         `json:"first_gtm_ms"`
	FirstGA4Ms *int64         `json:"first_ga4_ms"`
	FirstAWMs  *int64         `json:"first_aw_ms"`

	TagCalls    []TagCallEvent `json:"gtag_calls"`
	QueuePushes []TagCallEvent `json:"datalayer_pushes"`
	TelLinks    []TelLink      `json:"tel_links"`

	Probe         ProbeResult `json:"probe"`
	DroppedEvents int         `json:"dropped_events"`
}

// ConsentInfo consent命令调用
type ConsentInfo struct {
	Defaults []TagCallEvent `json:"defaults"`
	Updates  []TagCallEvent `json:"updates"`
}

// DOMSummary dom_<hash><device>.json 的内容
type DOMSummary struct {
	GTMIDs            []string    `json:"gtmIds"`
	GA4IDs            []string    `json:"ga4Ids"`
	AdsIDs            []string    `json:"adsIds"`
	ConsentInfo       ConsentInfo `json:"consentInfo"`
	TelLinks          []TelLink   `json:"telLinks"`
	CallTrackingFound bool        `json:"callTrackingFound"`
	HTMLSnippet       string      `json:"htmlSnippet"`
}

// HTMLSnippetLength DOM摘要中保留的HTML字符数
const HTMLSnippetLength = 5000

// Snippet 截取前n个字符
func Snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
