package analyzer

import (
	"reflect"
	"testing"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

func call(args ...any) models.TagCallEvent {
	return models.TagCallEvent{T: 1, Args: args}
}

func ms(v int64) *int64 {
	return &v
}

func TestExtractIDs_FromHTML(t *testing.T) {
	html := `<script src="https://www.googletagmanager.com/gtm.js?id=GTM-ABC123"></script>
<script>gtag('config', 'G-ABCDEFGHIJ'); gtag('config', 'AW-123456');</script>
<!-- GTM-ABC123 again, G-SHORT, aw-999 -->`

	ids := ExtractIDs(html, nil)

	if !reflect.DeepEqual(ids.GTM, []string{"GTM-ABC123"}) {
		t.Errorf("GTM = %v", ids.GTM)
	}
	if !reflect.DeepEqual(ids.GA4, []string{"G-ABCDEFGHIJ"}) {
		t.Errorf("GA4 = %v", ids.GA4)
	}
	if !reflect.DeepEqual(ids.Ads, []string{"AW-123456"}) {
		t.Errorf("Ads = %v (小写aw-不应匹配)", ids.Ads)
	}
	if ids.GTMAndGtagBoth {
		t.Error("没有config调用时不应判定双加载")
	}
}

func TestExtractIDs_Idempotent(t *testing.T) {
	html := `GTM-XYZ G-1234567890 AW-42`
	calls := []models.TagCallEvent{call("config", "G-1234567890"), call("config", "AW-42")}

	first := ExtractIDs(html, calls)
	second := ExtractIDs(html, calls)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("重复提取结果不一致: %+v vs %+v", first, second)
	}
}

func TestExtractIDs_DuplicateConfig(t *testing.T) {
	tests := []struct {
		name    string
		calls   []models.TagCallEvent
		wantGA4 bool
		wantAds bool
	}{
		{"无config", nil, false, false},
		{"单次GA4 config", []models.TagCallEvent{call("config", "G-ABCDEFGHIJ")}, false, false},
		{
			"同一GA4 ID两次",
			[]models.TagCallEvent{call("config", "G-ABCDEFGHIJ"), call("config", "G-ABCDEFGHIJ", map[string]any{"send_page_view": false})},
			true, false,
		},
		{
			"不同GA4 ID各一次",
			[]models.TagCallEvent{call("config", "G-ABCDEFGHIJ"), call("config", "G-KLMNOPQRST")},
			false, false,
		},
		{
			"同一Ads ID两次",
			[]models.TagCallEvent{call("config", "AW-1"), call("event", "page_view"), call("config", "AW-1")},
			false, true,
		},
		{"config目标非字符串", []models.TagCallEvent{call("config", 42.0), call("config", 42.0)}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := ExtractIDs("", tt.calls)
			if ids.DupGA4Config != tt.wantGA4 {
				t.Errorf("DupGA4Config = %v, 期望 %v", ids.DupGA4Config, tt.wantGA4)
			}
			if ids.DupAdsConfig != tt.wantAds {
				t.Errorf("DupAdsConfig = %v, 期望 %v", ids.DupAdsConfig, tt.wantAds)
			}
		})
	}
}

func TestExtractIDs_DualLoader(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		calls []models.TagCallEvent
		want  bool
	}{
		{"GTM容器+相同ID config", "GTM-ABC123 G-ABCDEFGHIJ", []models.TagCallEvent{call("config", "G-ABCDEFGHIJ")}, true},
		{"GTM容器+不同ID config", "GTM-ABC123", []models.TagCallEvent{call("config", "G-ZZZZZZZZZZ")}, true},
		{"HTML中的Ads ID被config", "AW-777", []models.TagCallEvent{call("config", "AW-777")}, true},
		{"只有GTM容器", "GTM-ABC123", nil, false},
		{"只有config", "", []models.TagCallEvent{call("config", "G-ABCDEFGHIJ")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractIDs(tt.html, tt.calls).GTMAndGtagBoth; got != tt.want {
				t.Errorf("GTMAndGtagBoth = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestExtractIDs_UnionKeepsOrder(t *testing.T) {
	ids := ExtractIDs("G-BBBBBBBBBB", []models.TagCallEvent{call("config", "G-AAAAAAAAAA"), call("config", "G-BBBBBBBBBB")})
	want := []string{"G-BBBBBBBBBB", "G-AAAAAAAAAA"}
	if !reflect.DeepEqual(ids.GA4, want) {
		t.Errorf("GA4 = %v, 期望 %v", ids.GA4, want)
	}
}

func TestAnalyzeEvents(t *testing.T) {
	tests := []struct {
		name  string
		calls []models.TagCallEvent
		want  Events
	}{
		{"空日志", nil, Events{}},
		{
			"consent仅default",
			[]models.TagCallEvent{call("consent", "default", map[string]any{"ad_storage": "denied"})},
			Events{ConsentDefault: true},
		},
		{
			"consent default+update",
			[]models.TagCallEvent{call("consent", "default", map[string]any{}), call("consent", "update", map[string]any{"ad_storage": "granted"})},
			Events{ConsentDefault: true, ConsentUpdated: true},
		},
		{
			"两次page_view",
			[]models.TagCallEvent{call("event", "page_view"), call("event", "page_view")},
			Events{PageViewDupe: true},
		},
		{
			"一次page_view",
			[]models.TagCallEvent{call("event", "page_view"), call("config", "G-ABCDEFGHIJ")},
			Events{},
		},
		{
			"两次转化事件",
			[]models.TagCallEvent{
				call("event", "generate_lead"),
				call("event", "click", map[string]any{"send_to": "AW-1/Conversion"}),
			},
			Events{ConversionDupe: true},
		},
		{
			"非event命令不计入转化",
			[]models.TagCallEvent{call("set", "purchase"), call("config", "contact"), call("event", "purchase")},
			Events{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnalyzeEvents(tt.calls); got != tt.want {
				t.Errorf("AnalyzeEvents() = %+v, 期望 %+v", got, tt.want)
			}
		})
	}
}

func TestConsentStale(t *testing.T) {
	stale := models.AuditResult{}
	Analyze(Input{TagCalls: []models.TagCallEvent{call("consent", "default", map[string]any{})}}).Apply(&stale)
	if !stale.ConsentStale() {
		t.Error("只有default时应判定为stale")
	}

	fresh := models.AuditResult{}
	Analyze(Input{TagCalls: []models.TagCallEvent{
		call("consent", "default", map[string]any{}),
		call("consent", "update", map[string]any{}),
	}}).Apply(&fresh)
	if fresh.ConsentStale() {
		t.Error("default+update时不应判定为stale")
	}
}

func TestDetectDeferrer(t *testing.T) {
	tests := []struct {
		name string
		html string
		gtm  *int64
		ga4  *int64
		want bool
	}{
		{"无特征", "<html></html>", nil, nil, false},
		{"rocket-loader", `<script data-cfasync="false" src="/cdn-cgi/scripts/rocket-loader.min.js"></script>`, nil, nil, true},
		{"WP Rocket", "WP-ROCKET", nil, nil, true},
		{"GTM刚好1500", "", ms(1500), nil, false},
		{"GTM超过1500", "", ms(1501), nil, true},
		{"GA4超过2500", "", nil, ms(2600), true},
		{"GA4未超过", "", ms(100), ms(2500), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDeferrer(tt.html, tt.gtm, tt.ga4); got != tt.want {
				t.Errorf("DetectDeferrer() = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestDetectCallTracking(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"CallRail脚本", `<script src="//cdn.callrail.com/companies/1/swap.js"></script>`, true},
		{"Invoca", "INVOCA", true},
		{"内联号码替换", `<script>window.dynamicPhoneNumber = 1; function swap(){}</script>`, true},
		{"号码替换文字不在脚本中", `<p>tracking your number is easy</p>`, false},
		{"无特征", `<script>console.log("hi")</script>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCallTracking(tt.html); got != tt.want {
				t.Errorf("DetectCallTracking() = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestInlineScriptsAndTelLinks(t *testing.T) {
	doc := `<html><head><script>var a = "<b>";</script></head>
<body><a href="tel:+15550100">Call</a><a href="/x">x</a><script src="x.js"></script><script>b()</script></body></html>`

	scripts := InlineScripts(doc)
	if scripts != "var a = \"<b>\";\nb()" {
		t.Errorf("InlineScripts() = %q", scripts)
	}

	links := TelLinks(doc)
	if !reflect.DeepEqual(links, []string{"tel:+15550100"}) {
		t.Errorf("TelLinks() = %v", links)
	}
}

func TestAnalyzeAndApply(t *testing.T) {
	in := Input{
		HTML:       `GTM-ABC123`,
		TagCalls:   []models.TagCallEvent{call("config", "G-ABCDEFGHIJ"), call("config", "G-ABCDEFGHIJ")},
		FirstGTMMs: ms(2000),
	}

	var r models.AuditResult
	Analyze(in).Apply(&r)

	if !r.DupGA4Config {
		t.Error("期望 dup_ga4_config = true")
	}
	if !r.GTMAndGtagBoth {
		t.Error("期望 gtm_and_gtag_both = true")
	}
	if !r.ScriptDeferrerDetected {
		t.Error("GTM首次加载2000ms应判定为延迟")
	}
	if !reflect.DeepEqual(r.GA4IDs, []string{"G-ABCDEFGHIJ"}) {
		t.Errorf("GA4IDs = %v", r.GA4IDs)
	}
}

func TestCallEventSeen(t *testing.T) {
	tests := []struct {
		name   string
		events []models.TagCallEvent
		want   bool
	}{
		{"无记录", nil, false},
		{"send_to转化", []models.TagCallEvent{call("event", "conversion", map[string]any{"send_to": "AW-1/abc"})}, true},
		{"dataLayer中的phone_click", []models.TagCallEvent{call(map[string]any{"event": "Phone_Click"})}, true},
		{"无关事件", []models.TagCallEvent{call("event", "scroll", map[string]any{"percent": 90.0})}, false},
		{"参数为空", []models.TagCallEvent{{T: 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CallEventSeen(tt.events); got != tt.want {
				t.Errorf("CallEventSeen() = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

// push 模拟 function gtag(){dataLayer.push(arguments);} 产生的记录
func push(t int64, args ...any) models.TagCallEvent {
	return models.TagCallEvent{T: t, Args: []any{args}}
}

func TestAnalyze_GtagSnippetPushes(t *testing.T) {
	in := Input{
		HTML: `<script>function gtag(){dataLayer.push(arguments);}</script>`,
		QueuePushes: []models.TagCallEvent{
			push(1, "consent", "default", map[string]any{"ad_storage": "denied"}),
			push(2, "js", map[string]any{}),
			push(3, "config", "G-ABCDEFGHIJ"),
			push(4, "config", "G-ABCDEFGHIJ"),
			push(5, "event", "page_view"),
			push(6, "event", "page_view"),
			{T: 7, Args: []any{map[string]any{"event": "gtm.dom"}}},
		},
	}

	var r models.AuditResult
	Analyze(in).Apply(&r)

	if !r.DupGA4Config {
		t.Error("dataLayer中两次config同一ID应判定 dup_ga4_config")
	}
	if !r.ConsentDefault || r.ConsentUpdated {
		t.Errorf("consent_default=%v consent_updated=%v, 期望 true/false", r.ConsentDefault, r.ConsentUpdated)
	}
	if !r.PageViewDupe {
		t.Error("期望 page_view_dupe = true")
	}
	if !reflect.DeepEqual(r.GA4IDs, []string{"G-ABCDEFGHIJ"}) {
		t.Errorf("GA4IDs = %v", r.GA4IDs)
	}
}

func TestCommandCalls(t *testing.T) {
	nested := push(2, "event", "page_view")
	nested.ViaCommand = true

	tests := []struct {
		name   string
		calls  []models.TagCallEvent
		pushes []models.TagCallEvent
		want   []string
	}{
		{
			name:  "只有调用日志",
			calls: []models.TagCallEvent{call("config", "G-ABCDEFGHIJ")},
			want:  []string{"config"},
		},
		{
			name:   "按时间戳合并",
			calls:  []models.TagCallEvent{{T: 5, Args: []any{"event", "purchase"}}},
			pushes: []models.TagCallEvent{push(3, "config", "AW-1"), push(8, "event", "page_view")},
			want:   []string{"config", "event", "event"},
		},
		{
			name:   "包装内部的push不重复计数",
			calls:  []models.TagCallEvent{{T: 2, Args: []any{"event", "page_view"}}},
			pushes: []models.TagCallEvent{nested},
			want:   []string{"event"},
		},
		{
			name: "忽略对象push和非字符串命令",
			pushes: []models.TagCallEvent{
				{T: 1, Args: []any{map[string]any{"event": "gtm.js"}}},
				{T: 2, Args: []any{[]any{1.0, "x"}}},
				{T: 3, Args: []any{[]any{}}},
				{T: 4, Args: []any{[]any{"a"}, []any{"b"}}},
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CommandCalls(tt.calls, tt.pushes)
			commands := []string{}
			for i := range got {
				commands = append(commands, got[i].Command())
			}
			if !reflect.DeepEqual(commands, tt.want) {
				t.Errorf("CommandCalls() 命令 = %v, 期望 %v", commands, tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].T < got[i-1].T {
					t.Errorf("结果未按时间排序: %+v", got)
				}
			}
		})
	}
}

func TestAnalyze_WrappedGtagNotDoubleCounted(t *testing.T) {
	// 包装仍然生效时,同一次config既在调用日志中,也作为内部push出现在dataLayer中
	inner := push(1, "config", "G-ABCDEFGHIJ")
	inner.ViaCommand = true

	a := Analyze(Input{
		TagCalls:    []models.TagCallEvent{call("config", "G-ABCDEFGHIJ")},
		QueuePushes: []models.TagCallEvent{inner},
	})
	if a.DupGA4Config {
		t.Error("单次config不应因内部push被判定为重复")
	}
}
