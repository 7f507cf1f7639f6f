package crawlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

func TestLookupDevice(t *testing.T) {
	tests := []struct {
		name      string
		device    models.Device
		wantEmu   bool
		wantTitle string
		wantErr   bool
	}{
		{"桌面不仿真", models.DesktopDevice(), false, "", false},
		{"自定义iPhone 13", models.NamedDevice("iPhone 13"), true, "iPhone 13", false},
		{"大小写和空白不敏感", models.NamedDevice("  iphone   13 "), true, "iPhone 13", false},
		{"rod内置机型", models.NamedDevice("iPhone X"), true, "iPhone X", false},
		{"未知机型", models.NamedDevice("Nokia 3310"), false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, emulate, err := LookupDevice(tt.device)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LookupDevice() 错误 = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrUnknownDevice) {
					t.Errorf("错误类型 = %v, 期望 ErrUnknownDevice", err)
				}
				return
			}
			if emulate != tt.wantEmu {
				t.Errorf("emulate = %v, 期望 %v", emulate, tt.wantEmu)
			}
			if d.Title != tt.wantTitle {
				t.Errorf("Title = %q, 期望 %q", d.Title, tt.wantTitle)
			}
		})
	}
}

func TestIPhone13Profile(t *testing.T) {
	if iPhone13.Screen.DevicePixelRatio != 3 {
		t.Errorf("DPR = %v, 期望 3", iPhone13.Screen.DevicePixelRatio)
	}
	if iPhone13.Screen.Vertical.Width != 390 || iPhone13.Screen.Vertical.Height != 844 {
		t.Errorf("竖屏尺寸 = %+v", iPhone13.Screen.Vertical)
	}
	if !strings.Contains(iPhone13.UserAgent, "iPhone OS 15") {
		t.Errorf("UserAgent = %s", iPhone13.UserAgent)
	}
}

func TestValidateDevices(t *testing.T) {
	ok := []models.Device{models.DesktopDevice(), models.NamedDevice("Pixel 2")}
	if err := ValidateDevices(ok); err != nil {
		t.Errorf("ValidateDevices() 错误: %v", err)
	}
	bad := []models.Device{models.DesktopDevice(), models.NamedDevice("Unknown Phone")}
	if err := ValidateDevices(bad); err == nil {
		t.Error("包含未知设备时应返回错误")
	}
}

func TestCaptureScript(t *testing.T) {
	a := NewCaptureScript()
	b := NewCaptureScript()

	if a.Key() == b.Key() {
		t.Error("每个页面的捕获键应不同")
	}
	if !strings.HasPrefix(a.Key(), "__tagaudit_") {
		t.Errorf("Key() = %s", a.Key())
	}

	src := a.Source()
	if strings.Contains(src, "__KEY__") {
		t.Error("脚本中的占位符未被替换")
	}
	if !strings.Contains(src, a.Key()) {
		t.Error("脚本中缺少捕获键")
	}
	if !strings.Contains(src, "via_command") || !strings.Contains(src, "forwarding++") {
		t.Error("包装的gtag内部发生的push应被标记")
	}
	for _, js := range []string{a.DrainJS(), a.ClearJS(), a.RewrapJS()} {
		if !strings.Contains(js, a.Key()) {
			t.Errorf("表达式未引用捕获键: %s", js)
		}
	}
}

func TestParseCapturedStore(t *testing.T) {
	raw := `{"calls":[{"t":1700000000000,"args":["config","G-ABCDEFGHIJ",{"send_page_view":false}]}],
"pushes":[{"t":1700000000001,"args":[{"event":"gtm.js","gtm.start":1700000000000}]}]}`

	calls, pushes, err := ParseCapturedStore(raw)
	if err != nil {
		t.Fatalf("ParseCapturedStore() 错误: %v", err)
	}
	if len(calls) != 1 || calls[0].Command() != "config" || calls[0].StringArg(1) != "G-ABCDEFGHIJ" {
		t.Errorf("calls = %+v", calls)
	}
	if len(pushes) != 1 || pushes[0].T != 1700000000001 {
		t.Errorf("pushes = %+v", pushes)
	}

	calls, pushes, err = ParseCapturedStore("")
	if err != nil || calls == nil || pushes == nil || len(calls)+len(pushes) != 0 {
		t.Errorf("空输入应返回空切片, got %v %v %v", calls, pushes, err)
	}

	nested := `{"calls":[{"t":5,"args":["event","page_view"]}],"pushes":[{"t":5,"args":[["event","page_view"]],"via_command":true},{"t":6,"args":[["config","G-ABCDEFGHIJ"]]}]}`
	_, pushes, err = ParseCapturedStore(nested)
	if err != nil {
		t.Fatalf("ParseCapturedStore() 错误: %v", err)
	}
	if len(pushes) != 2 || !pushes[0].ViaCommand || pushes[1].ViaCommand {
		t.Errorf("via_command 标记解析错误: %+v", pushes)
	}

	if _, _, err := ParseCapturedStore("{broken"); err == nil {
		t.Error("无效JSON应返回错误")
	}
}

func TestEventSink_FilterAndFirstSeen(t *testing.T) {
	sink := NewEventSink(16)
	sink.MarkNavigationStart()

	sink.OnRequest("1", "https://example.com/app.js")
	sink.OnRequest("2", "https://www.googletagmanager.com/gtm.js?id=GTM-ABC")
	sink.OnResponse("https://www.googletagmanager.com/gtm.js?id=GTM-ABC", 200)
	sink.OnRequest("3", "https://region1.google-analytics.com/g/collect?v=2")
	sink.OnRequest("4", "https://www.googletagmanager.com/gtm.js?id=GTM-SECOND")
	sink.OnRequest("5", "https://googleads.g.doubleclick.net/pagead/viewthroughconversion/1")

	capture := sink.Drain()

	if len(capture.Events) != 4 {
		t.Fatalf("事件数 = %d, 期望 4 (只保留供应商域名): %+v", len(capture.Events), capture.Events)
	}
	if capture.Events[1].Type != models.NetworkResponse || capture.Events[1].Status != 200 {
		t.Errorf("响应事件 = %+v", capture.Events[1])
	}
	if capture.FirstGTMMs == nil || capture.FirstGA4Ms == nil {
		t.Fatalf("首次出现时间缺失: %+v", capture)
	}
	if *capture.FirstGTMMs > *capture.FirstGA4Ms {
		t.Errorf("首次GTM时间 %d 应不晚于GA4 %d", *capture.FirstGTMMs, *capture.FirstGA4Ms)
	}
	// doubleclick.net 不在供应商白名单(.com)内
	if capture.FirstAWMs != nil {
		t.Errorf("FirstAWMs = %d, 期望 nil", *capture.FirstAWMs)
	}

	for i := 1; i < len(capture.Events); i++ {
		if capture.Events[i].Ms < capture.Events[i-1].Ms {
			t.Errorf("事件时间未单调不减: %+v", capture.Events)
		}
	}
}

func TestEventSink_AdsFirstSeen(t *testing.T) {
	sink := NewEventSink(4)
	sink.OnRequest("1", "https://www.googleadservices.com/pagead/conversion/123/")
	capture := sink.Drain()
	if capture.FirstAWMs == nil {
		t.Error("googleadservices请求应记录first_aw_ms")
	}
}

func TestEventSink_Overflow(t *testing.T) {
	sink := NewEventSink(2)
	for i := 0; i < 5; i++ {
		sink.OnResponse("https://www.google-analytics.com/g/collect", 204)
	}
	capture := sink.Drain()
	if len(capture.Events) != 2 {
		t.Errorf("事件数 = %d, 期望 2", len(capture.Events))
	}
	if capture.Dropped != 3 {
		t.Errorf("Dropped = %d, 期望 3", capture.Dropped)
	}
}

func TestNetworkCapture_AppendKeepsFirstSeen(t *testing.T) {
	sink := NewEventSink(16)
	sink.MarkNavigationStart()
	sink.OnRequest("1", "https://www.googletagmanager.com/gtm.js?id=GTM-ABC")
	beforeClick := sink.Drain()

	// 点击电话链接后才发出的GA4请求
	sink.OnRequest("2", "https://region1.google-analytics.com/g/collect?v=2&en=phone_call")
	merged := beforeClick.Append(sink.Drain())

	if len(merged.Events) != 2 {
		t.Fatalf("事件数 = %d, 期望 2: %+v", len(merged.Events), merged.Events)
	}
	if merged.FirstGTMMs == nil {
		t.Error("点击前的GTM首次时间应保留")
	}
	if merged.FirstGA4Ms != nil {
		t.Errorf("FirstGA4Ms = %d, 点击后的请求不应计入首次出现时间", *merged.FirstGA4Ms)
	}
}

func TestNetworkCapture_AppendMonotonic(t *testing.T) {
	before := NetworkCapture{
		Events:  []models.NetworkEvent{{URL: "a", Ms: 900, Type: models.NetworkRequest}},
		Dropped: 1,
	}
	later := NetworkCapture{
		Events: []models.NetworkEvent{
			{URL: "b", Ms: 800, Type: models.NetworkRequest},
			{URL: "c", Ms: 1200, Type: models.NetworkResponse, Status: 204},
		},
		Dropped: 3,
	}

	merged := before.Append(later)

	wantMs := []int64{900, 900, 1200}
	if len(merged.Events) != len(wantMs) {
		t.Fatalf("事件数 = %d, 期望 %d", len(merged.Events), len(wantMs))
	}
	for i, want := range wantMs {
		if merged.Events[i].Ms != want {
			t.Errorf("Events[%d].Ms = %d, 期望 %d", i, merged.Events[i].Ms, want)
		}
	}
	if merged.Dropped != 3 {
		t.Errorf("Dropped = %d, 期望 3 (累计值)", merged.Dropped)
	}
	if len(before.Events) != 1 {
		t.Error("Append 不应修改原有捕获")
	}
}

func TestEventSink_WaitIdle(t *testing.T) {
	sink := NewEventSink(4)
	sink.OnRequest("1", "https://example.com/slow")

	if sink.WaitIdle(context.Background(), 10*time.Millisecond, 100*time.Millisecond) {
		t.Error("有进行中的请求时不应判定为空闲")
	}

	sink.OnFinished("1")
	if !sink.WaitIdle(context.Background(), 10*time.Millisecond, time.Second) {
		t.Error("请求完成后应在超时前进入空闲")
	}

	// 未知的请求ID不影响空闲判断
	sink.OnFinished("unknown")
	if !sink.Idle(0) {
		t.Error("Idle(0) 应为true")
	}
}

func TestParseTelLinks(t *testing.T) {
	links, err := parseTelLinks(`[{"href":"tel:+15550100","text":"Call now","visible":true},{"href":"tel:911","text":"","visible":false}]`)
	if err != nil {
		t.Fatalf("parseTelLinks() 错误: %v", err)
	}
	if len(links) != 2 || !links[0].Visible || links[1].Visible || links[0].Text != "Call now" {
		t.Errorf("links = %+v", links)
	}

	empty, err := parseTelLinks("")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("空输入 = %v, %v", empty, err)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepContext(ctx, time.Second) {
		t.Error("已取消的context应立即返回false")
	}
	if !sleepContext(context.Background(), time.Millisecond) {
		t.Error("正常等待应返回true")
	}
}

func TestResourceMonitor_WaitForCapacity(t *testing.T) {
	available := uint64(100 * 1024 * 1024)
	rm := &ResourceMonitor{
		config: ResourceMonitorConfig{
			SafetyThreshold:  500 * 1024 * 1024,
			CPULoadThreshold: 200,
			MaxWait:          50 * time.Millisecond,
			PollInterval:     5 * time.Millisecond,
		},
		sampleMemory: func() (uint64, uint64, error) {
			return available, 8 * 1024 * 1024 * 1024, nil
		},
	}

	status, err := rm.GetMemoryStatus()
	if err != nil || status.MemoryPressure != "emergency" {
		t.Errorf("GetMemoryStatus() = %+v, %v", status, err)
	}
	if rm.WaitForCapacity(context.Background()) {
		t.Error("内存持续不足时应等待超时并返回false")
	}

	available = 4 * 1024 * 1024 * 1024
	if !rm.WaitForCapacity(context.Background()) {
		t.Error("内存充足时应立即返回true")
	}

	rm.sampleMemory = func() (uint64, uint64, error) { return 0, 0, errors.New("不可用") }
	if ok, _ := rm.CheckResourceAvailability(); !ok {
		t.Error("采样失败时不应阻塞审计")
	}
}
