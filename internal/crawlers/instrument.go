package crawlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNavigationTimeout 导航超时且文档从未提交
var ErrNavigationTimeout = errors.New("导航超时,页面未加载")

// Instrumenter 页面插桩器
type Instrumenter struct {
	timings      models.Timings
	sinkCapacity int
}

// NewInstrumenter 创建插桩器
func NewInstrumenter(timings models.Timings) *Instrumenter {
	return &Instrumenter{timings: timings, sinkCapacity: DefaultSinkCapacity}
}

// PageSession 一次页面加载的插桩状态
type PageSession struct {
	page    *rod.Page
	script  *CaptureScript
	sink    *EventSink
	timings models.Timings

	stopEvents context.CancelFunc
}

// Attach 在导航前安装捕获脚本并订阅网络事件
func (in *Instrumenter) Attach(ctx context.Context, page *rod.Page) (*PageSession, error) {
	script := NewCaptureScript()
	if _, err := page.EvalOnNewDocument(script.Source()); err != nil {
		return nil, fmt.Errorf("注入捕获脚本失败: %w", err)
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("启用网络事件失败: %w", err)
	}

	sink := NewEventSink(in.sinkCapacity)
	eventCtx, cancel := context.WithCancel(ctx)

	wait := page.Context(eventCtx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request != nil {
				sink.OnRequest(string(e.RequestID), e.Request.URL)
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil {
				sink.OnResponse(e.Response.URL, e.Response.Status)
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			sink.OnFinished(string(e.RequestID))
		},
		func(e *proto.NetworkLoadingFailed) {
			sink.OnFinished(string(e.RequestID))
		},
	)
	go wait()

	return &PageSession{
		page:       page,
		script:     script,
		sink:       sink,
		timings:    in.timings,
		stopEvents: cancel,
	}, nil
}

// Script 本页面的捕获脚本
func (s *PageSession) Script() *CaptureScript {
	return s.script
}

// Navigate 导航并等待DOMContentLoaded
// 超时可以容忍,只要文档已经提交;其它导航错误直接返回
func (s *PageSession) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.timings.NavigationTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	waitDOM := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)

	s.sink.MarkNavigationStart()
	navErr := p.Navigate(pageURL)
	if navErr == nil {
		waitDOM()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if navCtx.Err() == nil {
		if navErr != nil {
			return fmt.Errorf("导航失败: %w", navErr)
		}
		return nil
	}

	if !s.committed() {
		return ErrNavigationTimeout
	}
	utils.Warnf("⏱️  导航超时(%v),继续审计已加载内容: %s", s.timings.NavigationTimeout, pageURL)
	return nil
}

// committed 文档是否已离开 about:blank
func (s *PageSession) committed() bool {
	info, err := s.page.Info()
	if err != nil || info == nil {
		return false
	}
	return info.URL != "" && info.URL != "about:blank"
}

// Settle 等待网络空闲和固定延迟,然后重新包装gtag
func (s *PageSession) Settle(ctx context.Context) {
	if !s.sink.WaitIdle(ctx, s.timings.NetworkIdleWindow, s.timings.NetworkIdleTimeout) {
		utils.Debugf("等待网络空闲超时(%v),继续", s.timings.NetworkIdleTimeout)
	}
	sleepContext(ctx, s.timings.SettleDelay)

	res, err := s.page.Context(ctx).Eval(s.script.RewrapJS())
	if err != nil {
		utils.Debugf("重新包装gtag失败: %v", err)
		return
	}
	if res.Value.Bool() {
		utils.Debugf("检测到容器替换了gtag,已重新包装")
	}
}

// Snapshot 读取页面HTML和捕获到的gtag调用、dataLayer记录
func (s *PageSession) Snapshot(ctx context.Context) (html string, calls, pushes []models.TagCallEvent, err error) {
	p := s.page.Context(ctx)

	html, err = p.HTML()
	if err != nil {
		return "", nil, nil, fmt.Errorf("读取页面HTML失败: %w", err)
	}

	res, err := p.Eval(s.script.DrainJS())
	if err != nil {
		return "", nil, nil, fmt.Errorf("读取捕获记录失败: %w", err)
	}
	calls, pushes, err = ParseCapturedStore(res.Value.Str())
	if err != nil {
		return "", nil, nil, err
	}
	return html, calls, pushes, nil
}

// Network 取出目前为止的网络事件
func (s *PageSession) Network() NetworkCapture {
	return s.sink.Drain()
}

// Close 停止事件订阅
func (s *PageSession) Close() {
	if s.stopEvents != nil {
		s.stopEvents()
	}
}
