package crawlers

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/analyzer"
	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ProbeTelLink 点击第一个可见的tel:链接,观察点击后是否出现通话转化事件
// 任何错误都降级为 {0, false} 并记录原因,不会中断页面审计
func ProbeTelLink(ctx context.Context, page *rod.Page, script *CaptureScript, timings models.Timings) (result models.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = degradedProbe(fmt.Errorf("panic: %v", r))
		}
	}()

	p := page.Context(ctx)

	links, err := p.Elements(telLinkSelector)
	if err != nil {
		return degradedProbe(fmt.Errorf("查找tel链接失败: %w", err))
	}
	if len(links) == 0 {
		return models.ProbeResult{}
	}

	var target *rod.Element
	for _, el := range links {
		if visible, err := el.Visible(); err == nil && visible {
			target = el
			break
		}
	}
	if target == nil {
		utils.Debugf("共 %d 个tel链接,均不可见", len(links))
		return models.ProbeResult{TelLinks: len(links)}
	}

	if err := target.ScrollIntoView(); err != nil {
		utils.Debugf("滚动到tel链接失败: %v", err)
	}
	if !sleepContext(ctx, timings.ProbeScrollDelay) {
		return degradedProbe(ctx.Err())
	}

	// 清空页面加载阶段的记录,只观察点击带来的事件
	if _, err := p.Eval(script.ClearJS()); err != nil {
		return degradedProbe(fmt.Errorf("清空捕获记录失败: %w", err))
	}

	if err := target.Timeout(timings.ProbeClickTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
		utils.Debugf("点击tel链接失败(已忽略): %v", err)
	}
	if !sleepContext(ctx, timings.ProbeWait) {
		return degradedProbe(ctx.Err())
	}

	res, err := p.Eval(script.DrainJS())
	if err != nil {
		return degradedProbe(fmt.Errorf("读取捕获记录失败: %w", err))
	}
	calls, pushes, err := ParseCapturedStore(res.Value.Str())
	if err != nil {
		return degradedProbe(err)
	}

	events := make([]models.TagCallEvent, 0, len(calls)+len(pushes))
	events = append(events, calls...)
	events = append(events, pushes...)

	return models.ProbeResult{
		TelLinks:      len(links),
		CallEventSeen: analyzer.CallEventSeen(events),
	}
}

func degradedProbe(err error) models.ProbeResult {
	utils.Warnf("电话链接探测降级: %v", err)
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	return models.ProbeResult{Degraded: reason}
}

// sleepContext 等待d,context取消时提前返回false
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
