package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// PagePool 浏览器上下文管理器
// 职责: 每次审计都分配全新的隐身上下文和标签页(设备仿真、请求头已就绪),归还时立即销毁
// 页面内的全局状态因此不会在不同的 (URL, 设备) 之间泄漏
type PagePool struct {
	browser        *rod.Browser
	headerProvider models.HeaderProvider

	// 标签页 -> 所属隐身上下文
	active map[*rod.Page]*rod.Browser
	mu     sync.Mutex

	closed   bool
	opened   int
	released int
}

// NewPagePool 创建上下文管理器
func NewPagePool(browser *rod.Browser, headerProvider models.HeaderProvider) *PagePool {
	return &PagePool{
		browser:        browser,
		headerProvider: headerProvider,
		active:         make(map[*rod.Page]*rod.Browser),
	}
}

// AcquirePage 打开新的隐身上下文并创建标签页
func (pp *PagePool) AcquirePage(ctx context.Context, device models.Device) (*rod.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil, fmt.Errorf("标签页池已关闭")
	}
	pp.mu.Unlock()

	emulation, emulate, err := LookupDevice(device)
	if err != nil {
		return nil, err
	}

	incognito, err := pp.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("创建隐身上下文失败: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		pp.disposeContext(incognito)
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	if emulate {
		if err := page.Emulate(emulation); err != nil {
			pp.destroy(page, incognito)
			return nil, fmt.Errorf("设备仿真失败 [%s]: %w", device.Label(), err)
		}
	}

	if err := pp.applyHeaders(page, emulate); err != nil {
		log.Warn().Err(err).Msg("设置页面请求头失败,继续使用浏览器默认请求头")
	}

	pp.mu.Lock()
	pp.active[page] = incognito
	pp.opened++
	pp.mu.Unlock()

	log.Debug().Str("device", device.Label()).Msg("已打开隔离的浏览器上下文")
	return page, nil
}

// applyHeaders 把自定义请求头应用到标签页
// Accept和Accept-Encoding交给浏览器处理;仿真设备时保留设备自身的User-Agent
func (pp *PagePool) applyHeaders(page *rod.Page, emulated bool) error {
	if pp.headerProvider == nil {
		return nil
	}
	headers, err := pp.headerProvider.GetHeaders()
	if err != nil {
		return err
	}

	extra := make([]string, 0, len(headers)*2)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		switch http.CanonicalHeaderKey(name) {
		case "Accept", "Accept-Encoding":
			continue
		case "User-Agent":
			if !emulated {
				if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: values[0]}); err != nil {
					return fmt.Errorf("设置User-Agent失败: %w", err)
				}
			}
			continue
		}
		extra = append(extra, name, values[0])
	}

	if len(extra) == 0 {
		return nil
	}
	if _, err := page.SetExtraHeaders(extra); err != nil {
		return fmt.Errorf("设置额外请求头失败: %w", err)
	}
	return nil
}

// ReleasePage 关闭标签页及其隐身上下文
func (pp *PagePool) ReleasePage(page *rod.Page) {
	if page == nil {
		return
	}
	pp.mu.Lock()
	incognito, ok := pp.active[page]
	delete(pp.active, page)
	if ok {
		pp.released++
	}
	pp.mu.Unlock()

	if !ok {
		return
	}
	pp.destroy(page, incognito)
}

func (pp *PagePool) destroy(page *rod.Page, incognito *rod.Browser) {
	if err := page.Close(); err != nil {
		log.Debug().Err(err).Msg("关闭标签页失败")
	}
	pp.disposeContext(incognito)
}

func (pp *PagePool) disposeContext(incognito *rod.Browser) {
	if err := incognito.Close(); err != nil {
		log.Debug().Err(err).Msg("销毁隐身上下文失败")
	}
}

// ActiveCount 当前未归还的标签页数量
func (pp *PagePool) ActiveCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.active)
}

// Close 销毁所有未归还的上下文,之后不再分配
func (pp *PagePool) Close() error {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil
	}
	pp.closed = true
	leftovers := pp.active
	pp.active = make(map[*rod.Page]*rod.Browser)
	opened, released := pp.opened, pp.released
	pp.mu.Unlock()

	for page, incognito := range leftovers {
		pp.destroy(page, incognito)
	}

	log.Debug().Msgf("标签页池已关闭: 共打开 %d 个上下文, 正常归还 %d 个, 强制回收 %d 个", opened, released, len(leftovers))
	return nil
}
