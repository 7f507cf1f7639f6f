// Package crawlers 提供落地页发现和浏览器端页面审计功能
//
// # 概述
//
// crawlers包分为两部分: 基于Colly的静态发现(sitemap解析与有界广度爬取),
// 以及基于go-rod的动态审计(捕获脚本注入、网络事件采集、电话链接点击探测)。
// 所有页面审计串行执行,每个 (URL, 设备) 组合使用独立的隐身浏览器上下文。
//
// # 核心组件
//
// ## Discoverer
//
// 基于Colly的落地页发现器。显式URL列表优先;否则解析 /sitemap.xml (含嵌套索引),
// 再从根页面做广度优先爬取,收集匹配落地页规则的URL,达到MaxPages立即停止。
//
//	discoverer, err := NewDiscoverer(config, headerProvider)
//	urls, err := discoverer.Discover(ctx)
//
// ## URLQueue
//
// 广度爬取的前沿队列。以去掉query和fragment的URL为键去重,
// 同时限制深度和总访问数,只接受同源链接。
//
// ## Browser
//
// 一次运行只启动一个浏览器,Audit在全新的隐身上下文中完成:
//   - 导航前注入捕获脚本,包装 dataLayer.push 和 gtag
//   - 订阅Network事件,只保留分析/广告供应商域名
//   - 导航(容忍超时) -> 等待网络空闲 -> 固定延迟 -> 重新包装gtag
//   - 读取HTML和捕获记录,执行电话链接探测
//
// 使用示例:
//
//	browser, err := LaunchBrowser(BrowserOptions{Headless: true, Timings: models.DefaultTimings()}, headerProvider)
//	if err != nil { /* 处理错误 */ }
//	defer browser.Close()
//
//	capture, err := browser.Audit(ctx, "https://example.com/contact", models.DesktopDevice())
//
// ## PagePool (上下文管理)
//
// 每次AcquirePage都创建新的隐身上下文和标签页,并应用设备仿真和自定义请求头;
// ReleasePage立即销毁。Close会回收所有未归还的上下文。
//
// ## EventSink
//
// CDP事件回调只向有界通道做非阻塞投递,通道满时计数丢弃。
// 同时跟踪进行中的请求,用于判断网络空闲。页面稳定后由审计流程一次性取出。
//
// ## CaptureScript
//
// 注入页面的捕获脚本。记录保存在闭包中,通过随机键下不可枚举的
// drain/clear/rewrap 接口读取,重复安装和重复包装都是幂等的。
//
// ## ResourceMonitor (资源监控器)
//
// 打开新上下文前检查系统可用内存,不足时有界等待(默认10秒),超时后继续审计。
// 内存压力等级:
//   - 可用内存 < 500MB: warning
//   - 可用内存 < 300MB: critical
//   - 可用内存 < 200MB: emergency
//
// # 错误处理
//
//   - 发现阶段的抓取失败只记录日志 (ErrDiscoveryFetch)
//   - 导航超时且文档未提交返回 ErrNavigationTimeout
//   - 页面审计中的panic被恢复为 ErrPageCrashed
//   - 电话链接探测的错误降级为 {0, false},不会中断审计
package crawlers
