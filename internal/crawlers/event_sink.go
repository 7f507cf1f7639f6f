package crawlers

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// DefaultSinkCapacity 单个页面事件通道容量
const DefaultSinkCapacity = 4096

var (
	// vendorPattern 只保留分析/广告供应商域名的请求
	vendorPattern  = regexp.MustCompile(`(?i)(googletagmanager|google-analytics|analytics\.google|googleadservices|doubleclick|googlesyndication)\.com`)
	gtmLoadPattern = regexp.MustCompile(`gtm\.js`)
	ga4HitPattern  = regexp.MustCompile(`(google-analytics\.com/g/collect|analytics\.google\.com/g/collect)`)
	adsHitPattern  = regexp.MustCompile(`(googleadservices\.com|doubleclick\.net)`)
)

// NetworkCapture 从事件通道汇总出的网络证据
type NetworkCapture struct {
	Events     []models.NetworkEvent
	FirstGTMMs *int64
	FirstGA4Ms *int64
	FirstAWMs  *int64
	Dropped    int
}

// EventSink 单个页面的网络事件接收器
// CDP回调只做非阻塞投递,通道满时计数丢弃;导航结束后由审计流程同步取出
type EventSink struct {
	events  chan models.NetworkEvent
	dropped atomic.Int64
	start   time.Time

	mu         sync.Mutex
	inflight   map[string]struct{}
	lastChange time.Time
}

// NewEventSink 创建接收器,capacity<=0时使用默认容量
func NewEventSink(capacity int) *EventSink {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}
	now := time.Now()
	return &EventSink{
		events:     make(chan models.NetworkEvent, capacity),
		start:      now,
		inflight:   make(map[string]struct{}),
		lastChange: now,
	}
}

// MarkNavigationStart 记录导航开始时间,之后的事件时间均相对于此
func (s *EventSink) MarkNavigationStart() {
	s.mu.Lock()
	s.start = time.Now()
	s.lastChange = s.start
	s.mu.Unlock()
}

func (s *EventSink) elapsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.start).Milliseconds()
}

// OnRequest 请求发出
func (s *EventSink) OnRequest(requestID, url string) {
	s.track(requestID, true)
	if !vendorPattern.MatchString(url) {
		return
	}
	s.offer(models.NetworkEvent{URL: url, Ms: s.elapsed(), Type: models.NetworkRequest})
}

// OnResponse 收到响应头
func (s *EventSink) OnResponse(url string, status int) {
	if !vendorPattern.MatchString(url) {
		return
	}
	s.offer(models.NetworkEvent{URL: url, Ms: s.elapsed(), Type: models.NetworkResponse, Status: status})
}

// OnFinished 请求完成或失败
func (s *EventSink) OnFinished(requestID string) {
	s.track(requestID, false)
}

func (s *EventSink) track(requestID string, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if started {
		s.inflight[requestID] = struct{}{}
	} else {
		if _, ok := s.inflight[requestID]; !ok {
			return
		}
		delete(s.inflight, requestID)
	}
	s.lastChange = time.Now()
}

func (s *EventSink) offer(ev models.NetworkEvent) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Idle 当前是否无进行中的请求且已持续window
func (s *EventSink) Idle(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) == 0 && time.Since(s.lastChange) >= window
}

// WaitIdle 等待网络空闲,超时返回false(调用方容忍超时)
func (s *EventSink) WaitIdle(ctx context.Context, window, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.Idle(window) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Drain 取出通道中已有的全部事件并计算各类首次出现时间
func (s *EventSink) Drain() NetworkCapture {
	capture := NetworkCapture{Events: make([]models.NetworkEvent, 0)}
	var last int64

	for {
		select {
		case ev := <-s.events:
			if ev.Ms < last {
				ev.Ms = last
			}
			last = ev.Ms
			capture.Events = append(capture.Events, ev)
			if ev.Type == models.NetworkRequest {
				recordFirstSeen(&capture, ev)
			}
		default:
			capture.Dropped = int(s.dropped.Load())
			return capture
		}
	}
}

// Append 追加之后取出的事件,首次出现时间保持不变
// 追加的事件时间不早于已有的最后一个事件;丢弃计数取较新的累计值
func (c NetworkCapture) Append(later NetworkCapture) NetworkCapture {
	merged := c
	merged.Events = make([]models.NetworkEvent, 0, len(c.Events)+len(later.Events))
	merged.Events = append(merged.Events, c.Events...)

	var last int64
	if n := len(c.Events); n > 0 {
		last = c.Events[n-1].Ms
	}
	for _, ev := range later.Events {
		if ev.Ms < last {
			ev.Ms = last
		}
		last = ev.Ms
		merged.Events = append(merged.Events, ev)
	}
	if later.Dropped > merged.Dropped {
		merged.Dropped = later.Dropped
	}
	return merged
}

// recordFirstSeen 每类只记录第一次出现的时间
func recordFirstSeen(capture *NetworkCapture, ev models.NetworkEvent) {
	ms := ev.Ms
	if capture.FirstGTMMs == nil && gtmLoadPattern.MatchString(ev.URL) {
		capture.FirstGTMMs = &ms
	}
	if capture.FirstGA4Ms == nil && ga4HitPattern.MatchString(ev.URL) {
		v := ms
		capture.FirstGA4Ms = &v
	}
	if capture.FirstAWMs == nil && adsHitPattern.MatchString(ev.URL) {
		v := ms
		capture.FirstAWMs = &v
	}
}
