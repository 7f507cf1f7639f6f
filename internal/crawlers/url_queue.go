package crawlers

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// 入队失败原因
var (
	ErrCrossOrigin   = errors.New("跨域链接已过滤")
	ErrAlreadySeen   = errors.New("URL已访问")
	ErrDepthExceeded = errors.New("深度超过限制")
	ErrVisitedLimit  = errors.New("已达访问上限")
)

// URLQueue 广度优先爬取的前沿队列
// 职责: 以规范化URL为键去重,限制深度与总访问数,仅接受同源链接
type URLQueue struct {
	pending []models.URLItem
	visited map[string]bool

	domain     string
	maxDepth   int
	maxVisited int
}

// NewURLQueue 创建队列
func NewURLQueue(domain string, maxDepth, maxVisited int) *URLQueue {
	return &URLQueue{
		pending:    make([]models.URLItem, 0, 64),
		visited:    make(map[string]bool),
		domain:     domain,
		maxDepth:   maxDepth,
		maxVisited: maxVisited,
	}
}

// Push 规范化后入队,返回规范化的URL
// 深度 >= maxDepth 的页面不会被访问,因此不入队
func (q *URLQueue) Push(rawURL string, depth int) (string, error) {
	normalized, err := models.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("URL格式无效: %w", err)
	}

	parsed, err := url.Parse(normalized)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("不支持的协议: %s", rawURL)
	}

	if !models.SameOrigin(q.domain, normalized) {
		return normalized, ErrCrossOrigin
	}
	if depth >= q.maxDepth {
		return normalized, ErrDepthExceeded
	}
	if q.visited[normalized] {
		return normalized, ErrAlreadySeen
	}
	if len(q.visited) >= q.maxVisited {
		return normalized, ErrVisitedLimit
	}

	q.visited[normalized] = true
	q.pending = append(q.pending, models.URLItem{URL: normalized, Depth: depth})
	return normalized, nil
}

// Pop 取出下一个URL (先进先出)
func (q *URLQueue) Pop() (models.URLItem, bool) {
	if len(q.pending) == 0 {
		return models.URLItem{}, false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item, true
}

// IsVisited 检查URL是否已入队过
func (q *URLQueue) IsVisited(rawURL string) bool {
	normalized, err := models.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	return q.visited[normalized]
}

// VisitedCount 已入队的URL总数
func (q *URLQueue) VisitedCount() int {
	return len(q.visited)
}

// PendingCount 待处理URL数量
func (q *URLQueue) PendingCount() int {
	return len(q.pending)
}
