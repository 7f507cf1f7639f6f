package models

// URLItem 广度爬取队列中的元素
type URLItem struct {
	URL   string // 规范化后的URL
	Depth int    // 根页面为0
}
