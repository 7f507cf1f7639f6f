package crawlers

import (
	"encoding/json"
	"fmt"

	"github.com/RecoveryAshes/tagaudit/internal/analyzer"
	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
)

// telLinkSelector 点击拨号链接
const telLinkSelector = `a[href^="tel:"]`

// telLinksJS 在页面中列出所有tel:链接,返回JSON字符串
const telLinksJS = `() => {
	var anchors = document.querySelectorAll('a[href^="tel:"]');
	var links = [];
	for (var i = 0; i < anchors.length; i++) {
		var a = anchors[i];
		links.push({
			href: a.href,
			text: (a.textContent || "").trim(),
			visible: a.offsetParent !== null
		});
	}
	return JSON.stringify(links);
}`

// ExtractTelLinks 从页面提取tel:链接清单
// 页面脚本执行失败时退回到静态HTML解析(此时无法判断可见性)
func ExtractTelLinks(page *rod.Page, html string) []models.TelLink {
	links, err := extractTelLinksFromPage(page)
	if err == nil {
		return links
	}

	log.Debug().Err(err).Msg("页面内提取tel链接失败,改用HTML解析")
	hrefs := analyzer.TelLinks(html)
	links = make([]models.TelLink, 0, len(hrefs))
	for _, href := range hrefs {
		links = append(links, models.TelLink{Href: href})
	}
	return links
}

func extractTelLinksFromPage(page *rod.Page) ([]models.TelLink, error) {
	result, err := page.Evaluate(rod.Eval(telLinksJS))
	if err != nil {
		return nil, fmt.Errorf("执行JavaScript提取tel链接失败: %w", err)
	}
	return parseTelLinks(result.Value.Str())
}

// parseTelLinks 解析页面返回的tel链接JSON
func parseTelLinks(raw string) ([]models.TelLink, error) {
	links := []models.TelLink{}
	if raw == "" {
		return links, nil
	}
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil, fmt.Errorf("解析tel链接失败: %w", err)
	}
	return links, nil
}
