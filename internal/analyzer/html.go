package analyzer

import (
	"strings"

	"golang.org/x/net/html"
)

// InlineScripts 返回页面中所有<script>元素的文本内容,以换行连接
func InlineScripts(document string) string {
	var parts []string
	tokenizer := html.NewTokenizer(strings.NewReader(document))
	inScript := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(parts, "\n")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inScript = string(name) == "script"
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if inScript {
				parts = append(parts, string(tokenizer.Text()))
			}
		}
	}
}

// TelLinks 从静态HTML中提取tel:链接的href,浏览器端统计失败时作为兜底
func TelLinks(document string) []string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil
	}

	var hrefs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "tel:") {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return hrefs
}
