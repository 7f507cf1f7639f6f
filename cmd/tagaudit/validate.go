package main

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(domain string, maxPages int, urls []string) error {
	if domain == "" {
		return fmt.Errorf("必须指定站点根地址 (--domain 或配置文件 crawl.domain)")
	}
	if err := models.ValidateURL(domain); err != nil {
		return fmt.Errorf("无效的站点地址: %w", err)
	}

	if maxPages < 0 {
		return fmt.Errorf("最大页数不能为负数,当前值: %d", maxPages)
	}

	// 显式URL可以是绝对地址或站内路径
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "/") {
			continue
		}
		if err := models.ValidateURL(u); err != nil {
			return fmt.Errorf("无效的落地页URL %q: %w", u, err)
		}
	}
	return nil
}
