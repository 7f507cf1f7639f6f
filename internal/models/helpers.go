package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// NormalizeURL 去掉fragment和query,作为去重键
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	if parsed.Host != "" && parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// ResolveURL 将相对URL解析为基于域名的绝对URL
func ResolveURL(domain, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("URL为空")
	}
	base, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("域名无效: %w", err)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("URL格式无效: %w", err)
	}
	return base.ResolveReference(target).String(), nil
}

// SameOrigin 判断URL是否与域名同源(主机名相同,协议为http/https)
func SameOrigin(domain, rawURL string) bool {
	base, err := url.Parse(domain)
	if err != nil {
		return false
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return false
	}
	return strings.EqualFold(base.Host, target.Host)
}

// URLHash URL的md5十六进制摘要前16位,用于产物文件名
func URLHash(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}

// NewRunID 生成运行ID
func NewRunID() string {
	return generateID()
}
