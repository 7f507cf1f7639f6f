package utils

import (
	"net/http"
	"sort"
	"strings"
)

// SensitiveKeywords 头部名称中出现这些关键字即视为敏感
var SensitiveKeywords = []string{
	"authorization",
	"cookie",
	"token",
	"key",
	"secret",
	"password",
	"credential",
}

// HeaderRedactor 日志输出前对敏感头部脱敏
type HeaderRedactor struct {
	keywords []string
}

// NewHeaderRedactor 创建脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{keywords: SensitiveKeywords}
}

// IsSensitiveHeader 检查头部是否为敏感头部
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range hr.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个值
//
//	Bearer xxx  -> Bearer ***
//	长度 > 8    -> 前4位***后4位
//	其他        -> ***
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// Redact 返回脱敏后的头部 (每个头部只取第一个值)
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		result[name] = hr.RedactHeaderValue(name, values[0])
	}
	return result
}

// RedactToString 格式: "A: 1, B: 2",按名称排序
func (hr *HeaderRedactor) RedactToString(headers http.Header) string {
	redacted := hr.Redact(headers)
	names := make([]string, 0, len(redacted))
	for name := range redacted {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+redacted[name])
	}
	return strings.Join(parts, ", ")
}
