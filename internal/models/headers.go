package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderProvider 为发现阶段的HTTP请求和浏览器页面提供自定义请求头
type HeaderProvider interface {
	// GetHeaders 返回按优先级合并后的头部 (默认 < 配置文件 < 命令行)
	GetHeaders() (http.Header, error)
}

// CliHeaders 命令行 -H 参数,每项格式为 "Name: Value"
type CliHeaders []string

// Parse 解析为 http.Header
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		name, value, err := parseHeaderString(s)
		if err != nil {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: %w", i+1, err)
		}
		result.Set(name, value)
	}
	return result, nil
}

func parseHeaderString(s string) (name, value string, err error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("缺少冒号分隔符,应为 'Name: Value'")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("头部名称不能为空")
	}
	return name, strings.TrimSpace(value), nil
}

// ValidationError 头部验证错误
type ValidationError struct {
	Field      string // "name" 或 "value"
	HeaderName string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}
