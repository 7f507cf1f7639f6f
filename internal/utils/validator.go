package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// MaxHeaderValueLength 头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

// ForbiddenHeaders 由HTTP客户端或浏览器自行管理的头部,不允许自定义
var ForbiddenHeaders = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
	"Upgrade",
}

var (
	headerNamePattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValuePattern = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// HeaderValidator 按RFC 7230校验自定义请求头
type HeaderValidator struct {
	maxValueLength int
	forbidden      map[string]bool
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	forbidden := make(map[string]bool, len(ForbiddenHeaders))
	for _, h := range ForbiddenHeaders {
		forbidden[strings.ToLower(h)] = true
	}
	return &HeaderValidator{
		maxValueLength: MaxHeaderValueLength,
		forbidden:      forbidden,
	}
}

// IsForbidden 不区分大小写
func (hv *HeaderValidator) IsForbidden(name string) bool {
	return hv.forbidden[strings.ToLower(name)]
}

// ValidateName 校验头部名称
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{Field: "name", Reason: "头部名称不能为空"}
	}
	if !headerNamePattern.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "例如 'User-Agent', 'X-Audit-Token'",
		}
	}
	return nil
}

// ValidateValue 校验头部值的长度和字符集
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}
	if !headerValuePattern.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}
	return nil
}

// ValidateHeader 依次检查禁止列表、名称和值
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if hv.IsForbidden(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由客户端自动管理,不允许自定义",
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// Validate 校验全部头部,按名称排序后返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
