package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/tagaudit/internal/config"
	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
)

// DefaultUserAgent 未仿真设备时使用的User-Agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/124.0.0.0 Safari/537.36"

// HeaderManager 管理发现阶段和浏览器页面使用的请求头
// 优先级: 默认 < 主配置headers段 < 头部文件 < 命令行
type HeaderManager struct {
	defaults http.Header
	inline   http.Header
	file     http.Header
	cli      http.Header

	validator    *utils.HeaderValidator
	redactor     *utils.HeaderRedactor
	configLoader *config.HeaderConfigLoader

	once    sync.Once
	loadErr error
}

// NewHeaderManager 创建头部管理器
//   - inline: 主配置文件中的headers段
//   - headersFile: 独立的头部文件路径,为空时跳过
//   - cliHeaders: 命令行 -H 参数
func NewHeaderManager(inline map[string]string, headersFile string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}

	return &HeaderManager{
		defaults:     defaultHeaders(),
		inline:       toHeader(inline),
		file:         make(http.Header),
		cli:          cli,
		validator:    utils.NewHeaderValidator(),
		redactor:     utils.NewHeaderRedactor(),
		configLoader: config.NewHeaderConfigLoader(headersFile),
	}, nil
}

func defaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

func toHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for name, value := range m {
		h.Set(name, value)
	}
	return h
}

// LoadConfig 读取头部文件,只执行一次
func (hm *HeaderManager) LoadConfig() error {
	hm.once.Do(func() {
		file, err := hm.configLoader.LoadConfig()
		if err != nil {
			utils.Errorf("加载HTTP头部文件失败: %v", err)
			hm.loadErr = err
			return
		}
		hm.file = toHeader(file.Headers)
		if len(hm.file) > 0 {
			utils.Debugf("从 %s 加载了 %d 个HTTP头部: %v",
				hm.configLoader.Path(), len(hm.file), hm.redactor.Redact(hm.file))
		}
	})
	return hm.loadErr
}

// Validate 按优先级顺序逐层校验
func (hm *HeaderManager) Validate() error {
	layers := []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.inline},
		{"头部文件", hm.file},
		{"命令行", hm.cli},
	}
	for _, layer := range layers {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.name, err)
			return err
		}
	}
	return nil
}

// GetMergedHeaders 按优先级合并
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.inline, hm.file, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 脱敏后的合并结果,用于日志
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// SafeHeadersString 脱敏后按名称排序的单行文本
func (hm *HeaderManager) SafeHeadersString() string {
	return hm.redactor.RedactToString(hm.GetMergedHeaders())
}

// GetHeaders 实现 models.HeaderProvider
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.LoadConfig(); err != nil {
		return nil, err
	}
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.GetMergedHeaders(), nil
}
