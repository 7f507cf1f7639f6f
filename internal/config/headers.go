// Package config 加载独立的HTTP头部配置文件 (YAML)
package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/spf13/viper"
)

// MaxConfigFileSize 配置文件最大大小 (1MB)
const MaxConfigFileSize = 1 * 1024 * 1024

// HeaderFile 头部配置文件内容
//
//	headers:
//	  Authorization: "Bearer xxx"
//	  Cookie: "session=abc"
type HeaderFile struct {
	Headers map[string]string `mapstructure:"headers"`
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// HeaderConfigLoader 头部配置文件加载器
type HeaderConfigLoader struct {
	configPath string
}

// NewHeaderConfigLoader 创建加载器,路径为空表示不使用头部文件
func NewHeaderConfigLoader(configPath string) *HeaderConfigLoader {
	return &HeaderConfigLoader{configPath: configPath}
}

// Path 配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.configPath
}

// ValidateFileSize 验证配置文件大小是否在限制内
func (hcl *HeaderConfigLoader) ValidateFileSize() error {
	info, err := os.Stat(hcl.configPath)
	if err != nil {
		return &ConfigError{FilePath: hcl.configPath, Cause: fmt.Errorf("无法读取文件信息: %w", err)}
	}

	if info.Size() > MaxConfigFileSize {
		return &ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// LoadConfig 读取并解析头部文件
// 文件被其他进程锁定时降级为空配置
func (hcl *HeaderConfigLoader) LoadConfig() (*HeaderFile, error) {
	empty := &HeaderFile{Headers: make(map[string]string)}
	if hcl.configPath == "" {
		return empty, nil
	}

	if err := hcl.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(hcl.configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("配置文件被锁定 [%s], 使用默认配置", hcl.configPath)
			return empty, nil
		}
		return nil, &ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	var file HeaderFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, &ConfigError{FilePath: hcl.configPath, Cause: fmt.Errorf("配置绑定失败: %w", err)}
	}
	if file.Headers == nil {
		file.Headers = make(map[string]string)
	}
	return &file, nil
}
