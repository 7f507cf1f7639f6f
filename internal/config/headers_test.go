package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHeaderConfigLoader_LoadConfig(t *testing.T) {
	t.Run("未指定路径返回空配置", func(t *testing.T) {
		cfg, err := NewHeaderConfigLoader("").LoadConfig()
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Headers == nil || len(cfg.Headers) != 0 {
			t.Errorf("Headers = %v, 期望空map", cfg.Headers)
		}
	})

	t.Run("加载已存在的配置文件", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "headers.yaml")
		testConfig := `headers:
  User-Agent: "Test Bot/1.0"
  X-Custom: "test value"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("写入测试配置失败: %v", err)
		}

		cfg, err := NewHeaderConfigLoader(configPath).LoadConfig()
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}

		// viper会将键名转换为小写
		if cfg.Headers["user-agent"] != "Test Bot/1.0" {
			t.Errorf("期望 user-agent='Test Bot/1.0', 实际='%s'", cfg.Headers["user-agent"])
		}
		if cfg.Headers["x-custom"] != "test value" {
			t.Errorf("期望 x-custom='test value', 实际='%s'", cfg.Headers["x-custom"])
		}
	})

	t.Run("headers为空", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "headers.yaml")
		os.WriteFile(configPath, []byte("# 空配置\n"), 0644)

		cfg, err := NewHeaderConfigLoader(configPath).LoadConfig()
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Headers == nil {
			t.Fatal("Headers map应该被初始化")
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := NewHeaderConfigLoader(filepath.Join(t.TempDir(), "missing.yaml")).LoadConfig()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("期望 ConfigError, 实际 %v", err)
		}
	})

	t.Run("YAML格式错误", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "headers.yaml")
		os.WriteFile(configPath, []byte("headers: [unclosed\n"), 0644)

		if _, err := NewHeaderConfigLoader(configPath).LoadConfig(); err == nil {
			t.Error("格式错误的YAML应返回错误")
		}
	})
}

func TestHeaderConfigLoader_ValidateFileSize(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "huge.yaml")
	content := "headers:\n  X-Big: \"" + strings.Repeat("a", MaxConfigFileSize) + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}

	err := NewHeaderConfigLoader(configPath).ValidateFileSize()
	if err == nil || !strings.Contains(err.Error(), "配置文件过大") {
		t.Errorf("期望文件过大错误, 实际 %v", err)
	}
}
