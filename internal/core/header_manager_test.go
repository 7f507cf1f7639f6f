package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHeaderManager_GetMergedHeaders(t *testing.T) {
	t.Run("默认头部存在", func(t *testing.T) {
		hm, err := NewHeaderManager(nil, "", nil)
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		if hm.GetMergedHeaders().Get("User-Agent") != DefaultUserAgent {
			t.Error("期望默认User-Agent存在")
		}
	})

	t.Run("优先级: 默认 < 配置 < 头部文件 < 命令行", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		content := `headers:
  X-File: from-file
  X-Shared: file
  User-Agent: file-agent
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入头部文件失败: %v", err)
		}

		inline := map[string]string{"x-inline": "from-config", "x-shared": "config", "user-agent": "config-agent"}
		hm, err := NewHeaderManager(inline, path, []string{"User-Agent: cli-agent", "X-CLI: from-cli"})
		if err != nil {
			t.Fatalf("创建HeaderManager失败: %v", err)
		}
		if err := hm.LoadConfig(); err != nil {
			t.Fatalf("加载头部文件失败: %v", err)
		}

		merged := hm.GetMergedHeaders()
		want := map[string]string{
			"User-Agent": "cli-agent",
			"X-Cli":      "from-cli",
			"X-File":     "from-file",
			"X-Inline":   "from-config",
			"X-Shared":   "file",
		}
		for name, value := range want {
			if got := merged.Get(name); got != value {
				t.Errorf("%s = %q, 期望 %q", name, got, value)
			}
		}
	})
}

func TestHeaderManager_GetSafeHeaders(t *testing.T) {
	hm, err := NewHeaderManager(nil, "", []string{
		"User-Agent: CustomBot/1.0",
		"Authorization: Bearer secret-token-12345",
		"X-API-Key: api-key-67890",
	})
	if err != nil {
		t.Fatalf("创建HeaderManager失败: %v", err)
	}

	safe := hm.GetSafeHeaders()
	if safe["User-Agent"] != "CustomBot/1.0" {
		t.Error("普通头部不应该被脱敏")
	}
	if safe["Authorization"] != "Bearer ***" {
		t.Errorf("Authorization = %q, 期望 'Bearer ***'", safe["Authorization"])
	}
	if safe["X-Api-Key"] == "api-key-67890" {
		t.Error("X-API-Key应该被脱敏")
	}
}

func TestHeaderManager_GetHeaders(t *testing.T) {
	tests := []struct {
		name       string
		cli        []string
		headerFile string
		wantNewErr bool
		wantGetErr bool
	}{
		{"格式错误的命令行参数", []string{"InvalidFormat"}, "", true, false},
		{"缺少头部名称", []string{": value"}, "", true, false},
		{"禁止头部", []string{"Host: example.com"}, "", false, true},
		{"头部文件不存在", nil, "missing.yaml", false, true},
		{"成功", []string{"X-Custom: test-value", "X-URL: https://example.com:8080/path"}, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := ""
			if tt.headerFile != "" {
				file = filepath.Join(t.TempDir(), tt.headerFile)
			}
			hm, err := NewHeaderManager(nil, file, tt.cli)
			if (err != nil) != tt.wantNewErr {
				t.Fatalf("NewHeaderManager() 错误 = %v, 期望错误 %v", err, tt.wantNewErr)
			}
			if err != nil {
				return
			}
			headers, err := hm.GetHeaders()
			if (err != nil) != tt.wantGetErr {
				t.Fatalf("GetHeaders() 错误 = %v, 期望错误 %v", err, tt.wantGetErr)
			}
			if err == nil && headers.Get("X-URL") != "" && headers.Get("X-URL") != "https://example.com:8080/path" {
				t.Errorf("值中的冒号应该保留: %s", headers.Get("X-URL"))
			}
		})
	}
}
