package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  tagaudit 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 审计依赖本机Chrome/Chromium,找不到时rod会尝试下载
	if bin, found := launcher.LookPath(); found {
		fmt.Printf("✅ 浏览器: %s\n", bin)
		if version := getCommandOutput(bin, "--version"); version != "" {
			fmt.Printf("   %s\n", strings.TrimSpace(version))
		}
	} else {
		fmt.Println("⚠️  未找到Chrome/Chromium - 首次运行时将自动下载")
		fmt.Println("   或通过 --browser-bin 指定可执行文件路径")
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")

		fmt.Println("正在下载依赖...")
		if err := exec.Command("go", "mod", "download").Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/tagaudit",
		"internal/analyzer",
		"internal/config",
		"internal/core",
		"internal/crawlers",
		"internal/models",
		"internal/utils",
		"configs",
	}
	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'go build ./cmd/tagaudit' 构建项目")
		fmt.Println("  2. 运行 './tagaudit --help' 查看帮助")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}

// getCommandOutput 获取命令输出
func getCommandOutput(name string, args ...string) string {
	output, err := exec.Command(name, args...).Output()
	if err != nil {
		return ""
	}
	return string(output)
}
