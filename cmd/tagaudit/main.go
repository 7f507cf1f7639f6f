package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/tagaudit/internal/core"
	"github.com/RecoveryAshes/tagaudit/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	logLevel   string
	noProgress bool

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	headersFile    string
	validateConfig bool // 验证配置文件

	// 审计参数
	domain     string
	urlFile    string
	urlList    []string
	maxPages   int
	devices    []string
	patterns   []string
	outputDir  string
	headless   bool
	browserBin string
)

// appConfig 由 PersistentPreRunE 加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "tagaudit",
	Short: "落地页广告与分析标签审计工具",
	Long: `tagaudit - 落地页广告/分析标签审计工具

对一个站点的落地页逐个(页面, 设备)加载真实浏览器, 检查:
  • GTM / GA4 / Google Ads 标签是否安装以及是否重复加载
  • 同意模式 (Consent Mode) 默认值是否早于标签触发
  • 电话链接点击是否产生转化事件
  • 是否存在第三方来电追踪脚本

输出 summary.csv 和 findings.md, 以及每个组合的原始证据文件。

示例:
  # 自动发现落地页 (sitemap + 广度爬取)
  tagaudit -d https://example.com

  # 指定URL列表, 只审计移动端
  tagaudit -d https://example.com -f urls.txt --device "iPhone 13"

  # 自定义请求头
  tagaudit -d https://example.com -H "Authorization: Bearer token"

  # 验证配置文件
  tagaudit --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		overrides := core.CLIOverrides{
			Domain:      domain,
			URLFile:     urlFile,
			MaxPages:    maxPages,
			Devices:     devices,
			Patterns:    patterns,
			OutputDir:   outputDir,
			BrowserBin:  browserBin,
			LogLevel:    logLevel,
			HeadersFile: headersFile,
		}
		if f := cmd.Flags().Lookup("headless"); f != nil && f.Changed {
			overrides.Headless = &headless
		}
		config.MergeCLIFlags(overrides)

		if err := utils.InitLogger(config.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateConfig {
			return runValidateConfig(appConfig)
		}

		if err := ValidateFlags(appConfig.Crawl.Domain, maxPages, urlList); err != nil {
			return err
		}

		// Ctrl+C: 取消剩余组合, 仍然写出已完成部分的报告
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var progress core.ProgressReporter = core.LogProgressReporter{}
		if !noProgress {
			progress = core.MultiProgressReporter{core.LogProgressReporter{}, core.NewBarProgressReporter()}
		}

		outcome, err := core.Execute(ctx, core.RunOptions{
			Config:     appConfig,
			URLs:       urlList,
			CLIHeaders: headers,
			Progress:   progress,
		})
		if outcome != nil {
			printOutcome(outcome)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				utils.Warn("审计被中断, 已写出部分结果")
			}
			return fmt.Errorf("审计失败: %w", err)
		}

		utils.Info("✨ 审计任务完成!")
		return nil
	},
}

func printOutcome(outcome *core.RunOutcome) {
	stats := outcome.Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 审计统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 落地页数: %d\n", stats.LandingURLs)
	fmt.Printf("✅ 设备视图: %d\n", stats.DeviceViews)
	fmt.Printf("❌ 失败视图: %d\n", stats.FailedViews)
	if stats.DroppedEvents > 0 {
		fmt.Printf("⚠️  丢弃网络事件: %d\n", stats.DroppedEvents)
	}
	fmt.Printf("📁 输出目录: %s\n", outcome.OutputDir)
	fmt.Printf("📄 %s\n", outcome.SummaryPath)
	fmt.Printf("📄 %s\n", outcome.FindingsPath)
	fmt.Println("==================================================")
}

// runValidateConfig 校验配置文件和请求头, 设置了域名时同时校验审计范围
func runValidateConfig(config *core.Config) error {
	headerManager, err := core.NewHeaderManager(config.Headers, config.HeadersFile, headers)
	if err != nil {
		return fmt.Errorf("请求头配置无效: %w", err)
	}
	if _, err := headerManager.GetHeaders(); err != nil {
		return fmt.Errorf("请求头验证失败: %w", err)
	}

	fmt.Println("✅ 请求头配置有效")
	fmt.Printf("  %s\n", headerManager.SafeHeadersString())

	if config.Crawl.Domain != "" {
		crawl, err := config.ToCrawlConfig(nil)
		if err != nil {
			return fmt.Errorf("审计配置无效: %w", err)
		}
		fmt.Printf("✅ 审计配置有效: %s (最多 %d 页, %d 个设备)\n", crawl.Domain, crawl.MaxPages, len(crawl.Devices))
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tagaudit %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().StringVar(&headersFile, "headers-file", "", "HTTP头部配置文件 (YAML)")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 审计参数
	rootCmd.Flags().StringVarP(&domain, "domain", "d", "", "站点根地址, 如 https://example.com")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "落地页URL文件 (每行一个或JSON数组)")
	rootCmd.Flags().StringSliceVar(&urlList, "urls", []string{}, "逗号分隔的落地页URL, 跳过自动发现")
	rootCmd.Flags().IntVarP(&maxPages, "max-pages", "n", 0, "最多审计的落地页数 (默认500)")
	rootCmd.Flags().StringArrayVar(&devices, "device", []string{}, "设备名称, 可多次指定 (desktop, \"iPhone 13\", \"Pixel 5\" ...)")
	rootCmd.Flags().StringArrayVar(&patterns, "pattern", []string{}, "落地页路径关键字, 可多次指定")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVar(&browserBin, "browser-bin", "", "Chrome可执行文件路径")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
