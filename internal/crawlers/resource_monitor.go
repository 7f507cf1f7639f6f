package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 系统资源监控器
// 职责: 在每个页面审计打开新的浏览器上下文前检查可用内存,内存紧张时有界等待
// 审计始终串行执行,监控器只决定"等一会儿"而不决定并发度
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 可用内存采样函数,默认读取gopsutil
	sampleMemory func() (available, total uint64, err error)

	lastCPUUsage float64
	cpuMu        sync.RWMutex

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyThreshold  int64         // 打开新上下文所需的最低可用内存(字节)
	CPULoadThreshold int           // CPU负载告警阈值(%), >=200 视为禁用
	MaxWait          time.Duration // 内存不足时最长等待时间
	PollInterval     time.Duration // 等待期间的采样间隔
}

// DefaultResourceMonitorConfig 默认配置
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		SafetyThreshold:  500 * 1024 * 1024,
		CPULoadThreshold: 90,
		MaxWait:          10 * time.Second,
		PollInterval:     500 * time.Millisecond,
	}
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AvailableMemory uint64 // 可用内存(字节)
	SafetyThreshold int64  // 安全阈值(字节)
	MemoryPressure  string // 内存压力等级
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	defaults := DefaultResourceMonitorConfig()
	if config.MaxWait <= 0 {
		config.MaxWait = defaults.MaxWait
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	rm := &ResourceMonitor{
		config:       config,
		sampleMemory: virtualMemory,
	}

	if status, err := rm.GetMemoryStatus(); err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,资源检查将被跳过")
	} else {
		log.Info().Msgf("系统总内存: %.2f GB, 可用: %.2f GB",
			float64(status.TotalMemory)/(1024*1024*1024), float64(status.AvailableMemory)/(1024*1024*1024))
	}
	return rm
}

func virtualMemory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Available, vm.Total, nil
}

// StartMonitoring 启动后台CPU采样
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

// monitoringLoop 后台监控循环
func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage := rm.getCPUUsage()
			rm.cpuMu.Lock()
			rm.lastCPUUsage = usage
			rm.cpuMu.Unlock()
		}
	}
}

// getCPUUsage 所有核心的平均使用率(百分比)
func (rm *ResourceMonitor) getCPUUsage() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
		return 0.0
	}
	if len(percentages) == 0 {
		return 0.0
	}
	return percentages[0]
}

// StopMonitoring 停止资源监控
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// CheckResourceAvailability 检查当前资源是否允许打开新的浏览器上下文
// 返回canCreate(是否允许)和reason(不允许时的原因)
func (rm *ResourceMonitor) CheckResourceAvailability() (canCreate bool, reason string) {
	status, err := rm.GetMemoryStatus()
	if err != nil {
		// 采样失败时不阻塞审计
		return true, ""
	}

	if int64(status.AvailableMemory) < rm.config.SafetyThreshold {
		return false, fmt.Sprintf("内存不足(当前%dMB)", status.AvailableMemory/(1024*1024))
	}

	if rm.config.CPULoadThreshold < 200 {
		rm.cpuMu.RLock()
		usage := rm.lastCPUUsage
		rm.cpuMu.RUnlock()
		if usage > float64(rm.config.CPULoadThreshold) {
			log.Warn().Msgf("CPU负载过高(当前%.1f%%),继续串行审计", usage)
		}
	}

	return true, ""
}

// WaitForCapacity 内存不足时按采样间隔等待,最多等待MaxWait
// 返回false表示超时仍不足(调用方继续执行,仅记录告警)
func (rm *ResourceMonitor) WaitForCapacity(ctx context.Context) bool {
	ok, reason := rm.CheckResourceAvailability()
	if ok {
		return true
	}
	log.Warn().Msgf("⏳ %s,等待资源释放(最多%v)", reason, rm.config.MaxWait)

	deadline := time.NewTimer(rm.config.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(rm.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			status, _ := rm.GetMemoryStatus()
			log.Warn().Msgf("资源等待超时,内存压力=%s,继续审计", status.MemoryPressure)
			return false
		case <-ticker.C:
			if ok, _ := rm.CheckResourceAvailability(); ok {
				return true
			}
		}
	}
}

// GetMemoryStatus 获取当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() (MemoryStatus, error) {
	available, total, err := rm.sampleMemory()
	if err != nil {
		return MemoryStatus{}, fmt.Errorf("读取内存信息失败: %w", err)
	}

	availableMB := available / (1024 * 1024)
	var pressure string
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     total,
		AvailableMemory: available,
		SafetyThreshold: rm.config.SafetyThreshold,
		MemoryPressure:  pressure,
	}, nil
}
