package crawlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/go-rod/rod/lib/devices"
)

// ErrUnknownDevice 设备名称不在注册表中
var ErrUnknownDevice = errors.New("未知的设备名称")

// iPhone13 rod内置列表中没有的机型
var iPhone13 = devices.Device{
	Title:        "iPhone 13",
	Capabilities: []string{"touch", "mobile"},
	UserAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
	Screen: devices.Screen{
		DevicePixelRatio: 3,
		Horizontal:       devices.ScreenSize{Width: 844, Height: 390},
		Vertical:         devices.ScreenSize{Width: 390, Height: 844},
	},
}

// deviceRegistry 设备名称(小写) -> 仿真参数
var deviceRegistry = buildRegistry(
	iPhone13,
	devices.IPhoneX,
	devices.IPhone6or7or8,
	devices.Pixel2,
	devices.Pixel2XL,
	devices.MotoG4,
	devices.IPad,
	devices.IPadMini,
)

func buildRegistry(list ...devices.Device) map[string]devices.Device {
	registry := make(map[string]devices.Device, len(list))
	for _, d := range list {
		registry[deviceKey(d.Title)] = d
	}
	return registry
}

func deviceKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// LookupDevice 按名称查找仿真参数 (不区分大小写)
// 默认桌面设备返回 ok=false,表示不做仿真
func LookupDevice(device models.Device) (devices.Device, bool, error) {
	if device.Kind == models.DeviceDefault {
		return devices.Device{}, false, nil
	}
	d, ok := deviceRegistry[deviceKey(device.Profile)]
	if !ok {
		return devices.Device{}, false, fmt.Errorf("%w: %q (可用: %s)", ErrUnknownDevice, device.Profile, strings.Join(DeviceNames(), ", "))
	}
	return d, true, nil
}

// ValidateDevices 检查配置中所有设备名称是否已注册
func ValidateDevices(list []models.Device) error {
	for _, d := range list {
		if _, _, err := LookupDevice(d); err != nil {
			return err
		}
	}
	return nil
}

// DeviceNames 返回所有已注册设备名称(排序后)
func DeviceNames() []string {
	names := make([]string, 0, len(deviceRegistry))
	for _, d := range deviceRegistry {
		names = append(names, d.Title)
	}
	sort.Strings(names)
	return names
}
