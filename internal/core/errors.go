package core

import (
	"fmt"

	"github.com/RecoveryAshes/tagaudit/internal/models"
)

// FatalError 终止整次运行的错误 (浏览器启动失败、产物无法写入等)
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s失败: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// PageAuditError 单个(url, device)审计失败,结果记为占位行
type PageAuditError struct {
	URL    string
	Device models.Device
	Err    error
}

func (e *PageAuditError) Error() string {
	return fmt.Sprintf("审计失败 [%s][%s]: %v", e.URL, e.Device.Label(), e.Err)
}

func (e *PageAuditError) Unwrap() error {
	return e.Err
}
